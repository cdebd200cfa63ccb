package reliability

import (
	"testing"
	"time"
)

func TestExponentialBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	cap := time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := ExponentialBackoff(tc.attempt, base, cap); got != tc.want {
			t.Errorf("ExponentialBackoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestSuccessWindowEmptyGivesBenefitOfDoubt(t *testing.T) {
	w := NewSuccessWindow(10, 5*time.Minute)
	rate, n := w.Rate()
	if rate != 1 || n != 0 {
		t.Fatalf("Rate() = %v, %d; want 1, 0", rate, n)
	}
}

func TestSuccessWindowRate(t *testing.T) {
	w := NewSuccessWindow(10, 5*time.Minute)
	for i := 0; i < 8; i++ {
		w.Record(false)
	}
	w.Record(true)
	w.Record(true)

	rate, n := w.Rate()
	if n != 10 {
		t.Fatalf("n = %d, want 10", n)
	}
	if rate != 0.2 {
		t.Fatalf("rate = %v, want 0.2", rate)
	}
}

func TestSuccessWindowBoundedBySize(t *testing.T) {
	w := NewSuccessWindow(5, 5*time.Minute)
	for i := 0; i < 20; i++ {
		w.Record(false)
	}
	for i := 0; i < 5; i++ {
		w.Record(true)
	}
	rate, n := w.Rate()
	if n != 5 || rate != 1 {
		t.Fatalf("Rate() = %v, %d; want 1, 5 (old failures aged out of the window)", rate, n)
	}
}

func TestSuccessWindowHorizonExpiry(t *testing.T) {
	w := NewSuccessWindow(10, 5*time.Minute)
	current := time.Unix(1000, 0)
	w.now = func() time.Time { return current }

	w.Record(false)
	w.Record(false)
	current = current.Add(10 * time.Minute)
	w.Record(true)

	rate, n := w.Rate()
	if n != 1 || rate != 1 {
		t.Fatalf("Rate() = %v, %d; want only the fresh sample", rate, n)
	}
}
