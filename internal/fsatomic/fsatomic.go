// Package fsatomic writes JSON records with atomic replace semantics:
// serialize to a temp file in the target directory, fsync, rename over
// the target. A sibling .bak copy taken before the write lets recovery
// restore the last durable state after a partially applied replace.
package fsatomic

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/renameio/v2"
)

// SaveJSON atomically replaces path with the JSON encoding of v.
func SaveJSON(path string, v any) error {
	if err := backup(path); err != nil {
		return fmt.Errorf("backup before write: %w", err)
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		// renameio removes the temp file if it was never committed.
		_ = pending.Cleanup()
	}()

	enc := json.NewEncoder(pending)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	// CloseAtomicallyReplace: fsync + rename, durable and atomic.
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}

// LoadJSON reads path into v. If the primary file is missing or does not
// decode, the sibling backup is tried; a successful backup read reinstates
// the last durable state.
func LoadJSON(path string, v any) error {
	err := readJSON(path, v)
	if err == nil {
		return nil
	}
	if bakErr := readJSON(backupPath(path), v); bakErr == nil {
		return nil
	}
	return err
}

func readJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func backupPath(path string) string { return path + ".bak" }

func backup(path string) error {
	src, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.OpenFile(backupPath(path), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// Remove deletes a record and its backup. Missing files are not errors.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(backupPath(path)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
