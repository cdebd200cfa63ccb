// Package tts synthesizes per-language speech with a bounded retry,
// timeout and degradation chain: provider (neural or standard), then a
// listener-side "local" directive, then text-only.
package tts

import (
	"github.com/verbatim-live/verbatim/internal/hubfault"
)

// Tier describes how audio for a translation was produced.
const (
	TierNeural   = "neural"
	TierStandard = "standard"
	TierLocal    = "local"
	TierTextOnly = "text-only"
)

// Voice is one concrete provider voice.
type Voice struct {
	ID       string
	Engine   string // "neural" or "standard"
	Language string
}

// voiceCatalog is the full closed set of (language, mode) -> voice
// pairs. Unlisted languages are rejected, never guessed.
var voiceCatalog = map[string]map[string]Voice{
	"en": {
		TierNeural:   {ID: "Joanna", Engine: "neural", Language: "en"},
		TierStandard: {ID: "Joanna", Engine: "standard", Language: "en"},
	},
	"es": {
		TierNeural:   {ID: "Lupe", Engine: "neural", Language: "es"},
		TierStandard: {ID: "Conchita", Engine: "standard", Language: "es"},
	},
	"fr": {
		TierNeural:   {ID: "Lea", Engine: "neural", Language: "fr"},
		TierStandard: {ID: "Celine", Engine: "standard", Language: "fr"},
	},
	"de": {
		TierNeural:   {ID: "Vicki", Engine: "neural", Language: "de"},
		TierStandard: {ID: "Marlene", Engine: "standard", Language: "de"},
	},
	"it": {
		TierNeural:   {ID: "Bianca", Engine: "neural", Language: "it"},
		TierStandard: {ID: "Carla", Engine: "standard", Language: "it"},
	},
	"pt": {
		TierNeural:   {ID: "Camila", Engine: "neural", Language: "pt"},
		TierStandard: {ID: "Vitoria", Engine: "standard", Language: "pt"},
	},
}

// VoiceFor resolves the catalog entry for (language, mode).
func VoiceFor(language, mode string) (Voice, error) {
	byMode, ok := voiceCatalog[language]
	if !ok {
		return Voice{}, hubfault.New(hubfault.CodeInvalidLanguage,
			"no voice catalog entry for language")
	}
	v, ok := byMode[mode]
	if !ok {
		return Voice{}, hubfault.New(hubfault.CodeInvalidInput,
			"no voice catalog entry for requested tier")
	}
	return v, nil
}

// SampleRateFor maps the session audio quality to a provider sample
// rate for mp3 output.
func SampleRateFor(quality string) string {
	switch quality {
	case "high":
		return "24000"
	case "low":
		return "16000"
	default:
		return "22050"
	}
}
