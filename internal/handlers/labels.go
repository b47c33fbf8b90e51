package handlers

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const noTumorLabel = "no_tumor"

// DisplayLabel maps a class name to the token the frontend expects:
// the "_tumor" suffix is dropped and the rest title-cased, except no_tumor
// which becomes NoTumor.
func DisplayLabel(label string) string {
	if label == noTumorLabel {
		return "NoTumor"
	}
	// Casers hold state, so one per call.
	return cases.Title(language.Und).String(strings.TrimSuffix(label, "_tumor"))
}
