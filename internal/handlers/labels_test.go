package handlers

import (
	"testing"

	"go.viam.com/test"

	"github.com/Brownie44l1/tumor-api/internal/model"
)

func TestDisplayLabel(t *testing.T) {
	tests := map[string]string{
		"glioma_tumor":     "Glioma",
		"meningioma_tumor": "Meningioma",
		"no_tumor":         "NoTumor",
		"pituitary_tumor":  "Pituitary",
	}
	for in, want := range tests {
		test.That(t, DisplayLabel(in), test.ShouldEqual, want)
	}
}

func TestDisplayLabelCoversModelClasses(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range model.ClassNames {
		out := DisplayLabel(c)
		test.That(t, seen[out], test.ShouldBeFalse)
		seen[out] = true
	}
	test.That(t, seen, test.ShouldResemble, map[string]bool{
		"Glioma": true, "Meningioma": true, "NoTumor": true, "Pituitary": true,
	})
}
