package model

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/tumor-api/internal/preprocess"
)

// ClassNames is the output order of the classifier head. Index i of the score
// vector belongs to ClassNames[i].
var ClassNames = []string{"glioma_tumor", "meningioma_tumor", "no_tumor", "pituitary_tumor"}

// Metadata describes the ONNX graph's input and output bindings.
type Metadata struct {
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

func DefaultMetadata() Metadata {
	return Metadata{
		InputName:   "input",
		OutputName:  "output",
		InputShape:  []int64{1, 3, 300, 300},
		OutputShape: []int64{1, int64(len(ClassNames))},
		Classes:     append([]string(nil), ClassNames...),
		ImageSize:   preprocess.CropSize,
	}
}

// LoadMetadata reads the metadata file at path. Fields absent from the file
// keep their defaults; a missing file yields DefaultMetadata.
func LoadMetadata(path string) (Metadata, error) {
	md := DefaultMetadata()
	if path == "" {
		return md, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return md, nil
	}
	if err != nil {
		return md, errors.Wrap(err, "failed to read metadata")
	}

	var file Metadata
	if err := json.Unmarshal(raw, &file); err != nil {
		return md, errors.Wrap(err, "failed to parse metadata")
	}
	if file.InputName != "" {
		md.InputName = file.InputName
	}
	if file.OutputName != "" {
		md.OutputName = file.OutputName
	}
	if len(file.InputShape) > 0 {
		md.InputShape = file.InputShape
	}
	if len(file.OutputShape) > 0 {
		md.OutputShape = file.OutputShape
	}
	if len(file.Classes) > 0 {
		md.Classes = file.Classes
	}
	if file.ImageSize > 0 {
		md.ImageSize = file.ImageSize
	}
	return md, md.Validate()
}

func (m Metadata) Validate() error {
	if len(m.Classes) != len(ClassNames) {
		return errors.Errorf("expected %d classes, got %d", len(ClassNames), len(m.Classes))
	}
	for i, c := range ClassNames {
		if m.Classes[i] != c {
			return errors.Errorf("class %d is %q, expected %q", i, m.Classes[i], c)
		}
	}
	if m.ImageSize != preprocess.CropSize {
		return errors.Errorf("image size %d, preprocessing produces %d", m.ImageSize, preprocess.CropSize)
	}
	want := append(tensor.Shape{1}, preprocess.Shape()...)
	if !m.TensorInputShape().Eq(want) {
		return errors.Errorf("input shape %v does not match %v", m.InputShape, want)
	}
	if n := len(m.OutputShape); n == 0 || m.OutputShape[n-1] != int64(len(m.Classes)) {
		return errors.Errorf("output shape %v does not end in %d classes", m.OutputShape, len(m.Classes))
	}
	return nil
}

func (m Metadata) TensorInputShape() tensor.Shape {
	s := make(tensor.Shape, len(m.InputShape))
	for i, d := range m.InputShape {
		s[i] = int(d)
	}
	return s
}
