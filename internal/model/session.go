package model

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"gorgonia.org/tensor"
)

// Session runs the classifier through ONNX Runtime. Input and output buffers
// are bound to the session once, so runs are serialized.
type Session struct {
	Metadata Metadata

	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewSession loads the weights at modelPath. libraryPath points at the
// onnxruntime shared library; empty uses the platform default.
func NewSession(modelPath string, metadata Metadata, libraryPath string) (*Session, error) {
	if err := metadata.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid model metadata")
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize ONNX environment")
	}

	s := &Session{Metadata: metadata}
	var err error
	s.inputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "failed to create input tensor")
	}
	s.outputTensor, err = ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "failed to create output tensor")
	}
	s.session, err = ort.NewAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{s.inputTensor}, []ort.ArbitraryTensor{s.outputTensor},
		nil)
	if err != nil {
		s.Close()
		return nil, errors.Wrapf(err, "failed to create ONNX session from %s", modelPath)
	}
	return s, nil
}

// Score runs one forward pass and returns the raw class scores.
func (s *Session) Score(ctx context.Context, input *tensor.Dense) ([]float32, error) {
	if want := s.Metadata.TensorInputShape(); !input.Shape().Eq(want) {
		return nil, errors.Errorf("input shape mismatch: got %v, want %v", input.Shape(), want)
	}
	data, ok := input.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("input must be float32, got %v", input.Dtype())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, errors.New("session is closed")
	}
	copy(s.inputTensor.GetData(), data)
	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}
	out := s.outputTensor.GetData()
	scores := make([]float32, len(out))
	copy(scores, out)
	return scores, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.session != nil {
		err = multierr.Append(err, s.session.Destroy())
		s.session = nil
	}
	if s.inputTensor != nil {
		err = multierr.Append(err, s.inputTensor.Destroy())
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		err = multierr.Append(err, s.outputTensor.Destroy())
		s.outputTensor = nil
	}
	return multierr.Append(err, ort.DestroyEnvironment())
}
