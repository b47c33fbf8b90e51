// Package predictor composes decoding, preprocessing and scoring into a
// single prediction for one uploaded image.
package predictor

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/tumor-api/internal/preprocess"
)

// Scorer is the classifier's forward pass. It maps a (1, 3, 300, 300) tensor
// to one raw score per label and must not mutate the model.
type Scorer interface {
	Score(ctx context.Context, input *tensor.Dense) ([]float32, error)
}

type Prediction struct {
	Label         string
	Confidence    float64
	Probabilities map[string]float64
}

type Service struct {
	scorer Scorer
	labels []string
}

// NewService takes ownership of scorer. labels must be in the scorer's output
// order.
func NewService(scorer Scorer, labels []string) (*Service, error) {
	if scorer == nil {
		return nil, errors.New("scorer is required")
	}
	if len(labels) == 0 {
		return nil, errors.New("label set is empty")
	}
	return &Service{
		scorer: scorer,
		labels: append([]string(nil), labels...),
	}, nil
}

func (s *Service) Labels() []string {
	return append([]string(nil), s.labels...)
}

// Predict decodes raw as an image and returns the most probable label with
// its softmax probability. Errors are always *PredictionError.
func (s *Service) Predict(ctx context.Context, raw []byte) (Prediction, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return Prediction{}, &PredictionError{Kind: KindDecode, Err: errors.Wrap(err, "cannot identify image file")}
	}

	input, err := preprocess.Transform(img)
	if err != nil {
		return Prediction{}, &PredictionError{Kind: KindPreprocess, Err: err}
	}
	if err := input.Reshape(append(tensor.Shape{1}, input.Shape()...)...); err != nil {
		return Prediction{}, &PredictionError{Kind: KindPreprocess, Err: errors.Wrap(err, "add batch dimension")}
	}

	scores, err := s.scorer.Score(ctx, input)
	if err != nil {
		return Prediction{}, &PredictionError{Kind: KindInference, Err: err}
	}
	if len(scores) != len(s.labels) {
		return Prediction{}, &PredictionError{
			Kind: KindInference,
			Err:  errors.Errorf("model returned %d scores for %d labels", len(scores), len(s.labels)),
		}
	}
	for i, v := range scores {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return Prediction{}, &PredictionError{
				Kind: KindInference,
				Err:  errors.Errorf("model returned non-finite score %v for %s", v, s.labels[i]),
			}
		}
	}

	probs := Softmax(scores)
	idx, confidence := Argmax(probs)
	byLabel := make(map[string]float64, len(probs))
	for i, p := range probs {
		byLabel[s.labels[i]] = p
	}
	return Prediction{
		Label:         s.labels[idx],
		Confidence:    confidence,
		Probabilities: byLabel,
	}, nil
}

// Close releases the scorer if it holds resources.
func (s *Service) Close() error {
	if c, ok := s.scorer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
