package predictor

import "fmt"

type ErrorKind string

const (
	KindDecode     ErrorKind = "decode"
	KindPreprocess ErrorKind = "preprocess"
	KindInference  ErrorKind = "inference"
)

// PredictionError is returned for every failure inside Predict. Err holds the
// human-readable cause.
type PredictionError struct {
	Kind ErrorKind
	Err  error
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}
