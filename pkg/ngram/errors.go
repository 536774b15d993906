package ngram

import (
	"errors"
	"fmt"
)

// ErrTraining is wrapped by every error returned from Train.
var ErrTraining = errors.New("training failed")

var (
	ErrEmptyCorpus  = fmt.Errorf("%w: corpus has no usable sentences", ErrTraining)
	ErrInvalidOrder = fmt.Errorf("%w: max order must be at least 1", ErrTraining)
	ErrInvalidFloor = fmt.Errorf("%w: floor probability must be in (0,1)", ErrTraining)
)

// ErrBadArtifact is returned when a serialized model cannot be decoded or fails validation.
var ErrBadArtifact = errors.New("invalid model artifact")
