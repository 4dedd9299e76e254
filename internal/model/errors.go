package model

import (
	"errors"
	"fmt"
)

// ErrInvalidParameter is returned synchronously for caller input that can
// never produce a result, such as a non-positive period.
var ErrInvalidParameter = errors.New("invalid parameter")

// ErrInvalidGeometry is returned when a drawing's anchors do not satisfy its
// kind. It matches ErrInvalidParameter under errors.Is.
var ErrInvalidGeometry = fmt.Errorf("%w: drawing geometry", ErrInvalidParameter)
