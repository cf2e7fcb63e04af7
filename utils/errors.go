package utils

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingCompanionImage = errors.New("missing companion image")
	ErrMissingMetadata       = errors.New("missing metadata")
	ErrInvalidParameter      = errors.New("invalid parameter")
	ErrMissingBand           = errors.New("missing band")
	ErrShapeMismatch         = errors.New("band shape mismatch")
	ErrDuplicateIndex        = errors.New("duplicate acquisition index")
)

// ImageError reports a failure confined to one image.
type ImageError struct {
	Index string
	Stage string
	Err   error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image %s: %s: %v", e.Index, e.Stage, e.Err)
}

func (e *ImageError) Unwrap() error {
	return e.Err
}

// JoinError lists the reflectance indices that found no companion.
type JoinError struct {
	Missing []string
}

func (e *JoinError) Error() string {
	return fmt.Sprintf("%v for %d image(s): %s", ErrMissingCompanionImage, len(e.Missing), strings.Join(e.Missing, ", "))
}

func (e *JoinError) Unwrap() error {
	return ErrMissingCompanionImage
}

// ParamError reports a configuration value outside its valid range.
type ParamError struct {
	Name   string
	Value  interface{}
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%v %s=%v: %s", ErrInvalidParameter, e.Name, e.Value, e.Reason)
}

func (e *ParamError) Unwrap() error {
	return ErrInvalidParameter
}
