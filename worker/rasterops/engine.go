// Package rasterops is the in-memory raster engine behind the masking
// stages. Every operation returns a new band and leaves its inputs alone.
package rasterops

import (
	"fmt"

	"github.com/nci/s2cloudless/utils"
)

type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

func checkShape(a, b *utils.Band) error {
	if !a.SameShape(b) {
		return fmt.Errorf("%dx%d vs %dx%d: %w", a.Width, a.Height, b.Width, b.Height, utils.ErrShapeMismatch)
	}
	return nil
}

func newLike(b *utils.Band) *utils.Band {
	return utils.NewBand(b.Width, b.Height, b.Scale)
}

func boolToFloat(v bool) float32 {
	if v {
		return 1
	}
	return 0
}

func (e *Engine) Compare(b *utils.Band, op utils.CompareOp, value float64) (*utils.Band, error) {
	if _, err := op.Eval(0, 0); err != nil {
		return nil, err
	}
	out := newLike(b)
	for i, v := range b.Data {
		r, _ := op.Eval(float64(v), value)
		out.Data[i] = boolToFloat(r)
		out.Valid[i] = b.IsValid(i)
	}
	return out, nil
}

func (e *Engine) binary(a, b *utils.Band, f func(x, y float32) float32) (*utils.Band, error) {
	if err := checkShape(a, b); err != nil {
		return nil, err
	}
	out := newLike(a)
	for i := range a.Data {
		out.Data[i] = f(a.Data[i], b.Data[i])
		out.Valid[i] = a.IsValid(i) && b.IsValid(i)
	}
	return out, nil
}

func (e *Engine) Add(a, b *utils.Band) (*utils.Band, error) {
	return e.binary(a, b, func(x, y float32) float32 { return x + y })
}

func (e *Engine) Multiply(a, b *utils.Band) (*utils.Band, error) {
	return e.binary(a, b, func(x, y float32) float32 { return x * y })
}

func (e *Engine) Not(b *utils.Band) (*utils.Band, error) {
	out := newLike(b)
	for i, v := range b.Data {
		out.Data[i] = boolToFloat(v == 0)
		out.Valid[i] = b.IsValid(i)
	}
	return out, nil
}

// ValidityMask yields 1 where b is valid and 0 elsewhere. The result is
// valid everywhere.
func (e *Engine) ValidityMask(b *utils.Band) (*utils.Band, error) {
	out := newLike(b)
	for i := range b.Data {
		out.Data[i] = boolToFloat(b.IsValid(i))
	}
	return out, nil
}

// UpdateMask invalidates pixels of b where mask is zero or invalid.
func (e *Engine) UpdateMask(b, mask *utils.Band) (*utils.Band, error) {
	if err := checkShape(b, mask); err != nil {
		return nil, err
	}
	out := b.Clone()
	for i := range out.Valid {
		out.Valid[i] = out.Valid[i] && mask.IsValid(i) && mask.Data[i] != 0
	}
	return out, nil
}
