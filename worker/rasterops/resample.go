package rasterops

import (
	"fmt"
	"math"

	"github.com/nci/s2cloudless/utils"
)

const sizeEpsilon = 1e-9

// Resample moves b onto a grid with the given pixel scale, keeping the
// same footprint. Coarser grids take the maximum of the covered valid
// pixels, finer grids use nearest neighbour.
func (e *Engine) Resample(b *utils.Band, scale float64) (*utils.Band, error) {
	if scale <= 0 || b.Scale <= 0 {
		return nil, fmt.Errorf("resample from scale %v to %v: %w", b.Scale, scale, utils.ErrInvalidParameter)
	}
	if scale == b.Scale {
		return b.Clone(), nil
	}
	ratio := b.Scale / scale
	width := int(math.Ceil(float64(b.Width)*ratio - sizeEpsilon))
	height := int(math.Ceil(float64(b.Height)*ratio - sizeEpsilon))
	return e.Resize(b, width, height, scale)
}

// Resize maps b onto an explicit width x height grid of the given scale
// sharing b's origin.
func (e *Engine) Resize(b *utils.Band, width, height int, scale float64) (*utils.Band, error) {
	if width <= 0 || height <= 0 || scale <= 0 || b.Scale <= 0 {
		return nil, fmt.Errorf("resize %dx%d@%v to %dx%d@%v: %w", b.Width, b.Height, b.Scale, width, height, scale, utils.ErrInvalidParameter)
	}
	if width == b.Width && height == b.Height && scale == b.Scale {
		return b.Clone(), nil
	}
	if scale > b.Scale {
		return blockMax(b, width, height, scale), nil
	}
	return nearest(b, width, height, scale), nil
}

func nearest(b *utils.Band, width, height int, scale float64) *utils.Band {
	out := utils.NewBand(width, height, scale)
	ratio := scale / b.Scale
	for oy := 0; oy < height; oy++ {
		iy := clamp(int((float64(oy)+0.5)*ratio), b.Height-1)
		for ox := 0; ox < width; ox++ {
			ix := clamp(int((float64(ox)+0.5)*ratio), b.Width-1)
			src := iy*b.Width + ix
			dst := oy*width + ox
			out.Data[dst] = b.Data[src]
			out.Valid[dst] = b.IsValid(src)
		}
	}
	return out
}

func blockMax(b *utils.Band, width, height int, scale float64) *utils.Band {
	out := utils.NewBand(width, height, scale)
	ratio := scale / b.Scale
	for oy := 0; oy < height; oy++ {
		y0, y1 := span(oy, ratio, b.Height)
		for ox := 0; ox < width; ox++ {
			x0, x1 := span(ox, ratio, b.Width)
			dst := oy*width + ox
			found := false
			var best float32
			for iy := y0; iy < y1; iy++ {
				for ix := x0; ix < x1; ix++ {
					src := iy*b.Width + ix
					if !b.IsValid(src) {
						continue
					}
					if !found || b.Data[src] > best {
						best = b.Data[src]
						found = true
					}
				}
			}
			out.Data[dst] = best
			out.Valid[dst] = found
		}
	}
	return out
}

// span returns the half-open range of source pixels covered by output
// pixel o.
func span(o int, ratio float64, limit int) (int, int) {
	lo := int(math.Floor(float64(o)*ratio + sizeEpsilon))
	hi := int(math.Ceil(float64(o+1)*ratio - sizeEpsilon))
	if hi <= lo {
		hi = lo + 1
	}
	if lo > limit-1 {
		lo = limit - 1
	}
	if hi > limit {
		hi = limit
	}
	return lo, hi
}

func clamp(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
