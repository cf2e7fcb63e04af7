package rasterops

import (
	"fmt"
	"math"

	"github.com/nci/s2cloudless/utils"
)

type offset struct {
	dx, dy int
}

// circleKernel lists the offsets within radius pixels of the centre.
func circleKernel(radius float64) []offset {
	r := int(math.Floor(radius))
	var kernel []offset
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if float64(dx*dx+dy*dy) <= radius*radius {
				kernel = append(kernel, offset{dx, dy})
			}
		}
	}
	return kernel
}

func (e *Engine) FocalMin(b *utils.Band, radius float64) (*utils.Band, error) {
	return focal(b, radius, func(cur, v float32) bool { return v < cur })
}

func (e *Engine) FocalMax(b *utils.Band, radius float64) (*utils.Band, error) {
	return focal(b, radius, func(cur, v float32) bool { return v > cur })
}

// focal reduces each circular neighbourhood with better. Neighbours
// outside the raster or invalid are ignored; an output pixel is valid
// when at least one neighbour is.
func focal(b *utils.Band, radius float64, better func(cur, v float32) bool) (*utils.Band, error) {
	if radius < 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		return nil, fmt.Errorf("focal radius %v: %w", radius, utils.ErrInvalidParameter)
	}
	if radius < 1 {
		return b.Clone(), nil
	}

	kernel := circleKernel(radius)
	out := newLike(b)
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			found := false
			var acc float32
			for _, k := range kernel {
				nx, ny := x+k.dx, y+k.dy
				if nx < 0 || ny < 0 || nx >= b.Width || ny >= b.Height {
					continue
				}
				src := ny*b.Width + nx
				if !b.IsValid(src) {
					continue
				}
				if !found || better(acc, b.Data[src]) {
					acc = b.Data[src]
					found = true
				}
			}
			dst := y*b.Width + x
			out.Data[dst] = acc
			out.Valid[dst] = found
		}
	}
	return out, nil
}
