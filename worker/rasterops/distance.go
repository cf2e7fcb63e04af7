package rasterops

import (
	"fmt"
	"math"

	"github.com/nci/s2cloudless/utils"
)

// DirectionalDistanceTransform measures, for every pixel, how many steps
// one must travel along angle (degrees counter-clockwise from east) to
// reach a nonzero valid pixel of b. Pixels with no such source within
// maxDistance steps are left invalid.
func (e *Engine) DirectionalDistanceTransform(b *utils.Band, angle float64, maxDistance int) (*utils.Band, error) {
	if maxDistance < 0 {
		return nil, fmt.Errorf("distance transform max distance %d: %w", maxDistance, utils.ErrInvalidParameter)
	}
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return nil, fmt.Errorf("distance transform angle %v: %w", angle, utils.ErrInvalidParameter)
	}

	rad := angle * math.Pi / 180
	dx, dy := math.Cos(rad), -math.Sin(rad)
	major := math.Max(math.Abs(dx), math.Abs(dy))
	dx, dy = dx/major, dy/major

	// each step moves a whole pixel along the dominant axis, so no walk
	// stays on the grid for more than max(width, height) steps
	limit := b.Width
	if b.Height > limit {
		limit = b.Height
	}
	if maxDistance > limit {
		maxDistance = limit
	}
	steps := make([]offset, maxDistance+1)
	for k := range steps {
		steps[k] = offset{int(math.Round(float64(k) * dx)), int(math.Round(float64(k) * dy))}
	}

	out := newLike(b)
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			dst := y*b.Width + x
			out.Valid[dst] = false
			for k, s := range steps {
				sx, sy := x+s.dx, y+s.dy
				if sx < 0 || sy < 0 || sx >= b.Width || sy >= b.Height {
					break
				}
				src := sy*b.Width + sx
				if b.IsValid(src) && b.Data[src] != 0 {
					out.Data[dst] = float32(k)
					out.Valid[dst] = true
					break
				}
			}
		}
	}
	return out, nil
}
