package processor

import (
	"fmt"

	"github.com/nci/s2cloudless/utils"
)

// alignTo moves b onto the grid of ref when the two differ.
func alignTo(ops RasterOps, b, ref *utils.Band) (*utils.Band, error) {
	if b.SameShape(ref) && b.Scale == ref.Scale {
		return b, nil
	}
	return ops.Resize(b, ref.Width, ref.Height, ref.Scale)
}

// AddCloudBands appends the companion probability band and a binary
// clouds band, set where probability is strictly above the threshold.
func AddCloudBands(ops RasterOps, img *utils.Image, params *utils.MaskParams) (*utils.Image, error) {
	if img.Companion == nil {
		return nil, fmt.Errorf("image %s: %w", img.Index, utils.ErrMissingCompanionImage)
	}
	prob, err := img.Companion.Band(params.ProbabilityBand)
	if err != nil {
		return nil, err
	}
	ref, err := img.ReferenceBand()
	if err != nil {
		return nil, err
	}
	prob, err = alignTo(ops, prob, ref)
	if err != nil {
		return nil, err
	}

	clouds, err := ops.Compare(prob, utils.OpGT, params.CloudProbThresh)
	if err != nil {
		return nil, err
	}

	return img.AddBands(
		utils.NamedBand{Name: utils.ProbabilityBand, Band: prob},
		utils.NamedBand{Name: utils.CloudsBand, Band: clouds},
	), nil
}
