package processor

import (
	"github.com/nci/s2cloudless/utils"
)

const openingRadius = 2

// AddCloudShadowMask unions the clouds and shadows bands, removes small
// patches with a minimum filter and buffers what is left with a maximum
// filter. Both filters run at the mask scale; the opening always comes
// first so the buffer does not re-inflate removed noise.
func AddCloudShadowMask(ops RasterOps, img *utils.Image, params *utils.MaskParams) (*utils.Image, error) {
	clouds, err := img.Band(utils.CloudsBand)
	if err != nil {
		return nil, err
	}
	shadows, err := img.Band(utils.ShadowsBand)
	if err != nil {
		return nil, err
	}
	shadows, err = alignTo(ops, shadows, clouds)
	if err != nil {
		return nil, err
	}

	sum, err := ops.Add(clouds, shadows)
	if err != nil {
		return nil, err
	}
	isCloudShadow, err := ops.Compare(sum, utils.OpGT, 0)
	if err != nil {
		return nil, err
	}

	coarse, err := ops.Resample(isCloudShadow, params.MaskScale)
	if err != nil {
		return nil, err
	}
	opened, err := ops.FocalMin(coarse, openingRadius)
	if err != nil {
		return nil, err
	}
	buffered, err := ops.FocalMax(opened, params.BufferRadius())
	if err != nil {
		return nil, err
	}

	cloudMask, err := alignTo(ops, buffered, clouds)
	if err != nil {
		return nil, err
	}

	return img.AddBands(utils.NamedBand{Name: utils.CloudMaskBand, Band: cloudMask}), nil
}
