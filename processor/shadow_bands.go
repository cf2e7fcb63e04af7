package processor

import (
	"fmt"

	"github.com/nci/s2cloudless/utils"
)

// AddShadowBands flags dark non-water pixels lying within the projected
// shadow of the clouds band. The projection runs at the coarse
// projection scale; its result is brought back to the NIR grid.
func AddShadowBands(ops RasterOps, img *utils.Image, params *utils.MaskParams) (*utils.Image, error) {
	if img.SolarAzimuth == nil {
		return nil, fmt.Errorf("image %s: solar azimuth angle: %w", img.Index, utils.ErrMissingMetadata)
	}
	if img.SpatialRef.CRS == "" || img.SpatialRef.Scale <= 0 {
		return nil, fmt.Errorf("image %s: projection: %w", img.Index, utils.ErrMissingMetadata)
	}

	clouds, err := img.Band(utils.CloudsBand)
	if err != nil {
		return nil, err
	}
	nir, err := img.Band(params.NIRBand)
	if err != nil {
		return nil, err
	}
	scl, err := img.Band(params.SCLBand)
	if err != nil {
		return nil, err
	}
	scl, err = alignTo(ops, scl, nir)
	if err != nil {
		return nil, err
	}

	notWater, err := ops.Compare(scl, utils.OpNEQ, params.WaterClass)
	if err != nil {
		return nil, err
	}
	lowNIR, err := ops.Compare(nir, utils.OpLT, params.NIRDarkThresh*params.ReflectanceScale)
	if err != nil {
		return nil, err
	}
	dark, err := ops.Multiply(lowNIR, notWater)
	if err != nil {
		return nil, err
	}

	shadowAzimuth := 90 - *img.SolarAzimuth

	coarse, err := ops.Resample(clouds, params.ProjectionScale)
	if err != nil {
		return nil, err
	}
	distance, err := ops.DirectionalDistanceTransform(coarse, shadowAzimuth, params.ProjectionSteps())
	if err != nil {
		return nil, err
	}
	projected, err := ops.ValidityMask(distance)
	if err != nil {
		return nil, err
	}
	cloudTransform, err := alignTo(ops, projected, nir)
	if err != nil {
		return nil, err
	}

	shadows, err := ops.Multiply(cloudTransform, dark)
	if err != nil {
		return nil, err
	}

	return img.AddBands(
		utils.NamedBand{Name: utils.DarkPixelsBand, Band: dark},
		utils.NamedBand{Name: utils.CloudTransformBand, Band: cloudTransform},
		utils.NamedBand{Name: utils.ShadowsBand, Band: shadows},
	), nil
}
