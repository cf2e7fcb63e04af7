package processor

import (
	"fmt"

	"github.com/nci/s2cloudless/utils"
)

// ApplyCloudShadowMask keeps only the reflectance bands and invalidates
// their cloud and shadow pixels. Masked pixels become no data; their
// values are left untouched.
func ApplyCloudShadowMask(ops RasterOps, img *utils.Image, params *utils.MaskParams) (*utils.Image, error) {
	cloudMask, err := img.Band(utils.CloudMaskBand)
	if err != nil {
		return nil, err
	}
	re, err := params.ReflectanceRegexp()
	if err != nil {
		return nil, err
	}

	out := img.Select(re)
	for _, name := range utils.DerivedBands {
		if out.HasBand(name) {
			return nil, fmt.Errorf("image %s: derived band %q matches reflectance pattern %q: %w",
				img.Index, name, params.ReflectancePattern, utils.ErrInvalidParameter)
		}
	}

	masked := make([]utils.NamedBand, 0, len(out.BandNames))
	for _, name := range out.BandNames {
		band := out.Bands[name]
		bandMask, err := alignTo(ops, cloudMask, band)
		if err != nil {
			return nil, err
		}
		clearSky, err := ops.Not(bandMask)
		if err != nil {
			return nil, err
		}
		band, err = ops.UpdateMask(band, clearSky)
		if err != nil {
			return nil, fmt.Errorf("band %s: %w", name, err)
		}
		masked = append(masked, utils.NamedBand{Name: name, Band: band})
	}
	return out.AddBands(masked...), nil
}
