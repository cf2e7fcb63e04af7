package processor

import (
	"time"

	"github.com/nci/s2cloudless/utils"
)

// RasterOps is the set of raster primitives the masking stages are
// written against.
type RasterOps interface {
	Compare(b *utils.Band, op utils.CompareOp, value float64) (*utils.Band, error)
	Add(a, b *utils.Band) (*utils.Band, error)
	Multiply(a, b *utils.Band) (*utils.Band, error)
	Not(b *utils.Band) (*utils.Band, error)
	ValidityMask(b *utils.Band) (*utils.Band, error)
	Resample(b *utils.Band, scale float64) (*utils.Band, error)
	Resize(b *utils.Band, width, height int, scale float64) (*utils.Band, error)
	FocalMin(b *utils.Band, radius float64) (*utils.Band, error)
	FocalMax(b *utils.Band, radius float64) (*utils.Band, error)
	DirectionalDistanceTransform(b *utils.Band, angle float64, maxDistance int) (*utils.Band, error)
	UpdateMask(b, mask *utils.Band) (*utils.Band, error)
}

// StageFunc derives a new image from img. It must not modify img.
type StageFunc func(ops RasterOps, img *utils.Image, params *utils.MaskParams) (*utils.Image, error)

type MaskStage struct {
	Name  string
	Apply StageFunc
}

const (
	StageCloudBands  = "cloud_bands"
	StageShadowBands = "shadow_bands"
	StageMaskCombine = "mask_combine"
	StageMaskApply   = "mask_apply"
	StageDispatch    = "dispatch"
	StageCache       = "cache"
)

// MaskStages is the fixed stage order applied to every image.
var MaskStages = []MaskStage{
	{Name: StageCloudBands, Apply: AddCloudBands},
	{Name: StageShadowBands, Apply: AddShadowBands},
	{Name: StageMaskCombine, Apply: AddCloudShadowMask},
	{Name: StageMaskApply, Apply: ApplyCloudShadowMask},
}

// MaskStats counts flagged pixels at the native resolution.
type MaskStats struct {
	CloudPixels  int `json:"cloud_pixels"`
	ShadowPixels int `json:"shadow_pixels"`
	MaskedPixels int `json:"masked_pixels"`
	TotalPixels  int `json:"total_pixels"`
}

func (s MaskStats) MaskedFraction() float64 {
	if s.TotalPixels == 0 {
		return 0
	}
	return float64(s.MaskedPixels) / float64(s.TotalPixels)
}

// MaskResult is the outcome for one image of the joined collection.
// Exactly one of Image and Err is set.
type MaskResult struct {
	Position int
	Index    string
	Image    *utils.Image
	Stats    MaskStats
	Cached   bool
	Duration time.Duration
	Err      error
}
