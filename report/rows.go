// Package report renders the outcome of a masking run: a per-image CSV,
// an optional Postgres record and a text summary.
package report

import (
	"github.com/nci/s2cloudless/metrics"
)

const (
	StatusMasked = "masked"
	StatusCached = "cached"
	StatusFailed = "failed"
)

// ImageRow is one line of the per-image report.
type ImageRow struct {
	RunID          string  `csv:"run_id"`
	Position       int     `csv:"position"`
	Index          string  `csv:"index"`
	Status         string  `csv:"status"`
	FailedStage    string  `csv:"failed_stage"`
	Error          string  `csv:"error"`
	CloudPixels    int     `csv:"cloud_pixels"`
	ShadowPixels   int     `csv:"shadow_pixels"`
	MaskedPixels   int     `csv:"masked_pixels"`
	TotalPixels    int     `csv:"total_pixels"`
	MaskedFraction float64 `csv:"masked_fraction"`
	DurationMS     int64   `csv:"duration_ms"`
}

func imageStatus(img *metrics.ImageInfo) string {
	switch {
	case img.Error != "":
		return StatusFailed
	case img.Cached:
		return StatusCached
	default:
		return StatusMasked
	}
}

// NewImageRows flattens the run record, one row per image in input order.
func NewImageRows(info *metrics.RunInfo) []*ImageRow {
	rows := make([]*ImageRow, 0, len(info.Images))
	for _, img := range info.Images {
		rows = append(rows, &ImageRow{
			RunID:          info.RunID,
			Position:       img.Position,
			Index:          img.Index,
			Status:         imageStatus(img),
			FailedStage:    img.FailedStage,
			Error:          img.Error,
			CloudPixels:    img.CloudPixels,
			ShadowPixels:   img.ShadowPixels,
			MaskedPixels:   img.MaskedPixels,
			TotalPixels:    img.TotalPixels,
			MaskedFraction: img.MaskedFraction,
			DurationMS:     img.Duration.Milliseconds(),
		})
	}
	return rows
}
