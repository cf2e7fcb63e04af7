package utils

import (
	"fmt"
	"regexp"
	"sort"
	"time"
)

// Band names appended by the masking stages.
const (
	ProbabilityBand    = "probability"
	CloudsBand         = "clouds"
	DarkPixelsBand     = "dark_pixels"
	CloudTransformBand = "cloud_transform"
	ShadowsBand        = "shadows"
	CloudMaskBand      = "cloudmask"
)

// DerivedBands lists every intermediate band the stages may add.
var DerivedBands = []string{ProbabilityBand, CloudsBand, DarkPixelsBand, CloudTransformBand, ShadowsBand, CloudMaskBand}

// Band is a row-major 2-D raster with a per-pixel validity mask.
// Scale is the nominal pixel size in CRS units.
type Band struct {
	Data          []float32
	Valid         []bool
	Height, Width int
	Scale         float64
	NoData        float64
}

func NewBand(width, height int, scale float64) *Band {
	valid := make([]bool, width*height)
	for i := range valid {
		valid[i] = true
	}
	return &Band{
		Data:   make([]float32, width*height),
		Valid:  valid,
		Width:  width,
		Height: height,
		Scale:  scale,
	}
}

// NewBandFromRows builds a fully valid band from a slice of rows.
func NewBandFromRows(rows [][]float32, scale float64) *Band {
	height := len(rows)
	width := 0
	if height > 0 {
		width = len(rows[0])
	}
	b := NewBand(width, height, scale)
	for y, row := range rows {
		copy(b.Data[y*width:(y+1)*width], row)
	}
	return b
}

func (b *Band) GetNoData() float64 {
	return b.NoData
}

func (b *Band) IsValid(i int) bool {
	return b.Valid == nil || b.Valid[i]
}

func (b *Band) At(x, y int) float32 {
	return b.Data[y*b.Width+x]
}

func (b *Band) Size() int {
	return b.Width * b.Height
}

func (b *Band) SameShape(o *Band) bool {
	return b.Width == o.Width && b.Height == o.Height
}

func (b *Band) Clone() *Band {
	out := &Band{
		Data:   make([]float32, len(b.Data)),
		Valid:  make([]bool, len(b.Data)),
		Height: b.Height,
		Width:  b.Width,
		Scale:  b.Scale,
		NoData: b.NoData,
	}
	copy(out.Data, b.Data)
	for i := range out.Valid {
		out.Valid[i] = b.IsValid(i)
	}
	return out
}

// CountNonZero returns the number of valid pixels holding a nonzero value.
func (b *Band) CountNonZero() int {
	n := 0
	for i, v := range b.Data {
		if v != 0 && b.IsValid(i) {
			n++
		}
	}
	return n
}

func (b *Band) CountValid() int {
	if b.Valid == nil {
		return len(b.Data)
	}
	n := 0
	for _, v := range b.Valid {
		if v {
			n++
		}
	}
	return n
}

// SpatialRef ties an image to its projection and nominal pixel scale.
type SpatialRef struct {
	CRS          string     `json:"crs" yaml:"crs"`
	GeoTransform [6]float64 `json:"geotransform" yaml:"geotransform"`
	Scale        float64    `json:"scale" yaml:"scale"`
}

// NamedBand pairs a band with the name it is stored under.
type NamedBand struct {
	Name string
	Band *Band
}

// Image is one acquisition. Stages never mutate an Image; they derive a
// new one sharing the unchanged bands.
type Image struct {
	Index        string
	Source       string
	TimeStamp    time.Time
	SpatialRef   SpatialRef
	SolarAzimuth *float64
	Properties   map[string]float64
	BandNames    []string
	Bands        map[string]*Band
	Companion    *Image
}

func NewImage(index string, ref SpatialRef, bands ...NamedBand) *Image {
	img := &Image{
		Index:      index,
		SpatialRef: ref,
		Properties: map[string]float64{},
		Bands:      map[string]*Band{},
	}
	for _, nb := range bands {
		img.BandNames = append(img.BandNames, nb.Name)
		img.Bands[nb.Name] = nb.Band
	}
	return img
}

func (img *Image) Band(name string) (*Band, error) {
	b, ok := img.Bands[name]
	if !ok {
		return nil, fmt.Errorf("image %s: band %q: %w", img.Index, name, ErrMissingBand)
	}
	return b, nil
}

func (img *Image) HasBand(name string) bool {
	_, ok := img.Bands[name]
	return ok
}

// ReferenceBand is the first band of the image; its grid defines the
// native resolution derived bands are aligned to.
func (img *Image) ReferenceBand() (*Band, error) {
	if len(img.BandNames) == 0 {
		return nil, fmt.Errorf("image %s has no bands: %w", img.Index, ErrMissingBand)
	}
	return img.Band(img.BandNames[0])
}

func (img *Image) shallowCopy() *Image {
	out := *img
	out.BandNames = append([]string(nil), img.BandNames...)
	out.Bands = make(map[string]*Band, len(img.Bands))
	for k, v := range img.Bands {
		out.Bands[k] = v
	}
	return &out
}

// AddBands returns a copy of the image with the given bands appended.
// A band whose name already exists replaces the old one in place.
func (img *Image) AddBands(bands ...NamedBand) *Image {
	out := img.shallowCopy()
	for _, nb := range bands {
		if _, found := out.Bands[nb.Name]; !found {
			out.BandNames = append(out.BandNames, nb.Name)
		}
		out.Bands[nb.Name] = nb.Band
	}
	return out
}

// Select returns a copy holding only the bands whose names match re,
// in their original order. The companion reference is dropped.
func (img *Image) Select(re *regexp.Regexp) *Image {
	out := img.shallowCopy()
	out.Companion = nil
	out.BandNames = out.BandNames[:0]
	out.Bands = map[string]*Band{}
	for _, name := range img.BandNames {
		if re.MatchString(name) {
			out.BandNames = append(out.BandNames, name)
			out.Bands[name] = img.Bands[name]
		}
	}
	return out
}

// WithCompanion returns a copy referencing the joined probability image.
func (img *Image) WithCompanion(c *Image) *Image {
	out := img.shallowCopy()
	out.Companion = c
	return out
}

// Collection is an ordered sequence of images.
type Collection []*Image

func (c Collection) Indices() []string {
	out := make([]string, len(c))
	for i, img := range c {
		out[i] = img.Index
	}
	return out
}

// SortByTime orders the collection by acquisition time, breaking ties by
// index so the order is deterministic.
func (c Collection) SortByTime() {
	sort.SliceStable(c, func(i, j int) bool {
		if !c[i].TimeStamp.Equal(c[j].TimeStamp) {
			return c[i].TimeStamp.Before(c[j].TimeStamp)
		}
		return c[i].Index < c[j].Index
	})
}
