package extractor

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gopkg.in/yaml.v2"

	"github.com/nci/s2cloudless/utils"
)

const timestampFormat = "2006-01-02T15:04:05Z"

type BandRef struct {
	Name  string  `yaml:"name"`
	Path  string  `yaml:"path"`
	Band  int     `yaml:"band"`
	Scale float64 `yaml:"scale"`
}

// SceneMetadata is the YAML sidecar describing one acquisition of one
// source collection.
type SceneMetadata struct {
	Index                 string             `yaml:"index"`
	Source                string             `yaml:"source"`
	Datetime              string             `yaml:"datetime"`
	CRS                   string             `yaml:"crs"`
	GeoTransform          []float64          `yaml:"geotransform"`
	Scale                 float64            `yaml:"scale"`
	MeanSolarAzimuthAngle *float64           `yaml:"mean_solar_azimuth_angle"`
	CloudyPixelPercentage *float64           `yaml:"cloudy_pixel_percentage"`
	Footprint             string             `yaml:"footprint"`
	Properties            map[string]float64 `yaml:"properties"`
	Bands                 []*BandRef         `yaml:"bands"`

	FileName  string    `yaml:"-"`
	TimeStamp time.Time `yaml:"-"`
}

func ExtractSceneYaml(filename string) (*SceneMetadata, error) {
	rawData, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	meta := &SceneMetadata{}
	if err = yaml.Unmarshal(rawData, meta); err != nil {
		return nil, fmt.Errorf("%s: %v", filename, err)
	}
	meta.FileName = filename

	if strings.TrimSpace(meta.Index) == "" {
		return nil, fmt.Errorf("%s: scene index is empty", filename)
	}
	if strings.TrimSpace(meta.Source) == "" {
		return nil, fmt.Errorf("%s: scene source is empty", filename)
	}
	if len(meta.Bands) == 0 {
		return nil, fmt.Errorf("%s: scene has no bands", filename)
	}
	if len(meta.GeoTransform) != 0 && len(meta.GeoTransform) != 6 {
		return nil, fmt.Errorf("%s: geotransform must have 6 coefficients", filename)
	}

	if len(meta.Datetime) > 0 {
		meta.TimeStamp, err = time.ParseInLocation(timestampFormat, meta.Datetime, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid datetime: %v", filename, err)
		}
	}

	dsPath := filepath.Dir(filename)
	seen := map[string]struct{}{}
	for _, b := range meta.Bands {
		if b.Name == "" || b.Path == "" {
			return nil, fmt.Errorf("%s: band entries need a name and a path", filename)
		}
		if _, found := seen[b.Name]; found {
			return nil, fmt.Errorf("%s: band %s listed twice", filename, b.Name)
		}
		seen[b.Name] = struct{}{}
		if !filepath.IsAbs(b.Path) {
			b.Path = filepath.Join(dsPath, b.Path)
		}
		if b.Band <= 0 {
			b.Band = 1
		}
		if b.Scale <= 0 {
			b.Scale = meta.Scale
		}
	}

	return meta, nil
}

// FootprintBound returns the bounding box of the GeoJSON footprint.
func (m *SceneMetadata) FootprintBound() (orb.Bound, bool, error) {
	if strings.TrimSpace(m.Footprint) == "" {
		return orb.Bound{}, false, nil
	}
	geom, err := geojson.UnmarshalGeometry([]byte(m.Footprint))
	if err != nil {
		return orb.Bound{}, false, fmt.Errorf("%s: footprint: %v", m.FileName, err)
	}
	return geom.Geometry().Bound(), true, nil
}

// FilterVariables exposes the scene attributes filter expressions may use.
func (m *SceneMetadata) FilterVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"index":       m.Index,
		"source":      m.Source,
		"year":        float64(m.TimeStamp.Year()),
		"month":       float64(m.TimeStamp.Month()),
		"day_of_year": float64(m.TimeStamp.YearDay()),
		"hour":        float64(m.TimeStamp.Hour()),
	}
	vars["cloudy_pixel_percentage"] = optional(m.CloudyPixelPercentage)
	vars["mean_solar_azimuth_angle"] = optional(m.MeanSolarAzimuthAngle)
	return vars
}

func optional(v *float64) float64 {
	if v == nil {
		return -1
	}
	return *v
}

// Image builds the in-memory image from the sidecar and its loaded bands.
func (m *SceneMetadata) Image(bands map[string]*utils.Band) *utils.Image {
	ref := utils.SpatialRef{CRS: m.CRS, Scale: m.Scale}
	copy(ref.GeoTransform[:], m.GeoTransform)

	named := make([]utils.NamedBand, 0, len(m.Bands))
	for _, b := range m.Bands {
		named = append(named, utils.NamedBand{Name: b.Name, Band: bands[b.Name]})
	}
	img := utils.NewImage(m.Index, ref, named...)
	img.Source = m.Source
	img.TimeStamp = m.TimeStamp
	if m.MeanSolarAzimuthAngle != nil {
		az := *m.MeanSolarAzimuthAngle
		img.SolarAzimuth = &az
		img.Properties["MEAN_SOLAR_AZIMUTH_ANGLE"] = az
	}
	if m.CloudyPixelPercentage != nil {
		img.Properties["CLOUDY_PIXEL_PERCENTAGE"] = *m.CloudyPixelPercentage
	}
	for k, v := range m.Properties {
		img.Properties[k] = v
	}
	return img
}
