package extractor

import (
	"fmt"
	"io/ioutil"
	"strings"

	goeval "github.com/edisonguo/govaluate"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var validFilterVariables = map[string]struct{}{
	"index":                    struct{}{},
	"source":                   struct{}{},
	"year":                     struct{}{},
	"month":                    struct{}{},
	"day_of_year":              struct{}{},
	"hour":                     struct{}{},
	"cloudy_pixel_percentage":  struct{}{},
	"mean_solar_azimuth_angle": struct{}{},
}

// SceneFilter decides which reflectance scenes enter a run.
type SceneFilter struct {
	// CloudFilter keeps scenes whose cloudy pixel percentage is strictly
	// below it. Nil disables the check.
	CloudFilter *float64
	Expr        *goeval.EvaluableExpression
	AOI         *orb.Bound
}

func ParseFilterExpression(pattern string) (*goeval.EvaluableExpression, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, err
	}

	for _, token := range expr.Tokens() {
		if token.Kind == goeval.VARIABLE {
			varName, ok := token.Value.(string)
			if !ok {
				return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
			}
			if _, found := validFilterVariables[varName]; !found {
				return nil, fmt.Errorf("variable %v is not supported. Valid variables are %v", varName, filterVariableNames())
			}
		}
	}
	return expr, nil
}

func filterVariableNames() []string {
	names := make([]string, 0, len(validFilterVariables))
	for k := range validFilterVariables {
		names = append(names, k)
	}
	return names
}

// LoadAOI reads a GeoJSON geometry, feature or feature collection and
// returns its bounding box.
func LoadAOI(path string) (orb.Bound, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return orb.Bound{}, err
	}
	return ParseAOI(raw)
}

func ParseAOI(raw []byte) (orb.Bound, error) {
	if fc, err := geojson.UnmarshalFeatureCollection(raw); err == nil && len(fc.Features) > 0 {
		bound := fc.Features[0].Geometry.Bound()
		for _, f := range fc.Features[1:] {
			bound = bound.Union(f.Geometry.Bound())
		}
		return bound, nil
	}
	if f, err := geojson.UnmarshalFeature(raw); err == nil && f.Geometry != nil {
		return f.Geometry.Bound(), nil
	}
	geom, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return orb.Bound{}, fmt.Errorf("AOI is not valid GeoJSON: %v", err)
	}
	return geom.Geometry().Bound(), nil
}

// Accept applies the cloud filter, the expression and the AOI in turn.
// A scene with no footprint never matches an AOI.
func (f *SceneFilter) Accept(meta *SceneMetadata) (bool, error) {
	if f == nil {
		return true, nil
	}

	if f.CloudFilter != nil {
		if meta.CloudyPixelPercentage == nil {
			return false, nil
		}
		if !(*meta.CloudyPixelPercentage < *f.CloudFilter) {
			return false, nil
		}
	}

	if f.Expr != nil {
		res, err := f.Expr.Evaluate(meta.FilterVariables())
		if err != nil {
			return false, fmt.Errorf("%s: filter: %v", meta.Index, err)
		}
		ok, isBool := res.(bool)
		if !isBool {
			return false, fmt.Errorf("%s: filter must evaluate to a boolean, got %v", meta.Index, res)
		}
		if !ok {
			return false, nil
		}
	}

	if f.AOI != nil {
		bound, found, err := meta.FootprintBound()
		if err != nil {
			return false, err
		}
		if !found || !bound.Intersects(*f.AOI) {
			return false, nil
		}
	}
	return true, nil
}
