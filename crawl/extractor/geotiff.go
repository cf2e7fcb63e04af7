package extractor

import (
	"fmt"
	"math"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/nci/s2cloudless/utils"
)

var registerDrivers sync.Once

// BandReader loads one raster band. A scale of zero takes the pixel size
// from the file's geotransform.
type BandReader func(path string, band int, scale float64) (*utils.Band, error)

// ReadGeoTIFFBand reads band (1-based) of path into memory. Pixels equal
// to the band's no-data value are marked invalid.
func ReadGeoTIFFBand(path string, band int, scale float64) (*utils.Band, error) {
	registerDrivers.Do(godal.RegisterAll)

	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v", path, err)
	}
	defer ds.Close()

	bands := ds.Bands()
	if band < 1 || band > len(bands) {
		return nil, fmt.Errorf("%s has %d band(s), band %d requested: %w", path, len(bands), band, utils.ErrMissingBand)
	}
	gb := bands[band-1]
	st := gb.Structure()

	out := utils.NewBand(st.SizeX, st.SizeY, scale)
	if err = gb.Read(0, 0, out.Data, st.SizeX, st.SizeY); err != nil {
		return nil, fmt.Errorf("read %s band %d: %v", path, band, err)
	}

	if nodata, ok := gb.NoData(); ok {
		out.NoData = nodata
		for i, v := range out.Data {
			if float64(v) == nodata || (math.IsNaN(nodata) && math.IsNaN(float64(v))) {
				out.Valid[i] = false
			}
		}
	}

	if out.Scale <= 0 {
		gt, err := ds.GeoTransform()
		if err != nil {
			return nil, fmt.Errorf("%s: no scale given and no geotransform: %v", path, err)
		}
		out.Scale = math.Abs(gt[1])
	}
	return out, nil
}
