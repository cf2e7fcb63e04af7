package extractor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nci/s2cloudless/utils"
)

const (
	reflSource = "COPERNICUS/S2_SR"
	probSource = "COPERNICUS/S2_CLOUD_PROBABILITY"
)

func sidecar(index, source, datetime string, cloudy float64, bands ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "index: %s\nsource: %s\ndatetime: %q\ncrs: EPSG:32755\nscale: 10\n", index, source, datetime)
	fmt.Fprintf(&b, "mean_solar_azimuth_angle: 120\ncloudy_pixel_percentage: %v\nbands:\n", cloudy)
	for _, name := range bands {
		fmt.Fprintf(&b, "  - {name: %s, path: %s_%s.tif}\n", name, index, name)
	}
	return b.String()
}

type fakeReader struct {
	mu    sync.Mutex
	paths []string
	fail  string
}

func (r *fakeReader) read(path string, band int, scale float64) (*utils.Band, error) {
	r.mu.Lock()
	r.paths = append(r.paths, filepath.Base(path))
	r.mu.Unlock()
	if r.fail != "" && strings.Contains(path, r.fail) {
		return nil, errors.New("corrupt file")
	}
	return utils.NewBand(4, 4, scale), nil
}

func newTestLoader(t *testing.T, filter *SceneFilter) (*SceneLoader, *fakeReader, string) {
	dir := t.TempDir()
	writeSidecar(t, dir, "s2_sr/a.yaml", sidecar("a", reflSource, "2020-01-03T00:00:00Z", 10, "B2", "B8", "SCL"))
	writeSidecar(t, dir, "s2_sr/b.yaml", sidecar("b", reflSource, "2020-01-01T00:00:00Z", 80, "B2", "B8", "SCL"))
	writeSidecar(t, dir, "s2_sr/c.yaml", sidecar("c", reflSource, "2020-01-02T00:00:00Z", 20, "B2", "B8", "SCL"))
	writeSidecar(t, dir, "prob/a.yml", sidecar("a", probSource, "2020-01-03T00:00:00Z", 0, "probability"))
	writeSidecar(t, dir, "prob/b.yml", sidecar("b", probSource, "2020-01-01T00:00:00Z", 0, "probability"))
	writeSidecar(t, dir, "prob/c.yml", sidecar("c", probSource, "2020-01-02T00:00:00Z", 0, "probability"))
	writeSidecar(t, dir, "other/x.yaml", sidecar("x", "LANDSAT/LC08", "2020-01-02T00:00:00Z", 0, "B1"))

	reader := &fakeReader{}
	l := NewSceneLoader(dir, filter, 3, zap.NewNop())
	l.ReadBand = reader.read
	return l, reader, dir
}

func TestLoadCollections(t *testing.T) {
	l, reader, _ := newTestLoader(t, &SceneFilter{CloudFilter: float(60)})

	refl, prob, stats, err := l.LoadCollections(context.Background(), reflSource, probSource)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.NumScenes)
	assert.Equal(t, 1, stats.NumFiltered)

	assert.Equal(t, []string{"c", "a"}, refl.Indices())
	assert.Equal(t, []string{"c", "a"}, prob.Indices())
	assert.Equal(t, []string{"B2", "B8", "SCL"}, refl[0].BandNames)
	assert.Equal(t, reflSource, refl[0].Source)
	require.NotNil(t, refl[0].SolarAzimuth)
	assert.Equal(t, 120.0, *refl[0].SolarAzimuth)
	assert.True(t, prob[0].HasBand("probability"))

	assert.NotContains(t, reader.paths, "b_B2.tif")
	assert.NotContains(t, reader.paths, "b_probability.tif")
	assert.NotContains(t, reader.paths, "x_B1.tif")
	assert.Len(t, reader.paths, 8)
}

func TestLoadCollectionsReadError(t *testing.T) {
	l, reader, _ := newTestLoader(t, nil)
	reader.fail = "c_SCL"

	_, _, _, err := l.LoadCollections(context.Background(), reflSource, probSource)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scene c band SCL")
}

func TestLoadCollectionsCancelled(t *testing.T) {
	l, _, _ := newTestLoader(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, _, err := l.LoadCollections(ctx, reflSource, probSource)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCrawlEmpty(t *testing.T) {
	l := NewSceneLoader(t.TempDir(), nil, 0, nil)
	_, err := l.Crawl()
	assert.Error(t, err)
	assert.Greater(t, l.Concurrency, 0)
}
