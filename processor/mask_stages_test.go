package processor

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nci/s2cloudless/utils"
	"github.com/nci/s2cloudless/worker/rasterops"
)

func fill(w, h int, scale float64, v float32) *utils.Band {
	b := utils.NewBand(w, h, scale)
	for i := range b.Data {
		b.Data[i] = v
	}
	return b
}

func azimuth(v float64) *float64 {
	return &v
}

// testScene builds a bright, dry reflectance image with a companion
// probability image holding prob.
func testScene(index string, scale float64, prob [][]float32) *utils.Image {
	probBand := utils.NewBandFromRows(prob, scale)
	w, h := probBand.Width, probBand.Height
	ref := utils.SpatialRef{CRS: "EPSG:32755", Scale: scale}

	img := utils.NewImage(index, ref,
		utils.NamedBand{Name: "B2", Band: fill(w, h, scale, 1200)},
		utils.NamedBand{Name: "B8", Band: fill(w, h, scale, 3000)},
		utils.NamedBand{Name: "SCL", Band: fill(w, h, scale, 4)},
	)
	img.SolarAzimuth = azimuth(150)
	companion := utils.NewImage(index, ref, utils.NamedBand{Name: utils.ProbabilityBand, Band: probBand})
	return img.WithCompanion(companion)
}

func zeros(w, h int) [][]float32 {
	rows := make([][]float32, h)
	for y := range rows {
		rows[y] = make([]float32, w)
	}
	return rows
}

var exampleProbability = [][]float32{
	{0, 0, 0, 0},
	{0, 70, 80, 0},
	{0, 90, 75, 0},
	{0, 0, 0, 0},
}

func bandRows(b *utils.Band) [][]float32 {
	out := make([][]float32, b.Height)
	for y := range out {
		out[y] = append([]float32(nil), b.Data[y*b.Width:(y+1)*b.Width]...)
	}
	return out
}

func TestAddCloudBandsExample(t *testing.T) {
	ops := rasterops.NewEngine()
	img := testScene("20200101T000000_T55HFA", 10, exampleProbability)

	params := utils.DefaultMaskParams()
	out, err := AddCloudBands(ops, img, &params)
	require.NoError(t, err)

	clouds, err := out.Band(utils.CloudsBand)
	require.NoError(t, err)
	expected := [][]float32{
		{0, 0, 0, 0},
		{0, 1, 1, 0},
		{0, 1, 1, 0},
		{0, 0, 0, 0},
	}
	if diff := cmp.Diff(expected, bandRows(clouds)); diff != "" {
		t.Errorf("clouds mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, out.HasBand(utils.ProbabilityBand))
	assert.False(t, img.HasBand(utils.CloudsBand))

	params.CloudProbThresh = 85
	out, err = AddCloudBands(ops, img, &params)
	require.NoError(t, err)
	clouds, _ = out.Band(utils.CloudsBand)
	assert.Equal(t, 1, clouds.CountNonZero())
	assert.Equal(t, float32(1), clouds.At(1, 2))
}

func TestAddCloudBandsStrictThreshold(t *testing.T) {
	ops := rasterops.NewEngine()
	img := testScene("a", 10, [][]float32{{60, 60.5}})
	params := utils.DefaultMaskParams()
	out, err := AddCloudBands(ops, img, &params)
	require.NoError(t, err)
	clouds, _ := out.Band(utils.CloudsBand)
	assert.Equal(t, [][]float32{{0, 1}}, bandRows(clouds))
}

func TestAddCloudBandsMissingCompanion(t *testing.T) {
	ops := rasterops.NewEngine()
	img := testScene("a", 10, exampleProbability).WithCompanion(nil)
	params := utils.DefaultMaskParams()
	_, err := AddCloudBands(ops, img, &params)
	assert.True(t, errors.Is(err, utils.ErrMissingCompanionImage))

	img = testScene("a", 10, exampleProbability)
	params.ProbabilityBand = "cloud_probability"
	_, err = AddCloudBands(ops, img, &params)
	assert.True(t, errors.Is(err, utils.ErrMissingBand))
}

func TestCloudThresholdMonotonicity(t *testing.T) {
	ops := rasterops.NewEngine()
	rnd := rand.New(rand.NewSource(7))
	prob := zeros(24, 24)
	for _, row := range prob {
		for x := range row {
			row[x] = float32(rnd.Intn(101))
		}
	}
	img := testScene("a", 10, prob)

	params := utils.DefaultMaskParams()
	last := -1
	for thresh := 100.0; thresh >= 0; thresh -= 5 {
		params.CloudProbThresh = thresh
		out, err := AddCloudBands(ops, img, &params)
		require.NoError(t, err)
		clouds, _ := out.Band(utils.CloudsBand)
		n := clouds.CountNonZero()
		assert.GreaterOrEqual(t, n, last, "threshold %v", thresh)
		last = n
	}
}

// shadowScene is 5x5 at the projection scale, so the distance transform
// runs on the native grid. A single cloud sits in the middle of the top
// row and the sun is due north.
func shadowScene() *utils.Image {
	prob := zeros(5, 5)
	prob[0][2] = 100
	img := testScene("shadow", 100, prob)
	img = img.AddBands(
		utils.NamedBand{Name: "B8", Band: fill(5, 5, 100, 500)},
	)
	scl := fill(5, 5, 100, 4)
	scl.Data[1*5+2] = 6
	img = img.AddBands(utils.NamedBand{Name: "SCL", Band: scl})
	img.SolarAzimuth = azimuth(0)
	return img
}

func TestAddShadowBands(t *testing.T) {
	ops := rasterops.NewEngine()
	params := utils.DefaultMaskParams()
	params.CloudProjDist = 0.2

	img, err := AddCloudBands(ops, shadowScene(), &params)
	require.NoError(t, err)
	out, err := AddShadowBands(ops, img, &params)
	require.NoError(t, err)

	dark, _ := out.Band(utils.DarkPixelsBand)
	assert.Equal(t, 24, dark.CountNonZero())
	assert.Equal(t, float32(0), dark.At(2, 1))

	transform, _ := out.Band(utils.CloudTransformBand)
	expectedTransform := [][]float32{
		{0, 0, 1, 0, 0},
		{0, 0, 1, 0, 0},
		{0, 0, 1, 0, 0},
		{0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0},
	}
	if diff := cmp.Diff(expectedTransform, bandRows(transform)); diff != "" {
		t.Errorf("cloud_transform mismatch (-want +got):\n%s", diff)
	}

	shadows, _ := out.Band(utils.ShadowsBand)
	expectedShadows := [][]float32{
		{0, 0, 1, 0, 0},
		{0, 0, 0, 0, 0},
		{0, 0, 1, 0, 0},
		{0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0},
	}
	if diff := cmp.Diff(expectedShadows, bandRows(shadows)); diff != "" {
		t.Errorf("shadows mismatch (-want +got):\n%s", diff)
	}
}

func TestAddShadowBandsBrightSurface(t *testing.T) {
	ops := rasterops.NewEngine()
	params := utils.DefaultMaskParams()
	img := shadowScene().AddBands(utils.NamedBand{Name: "B8", Band: fill(5, 5, 100, 4000)})

	img, err := AddCloudBands(ops, img, &params)
	require.NoError(t, err)
	out, err := AddShadowBands(ops, img, &params)
	require.NoError(t, err)
	shadows, _ := out.Band(utils.ShadowsBand)
	assert.Equal(t, 0, shadows.CountNonZero())
}

func TestAddShadowBandsMissingMetadata(t *testing.T) {
	ops := rasterops.NewEngine()
	params := utils.DefaultMaskParams()
	img, err := AddCloudBands(ops, shadowScene(), &params)
	require.NoError(t, err)

	noSun := img.AddBands()
	noSun.SolarAzimuth = nil
	_, err = AddShadowBands(ops, noSun, &params)
	assert.True(t, errors.Is(err, utils.ErrMissingMetadata))

	noCRS := img.AddBands()
	noCRS.SpatialRef.CRS = ""
	_, err = AddShadowBands(ops, noCRS, &params)
	assert.True(t, errors.Is(err, utils.ErrMissingMetadata))
}

// maskScene places clouds directly at the mask scale so the combine stage
// filters the native grid.
func maskScene(clouds [][]float32) *utils.Image {
	c := utils.NewBandFromRows(clouds, 20)
	img := utils.NewImage("mask", utils.SpatialRef{CRS: "EPSG:32755", Scale: 20},
		utils.NamedBand{Name: "B8", Band: fill(c.Width, c.Height, 20, 3000)},
	)
	return img.AddBands(
		utils.NamedBand{Name: utils.CloudsBand, Band: c},
		utils.NamedBand{Name: utils.ShadowsBand, Band: utils.NewBand(c.Width, c.Height, 20)},
	)
}

func block(w, h, x0, y0, size int) [][]float32 {
	rows := zeros(w, h)
	for y := y0; y < y0+size; y++ {
		for x := x0; x < x0+size; x++ {
			rows[y][x] = 1
		}
	}
	return rows
}

func TestAddCloudShadowMaskOpening(t *testing.T) {
	ops := rasterops.NewEngine()
	params := utils.DefaultMaskParams()

	speck := zeros(15, 15)
	speck[7][7] = 1
	out, err := AddCloudShadowMask(ops, maskScene(speck), &params)
	require.NoError(t, err)
	mask, _ := out.Band(utils.CloudMaskBand)
	assert.Equal(t, 0, mask.CountNonZero())

	params.Buffer = 0
	out, err = AddCloudShadowMask(ops, maskScene(block(15, 15, 3, 3, 9)), &params)
	require.NoError(t, err)
	mask, _ = out.Band(utils.CloudMaskBand)
	assert.Equal(t, 25, mask.CountNonZero())
	assert.Equal(t, float32(1), mask.At(7, 7))
	assert.Equal(t, float32(0), mask.At(4, 4))
}

func TestAddCloudShadowMaskUnion(t *testing.T) {
	ops := rasterops.NewEngine()
	params := utils.DefaultMaskParams()
	params.Buffer = 0

	img := maskScene(block(20, 20, 0, 0, 7))
	img = img.AddBands(utils.NamedBand{Name: utils.ShadowsBand, Band: utils.NewBandFromRows(block(20, 20, 12, 12, 7), 20)})
	out, err := AddCloudShadowMask(ops, img, &params)
	require.NoError(t, err)
	mask, _ := out.Band(utils.CloudMaskBand)
	assert.Equal(t, float32(1), mask.At(3, 3))
	assert.Equal(t, float32(1), mask.At(15, 15))
}

func TestBufferMonotonicity(t *testing.T) {
	ops := rasterops.NewEngine()
	img := maskScene(block(40, 40, 15, 15, 8))
	params := utils.DefaultMaskParams()

	last := -1
	var lastMask *utils.Band
	for _, buffer := range []float64{0, 10, 20, 50, 100, 150} {
		params.Buffer = buffer
		out, err := AddCloudShadowMask(ops, img, &params)
		require.NoError(t, err)
		mask, _ := out.Band(utils.CloudMaskBand)
		n := mask.CountNonZero()
		assert.GreaterOrEqual(t, n, last, "buffer %v", buffer)
		if lastMask != nil {
			for i, v := range lastMask.Data {
				if v != 0 {
					assert.NotZero(t, mask.Data[i], "buffer %v lost pixel %d", buffer, i)
				}
			}
		}
		last, lastMask = n, mask
	}
}

func TestApplyCloudShadowMask(t *testing.T) {
	ops := rasterops.NewEngine()
	params := utils.DefaultMaskParams()

	img := testScene("apply", 10, exampleProbability)
	cloudMask := utils.NewBandFromRows(block(4, 4, 1, 1, 2), 10)
	img = img.AddBands(
		utils.NamedBand{Name: utils.CloudsBand, Band: cloudMask},
		utils.NamedBand{Name: utils.CloudMaskBand, Band: cloudMask},
	)

	out, err := ApplyCloudShadowMask(ops, img, &params)
	require.NoError(t, err)
	assert.Equal(t, []string{"B2", "B8"}, out.BandNames)
	for _, name := range utils.DerivedBands {
		assert.False(t, out.HasBand(name), name)
	}
	assert.False(t, out.HasBand("SCL"))
	assert.Nil(t, out.Companion)

	b2, _ := out.Band("B2")
	assert.Equal(t, 12, b2.CountValid())
	assert.False(t, b2.IsValid(1*4+1))
	assert.Equal(t, float32(1200), b2.Data[1*4+1])

	orig, _ := img.Band("B2")
	assert.Equal(t, 16, orig.CountValid())
}

func TestApplyCloudShadowMaskCoarseBand(t *testing.T) {
	ops := rasterops.NewEngine()
	params := utils.DefaultMaskParams()

	img := testScene("apply", 10, exampleProbability)
	img = img.AddBands(
		utils.NamedBand{Name: "B11", Band: fill(2, 2, 20, 2500)},
		utils.NamedBand{Name: utils.CloudMaskBand, Band: utils.NewBandFromRows([][]float32{
			{1, 0, 0, 0},
			{0, 0, 0, 0},
			{0, 0, 0, 0},
			{0, 0, 0, 0},
		}, 10)},
	)

	out, err := ApplyCloudShadowMask(ops, img, &params)
	require.NoError(t, err)
	b11, _ := out.Band("B11")
	assert.Equal(t, 3, b11.CountValid())
	assert.False(t, b11.IsValid(0))
}

func TestApplyCloudShadowMaskMissingMask(t *testing.T) {
	ops := rasterops.NewEngine()
	params := utils.DefaultMaskParams()
	_, err := ApplyCloudShadowMask(ops, testScene("a", 10, exampleProbability), &params)
	assert.True(t, errors.Is(err, utils.ErrMissingBand))
}
