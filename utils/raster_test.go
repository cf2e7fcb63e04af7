package utils

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageAddBandsCopyOnWrite(t *testing.T) {
	b8 := NewBandFromRows([][]float32{{1, 2}, {3, 4}}, 10)
	img := NewImage("20200101T000000_T1", SpatialRef{CRS: "EPSG:32755", Scale: 10}, NamedBand{"B8", b8})

	clouds := NewBand(2, 2, 10)
	out := img.AddBands(NamedBand{CloudsBand, clouds})

	assert.Equal(t, []string{"B8"}, img.BandNames)
	assert.False(t, img.HasBand(CloudsBand))
	assert.Equal(t, []string{"B8", CloudsBand}, out.BandNames)
	assert.Same(t, b8, out.Bands["B8"])

	replaced := out.AddBands(NamedBand{"B8", clouds})
	assert.Equal(t, []string{"B8", CloudsBand}, replaced.BandNames)
	assert.Same(t, clouds, replaced.Bands["B8"])
}

func TestImageSelect(t *testing.T) {
	img := NewImage("a", SpatialRef{Scale: 10},
		NamedBand{"B2", NewBand(1, 1, 10)},
		NamedBand{"SCL", NewBand(1, 1, 10)},
		NamedBand{"B8", NewBand(1, 1, 10)},
		NamedBand{CloudMaskBand, NewBand(1, 1, 10)},
	).WithCompanion(NewImage("a", SpatialRef{}))

	out := img.Select(regexp.MustCompile("^B.*"))
	assert.Equal(t, []string{"B2", "B8"}, out.BandNames)
	assert.Len(t, out.Bands, 2)
	assert.Nil(t, out.Companion)
	assert.NotNil(t, img.Companion)
}

func TestImageBandMissing(t *testing.T) {
	img := NewImage("a", SpatialRef{})
	_, err := img.Band("B8")
	assert.True(t, errors.Is(err, ErrMissingBand))
	_, err = img.ReferenceBand()
	assert.True(t, errors.Is(err, ErrMissingBand))
}

func TestBandCounts(t *testing.T) {
	b := NewBandFromRows([][]float32{{0, 1}, {1, 1}}, 10)
	b.Valid[3] = false
	assert.Equal(t, 2, b.CountNonZero())
	assert.Equal(t, 3, b.CountValid())

	c := b.Clone()
	c.Data[0] = 5
	assert.Equal(t, float32(0), b.Data[0])
	if diff := cmp.Diff(b.Valid, c.Valid); diff != "" {
		t.Errorf("clone validity mismatch (-want +got):\n%s", diff)
	}
}

func TestCollectionSortByTime(t *testing.T) {
	t0 := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	c := Collection{
		{Index: "c", TimeStamp: t0.Add(time.Hour)},
		{Index: "b", TimeStamp: t0},
		{Index: "a", TimeStamp: t0},
	}
	c.SortByTime()
	assert.Equal(t, []string{"a", "b", "c"}, c.Indices())
}

func TestCompareOp(t *testing.T) {
	ok, err := OpGT.Eval(60, 60)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, _ = OpNEQ.Eval(5, 6)
	assert.True(t, ok)
	_, err = CompareOp("between").Eval(1, 2)
	assert.Error(t, err)
}
