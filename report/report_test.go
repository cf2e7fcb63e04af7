package report

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nci/s2cloudless/metrics"
	"github.com/nci/s2cloudless/utils"
)

func testRunInfo() *metrics.RunInfo {
	failed := &metrics.ImageInfo{Position: 2, Index: "c", Duration: 3 * time.Millisecond}
	failed.SetError(&utils.ImageError{Index: "c", Stage: "shadow_bands", Err: utils.ErrMissingMetadata})

	return &metrics.RunInfo{
		RunID:             "7a4f7f7e-8c1a-4f0e-9d44-0e3fd8b1b6c2",
		StartTime:         "2020-01-05T00:11:09.000Z",
		Duration:          1500 * time.Millisecond,
		ReflectanceSource: utils.DefaultReflectanceSource,
		ProbabilitySource: utils.DefaultProbabilitySource,
		Params:            utils.DefaultMaskParams(),
		NumScenes:         3,
		NumSucceeded:      2,
		NumFailed:         1,
		NumCached:         1,
		Images: []*metrics.ImageInfo{
			{Position: 0, Index: "a", Duration: 120 * time.Millisecond, CloudPixels: 4, ShadowPixels: 2, MaskedPixels: 10, TotalPixels: 100, MaskedFraction: 0.1},
			{Position: 1, Index: "b", Duration: 5 * time.Millisecond, Cached: true, MaskedPixels: 0, TotalPixels: 100},
			failed,
		},
	}
}

func TestNewImageRows(t *testing.T) {
	rows := NewImageRows(testRunInfo())
	require.Len(t, rows, 3)
	assert.Equal(t, StatusMasked, rows[0].Status)
	assert.Equal(t, int64(120), rows[0].DurationMS)
	assert.Equal(t, StatusCached, rows[1].Status)
	assert.Equal(t, StatusFailed, rows[2].Status)
	assert.Equal(t, "shadow_bands", rows[2].FailedStage)
	assert.Contains(t, rows[2].Error, utils.ErrMissingMetadata.Error())
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, testRunInfo()))

	header := strings.SplitN(buf.String(), "\n", 2)[0]
	assert.Equal(t, "run_id,position,index,status,failed_stage,error,cloud_pixels,shadow_pixels,masked_pixels,total_pixels,masked_fraction,duration_ms", header)

	var rows []*ImageRow
	require.NoError(t, gocsv.Unmarshal(&buf, &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].Index)
	assert.Equal(t, 0.1, rows[0].MaskedFraction)
	assert.Equal(t, "shadow_bands", rows[2].FailedStage)
}

func TestWriteCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	require.NoError(t, WriteCSVFile(path, testRunInfo()))
	// a second run truncates rather than appends
	require.NoError(t, WriteCSVFile(path, testRunInfo()))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var rows []*ImageRow
	require.NoError(t, gocsv.UnmarshalFile(file, &rows))
	assert.Len(t, rows, 3)
}

func TestSummaryRender(t *testing.T) {
	s, err := NewSummary("")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.Render(&buf, testRunInfo()))
	out := buf.String()

	assert.Contains(t, out, "s2mask run 7a4f7f7e-8c1a-4f0e-9d44-0e3fd8b1b6c2")
	assert.Contains(t, out, "cld_prb_thresh=60")
	assert.Contains(t, out, "2 masked, 1 from cache, 1 failed")
	assert.Contains(t, out, "[0] a masked masked 10/100 px 10.0%")
	assert.Contains(t, out, "[2] c failed at shadow_bands")
}

func TestSummaryTemplateDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SummaryTemplate), []byte("run={{ .RunID }} failed={{ .NumFailed }}"), 0644))

	s, err := NewSummary(dir)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.Render(&buf, testRunInfo()))
	assert.Equal(t, "run=7a4f7f7e-8c1a-4f0e-9d44-0e3fd8b1b6c2 failed=1", buf.String())

	_, err = NewSummary(t.TempDir())
	assert.Error(t, err)
}

func TestPostgresSink(t *testing.T) {
	dsn := os.Getenv("S2MASK_PG_DSN")
	if dsn == "" {
		t.Skip("S2MASK_PG_DSN not set")
	}

	ctx := context.Background()
	sink, err := NewPostgresSink(ctx, dsn)
	require.NoError(t, err)
	defer sink.Close()
	require.NoError(t, sink.EnsureSchema(ctx))

	info := testRunInfo()
	info.RunID = uuid.New().String()
	require.NoError(t, sink.WriteRun(ctx, info))

	var n int
	require.NoError(t, sink.db.QueryRowContext(ctx, `select count(*) from s2mask_images where run_id = $1`, info.RunID).Scan(&n))
	assert.Equal(t, 3, n)

	err = sink.WriteRun(ctx, info)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}
