package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nci/s2cloudless/utils"
)

type ImageInfo struct {
	Position       int           `json:"position"`
	Index          string        `json:"index"`
	Duration       time.Duration `json:"duration"`
	Cached         bool          `json:"cached"`
	FailedStage    string        `json:"failed_stage,omitempty"`
	Error          string        `json:"error,omitempty"`
	CloudPixels    int           `json:"cloud_pixels"`
	ShadowPixels   int           `json:"shadow_pixels"`
	MaskedPixels   int           `json:"masked_pixels"`
	TotalPixels    int           `json:"total_pixels"`
	MaskedFraction float64       `json:"masked_fraction"`
}

// SetError records err, picking the failing stage out of an ImageError.
func (i *ImageInfo) SetError(err error) {
	if err == nil {
		return
	}
	i.Error = err.Error()
	var imgErr *utils.ImageError
	if errors.As(err, &imgErr) {
		i.FailedStage = imgErr.Stage
	}
}

type RunInfo struct {
	RunID             string           `json:"run_id"`
	StartTime         string           `json:"start_time"`
	Duration          time.Duration    `json:"duration"`
	ConfigFile        string           `json:"config_file,omitempty"`
	ReflectanceSource string           `json:"reflectance_source"`
	ProbabilitySource string           `json:"probability_source"`
	Params            utils.MaskParams `json:"params"`
	NumScenes         int              `json:"num_scenes"`
	NumFiltered       int              `json:"num_filtered"`
	NumUnmatched      int              `json:"num_unmatched"`
	NumSucceeded      int              `json:"num_succeeded"`
	NumFailed         int              `json:"num_failed"`
	NumCached         int              `json:"num_cached"`
	Images            []*ImageInfo     `json:"images"`
}

type MetricsCollector struct {
	Info   *RunInfo
	logger Logger
	prom   *PromCollectors
	start  time.Time
	mu     sync.Mutex
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	now := time.Now()
	return &MetricsCollector{
		Info: &RunInfo{
			RunID:     uuid.New().String(),
			StartTime: now.UTC().Format(utils.ISOFormat),
		},
		logger: logger,
		start:  now,
	}
}

// WithPrometheus mirrors every recorded image into the given collectors.
func (m *MetricsCollector) WithPrometheus(prom *PromCollectors) *MetricsCollector {
	m.prom = prom
	return m
}

// AddImage is safe to call from concurrent workers.
func (m *MetricsCollector) AddImage(info *ImageInfo) {
	if info.TotalPixels > 0 {
		info.MaskedFraction = float64(info.MaskedPixels) / float64(info.TotalPixels)
	}

	m.mu.Lock()
	m.Info.Images = append(m.Info.Images, info)
	switch {
	case info.Error != "":
		m.Info.NumFailed++
	default:
		m.Info.NumSucceeded++
	}
	if info.Cached {
		m.Info.NumCached++
	}
	m.mu.Unlock()

	if m.prom != nil {
		m.prom.Observe(info)
	}
}

// Finish stamps the run duration and hands the record to the logger.
func (m *MetricsCollector) Finish() {
	m.mu.Lock()
	m.Info.Duration = time.Since(m.start)
	sort.Slice(m.Info.Images, func(i, j int) bool {
		return m.Info.Images[i].Position < m.Info.Images[j].Position
	})
	m.mu.Unlock()
	m.Log()
}

func (m *MetricsCollector) Log() {
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

func (i *RunInfo) ToJSON() (string, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(i)
	if err == nil {
		return buf.String(), nil
	} else {
		return "", err
	}
}
