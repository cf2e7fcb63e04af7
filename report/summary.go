package report

import (
	_ "embed"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/CloudyKit/jet"

	"github.com/nci/s2cloudless/metrics"
)

const SummaryTemplate = "run_summary.jet"

//go:embed templates/run_summary.jet
var defaultSummaryTemplate string

type ImageView struct {
	Position    int
	Index       string
	Status      string
	Failed      bool
	FailedStage string
	Error       string
	Masked      string
	Cloud       int
	Shadow      int
	Duration    string
}

type SummaryView struct {
	RunID             string
	StartTime         string
	Duration          string
	ReflectanceSource string
	ProbabilitySource string
	Params            string
	NumScenes         int
	NumFiltered       int
	NumUnmatched      int
	NumSucceeded      int
	NumFailed         int
	NumCached         int
	Images            []*ImageView
}

func NewSummaryView(info *metrics.RunInfo) *SummaryView {
	p := info.Params
	view := &SummaryView{
		RunID:             info.RunID,
		StartTime:         info.StartTime,
		Duration:          info.Duration.Round(time.Millisecond).String(),
		ReflectanceSource: info.ReflectanceSource,
		ProbabilitySource: info.ProbabilitySource,
		Params: fmt.Sprintf("cloud_filter=%g cld_prb_thresh=%g nir_drk_thresh=%g cld_prj_dist=%g buffer=%g",
			p.CloudFilter, p.CloudProbThresh, p.NIRDarkThresh, p.CloudProjDist, p.Buffer),
		NumScenes:    info.NumScenes,
		NumFiltered:  info.NumFiltered,
		NumUnmatched: info.NumUnmatched,
		NumSucceeded: info.NumSucceeded,
		NumFailed:    info.NumFailed,
		NumCached:    info.NumCached,
	}
	for _, img := range info.Images {
		view.Images = append(view.Images, &ImageView{
			Position:    img.Position,
			Index:       img.Index,
			Status:      imageStatus(img),
			Failed:      img.Error != "",
			FailedStage: img.FailedStage,
			Error:       img.Error,
			Masked:      fmt.Sprintf("%d/%d px %.1f%%", img.MaskedPixels, img.TotalPixels, 100*img.MaskedFraction),
			Cloud:       img.CloudPixels,
			Shadow:      img.ShadowPixels,
			Duration:    img.Duration.Round(time.Millisecond).String(),
		})
	}
	return view
}

// Summary renders run summaries. Templates found in templateDir take
// precedence over the built-in one.
type Summary struct {
	set      *jet.Set
	template *jet.Template
}

func NewSummary(templateDir string) (*Summary, error) {
	escapee := jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	})

	var set *jet.Set
	var tpl *jet.Template
	var err error
	if len(strings.TrimSpace(templateDir)) > 0 {
		set = jet.NewSet(escapee, templateDir)
		tpl, err = set.GetTemplate(SummaryTemplate)
	} else {
		set = jet.NewSet(escapee)
		tpl, err = set.LoadTemplate(SummaryTemplate, defaultSummaryTemplate)
	}
	if err != nil {
		return nil, fmt.Errorf("summary template: %w", err)
	}
	return &Summary{set: set, template: tpl}, nil
}

func (s *Summary) Render(w io.Writer, info *metrics.RunInfo) error {
	vars := make(jet.VarMap)
	return s.template.Execute(w, vars, NewSummaryView(info))
}
