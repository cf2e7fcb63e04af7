package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nci/s2cloudless/crawl/extractor"
	"github.com/nci/s2cloudless/metrics"
	"github.com/nci/s2cloudless/processor"
	"github.com/nci/s2cloudless/report"
	"github.com/nci/s2cloudless/utils"
	"github.com/nci/s2cloudless/worker/rasterops"
)

type runOptions struct {
	scenesDir     string
	configFile    string
	workers       int
	cldPrbThresh  float64
	nirDrkThresh  float64
	cldPrjDist    float64
	buffer        float64
	cloudFilter   float64
	filter        string
	aoiFile       string
	reportFile    string
	metricsAddr   string
	failFast      bool
	skipUnmatched bool
	noProgress    bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Mask every reflectance scene under a scene directory",
		Long: `Loads the reflectance and cloud probability scenes found under --scenes,
joins them by acquisition index and runs the cloud, shadow, combine and
apply stages on every joined scene.

Example:
  s2mask run --scenes /g/data/s2 --cld-prb-thresh 50 --report report.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMask(ctx, cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.scenesDir, "scenes", "", "Directory of scene metadata sidecars.")
	f.StringVar(&opts.configFile, "config", "", "Config file (JSON or YAML). Defaults to $"+envConfig+".")
	f.IntVar(&opts.workers, "workers", 0, "Concurrent images; 0 uses the config value or the CPU count.")
	f.Float64Var(&opts.cldPrbThresh, "cld-prb-thresh", 0, "Cloud probability threshold, 0-100.")
	f.Float64Var(&opts.nirDrkThresh, "nir-drk-thresh", 0, "NIR reflectance below which a pixel is dark, 0-1.")
	f.Float64Var(&opts.cldPrjDist, "cld-prj-dist", 0, "Maximum cloud shadow projection distance in km.")
	f.Float64Var(&opts.buffer, "buffer", 0, "Mask buffer distance in metres.")
	f.Float64Var(&opts.cloudFilter, "cloud-filter", 0, "Maximum scene cloudy pixel percentage.")
	f.StringVar(&opts.filter, "filter", "", "Scene filter expression, e.g. \"month >= 6 && month <= 8\".")
	f.StringVar(&opts.aoiFile, "aoi", "", "GeoJSON area of interest.")
	f.StringVar(&opts.reportFile, "report", "", "Write the per-scene CSV report to this file.")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on host:port. Defaults to $"+envMetricsAddr+".")
	f.BoolVar(&opts.failFast, "fail-fast", false, "Stop dispatching scenes after the first failure.")
	f.BoolVar(&opts.skipUnmatched, "skip-unmatched", false, "Report scenes without a probability companion instead of aborting.")
	f.BoolVar(&opts.noProgress, "no-progress", false, "Do not draw the progress bar.")
	cmd.MarkFlagRequired("scenes")
	return cmd
}

// resolveConfig layers the config file, environment and flags, in
// increasing precedence.
func resolveConfig(cmd *cobra.Command, opts *runOptions) (*utils.Config, error) {
	configFile := opts.configFile
	if configFile == "" {
		configFile = os.Getenv(envConfig)
	}
	opts.configFile = configFile

	config, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	svc := &config.ServiceConfig
	if v := os.Getenv(envPostgresDSN); v != "" {
		svc.PostgresDSN = v
	}
	if v := os.Getenv(envMemcache); v != "" {
		svc.MemcacheAddress = v
	}
	if v := os.Getenv(envMetricsAddr); v != "" {
		svc.MetricsAddress = v
	}

	flags := cmd.Flags()
	params := &config.MaskParams
	if flags.Changed("workers") {
		svc.Workers = opts.workers
	}
	if flags.Changed("metrics-addr") {
		svc.MetricsAddress = opts.metricsAddr
	}
	if flags.Changed("cld-prb-thresh") {
		params.CloudProbThresh = opts.cldPrbThresh
	}
	if flags.Changed("nir-drk-thresh") {
		params.NIRDarkThresh = opts.nirDrkThresh
	}
	if flags.Changed("cld-prj-dist") {
		params.CloudProjDist = opts.cldPrjDist
	}
	if flags.Changed("buffer") {
		params.Buffer = opts.buffer
	}
	if flags.Changed("cloud-filter") {
		params.CloudFilter = opts.cloudFilter
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func sceneFilter(config *utils.Config, opts *runOptions) (*extractor.SceneFilter, error) {
	cloudFilter := config.MaskParams.CloudFilter
	filter := &extractor.SceneFilter{CloudFilter: &cloudFilter}

	expr, err := extractor.ParseFilterExpression(opts.filter)
	if err != nil {
		return nil, err
	}
	filter.Expr = expr

	if opts.aoiFile != "" {
		aoi, err := extractor.LoadAOI(opts.aoiFile)
		if err != nil {
			return nil, err
		}
		filter.AOI = &aoi
	}
	return filter, nil
}

type teeLogger []metrics.Logger

func (t teeLogger) Log(info *metrics.RunInfo) {
	for _, l := range t {
		l.Log(info)
	}
}

func runMask(ctx context.Context, cmd *cobra.Command, opts *runOptions) error {
	config, err := resolveConfig(cmd, opts)
	if err != nil {
		return err
	}
	svc := config.ServiceConfig

	filter, err := sceneFilter(config, opts)
	if err != nil {
		return err
	}

	metricsLogger := teeLogger{metrics.NewStdoutLogger(logger)}
	if svc.LogDir != "" {
		fileLogger := metrics.NewFileLogger(svc.LogDir, svc.MaxLogFileSize, svc.MaxLogFiles, logger)
		defer fileLogger.Close()
		metricsLogger = append(metricsLogger, fileLogger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom, err := metrics.NewPromCollectors(reg)
	if err != nil {
		return err
	}
	if svc.MetricsAddress != "" {
		if err := metrics.ServeMetrics(ctx, svc.MetricsAddress, reg, logger); err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
	}

	collector := metrics.NewMetricsCollector(metricsLogger).WithPrometheus(prom)
	info := collector.Info
	info.ConfigFile = opts.configFile
	info.ReflectanceSource = svc.ReflectanceSource
	info.ProbabilitySource = svc.ProbabilitySource
	info.Params = config.MaskParams

	loader := extractor.NewSceneLoader(opts.scenesDir, filter, svc.Workers, logger)
	refl, prob, stats, err := loader.LoadCollections(ctx, svc.ReflectanceSource, svc.ProbabilitySource)
	if err != nil {
		return fmt.Errorf("loading scenes: %w", err)
	}
	info.NumScenes = stats.NumScenes
	info.NumFiltered = stats.NumFiltered
	logger.Info("scenes loaded",
		zap.Int("reflectance", len(refl)),
		zap.Int("probability", len(prob)),
		zap.Int("filtered", stats.NumFiltered))

	pipeline, err := processor.InitMaskPipeline(rasterops.NewEngine(), &config.MaskParams, svc.Workers, logger)
	if err != nil {
		return err
	}
	pipeline.Metrics = collector
	pipeline.FailFast = opts.failFast
	pipeline.SkipUnmatched = opts.skipUnmatched
	if svc.MemcacheAddress != "" {
		pipeline.Cache = utils.NewMemcacheMaskCache(svc.MemcacheAddress)
	}

	if !opts.noProgress {
		bar := progressbar.Default(int64(len(refl)), "masking scenes")
		pipeline.OnResult = func(*processor.MaskResult) {
			bar.Add(1)
		}
		defer bar.Finish()
	}

	results, err := pipeline.ProcessCollections(ctx, refl, prob)
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		switch {
		case res.Err == nil:
		case errors.Is(res.Err, utils.ErrMissingCompanionImage):
			info.NumUnmatched++
		default:
			failed++
		}
	}
	collector.Finish()

	if err := writeReports(ctx, cmd, config, opts, info); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scenes failed", failed, len(results))
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func writeReports(ctx context.Context, cmd *cobra.Command, config *utils.Config, opts *runOptions, info *metrics.RunInfo) error {
	if opts.reportFile != "" {
		if err := report.WriteCSVFile(opts.reportFile, info); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		logger.Info("report written", zap.String("file", opts.reportFile))
	}

	if dsn := config.ServiceConfig.PostgresDSN; dsn != "" {
		// the run context may already be cancelled; the record is still wanted
		dbCtx := context.WithoutCancel(ctx)
		sink, err := report.NewPostgresSink(dbCtx, dsn)
		if err != nil {
			return err
		}
		defer sink.Close()
		if err := sink.EnsureSchema(dbCtx); err != nil {
			return err
		}
		if err := sink.WriteRun(dbCtx, info); err != nil {
			return fmt.Errorf("storing run %s: %w", info.RunID, err)
		}
	}

	summary, err := report.NewSummary(config.ServiceConfig.TemplateDir)
	if err != nil {
		return err
	}
	return summary.Render(cmd.OutOrStdout(), info)
}
