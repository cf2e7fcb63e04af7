package processor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/gammazero/workerpool"
	"go.uber.org/zap"

	"github.com/nci/s2cloudless/metrics"
	"github.com/nci/s2cloudless/utils"
)

type MaskPipeline struct {
	Ops      RasterOps
	Params   *utils.MaskParams
	Workers  int
	Logger   *zap.Logger
	Cache    utils.MaskCache
	Metrics  *metrics.MetricsCollector
	OnResult func(*MaskResult)

	// FailFast stops dispatching further images after the first failure.
	FailFast bool
	// SkipUnmatched lets images without a companion through the join;
	// each then fails on its own with ErrMissingCompanionImage.
	SkipUnmatched bool
}

// InitMaskPipeline validates params once; no image is touched when they
// are out of range.
func InitMaskPipeline(ops RasterOps, params *utils.MaskParams, workers int, logger *zap.Logger) (*MaskPipeline, error) {
	if ops == nil {
		return nil, fmt.Errorf("raster engine is required: %w", utils.ErrInvalidParameter)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := *params
	return &MaskPipeline{
		Ops:     ops,
		Params:  &p,
		Workers: workers,
		Logger:  logger,
	}, nil
}

// ProcessCollections joins reflectance with probability by acquisition
// index and masks the joined collection.
func (p *MaskPipeline) ProcessCollections(ctx context.Context, reflectance, probability utils.Collection) ([]*MaskResult, error) {
	joined, err := JoinCollections(reflectance, probability)
	if err != nil {
		var joinErr *utils.JoinError
		if !errors.As(err, &joinErr) || !p.SkipUnmatched {
			return nil, err
		}
		p.Logger.Warn("images without companion", zap.Strings("indices", joinErr.Missing))
	}
	return p.Process(ctx, joined), nil
}

// Process masks every image of the joined collection on a bounded worker
// pool. The result slice matches joined in length and order. Cancelling
// ctx stops new images from starting; an image already running aborts
// between stages and yields no partial output.
func (p *MaskPipeline) Process(ctx context.Context, joined utils.Collection) []*MaskResult {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	collector := NewResultCollector(len(joined), p.OnResult)
	go collector.Run()

	wp := workerpool.New(p.Workers)
	for i, img := range joined {
		pos, img := i, img
		wp.Submit(func() {
			res := p.maskImage(ctx, pos, img)
			if res.Err != nil && p.FailFast {
				cancel()
			}
			collector.In <- res
		})
	}
	wp.StopWait()
	close(collector.In)

	return <-collector.Out
}

func (p *MaskPipeline) maskImage(ctx context.Context, pos int, img *utils.Image) (res *MaskResult) {
	start := time.Now()
	res = &MaskResult{Position: pos, Index: img.Index}
	defer func() {
		res.Duration = time.Since(start)
		p.record(res)
	}()

	if err := ctx.Err(); err != nil {
		res.Err = &utils.ImageError{Index: img.Index, Stage: StageDispatch, Err: err}
		return
	}

	// a cached mask never stands in for a missing probability image
	if img.Companion == nil {
		res.Err = &utils.ImageError{Index: img.Index, Stage: StageCloudBands,
			Err: fmt.Errorf("image %s: %w", img.Index, utils.ErrMissingCompanionImage)}
		return
	}

	stages := MaskStages
	cacheKey := ""
	if p.Cache != nil {
		cacheKey = utils.MaskCacheKey(img.Index, p.Params)
		if entry, ok := p.cachedMask(cacheKey, img); ok {
			img = img.AddBands(utils.NamedBand{Name: utils.CloudMaskBand, Band: entry.Mask})
			stages = stages[len(stages)-1:]
			res.Cached = true
			res.Stats = collectMaskStats(img)
			res.Stats.CloudPixels = entry.CloudPixels
			res.Stats.ShadowPixels = entry.ShadowPixels
		}
	}

	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			res.Err = &utils.ImageError{Index: img.Index, Stage: stage.Name, Err: err}
			return
		}

		if stage.Name == StageMaskApply && !res.Cached {
			res.Stats = collectMaskStats(img)
			p.storeMask(cacheKey, img, res.Stats)
		}

		out, err := stage.Apply(p.Ops, img, p.Params)
		if err != nil {
			res.Err = &utils.ImageError{Index: img.Index, Stage: stage.Name, Err: err}
			return
		}
		img = out
	}

	res.Image = img
	return
}

func (p *MaskPipeline) cachedMask(key string, img *utils.Image) (*utils.CachedMask, bool) {
	entry, ok := p.Cache.Get(key)
	if !ok || entry == nil || entry.Mask == nil {
		return nil, false
	}
	ref, err := img.ReferenceBand()
	if err != nil || !ref.SameShape(entry.Mask) {
		p.Logger.Debug("discarding cached mask", zap.String("index", img.Index))
		return nil, false
	}
	return entry, true
}

func (p *MaskPipeline) storeMask(key string, img *utils.Image, stats MaskStats) {
	if p.Cache == nil || key == "" {
		return
	}
	mask, err := img.Band(utils.CloudMaskBand)
	if err != nil {
		return
	}
	entry := &utils.CachedMask{Mask: mask, CloudPixels: stats.CloudPixels, ShadowPixels: stats.ShadowPixels}
	if err := p.Cache.Set(key, entry); err != nil {
		p.Logger.Debug("mask cache write failed", zap.String("index", img.Index), zap.Error(err))
	}
}

func collectMaskStats(img *utils.Image) MaskStats {
	var stats MaskStats
	if b, err := img.Band(utils.CloudsBand); err == nil {
		stats.CloudPixels = b.CountNonZero()
	}
	if b, err := img.Band(utils.ShadowsBand); err == nil {
		stats.ShadowPixels = b.CountNonZero()
	}
	if b, err := img.Band(utils.CloudMaskBand); err == nil {
		stats.MaskedPixels = b.CountNonZero()
		stats.TotalPixels = b.Size()
	}
	return stats
}

func (p *MaskPipeline) record(res *MaskResult) {
	if res.Err != nil {
		p.Logger.Warn("image failed",
			zap.Int("position", res.Position),
			zap.String("index", res.Index),
			zap.Error(res.Err))
	} else {
		p.Logger.Debug("image masked",
			zap.String("index", res.Index),
			zap.Bool("cached", res.Cached),
			zap.Duration("duration", res.Duration),
			zap.Int("masked_pixels", res.Stats.MaskedPixels),
			zap.Int("total_pixels", res.Stats.TotalPixels))
	}

	if p.Metrics == nil {
		return
	}
	info := &metrics.ImageInfo{
		Position:     res.Position,
		Index:        res.Index,
		Duration:     res.Duration,
		Cached:       res.Cached,
		CloudPixels:  res.Stats.CloudPixels,
		ShadowPixels: res.Stats.ShadowPixels,
		MaskedPixels: res.Stats.MaskedPixels,
		TotalPixels:  res.Stats.TotalPixels,
	}
	info.SetError(res.Err)
	p.Metrics.AddImage(info)
}
