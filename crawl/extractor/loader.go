package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nci/s2cloudless/utils"
)

type LoadStats struct {
	NumScenes   int
	NumFiltered int
}

// SceneLoader is the catalog behind a run: it crawls a directory of scene
// sidecars and loads the reflectance and probability collections.
type SceneLoader struct {
	Root        string
	Filter      *SceneFilter
	ReadBand    BandReader
	Concurrency int
	Logger      *zap.Logger
}

func NewSceneLoader(root string, filter *SceneFilter, concurrency int, logger *zap.Logger) *SceneLoader {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SceneLoader{
		Root:        root,
		Filter:      filter,
		ReadBand:    ReadGeoTIFFBand,
		Concurrency: concurrency,
		Logger:      logger,
	}
}

// Crawl parses every *.yaml or *.yml sidecar under Root.
func (l *SceneLoader) Crawl() ([]*SceneMetadata, error) {
	var scenes []*SceneMetadata
	err := filepath.Walk(l.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
		default:
			return nil
		}

		meta, err := ExtractSceneYaml(path)
		if err != nil {
			return err
		}
		scenes = append(scenes, meta)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, fmt.Errorf("no scene metadata found under %s", l.Root)
	}
	return scenes, nil
}

// LoadCollections returns the reflectance scenes passing the filter and
// the probability scenes sharing their indices, both in acquisition time
// order.
func (l *SceneLoader) LoadCollections(ctx context.Context, reflectanceSource, probabilitySource string) (utils.Collection, utils.Collection, LoadStats, error) {
	var stats LoadStats
	scenes, err := l.Crawl()
	if err != nil {
		return nil, nil, stats, err
	}

	var reflMeta, probMeta []*SceneMetadata
	for _, meta := range scenes {
		switch meta.Source {
		case reflectanceSource:
			stats.NumScenes++
			ok, err := l.Filter.Accept(meta)
			if err != nil {
				return nil, nil, stats, err
			}
			if !ok {
				stats.NumFiltered++
				l.Logger.Debug("scene filtered out", zap.String("index", meta.Index))
				continue
			}
			reflMeta = append(reflMeta, meta)
		case probabilitySource:
			probMeta = append(probMeta, meta)
		default:
			l.Logger.Debug("ignoring scene of unknown source", zap.String("file", meta.FileName), zap.String("source", meta.Source))
		}
	}

	wanted := make(map[string]struct{}, len(reflMeta))
	for _, meta := range reflMeta {
		wanted[meta.Index] = struct{}{}
	}
	kept := probMeta[:0]
	for _, meta := range probMeta {
		if _, found := wanted[meta.Index]; found {
			kept = append(kept, meta)
		}
	}

	refl, err := l.loadImages(ctx, reflMeta)
	if err != nil {
		return nil, nil, stats, err
	}
	prob, err := l.loadImages(ctx, kept)
	if err != nil {
		return nil, nil, stats, err
	}
	refl.SortByTime()
	prob.SortByTime()
	return refl, prob, stats, nil
}

func (l *SceneLoader) loadImages(ctx context.Context, metas []*SceneMetadata) (utils.Collection, error) {
	images := make(utils.Collection, len(metas))
	bandMaps := make([]map[string]*utils.Band, len(metas))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.Concurrency)
	for i, meta := range metas {
		bandMaps[i] = make(map[string]*utils.Band, len(meta.Bands))
		for _, ref := range meta.Bands {
			i, meta, ref := i, meta, ref
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				band, err := l.ReadBand(ref.Path, ref.Band, ref.Scale)
				if err != nil {
					return fmt.Errorf("scene %s band %s: %w", meta.Index, ref.Name, err)
				}
				mu.Lock()
				bandMaps[i][ref.Name] = band
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, meta := range metas {
		images[i] = meta.Image(bandMaps[i])
	}
	return images, nil
}
