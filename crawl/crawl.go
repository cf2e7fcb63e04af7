// crawl prints the parsed metadata of scene sidecars as JSON lines, one
// per sidecar. Paths come from the command line, or from stdin when the
// only argument is '-'.
package main

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	extr "github.com/nci/s2cloudless/crawl/extractor"
)

type sceneRecord struct {
	FileName     string                 `json:"file_name"`
	Index        string                 `json:"index"`
	Source       string                 `json:"source"`
	TimeStamp    string                 `json:"timestamp,omitempty"`
	CRS          string                 `json:"crs,omitempty"`
	Scale        float64                `json:"scale"`
	Bands        []string               `json:"bands"`
	BoundingBox  []float64              `json:"bbox,omitempty"`
	Properties   map[string]float64     `json:"properties,omitempty"`
	FilterFields map[string]interface{} `json:"filter_fields"`
}

func newSceneRecord(meta *extr.SceneMetadata) (*sceneRecord, error) {
	rec := &sceneRecord{
		FileName:     meta.FileName,
		Index:        meta.Index,
		Source:       meta.Source,
		CRS:          meta.CRS,
		Scale:        meta.Scale,
		Properties:   meta.Image(nil).Properties,
		FilterFields: meta.FilterVariables(),
	}
	if !meta.TimeStamp.IsZero() {
		rec.TimeStamp = meta.TimeStamp.Format("2006-01-02T15:04:05Z")
	}
	for _, b := range meta.Bands {
		rec.Bands = append(rec.Bands, b.Name)
	}

	bound, found, err := meta.FootprintBound()
	if err != nil {
		return nil, err
	}
	if found {
		rec.BoundingBox = []float64{bound.Min.X(), bound.Min.Y(), bound.Max.X(), bound.Max.Y()}
	}
	return rec, nil
}

func crawlScene(w io.Writer, path string) error {
	meta, err := extr.ExtractSceneYaml(path)
	if err != nil {
		return err
	}
	rec, err := newSceneRecord(meta)
	if err != nil {
		return err
	}

	out, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = w.Write(append(out, '\n'))
	return err
}

func crawlPaths(w io.Writer, r io.Reader, args []string) error {
	if len(args) == 1 && args[0] == "-" {
		args = args[:0]
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				args = append(args, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return err
		}
	}

	for _, path := range args {
		if err := crawlScene(w, path); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if len(os.Args) < 2 {
		logger.Fatal("Please provide paths to scene sidecars or '-' for reading from stdin")
	}

	if err := crawlPaths(os.Stdout, os.Stdin, os.Args[1:]); err != nil {
		logger.Fatal("crawl failed", zap.Error(err))
	}
}
