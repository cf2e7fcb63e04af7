package report

import (
	"io"
	"os"

	"github.com/gocarina/gocsv"

	"github.com/nci/s2cloudless/metrics"
)

func WriteCSV(w io.Writer, info *metrics.RunInfo) error {
	rows := NewImageRows(info)
	return gocsv.Marshal(&rows, w)
}

// WriteCSVFile creates or truncates path with the per-image report.
func WriteCSVFile(path string, info *metrics.RunInfo) error {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	rows := NewImageRows(info)
	if err := gocsv.MarshalFile(&rows, file); err != nil {
		return err
	}
	return file.Sync()
}
