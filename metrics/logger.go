package metrics

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Logger interface {
	Log(info *RunInfo)
}

// StdoutLogger emits the run record as a structured zap entry.
type StdoutLogger struct {
	logger *zap.Logger
}

func NewStdoutLogger(logger *zap.Logger) *StdoutLogger {
	return &StdoutLogger{logger: logger}
}

func (l *StdoutLogger) Log(info *RunInfo) {
	l.logger.Info("run metrics",
		zap.String("run_id", info.RunID),
		zap.Duration("duration", info.Duration),
		zap.Int("num_scenes", info.NumScenes),
		zap.Int("num_succeeded", info.NumSucceeded),
		zap.Int("num_failed", info.NumFailed),
		zap.Int("num_cached", info.NumCached),
		zap.Any("images", info.Images),
	)
}

const defaultQueueSize = 200
const defaultMaxLogFileSize = 64 * 1024 * 1024
const defaultMaxLogFiles = 10
const logFileName = "s2mask_metrics"

// FileLogger appends one JSON line per run to LogDir, rotating the file
// once it grows past MaxLogFileSize and keeping at most MaxLogFiles
// rotated copies.
type FileLogger struct {
	MetricsQueue   chan *RunInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	logger         *zap.Logger
	done           sync.WaitGroup
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, logger *zap.Logger) *FileLogger {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	l := &FileLogger{
		MetricsQueue:   make(chan *RunInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		logger:         logger.Named("metrics"),
	}

	l.done.Add(1)
	go l.startLogWriter()
	return l
}

func (l *FileLogger) Log(info *RunInfo) {
	l.MetricsQueue <- info
}

// Close drains the queue and waits for pending records to hit disk.
func (l *FileLogger) Close() {
	close(l.MetricsQueue)
	l.done.Wait()
}

func (l *FileLogger) logFilePath() string {
	return path.Join(l.LogDir, logFileName+".log")
}

func (l *FileLogger) openLogFile() (*os.File, error) {
	return os.OpenFile(l.logFilePath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (l *FileLogger) startLogWriter() {
	defer l.done.Done()

	f, err := l.openLogFile()
	if err != nil {
		l.logger.Error("log open error", zap.Error(err))
	}
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	for info := range l.MetricsQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			l.logger.Error("metrics encoding error", zap.Error(err))
			continue
		}

		f, err = l.tryRotateLogFile(f)
		if err != nil {
			continue
		}

		if _, err = f.WriteString(infoStr); err != nil {
			l.logger.Error("write error", zap.Error(err))
			continue
		}
		f.Sync()
	}
}

func (l *FileLogger) rotatedPath(i int) string {
	return path.Join(l.LogDir, fmt.Sprintf("%s.%d.log", logFileName, i))
}

// oldestRotated returns the rotated file with the earliest mod time.
func (l *FileLogger) oldestRotated() (string, error) {
	files, err := ioutil.ReadDir(l.LogDir)
	if err != nil {
		return "", err
	}

	oldest := ""
	oldestTime := time.Now()
	for _, file := range files {
		if !file.Mode().IsRegular() || !strings.HasPrefix(file.Name(), logFileName+".") {
			continue
		}
		if file.Name() == logFileName+".log" {
			continue
		}
		if file.ModTime().Before(oldestTime) {
			oldest = path.Join(l.LogDir, file.Name())
			oldestTime = file.ModTime()
		}
	}
	if oldest == "" {
		oldest = l.rotatedPath(0)
	}
	return oldest, nil
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File) (*os.File, error) {
	if currFile == nil {
		return l.openLogFile()
	}

	info, err := currFile.Stat()
	if err != nil {
		l.logger.Warn("log rotation error", zap.Error(err))
		return currFile, nil
	}
	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	var rotated string
	for i := 0; i < l.MaxLogFiles; i++ {
		if _, err := os.Stat(l.rotatedPath(i)); os.IsNotExist(err) {
			rotated = l.rotatedPath(i)
			break
		}
	}

	if len(rotated) == 0 {
		rotated, err = l.oldestRotated()
		if err != nil {
			l.logger.Warn("log rotation error", zap.Error(err))
			return currFile, nil
		}
		l.logger.Debug("maximum number of log files reached", zap.String("overwriting", rotated))
		if err = os.Remove(rotated); err != nil && !os.IsNotExist(err) {
			l.logger.Warn("log rotation error", zap.Error(err))
			return currFile, nil
		}
	}

	currFile.Close()
	if err = os.Rename(l.logFilePath(), rotated); err != nil {
		l.logger.Warn("log rotation error", zap.Error(err))
	} else {
		l.logger.Debug("log file rotated", zap.String("path", rotated))
	}

	f, err := l.openLogFile()
	if err != nil {
		l.logger.Error("log open error", zap.Error(err))
	}
	return f, err
}
