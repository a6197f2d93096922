package progress

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/gkatanacio/gh-folder-download/download"
)

// LogSink reports progress as log events. It is used when bars are
// disabled or the output is not a terminal.
type LogSink struct {
	log   zerolog.Logger
	total atomic.Int64
	done  atomic.Int64
}

var _ download.ProgressSink = (*LogSink)(nil)

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log.With().Str("component", "progress").Logger()}
}

func (s *LogSink) Start(files int, totalBytes int64) {
	s.total.Store(int64(files))
	s.done.Store(0)
	s.log.Info().
		Int("files", files).
		Str("size", humanize.IBytes(uint64(max(totalBytes, 0)))).
		Msg("starting downloads")
}

func (s *LogSink) FileStarted(path string, size int64) {
	s.log.Debug().Str("file", path).Int64("size", size).Msg("downloading")
}

func (s *LogSink) FileProgress(string, int64) {}

func (s *LogSink) FileDone(res download.Result) {
	n := s.done.Add(1)
	ev := s.log.Info()
	if !res.Success {
		ev = s.log.Warn().Err(res.Err).Str("reason", string(res.Reason))
	}
	ev.Str("file", res.Task.FilePath).
		Bool("cached", res.FromCache).
		Str("size", humanize.IBytes(uint64(res.Bytes))).
		Int64("done", n).
		Int64("total", s.total.Load()).
		Msg("file finished")
}

func (s *LogSink) Finish(stats download.Stats) {
	s.log.Info().
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Int("cached", stats.Cached).
		Str("transferred", humanize.IBytes(uint64(stats.Bytes))).
		Dur("duration", stats.Duration).
		Msg("downloads finished")
}
