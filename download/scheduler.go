package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/gkatanacio/gh-folder-download/cache"
	"github.com/gkatanacio/gh-folder-download/integrity"
	"github.com/gkatanacio/gh-folder-download/retry"
)

const suffixOngoingDownload = ".download"

// HTTPError is returned for a transfer that got a non-200 response.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %s", e.Status)
}

// HTTPStatus lets the retry policy classify the failure.
func (e *HTTPError) HTTPStatus() int { return e.StatusCode }

// SchedulerDeps are the collaborators of a Scheduler. Cache, Checker and Sink may
// be nil.
type SchedulerDeps struct {
	FS      afero.Fs
	HTTP    Doer
	Retrier *retry.Retrier
	Cache   *cache.Cache
	Checker *integrity.Checker
	Sink    ProgressSink
}

// Scheduler downloads tasks with bounded concurrency. For every task it
// checks the cache, streams the file, verifies it and records it in the
// cache.
type Scheduler struct {
	opts    Options
	fs      afero.Fs
	http    Doer
	retrier *retry.Retrier
	cache   *cache.Cache
	checker *integrity.Checker
	sink    ProgressSink
	log     zerolog.Logger

	// bounds checksum and content verification separately from transfers
	cpu *semaphore.Weighted
}

func NewScheduler(opts Options, deps SchedulerDeps, log zerolog.Logger) *Scheduler {
	def := DefaultOptions()
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = def.MaxConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}

	s := &Scheduler{
		opts:    opts,
		fs:      deps.FS,
		http:    deps.HTTP,
		retrier: deps.Retrier,
		cache:   deps.Cache,
		checker: deps.Checker,
		sink:    deps.Sink,
		log:     log.With().Str("component", "scheduler").Logger(),
		cpu:     semaphore.NewWeighted(int64(max(1, opts.MaxConcurrency/2))),
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.http == nil {
		s.http = http.DefaultClient
	}
	if s.retrier == nil {
		s.retrier = retry.NewDownload(log)
	}
	if s.checker == nil {
		s.checker = integrity.NewChecker(s.fs, log)
	}
	if s.sink == nil {
		s.sink = nopSink{}
	}
	if !opts.UseCache {
		s.cache = nil
	}
	return s
}

// DownloadAll runs every task and returns one result per task, in input
// order, together with the aggregated statistics. Task failures never
// abort the batch.
func (s *Scheduler) DownloadAll(ctx context.Context, tasks []Task) ([]Result, Stats) {
	results := make([]Result, len(tasks))
	if len(tasks) == 0 {
		return results, Stats{}
	}

	var totalBytes int64
	for _, t := range tasks {
		totalBytes += max(t.ExpectedSize, 0)
	}
	s.sink.Start(len(tasks), totalBytes)

	s.log.Info().
		Int("files", len(tasks)).
		Int("max_concurrency", s.opts.MaxConcurrency).
		Msg("starting parallel download")

	start := time.Now()

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.opts.MaxConcurrency)

	for i, task := range tasks {
		eg.Go(func() error {
			results[i] = s.run(ctx, task)
			return nil
		})
	}
	_ = eg.Wait()

	if s.cache != nil {
		s.cache.Finalize()
	}

	stats := Summarize(results, time.Since(start))
	s.sink.Finish(stats)

	s.log.Info().
		Dur("duration", stats.Duration).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Int("cached", stats.Cached).
		Msg("parallel download completed")

	return results, stats
}

// run executes the pipeline of a single task. A panic is converted into a
// failed result.
func (s *Scheduler) run(ctx context.Context, task Task) (res Result) {
	start := time.Now()
	log := s.log.With().Str("file", task.FilePath).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("panic while downloading file")
			res = Result{Task: task, Err: fmt.Errorf("panic: %v", r), Reason: ReasonPanic}
		}
		res.Duration = time.Since(start)
		s.sink.FileDone(res)
	}()

	s.sink.FileStarted(task.FilePath, task.ExpectedSize)

	if s.cacheHit(task) {
		log.Debug().Msg("cache hit")
		return Result{
			Task:              task,
			Success:           true,
			Bytes:             max(task.ExpectedSize, 0),
			FromCache:         true,
			IntegrityVerified: true,
		}
	}

	n, err := s.fetch(ctx, task)
	if err != nil {
		reason := reasonFor(ctx, err)
		log.Error().Err(err).Str("reason", string(reason)).Msg("download failed")
		return Result{Task: task, Err: err, Reason: reason}
	}

	res = Result{Task: task, Success: true, Bytes: n, IntegrityVerified: true}

	var checksums map[string]string
	if s.opts.VerifyIntegrity {
		res.IntegrityVerified, checksums = s.verify(ctx, task)
	}

	if s.cache != nil && res.IntegrityVerified {
		s.addToCache(ctx, task, n, checksums)
	}

	log.Debug().Int64("bytes", n).Msg("downloaded")
	return res
}

func (s *Scheduler) cacheHit(task Task) bool {
	if s.cache == nil || task.ExpectedSize < 0 {
		return false
	}
	return s.cache.IsFileCached(task.Repo, task.FilePath, task.Ref, task.SHA, task.ExpectedSize, task.LocalPath)
}

// fetch downloads task under the download retry policy and returns the
// number of bytes written.
func (s *Scheduler) fetch(ctx context.Context, task Task) (int64, error) {
	if err := s.fs.MkdirAll(filepath.Dir(task.LocalPath), 0o755); err != nil {
		return 0, &fsError{op: "create directory", err: err}
	}

	var written int64
	err := s.retrier.Do(ctx, task.FilePath, func(ctx context.Context) error {
		n, err := s.fetchOnce(ctx, task)
		written = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// fetchOnce makes a single transfer attempt. The body is streamed to a
// temporary file that replaces the destination only once complete.
func (s *Scheduler) fetchOnce(ctx context.Context, task Task) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.DownloadURL, nil)
	if err != nil {
		return 0, retry.Permanent(err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &HTTPError{URL: task.DownloadURL, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	tmp := task.LocalPath + suffixOngoingDownload
	f, err := s.fs.Create(tmp)
	if err != nil {
		return 0, retry.Permanent(&fsError{op: "create file", err: err})
	}

	n, err := s.stream(f, resp.Body, task.FilePath)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = retry.Permanent(&fsError{op: "close file", err: cerr})
	}
	if err != nil {
		_ = s.fs.Remove(tmp)
		return n, err
	}

	if err := s.fs.Rename(tmp, task.LocalPath); err != nil {
		_ = s.fs.Remove(tmp)
		return n, retry.Permanent(&fsError{op: "rename file", err: err})
	}
	return n, nil
}

// stream copies body to w in ChunkSize pieces, reporting progress after
// each one.
func (s *Scheduler) stream(w io.Writer, body io.Reader, path string) (int64, error) {
	buf := make([]byte, s.opts.ChunkSize)
	var written int64
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, retry.Permanent(&fsError{op: "write file", err: err})
			}
			written += int64(n)
			s.sink.FileProgress(path, written)
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// verify checks size and content of the downloaded file on the CPU pool.
// It returns whether verification passed and the computed checksums.
func (s *Scheduler) verify(ctx context.Context, task Task) (bool, map[string]string) {
	if err := s.cpu.Acquire(ctx, 1); err != nil {
		return false, nil
	}
	defer s.cpu.Release(1)

	res := s.checker.Verify(task.LocalPath, task.ExpectedSize, nil)
	if !res.Valid() {
		s.log.Warn().Err(res.Err()).Str("file", task.FilePath).Msg("integrity verification failed")
		return false, nil
	}
	return true, res.Checksums
}

func (s *Scheduler) addToCache(ctx context.Context, task Task, written int64, checksums map[string]string) {
	if checksums == nil {
		if err := s.cpu.Acquire(ctx, 1); err != nil {
			return
		}
		checksums = s.checker.Checksums(task.LocalPath)
		s.cpu.Release(1)
	}

	size := task.ExpectedSize
	if size < 0 {
		size = written
	}
	s.cache.Add(task.Repo, task.FilePath, task.Ref, task.SHA, size, task.LocalPath, checksums)
}
