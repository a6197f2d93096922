package progress

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gkatanacio/gh-folder-download/download"
)

func result(path string, ok bool, n int64) download.Result {
	res := download.Result{Task: download.Task{FilePath: path}, Success: ok, Bytes: n}
	if !ok {
		res.Err = errors.New("HTTP 404 Not Found")
		res.Reason = download.ReasonHTTPStatus
	}
	return res
}

func Test_Bars_FullRun(t *testing.T) {
	b := NewBars(Options{Output: io.Discard})

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		b.Start(3, 300)

		b.FileStarted("docs/a.md", 100)
		b.FileProgress("docs/a.md", 50)
		b.FileProgress("docs/a.md", 100)
		b.FileDone(result("docs/a.md", true, 100))

		b.FileStarted("docs/unknown.bin", download.UnknownSize)
		b.FileProgress("docs/unknown.bin", 10)
		b.FileDone(result("docs/unknown.bin", true, 10))

		b.FileStarted("docs/missing.md", 100)
		b.FileDone(result("docs/missing.md", false, 0))

		b.Finish(download.Stats{Total: 3, Succeeded: 2, Failed: 1})
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("bars did not finish")
	}
	assert.Empty(t, b.files)
}

func Test_Bars_FinishAbortsLeftoverBars(t *testing.T) {
	b := NewBars(Options{Output: io.Discard})

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		b.Start(2, 20)
		b.FileStarted("a", 10)
		b.Finish(download.Stats{})
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("bars did not finish")
	}
	assert.Empty(t, b.files)
}

func Test_Bars_EventsBeforeStartAreIgnored(t *testing.T) {
	b := NewBars(Options{Output: io.Discard})

	b.FileStarted("a", 10)
	b.FileProgress("a", 5)
	b.FileDone(result("a", true, 10))
	b.Finish(download.Stats{})

	assert.Empty(t, b.files)
}

func Test_shorten(t *testing.T) {
	testCases := map[string]struct {
		in    string
		width int
		want  string
	}{
		"fits":      {in: "a/b.go", width: 10, want: "a/b.go"},
		"exact":     {in: "abcd", width: 4, want: "abcd"},
		"truncated": {in: "very/long/path/file.go", width: 8, want: "…file.go"},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			assert.Equal(t, tc.want, shorten(tc.in, tc.width))
		})
	}
}

func Test_LogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(zerolog.New(&buf))

	s.Start(2, 2048)
	s.FileDone(result("docs/a.md", true, 1024))
	s.FileDone(result("docs/b.md", false, 0))
	s.Finish(download.Stats{Total: 2, Succeeded: 1, Failed: 1, Bytes: 1024})

	out := buf.String()
	assert.Contains(t, out, `"files":2`)
	assert.Contains(t, out, `"size":"2.0 KiB"`)
	assert.Contains(t, out, `"file":"docs/a.md"`)
	assert.Contains(t, out, `"reason":"http_status"`)
	assert.Contains(t, out, `"done":2`)
	assert.Contains(t, out, `"transferred":"1.0 KiB"`)
}

func Test_Summary(t *testing.T) {
	report := download.Report{
		Repo:        "octo/widgets",
		Ref:         "main",
		Commit:      "89abcdef0123456789abcdef0123456789abcdef",
		Destination: "/work/docs",
		Results: []download.Result{
			result("docs/a.md", true, 2048),
			result("docs/b.md", false, 0),
		},
		Stats: download.Stats{
			Total:       3,
			Succeeded:   2,
			Failed:      1,
			Cached:      1,
			Bytes:       2048,
			CachedBytes: 512,
			Duration:    2 * time.Second,
		},
	}

	out := Summary(report)

	require.NotEmpty(t, out)
	assert.Contains(t, out, "Downloaded 2/3 files from octo/widgets@main (89abcde) into /work/docs")
	assert.Contains(t, out, "transferred: 2.0 KiB in 2s")
	assert.Contains(t, out, "from cache:  1 files, 512 B")
	assert.Contains(t, out, "success:     66.7%")
	assert.Contains(t, out, "Failed (1):")
	assert.Contains(t, out, "docs/b.md [http_status]: HTTP 404 Not Found")
	assert.NotContains(t, out, "integrity:")
}
