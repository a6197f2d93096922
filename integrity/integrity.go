// Package integrity verifies downloaded files: size, content sanity and checksums.
package integrity

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	chunkSize  = 8192
	sampleSize = 8192

	// a sample with more than this share of non-printable bytes is binary
	binaryThreshold = 0.10
)

// Algorithm names a supported checksum.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
)

// Algorithms lists every algorithm computed by Checksums.
var Algorithms = []Algorithm{MD5, SHA1, SHA256}

var ErrIntegrity = errors.New("integrity check failed")

// ContentInfo describes the sampled content of a file.
type ContentInfo struct {
	Size     int64
	Empty    bool
	Readable bool
	Binary   bool
}

// Result aggregates the outcome of Verify.
type Result struct {
	Path      string
	Content   ContentInfo
	Checksums map[string]string

	problems *multierror.Error
}

// Valid reports whether every check passed.
func (r Result) Valid() bool {
	return r.problems.ErrorOrNil() == nil
}

// Err returns nil if the result is valid, or an error wrapping ErrIntegrity
// that lists every failed check.
func (r Result) Err() error {
	if r.Valid() {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrIntegrity, r.Path, r.problems)
}

func (r *Result) fail(format string, args ...any) {
	r.problems = multierror.Append(r.problems, fmt.Errorf(format, args...))
	r.problems.ErrorFormat = joinProblems
}

func joinProblems(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Checker runs integrity checks against files on fs.
type Checker struct {
	fs  afero.Fs
	log zerolog.Logger
}

func NewChecker(fs afero.Fs, log zerolog.Logger) *Checker {
	return &Checker{
		fs:  fs,
		log: log.With().Str("component", "integrity").Logger(),
	}
}

func newHash(algo Algorithm) (hash.Hash, error) {
	switch algo {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	}
	return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
}

// Checksums computes the md5, sha1 and sha256 digests of the file at path
// in a single chunked pass. It returns an empty map if the file cannot be
// read.
func (c *Checker) Checksums(path string) map[string]string {
	sums, err := c.checksums(path, Algorithms...)
	if err != nil {
		c.log.Error().Err(err).Str("path", path).Msg("failed to calculate checksums")
		return map[string]string{}
	}
	return sums
}

func (c *Checker) checksums(path string, algos ...Algorithm) (map[string]string, error) {
	hashes := make([]hash.Hash, 0, len(algos))
	writers := make([]io.Writer, 0, len(algos))
	for _, a := range algos {
		h, err := newHash(a)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
		writers = append(writers, h)
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(io.MultiWriter(writers...), f, buf); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(algos))
	for i, a := range algos {
		out[string(a)] = hex.EncodeToString(hashes[i].Sum(nil))
	}
	return out, nil
}

// VerifySize reports whether the file at path has exactly expected bytes.
// A negative expected size is unknown and always passes.
func (c *Checker) VerifySize(path string, expected int64) bool {
	if expected < 0 {
		return true
	}
	info, err := c.fs.Stat(path)
	if err != nil {
		c.log.Error().Err(err).Str("path", path).Msg("failed to verify file size")
		return false
	}
	if info.Size() != expected {
		c.log.Warn().
			Str("path", path).
			Int64("expected", expected).
			Int64("actual", info.Size()).
			Msg("file size mismatch")
		return false
	}
	return true
}

// VerifyContent samples the beginning of the file to classify it as empty
// or binary. A file that cannot be opened or read is reported as not
// readable together with the error.
func (c *Checker) VerifyContent(path string) (ContentInfo, error) {
	info, err := c.fs.Stat(path)
	if err != nil {
		return ContentInfo{}, err
	}

	ci := ContentInfo{Size: info.Size(), Empty: info.Size() == 0}
	if ci.Empty {
		ci.Readable = true
		return ci, nil
	}

	f, err := c.fs.Open(path)
	if err != nil {
		return ci, err
	}
	defer f.Close()

	sample := make([]byte, sampleSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return ci, err
	}
	sample = sample[:n]

	ci.Readable = true
	ci.Binary = isBinary(sample)
	return ci, nil
}

func isBinary(sample []byte) bool {
	if len(sample) == 0 {
		return false
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return true
	}
	nonPrintable := 0
	for _, b := range sample {
		if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(sample)) > binaryThreshold
}

// VerifyChecksum compares the digest of the file at path with expected,
// case-insensitively.
func (c *Checker) VerifyChecksum(path, expected string, algo Algorithm) bool {
	sums, err := c.checksums(path, algo)
	if err != nil {
		c.log.Error().Err(err).Str("path", path).Str("algorithm", string(algo)).Msg("failed to verify checksum")
		return false
	}
	if !strings.EqualFold(sums[string(algo)], expected) {
		c.log.Warn().
			Str("path", path).
			Str("algorithm", string(algo)).
			Str("expected", expected).
			Str("actual", sums[string(algo)]).
			Msg("checksum mismatch")
		return false
	}
	return true
}

// Verify runs the size check (when expectedSize is known), the content
// check and, when expectedChecksums is non-empty, every listed checksum.
// The computed checksums are returned for caching.
func (c *Checker) Verify(path string, expectedSize int64, expectedChecksums map[string]string) Result {
	res := Result{Path: path}

	if !c.VerifySize(path, expectedSize) {
		res.fail("size mismatch: expected %d bytes", expectedSize)
	}

	ci, err := c.VerifyContent(path)
	res.Content = ci
	if err != nil || !ci.Readable {
		res.fail("file not readable: %v", err)
	}

	if res.Valid() {
		res.Checksums = c.Checksums(path)
	}

	for algo, want := range expectedChecksums {
		got, ok := res.Checksums[algo]
		if !ok {
			res.fail("%s checksum not available", algo)
			continue
		}
		if !strings.EqualFold(got, want) {
			res.fail("%s checksum mismatch", algo)
		}
	}

	if res.Valid() {
		c.log.Debug().Str("path", path).Int64("size", ci.Size).Bool("binary", ci.Binary).Msg("file integrity verified")
	} else {
		c.log.Warn().Err(res.problems).Str("path", path).Msg("file integrity verification failed")
	}
	return res
}
