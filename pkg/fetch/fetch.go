// Package fetch retrieves package sources: digest-pinned archives over
// http(s) or from the local filesystem, and git or svn checkouts.
//
// Downloads land in a content cache keyed by digest and are verified
// while they are written. Transient failures are retried with bounded
// exponential backoff; integrity failures and client errors are not.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/arthur-debert/keg/pkg/runner"
	"github.com/arthur-debert/keg/pkg/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultAttempts       = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultUserAgent      = "keg"
)

// SourceDir is the directory inside a work dir that receives the source
// tree.
const SourceDir = "src"

// Backend retrieves a single artifact and returns its local path. VCS
// locators (git+URL, svn+URL, optionally suffixed with #ref) ignore the
// digest.
type Backend interface {
	Fetch(ctx context.Context, locator, digest string) (string, error)
}

// Options configures a Fetcher.
type Options struct {
	CacheDir       string
	Client         *http.Client
	Runner         runner.Runner
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
	UserAgent      string
}

// Fetcher is the default Backend. It also turns a whole SourceSpec into a
// working tree.
type Fetcher struct {
	opts   Options
	logger zerolog.Logger
}

var _ Backend = (*Fetcher)(nil)

// New creates a Fetcher, filling unset options with defaults.
func New(opts Options) *Fetcher {
	if opts.Attempts < 1 {
		opts.Attempts = DefaultAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = DefaultMaxBackoff
		if opts.MaxBackoff < opts.InitialBackoff {
			opts.MaxBackoff = opts.InitialBackoff
		}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Runner == nil {
		opts.Runner = runner.New(0)
	}
	return &Fetcher{opts: opts, logger: logging.GetLogger("fetch")}
}

// Fetch downloads locator into the cache and returns the cached path. With
// a digest, a cached copy that still matches is reused and a fresh
// download that does not match is deleted and reported as an integrity
// error.
func (f *Fetcher) Fetch(ctx context.Context, locator, digest string) (string, error) {
	if loc, ok := ParseVCSLocator(locator); ok {
		dest := filepath.Join(f.opts.CacheDir, "vcs", cacheKey(locator))
		if err := f.checkout(ctx, loc, dest); err != nil {
			return "", err
		}
		return dest, nil
	}
	return f.download(ctx, locator, digest)
}

// FetchSource materializes src under workDir and returns the root of the
// source tree. Archives are extracted, with a single top-level directory
// unwrapped; VCS sources are checked out in place.
func (f *Fetcher) FetchSource(ctx context.Context, src types.SourceSpec, workDir string) (string, error) {
	dest := filepath.Join(workDir, SourceDir)
	if err := os.RemoveAll(dest); err != nil {
		return "", errors.Wrapf(err, errors.ErrFileAccess, "cannot clear %s", dest)
	}

	if src.IsVCS() {
		loc := VCSLocator{Kind: src.VCS, URL: src.URL, Ref: src.Ref}
		if err := f.checkout(ctx, loc, dest); err != nil {
			return "", err
		}
		f.logger.Info().Str("url", src.URL).Str("vcs", src.VCS).Msg("Checked out source")
		return dest, nil
	}

	archive, err := f.download(ctx, src.URL, src.Digest)
	if err != nil {
		return "", err
	}
	root, err := Extract(archive, locatorBase(src.URL), dest)
	if err != nil {
		_ = os.RemoveAll(dest)
		return "", err
	}
	f.logger.Info().Str("url", src.URL).Str("tree", root).Msg("Extracted source")
	return root, nil
}

// retry runs op until it succeeds, fails permanently, the context ends or
// the attempts are used up. Integrity errors surface unchanged; every other
// failure becomes a FetchError counting the attempts made.
func (f *Fetcher) retry(ctx context.Context, locator string, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.opts.InitialBackoff
	exp.MaxInterval = f.opts.MaxBackoff
	exp.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(f.opts.Attempts-1)), ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		return op()
	}, policy, func(err error, wait time.Duration) {
		f.logger.Warn().Err(err).
			Str("locator", locator).
			Int("attempt", attempts).
			Dur("wait", wait).
			Msg("Fetch failed, retrying")
	})
	switch {
	case err == nil:
		return nil
	case errors.HasErrorCode(err, errors.ErrIntegrity):
		return err
	case ctx.Err() != nil:
		return errors.Wrapf(ctx.Err(), errors.ErrCanceled, "fetch of %s canceled", locator)
	}
	return errors.NewFetchError(err, locator, attempts)
}

func cacheKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// locatorBase returns the file name part of a URL or path.
func locatorBase(locator string) string {
	if i := strings.IndexAny(locator, "?#"); i >= 0 {
		locator = locator[:i]
	}
	base := path.Base(filepath.ToSlash(locator))
	if base == "." || base == "/" || base == "" {
		return "download"
	}
	return base
}
