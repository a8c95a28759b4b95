package fetch

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/internal/hashutil"
	"github.com/cenkalti/backoff/v4"
)

func (f *Fetcher) download(ctx context.Context, locator, digest string) (string, error) {
	var want *hashutil.Digest
	if digest != "" {
		d, err := hashutil.ParseDigest(digest)
		if err != nil {
			return "", errors.Wrapf(err, errors.ErrInvalidInput, "invalid digest for %s", locator)
		}
		want = &d
	}

	cached := f.cachePath(locator, want)
	if want != nil {
		if ok, _, err := hashutil.Verify(cached, *want); err == nil && ok {
			f.logger.Debug().Str("locator", locator).Str("path", cached).Msg("Using cached download")
			return cached, nil
		}
		_ = os.Remove(cached)
	}

	if err := os.MkdirAll(filepath.Dir(cached), 0755); err != nil {
		return "", errors.Wrapf(err, errors.ErrDirCreate, "cannot create download cache")
	}
	err := f.retry(ctx, locator, func() error {
		return f.downloadOnce(ctx, locator, want, cached)
	})
	if err != nil {
		return "", err
	}
	return cached, nil
}

// cachePath names the cache entry. Pinned downloads are keyed by digest so
// the same artifact is shared between formulae; unpinned ones by locator.
func (f *Fetcher) cachePath(locator string, want *hashutil.Digest) string {
	key := cacheKey(locator)
	if want != nil {
		key = want.Algorithm + "-" + want.Hex
	}
	return filepath.Join(f.opts.CacheDir, key+"--"+locatorBase(locator))
}

// downloadOnce performs a single attempt, hashing the body while it is
// written to a temporary file that is renamed into place only when the
// digest matches.
func (f *Fetcher) downloadOnce(ctx context.Context, locator string, want *hashutil.Digest, dest string) error {
	body, err := f.open(ctx, locator)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return backoff.Permanent(errors.Wrapf(err, errors.ErrFileWrite, "cannot create temporary download file"))
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	algo := hashutil.SHA256
	if want != nil {
		algo = want.Algorithm
	}
	h, err := hashutil.NewHash(algo)
	if err != nil {
		_ = tmp.Close()
		return backoff.Permanent(errors.Wrap(err, errors.ErrInvalidInput, "unsupported digest"))
	}
	w := io.MultiWriter(tmp, h)

	n, copyErr := io.Copy(w, body)
	closeErr := tmp.Close()
	if copyErr != nil {
		return fmt.Errorf("reading %s: %w", locator, copyErr)
	}
	if closeErr != nil {
		return backoff.Permanent(errors.Wrapf(closeErr, errors.ErrFileWrite, "cannot write %s", tmpName))
	}

	actual := hashutil.Digest{Algorithm: algo, Hex: hex.EncodeToString(h.Sum(nil))}
	if want != nil && actual.Hex != want.Hex {
		return backoff.Permanent(errors.NewIntegrityError(locator, want.String(), actual.String()))
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return backoff.Permanent(errors.Wrapf(err, errors.ErrFileWrite, "cannot move download into cache"))
	}
	committed = true

	f.logger.Info().
		Str("locator", locator).
		Int64("bytes", n).
		Str("digest", actual.String()).
		Msg("Downloaded artifact")
	return nil
}

// open returns a reader for locator. Errors wrapped as permanent are not
// worth retrying.
func (f *Fetcher) open(ctx context.Context, locator string) (io.ReadCloser, error) {
	u, err := url.Parse(locator)
	if err != nil {
		return nil, backoff.Permanent(errors.Wrapf(err, errors.ErrInvalidInput, "invalid locator %q", locator))
	}

	switch u.Scheme {
	case "http", "https":
		return f.openHTTP(ctx, locator)
	case "file":
		return openLocal(filepath.FromSlash(filepath.Join(u.Host, u.Path)))
	case "":
		return openLocal(locator)
	}
	if filepath.VolumeName(locator) != "" {
		return openLocal(locator)
	}
	return nil, backoff.Permanent(errors.Newf(errors.ErrInvalidInput, "unsupported scheme %q in %s", u.Scheme, locator))
}

func (f *Fetcher) openHTTP(ctx context.Context, locator string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, backoff.Permanent(errors.Wrapf(err, errors.ErrInvalidInput, "invalid URL %q", locator))
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.opts.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		return resp.Body, nil
	}
	_ = resp.Body.Close()

	statusErr := errors.Newf(errors.ErrFetch, "GET %s: %s", locator, resp.Status).
		WithDetail("status", resp.StatusCode)
	if isPermanentStatus(resp.StatusCode) {
		return nil, backoff.Permanent(statusErr)
	}
	return nil, statusErr
}

// isPermanentStatus reports client errors other than timeouts and rate
// limiting.
func isPermanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

func openLocal(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		code := errors.ErrFileAccess
		if os.IsNotExist(err) {
			code = errors.ErrNotFound
		}
		return nil, backoff.Permanent(errors.Wrapf(err, code, "cannot open %s", path))
	}
	return file, nil
}
