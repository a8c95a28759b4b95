// pkg/fetch/fetch_test.go
// TEST TYPE: Integration Tests
// DEPENDENCIES: httptest server, temp directories, git (optional)
// PURPOSE: Test downloads, digest verification, caching, retries and checkouts

package fetch_test

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/fetch"
	"github.com/arthur-debert/keg/pkg/types"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sha256Of(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func newFetcher(t *testing.T) *fetch.Fetcher {
	t.Helper()
	return fetch.New(fetch.Options{
		CacheDir:       t.TempDir(),
		Attempts:       3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})
}

// flakyServer fails the first `failures` requests with status, then serves
// body. It counts every request.
func flakyServer(t *testing.T, body []byte, failures int32, status int) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= failures {
			w.WriteHeader(status)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestFetch_DownloadsAndVerifies(t *testing.T) {
	body := []byte("release tarball contents")
	srv, calls := flakyServer(t, body, 0, 0)
	f := newFetcher(t)

	path, err := f.Fetch(context.Background(), srv.URL+"/pkg-1.0.tar.gz", sha256Of(body))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, body, data)
	assert.True(t, strings.HasSuffix(path, "--pkg-1.0.tar.gz"), path)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestFetch_BareSHA1Digest(t *testing.T) {
	body := []byte("zookeeper")
	sum := sha1.Sum(body)
	srv, _ := flakyServer(t, body, 0, 0)

	_, err := newFetcher(t).Fetch(context.Background(), srv.URL+"/zk.tar.gz", hex.EncodeToString(sum[:]))
	require.NoError(t, err)
}

func TestFetch_ReusesVerifiedCache(t *testing.T) {
	body := []byte("cached artifact")
	srv, calls := flakyServer(t, body, 0, 0)
	f := newFetcher(t)
	url := srv.URL + "/a.tar.gz"

	first, err := f.Fetch(context.Background(), url, sha256Of(body))
	require.NoError(t, err)
	second, err := f.Fetch(context.Background(), url, sha256Of(body))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls), "second fetch is served from the cache")
}

func TestFetch_CorruptCacheIsRefetched(t *testing.T) {
	body := []byte("good bytes")
	srv, calls := flakyServer(t, body, 0, 0)
	f := newFetcher(t)
	url := srv.URL + "/a.tar.gz"

	path, err := f.Fetch(context.Background(), url, sha256Of(body))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0644))

	_, err = f.Fetch(context.Background(), url, sha256Of(body))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestFetch_DigestMismatch(t *testing.T) {
	srv, calls := flakyServer(t, []byte("unexpected"), 0, 0)
	f := newFetcher(t)
	want := sha256Of([]byte("expected"))

	path, err := f.Fetch(context.Background(), srv.URL+"/a.tar.gz", want)
	require.Error(t, err)
	assert.Empty(t, path)

	assert.True(t, errors.IsErrorCode(err, errors.ErrIntegrity))
	details := errors.GetErrorDetails(err)
	assert.Equal(t, want, details[errors.DetailExpected])
	assert.Equal(t, sha256Of([]byte("unexpected")), details[errors.DetailActual])
	assert.Equal(t, int32(1), atomic.LoadInt32(calls), "integrity failures are not retried")
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	body := []byte("eventually")
	srv, calls := flakyServer(t, body, 2, http.StatusServiceUnavailable)

	_, err := newFetcher(t).Fetch(context.Background(), srv.URL+"/a.tar.gz", sha256Of(body))
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestFetch_ExhaustedRetries(t *testing.T) {
	srv, calls := flakyServer(t, nil, 100, http.StatusBadGateway)

	_, err := newFetcher(t).Fetch(context.Background(), srv.URL+"/a.tar.gz", sha256Of([]byte("x")))
	require.Error(t, err)

	assert.True(t, errors.IsErrorCode(err, errors.ErrFetch))
	assert.Equal(t, 3, errors.GetErrorDetails(err)[errors.DetailAttempts])
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
}

func TestFetch_ClientErrorsArePermanent(t *testing.T) {
	srv, calls := flakyServer(t, nil, 100, http.StatusNotFound)

	_, err := newFetcher(t).Fetch(context.Background(), srv.URL+"/missing.tar.gz", sha256Of([]byte("x")))
	require.Error(t, err)

	assert.True(t, errors.IsErrorCode(err, errors.ErrFetch))
	assert.Equal(t, 1, errors.GetErrorDetails(err)[errors.DetailAttempts])
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestFetch_RateLimitIsRetried(t *testing.T) {
	body := []byte("ok")
	srv, calls := flakyServer(t, body, 1, http.StatusTooManyRequests)

	_, err := newFetcher(t).Fetch(context.Background(), srv.URL+"/a", sha256Of(body))
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestFetch_LocalFiles(t *testing.T) {
	body := []byte("local patch")
	local := filepath.Join(t.TempDir(), "fix.patch")
	require.NoError(t, os.WriteFile(local, body, 0644))
	f := newFetcher(t)

	for _, locator := range []string{local, "file://" + local} {
		path, err := f.Fetch(context.Background(), locator, sha256Of(body))
		require.NoError(t, err, locator)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, body, data)
	}

	_, err := f.Fetch(context.Background(), filepath.Join(t.TempDir(), "absent.patch"), "")
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrFetch))
	assert.True(t, errors.HasErrorCode(err, errors.ErrNotFound))
}

func TestFetch_InvalidDigest(t *testing.T) {
	_, err := newFetcher(t).Fetch(context.Background(), "https://example.invalid/a", "md5:abcd")
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrInvalidInput))
}

func TestFetch_CanceledContext(t *testing.T) {
	srv, _ := flakyServer(t, nil, 100, http.StatusServiceUnavailable)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newFetcher(t).Fetch(ctx, srv.URL+"/a", "")
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCanceled))
}

func TestFetchSource_Archive(t *testing.T) {
	data := gzipBytes(t, tarBytes(t, projectTree))
	srv, _ := flakyServer(t, data, 0, 0)
	work := t.TempDir()

	src := types.SourceSpec{URL: srv.URL + "/project-1.0.tar.gz", Digest: sha256Of(data)}
	root, err := newFetcher(t).FetchSource(context.Background(), src, work)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(work, fetch.SourceDir, "project-1.0"), root)
	assert.FileExists(t, filepath.Join(root, "configure"))
}

func TestFetchSource_IntegrityFailureExtractsNothing(t *testing.T) {
	data := gzipBytes(t, tarBytes(t, projectTree))
	srv, _ := flakyServer(t, data, 0, 0)
	work := t.TempDir()

	src := types.SourceSpec{URL: srv.URL + "/project-1.0.tar.gz", Digest: sha256Of([]byte("other"))}
	_, err := newFetcher(t).FetchSource(context.Background(), src, work)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrIntegrity))
	assert.NoDirExists(t, filepath.Join(work, fetch.SourceDir))
}

func TestParseVCSLocator(t *testing.T) {
	loc, ok := fetch.ParseVCSLocator("git+https://example.org/repo.git#v1.2")
	require.True(t, ok)
	assert.Equal(t, fetch.VCSLocator{Kind: "git", URL: "https://example.org/repo.git", Ref: "v1.2"}, loc)
	assert.Equal(t, "git+https://example.org/repo.git#v1.2", loc.String())

	loc, ok = fetch.ParseVCSLocator("svn+https://svn.example.org/trunk")
	require.True(t, ok)
	assert.Equal(t, "svn", loc.Kind)
	assert.Empty(t, loc.Ref)

	_, ok = fetch.ParseVCSLocator("https://example.org/a+b.tar.gz")
	assert.False(t, ok)
}

func initGitRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "VERSION"), []byte("1\n"), 0644))
	_, err = wt.Add("VERSION")
	require.NoError(t, err)
	sig := &object.Signature{Name: "test", Email: "test@example.org", When: time.Now()}
	first, err := wt.Commit("first", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "VERSION"), []byte("2\n"), 0644))
	_, err = wt.Add("VERSION")
	require.NoError(t, err)
	_, err = wt.Commit("second", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	return dir, first.String()
}

func TestFetchSource_Git(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	repoDir, firstCommit := initGitRepo(t)
	f := newFetcher(t)

	t.Run("default branch", func(t *testing.T) {
		work := t.TempDir()
		root, err := f.FetchSource(context.Background(), types.SourceSpec{URL: repoDir, VCS: types.VCSGit}, work)
		require.NoError(t, err)
		data, err := os.ReadFile(filepath.Join(root, "VERSION"))
		require.NoError(t, err)
		assert.Equal(t, "2\n", string(data))
	})

	t.Run("pinned commit", func(t *testing.T) {
		work := t.TempDir()
		src := types.SourceSpec{URL: repoDir, VCS: types.VCSGit, Ref: firstCommit}
		root, err := f.FetchSource(context.Background(), src, work)
		require.NoError(t, err)
		data, err := os.ReadFile(filepath.Join(root, "VERSION"))
		require.NoError(t, err)
		assert.Equal(t, "1\n", string(data))
	})

	t.Run("digest is ignored", func(t *testing.T) {
		path, err := f.Fetch(context.Background(), "git+"+repoDir, "sha256:whatever")
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(path, "VERSION"))
	})
}
