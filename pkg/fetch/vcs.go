package fetch

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/runner"
	"github.com/arthur-debert/keg/pkg/types"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// VCSLocator is a parsed "git+URL#ref" or "svn+URL#rev" locator.
type VCSLocator struct {
	Kind string
	URL  string
	Ref  string
}

func (l VCSLocator) String() string {
	s := l.Kind + "+" + l.URL
	if l.Ref != "" {
		s += "#" + l.Ref
	}
	return s
}

// ParseVCSLocator recognizes VCS locators. Plain URLs return false.
func ParseVCSLocator(locator string) (VCSLocator, bool) {
	kind, rest, ok := strings.Cut(locator, "+")
	if !ok || (kind != types.VCSGit && kind != types.VCSSvn) {
		return VCSLocator{}, false
	}
	url, ref, _ := strings.Cut(rest, "#")
	return VCSLocator{Kind: kind, URL: url, Ref: ref}, true
}

// checkout clones loc into dest, retrying transient failures. Every
// attempt starts from an empty dest.
func (f *Fetcher) checkout(ctx context.Context, loc VCSLocator, dest string) error {
	return f.retry(ctx, loc.String(), func() error {
		if err := os.RemoveAll(dest); err != nil {
			return backoff.Permanent(errors.Wrapf(err, errors.ErrFileAccess, "cannot clear %s", dest))
		}
		switch loc.Kind {
		case types.VCSGit:
			return f.gitClone(ctx, loc, dest)
		case types.VCSSvn:
			return f.svnCheckout(ctx, loc, dest)
		}
		return backoff.Permanent(errors.Newf(errors.ErrInvalidInput, "unsupported vcs %q", loc.Kind))
	})
}

// gitClone clones the default branch shallowly, or the full history when a
// ref must be resolved. The ref may name a branch, a tag or a commit.
func (f *Fetcher) gitClone(ctx context.Context, loc VCSLocator, dest string) error {
	opts := &git.CloneOptions{URL: loc.URL, Tags: git.AllTags}
	if loc.Ref == "" {
		opts.Depth = 1
		opts.Tags = git.NoTags
	}

	repo, err := git.PlainCloneContext(ctx, dest, false, opts)
	if err != nil {
		return fmt.Errorf("git clone %s: %w", loc.URL, err)
	}
	if loc.Ref == "" {
		return nil
	}

	var hash *plumbing.Hash
	for _, rev := range []string{loc.Ref, "origin/" + loc.Ref} {
		if hash, err = repo.ResolveRevision(plumbing.Revision(rev)); err == nil {
			break
		}
	}
	if err != nil {
		return backoff.Permanent(errors.Wrapf(err, errors.ErrNotFound, "git ref %q not found in %s", loc.Ref, loc.URL))
	}

	wt, err := repo.Worktree()
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, errors.ErrInternal, "cannot open git worktree"))
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return backoff.Permanent(errors.Wrapf(err, errors.ErrInternal, "cannot check out %s", loc.Ref))
	}
	f.logger.Debug().Str("url", loc.URL).Str("ref", loc.Ref).Str("commit", hash.String()).Msg("Checked out git ref")
	return nil
}

// svnCheckout shells out to svn; there is no maintained Go client.
func (f *Fetcher) svnCheckout(ctx context.Context, loc VCSLocator, dest string) error {
	target := loc.URL
	if loc.Ref != "" {
		target += "@" + loc.Ref
	}
	res, err := f.opts.Runner.Run(ctx, runner.Command{
		Name:    "svn checkout",
		Path:    "svn",
		Args:    []string{"checkout", "--non-interactive", "--quiet", target, dest},
		Timeout: f.opts.Timeout,
	})
	if err != nil {
		return backoff.Permanent(err)
	}
	if res.ExitCode != 0 {
		return errors.Newf(errors.ErrFetch, "svn checkout %s exited with status %d", target, res.ExitCode).
			WithDetail(errors.DetailOutput, res.Tail)
	}
	return nil
}
