package keg

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/arthur-debert/keg/pkg/build"
	"github.com/arthur-debert/keg/pkg/config"
	"github.com/arthur-debert/keg/pkg/datastore"
	"github.com/arthur-debert/keg/pkg/fetch"
	"github.com/arthur-debert/keg/pkg/filesystem"
	"github.com/arthur-debert/keg/pkg/formula"
	"github.com/arthur-debert/keg/pkg/history"
	"github.com/arthur-debert/keg/pkg/link"
	"github.com/arthur-debert/keg/pkg/orchestrator"
	"github.com/arthur-debert/keg/pkg/output"
	"github.com/arthur-debert/keg/pkg/patch"
	"github.com/arthur-debert/keg/pkg/paths"
	"github.com/arthur-debert/keg/pkg/runner"
	"github.com/arthur-debert/keg/pkg/stage"
	"github.com/arthur-debert/keg/pkg/types"
)

// cliState holds the global flags and the streams of one invocation.
type cliState struct {
	verbosity  int
	configFile string
	root       string
	noColor    bool
	options    OptionFlags

	stdout io.Writer
	stderr io.Writer
}

// app is the wired component graph behind every command.
type app struct {
	cfg      *config.Config
	paths    paths.Paths
	fs       types.FS
	registry formula.Registry
	links    *link.Manager
	history  *history.Store
	orch     *orchestrator.Orchestrator
	out      *output.Renderer
}

func (s *cliState) newApp() (*app, error) {
	base, err := paths.New("")
	if err != nil {
		return nil, err
	}
	configFile := s.configFile
	if configFile == "" {
		configFile = base.ConfigFile()
	}

	// --root beats $KEG_ROOT, which beats paths.root from the file.
	overrides := map[string]interface{}{}
	if s.root != "" {
		overrides["paths.root"] = s.root
	} else if env := os.Getenv(paths.EnvRoot); env != "" {
		overrides["paths.root"] = env
	}
	cfg, err := config.LoadWithOverrides(configFile, overrides)
	if err != nil {
		return nil, fmt.Errorf(MsgErrLoadConfig, err)
	}

	p, err := paths.New(paths.ExpandHome(cfg.Paths.Root))
	if err != nil {
		return nil, err
	}

	fsys := filesystem.NewOS()
	dirs := make([]string, 0, len(cfg.Paths.Formulae)+1)
	for _, d := range cfg.Paths.Formulae {
		dirs = append(dirs, paths.ExpandHome(d))
	}
	dirs = append(dirs, p.FormulaeDir())
	registry := formula.NewFileRegistry(fsys, dirs...)

	r := runner.New(cfg.Build.TailLines)
	fetcher := fetch.New(fetch.Options{
		CacheDir:       p.DownloadsDir(),
		Runner:         r,
		Attempts:       cfg.Fetch.Attempts,
		InitialBackoff: cfg.Fetch.InitialBackoff,
		MaxBackoff:     cfg.Fetch.MaxBackoff,
		Timeout:        cfg.Fetch.Timeout,
		UserAgent:      cfg.Fetch.UserAgent,
	})
	store := datastore.New(fsys, p.LinkStatePath(), p.LockPath())
	links := link.New(fsys, p, store, link.Options{
		Dirs:         cfg.Link.Dirs,
		ConfigPolicy: cfg.Stage.ConfigPolicy,
	})

	hist, err := history.Open(p.HistoryPath())
	if err != nil {
		return nil, err
	}

	out, err := output.NewRenderer(s.stdout, s.noColor)
	if err != nil {
		_ = hist.Close()
		return nil, err
	}

	orch := orchestrator.New(orchestrator.Components{
		Registry: registry,
		Platform: orchestrator.DetectPlatform(cfg.Platform),
		Paths:    p,
		FS:       fsys,
		Fetcher:  fetcher,
		Patcher:  patch.New(fetcher, r),
		Builder: build.New(r, build.Options{
			ActionTimeout: cfg.Build.ActionTimeout,
			KillGrace:     cfg.Build.KillGrace,
			LogDir:        filepath.Join(p.StateDir(), "logs"),
		}),
		Stager:    stage.New(fsys),
		Publisher: links,
		History:   hist,
	}, orchestrator.Options{
		Concurrency:   cfg.Build.Concurrency,
		Jobs:          cfg.Build.EffectiveJobs(),
		KeepBuildDirs: cfg.Build.KeepBuildDirs,
	})

	return &app{
		cfg:      cfg,
		paths:    p,
		fs:       fsys,
		registry: registry,
		links:    links,
		history:  hist,
		orch:     orch,
		out:      out,
	}, nil
}

func (a *app) Close() error {
	return a.history.Close()
}
