package keg

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/arthur-debert/keg/internal/version"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/arthur-debert/keg/pkg/output"
	"github.com/arthur-debert/keg/pkg/paths"
	"github.com/arthur-debert/keg/pkg/stage"
	"github.com/arthur-debert/keg/pkg/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Execute runs keg with args and returns the process exit code. Errors are
// written to stderr.
func Execute(args []string, stdout, stderr io.Writer) int {
	rest, opts := SplitOptionFlags(args)
	state := &cliState{options: opts, stdout: stdout, stderr: stderr}
	root := newRootCmd(state)
	root.SetArgs(rest)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		r, rerr := output.NewRenderer(stderr, state.noColor)
		if rerr != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		_ = r.RenderError(err)
		return 1
	}
	return 0
}

// NewRootCmd returns the command tree with no option switches. It serves
// completion and documentation generators.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&cliState{stdout: os.Stdout, stderr: os.Stderr})
}

func newRootCmd(state *cliState) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "keg",
		Short:   MsgRootShort,
		Long:    MsgRootLong,
		Version: version.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var logFile string
			if p, err := paths.New(""); err == nil {
				logFile = p.LogFilePath()
			}
			logging.SetupLogger(logging.Options{
				Verbosity: state.verbosity,
				Console:   state.stderr,
				NoColor:   !output.ColorEnabled(state.stderr, state.noColor),
				File:      logFile,
			})
			logging.LogCommand(cmd.Name(), args)
			if !state.options.Empty() && cmd.Name() != "install" && cmd.Name() != "deps" {
				return fmt.Errorf(MsgErrNoOptionTarget, "--with-/--without-")
			}
			return nil
		},
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
	}

	rootCmd.PersistentFlags().CountVarP(&state.verbosity, "verbose", "v", MsgFlagVerbose)
	rootCmd.PersistentFlags().StringVar(&state.configFile, "config", "", MsgFlagConfig)
	rootCmd.PersistentFlags().StringVar(&state.root, "root", "", MsgFlagRoot)
	rootCmd.PersistentFlags().BoolVar(&state.noColor, "no-color", false, MsgFlagNoColor)

	rootCmd.AddGroup(&cobra.Group{ID: "core", Title: "COMMANDS:"})
	rootCmd.AddGroup(&cobra.Group{ID: "query", Title: "QUERIES:"})
	rootCmd.AddGroup(&cobra.Group{ID: "misc", Title: "MISC:"})

	rootCmd.AddCommand(newInstallCmd(state))
	rootCmd.AddCommand(newUninstallCmd(state))
	rootCmd.AddCommand(newDepsCmd(state))
	rootCmd.AddCommand(newInfoCmd(state))
	rootCmd.AddCommand(newListCmd(state))
	rootCmd.AddCommand(newLinksCmd(state))
	rootCmd.AddCommand(newHistoryCmd(state))
	rootCmd.AddCommand(newVersionCmd(state))
	rootCmd.AddCommand(newCompletionCmd())

	installHelp(rootCmd, state)
	rootCmd.SetHelpCommandGroupID("misc")
	return rootCmd
}

// withApp wires the components, runs fn and releases them.
func withApp(state *cliState, fn func(*app) error) error {
	a, err := state.newApp()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close history")
		}
	}()
	return fn(a)
}

func (s *cliState) request(head, force, reinstall bool) types.BuildRequest {
	return types.BuildRequest{
		Head:      head,
		With:      s.options.With,
		Without:   s.options.Without,
		Force:     force,
		Reinstall: reinstall,
	}
}

// formulaNames completes the first argument with known formula names.
func formulaNames(state *cliState) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		var names []string
		err := withApp(state, func(a *app) error {
			var err error
			names, err = a.registry.Names()
			return err
		})
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	}
}

func newInstallCmd(state *cliState) *cobra.Command {
	var head, force, reinstall bool
	cmd := &cobra.Command{
		Use:               "install <formula>",
		Short:             MsgInstallShort,
		Long:              MsgInstallLong,
		Example:           MsgInstallExample,
		GroupID:           "core",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: formulaNames(state),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(state, func(a *app) error {
				report, err := a.orch.Install(cmd.Context(), args[0], state.request(head, force, reinstall))
				if report != nil {
					if rerr := a.out.RenderInstall(report); rerr != nil {
						return rerr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&head, "head", false, MsgFlagHead)
	cmd.Flags().BoolVar(&force, "force", false, MsgFlagForce)
	cmd.Flags().BoolVar(&reinstall, "reinstall", false, MsgFlagReinstall)
	return cmd
}

func newUninstallCmd(state *cliState) *cobra.Command {
	var ignoreDependents bool
	cmd := &cobra.Command{
		Use:               "uninstall <formula>",
		Aliases:           []string{"remove", "rm"},
		Short:             MsgUninstallShort,
		GroupID:           "core",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: formulaNames(state),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(state, func(a *app) error {
				report, err := a.orch.Uninstall(cmd.Context(), args[0], ignoreDependents)
				if err != nil {
					return err
				}
				return a.out.RenderUninstall(report)
			})
		},
	}
	cmd.Flags().BoolVar(&ignoreDependents, "ignore-dependencies", false, MsgFlagIgnoreDep)
	return cmd
}

func newDepsCmd(state *cliState) *cobra.Command {
	var head bool
	cmd := &cobra.Command{
		Use:               "deps <formula>",
		Short:             MsgDepsShort,
		Long:              MsgDepsLong,
		GroupID:           "query",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: formulaNames(state),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(state, func(a *app) error {
				plan, err := a.orch.Plan(args[0], state.request(head, false, false))
				if err != nil {
					return err
				}
				return a.out.RenderPlan(plan)
			})
		},
	}
	cmd.Flags().BoolVar(&head, "head", false, MsgFlagHead)
	return cmd
}

func newInfoCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:               "info <formula>",
		Short:             MsgInfoShort,
		GroupID:           "query",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: formulaNames(state),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(state, func(a *app) error {
				f, err := a.registry.Get(args[0])
				if err != nil {
					return err
				}
				kegs, err := stage.KegsOf(a.fs, a.paths, f.Name)
				if err != nil {
					return err
				}
				return a.out.RenderInfo(f, kegs)
			})
		},
	}
}

func newListCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   MsgListShort,
		GroupID: "query",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(state, func(a *app) error {
				receipts, err := stage.InstalledKegs(a.fs, a.paths)
				if err != nil {
					return err
				}
				return a.out.RenderList(receipts)
			})
		},
	}
}

func newLinksCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:     "links [formula]",
		Short:   MsgLinksShort,
		GroupID: "query",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(state, func(a *app) error {
				linkState, err := a.links.State()
				if err != nil {
					return err
				}
				name := ""
				if len(args) == 1 {
					name = args[0]
				}
				return a.out.RenderLinks(linkState, name)
			})
		},
	}
}

func newHistoryCmd(state *cliState) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "history [formula]",
		Short:   MsgHistoryShort,
		GroupID: "query",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(state, func(a *app) error {
				name := ""
				if len(args) == 1 {
					name = args[0]
				}
				runs, err := a.history.Recent(cmd.Context(), name, limit)
				if err != nil {
					return err
				}
				return a.out.RenderHistory(runs)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, MsgFlagLimit)
	return cmd
}

func newVersionCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   MsgVersionShort,
		GroupID: "misc",
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(state.stdout, MsgVersionFormat, version.Version, version.Commit, version.Date)
		},
	}
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:                   "completion [bash|zsh|fish|powershell]",
		Short:                 MsgCompletionShort,
		GroupID:               "misc",
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletionV2(out, true)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			default:
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
		},
	}
}
