package keg

// Command descriptions
const (
	MsgRootShort = "Build and install packages from declarative formulae"
	MsgRootLong  = `keg builds packages from formulae: declarative descriptions of where the
sources live, how to patch and build them and what to install. Every package
is built into its own private prefix and then published into the shared root
with symbolic links, dependencies first.`

	MsgInstallShort = "Build and install a package and its dependencies"
	MsgInstallLong  = `Resolve the formula, build every missing dependency and then the package
itself, and publish each one into the shared root as soon as it is built.

Options declared by the formula are switched with --with-<option> and
--without-<option>. They apply to the named package only.`
	MsgInstallExample = `  keg install zookeeper
  keg install zookeeper --with-perl --without-python
  keg install zookeeper --head --reinstall`

	MsgUninstallShort = "Remove a package's links and kegs"
	MsgDepsShort      = "Print the resolved build plan of a package"
	MsgDepsLong       = `Resolve the formula exactly like install would and print the packages in
the order they would be built. Nothing is fetched or built.`
	MsgInfoShort       = "Show a formula's summary, options and install state"
	MsgListShort       = "List installed packages"
	MsgLinksShort      = "List the links published into the shared root"
	MsgHistoryShort    = "Show recent install and uninstall runs"
	MsgVersionShort    = "Print version information"
	MsgCompletionShort = "Generate shell completion script"
)

// Flag descriptions
const (
	MsgFlagVerbose   = "Increase verbosity (-v INFO, -vv DEBUG, -vvv TRACE)"
	MsgFlagConfig    = "Config file (default $XDG_CONFIG_HOME/keg/config.toml)"
	MsgFlagRoot      = "Shared installation root (default $KEG_ROOT or $XDG_DATA_HOME/keg)"
	MsgFlagNoColor   = "Disable coloured output"
	MsgFlagHead      = "Build the development version from its VCS source"
	MsgFlagForce     = "Take over links owned by other packages"
	MsgFlagReinstall = "Rebuild the package even if it is already installed"
	MsgFlagIgnoreDep = "Uninstall even if other installed packages depend on it"
	MsgFlagLimit     = "Number of runs to show"
)

// Errors and notices
const (
	MsgErrNoOptionTarget = "%s is only valid with install or deps"
	MsgErrLoadConfig     = "failed to load configuration: %w"
	MsgVersionFormat     = "keg version %s\n  commit: %s\n  built:  %s\n"
)
