// Package paths provides centralized path handling for keg.
//
// Every location keg reads or writes is derived here:
//
//   - Root: the shared installation root (default $XDG_DATA_HOME/keg)
//   - Cellar: root/cellar/<name>/<version>, the private prefixes
//   - Opt: root/opt/<name>, a stable link to the published keg
//   - Config: $XDG_CONFIG_HOME/keg (user configuration, local formulae)
//   - Cache: $XDG_CACHE_HOME/keg (downloads, build trees)
//   - State: $XDG_STATE_HOME/keg (link state, run history, lock file, log)
//
// # Environment Variables
//
//   - KEG_ROOT: override the shared root
//   - KEG_CONFIG_DIR, KEG_CACHE_DIR, KEG_STATE_DIR: override the XDG dirs
//
// # Usage
//
//	p, err := paths.New("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	p.KegPath("zookeeper", "3.4.6")  // <root>/cellar/zookeeper/3.4.6
//	p.SharedDir("bin")               // <root>/bin
package paths
