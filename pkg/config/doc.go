// Package config loads keg's configuration.
//
// Values are layered with koanf, later layers winning:
//
//  1. embedded defaults (embedded/defaults.toml)
//  2. the user file, $KEG_CONFIG or $XDG_CONFIG_HOME/keg/config.toml
//  3. KEG_<SECTION>_<KEY> environment variables
//
// The merged tree is decoded into Config with mapstructure and validated.
package config
