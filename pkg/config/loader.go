package config

import (
	"os"
	"strings"

	"github.com/arthur-debert/keg/pkg/errors"
	"github.com/arthur-debert/keg/pkg/logging"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every configuration environment variable.
	EnvPrefix = "KEG_"
	// EnvConfigFile points at an alternative user config file.
	EnvConfigFile = "KEG_CONFIG"
)

// Load builds the configuration from the embedded defaults, the user file
// at userFile (skipped when empty or missing) and the environment.
// KEG_CONFIG, when set, replaces userFile.
func Load(userFile string) (*Config, error) {
	return load(userFile, true, nil)
}

// LoadWithOverrides is Load with a final layer of dotted keys, such as
// "paths.root", that wins over every other source. Command line flags
// arrive this way.
func LoadWithOverrides(userFile string, overrides map[string]interface{}) (*Config, error) {
	return load(userFile, true, overrides)
}

// Default returns the configuration built from the embedded defaults only.
func Default() *Config {
	cfg, err := load("", false, nil)
	if err != nil {
		// the embedded defaults are always valid
		panic(err)
	}
	return cfg
}

func load(userFile string, withEnv bool, overrides map[string]interface{}) (*Config, error) {
	logger := logging.GetLogger("config")
	k := koanf.New(".")

	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, toml.Parser()); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigParse, "failed to load embedded defaults")
	}

	if override := os.Getenv(EnvConfigFile); override != "" && withEnv {
		userFile = override
	}
	if userFile != "" {
		if _, err := os.Stat(userFile); err == nil {
			if err := k.Load(file.Provider(userFile), toml.Parser()); err != nil {
				return nil, errors.Wrapf(err, errors.ErrConfigParse, "failed to load config from %s", userFile).
					WithDetail(errors.DetailPath, userFile)
			}
			logger.Debug().Str("path", userFile).Msg("Loaded user config")
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, errors.ErrConfigLoad, "cannot read config %s", userFile)
		}
	}

	if withEnv {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to load environment")
		}
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, errors.Wrap(err, errors.ErrConfigLoad, "failed to apply overrides")
		}
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigParse, "failed to decode configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var sections = map[string]bool{
	"paths": true, "build": true, "fetch": true,
	"link": true, "stage": true, "platform": true,
}

// envKey maps KEG_BUILD_ACTION_TIMEOUT to build.action_timeout: the first
// underscore separates the section from the key. Variables outside a known
// section, like KEG_ROOT, are not configuration keys and map to "".
func envKey(s string) string {
	section, key, ok := strings.Cut(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_")
	if !ok || !sections[section] {
		return ""
	}
	return section + "." + key
}
