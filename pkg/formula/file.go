package formula

// The file* types mirror the on-disk document. Tags serve three decoders:
// toml and yaml for reading, json for handing the document to CUE.

type fileFormula struct {
	Name         string            `toml:"name" yaml:"name" json:"name"`
	Version      string            `toml:"version" yaml:"version" json:"version"`
	Revision     int               `toml:"revision" yaml:"revision" json:"revision,omitempty"`
	Homepage     string            `toml:"homepage" yaml:"homepage" json:"homepage,omitempty"`
	Description  string            `toml:"description" yaml:"description" json:"description,omitempty"`
	Caveats      string            `toml:"caveats" yaml:"caveats" json:"caveats,omitempty"`
	Options      []fileOption      `toml:"option" yaml:"option" json:"option,omitempty"`
	Source       fileSources       `toml:"source" yaml:"source" json:"source"`
	Dependencies []fileDependency  `toml:"dependency" yaml:"dependency" json:"dependency,omitempty"`
	Env          map[string]string `toml:"env" yaml:"env" json:"env,omitempty"`
	Actions      []fileAction      `toml:"action" yaml:"action" json:"action,omitempty"`
	Layout       fileLayout        `toml:"layout" yaml:"layout" json:"layout"`
	Stage        fileStage         `toml:"stage" yaml:"stage" json:"stage"`
	Service      *fileService      `toml:"service" yaml:"service" json:"service,omitempty"`
}

type fileOption struct {
	Name        string `toml:"name" yaml:"name" json:"name"`
	Description string `toml:"description" yaml:"description" json:"description,omitempty"`
	Default     bool   `toml:"default" yaml:"default" json:"default,omitempty"`
}

type fileSources struct {
	Stable *fileSource `toml:"stable" yaml:"stable" json:"stable,omitempty"`
	Head   *fileSource `toml:"head" yaml:"head" json:"head,omitempty"`
}

type fileSource struct {
	URL          string           `toml:"url" yaml:"url" json:"url"`
	Digest       string           `toml:"digest" yaml:"digest" json:"digest,omitempty"`
	VCS          string           `toml:"vcs" yaml:"vcs" json:"vcs,omitempty"`
	Ref          string           `toml:"ref" yaml:"ref" json:"ref,omitempty"`
	Version      string           `toml:"version" yaml:"version" json:"version,omitempty"`
	Patches      []filePatch      `toml:"patch" yaml:"patch" json:"patch,omitempty"`
	Dependencies []fileDependency `toml:"dependency" yaml:"dependency" json:"dependency,omitempty"`
}

type filePatch struct {
	URL    string `toml:"url" yaml:"url" json:"url"`
	Digest string `toml:"digest" yaml:"digest" json:"digest"`
	Strip  *int   `toml:"strip" yaml:"strip" json:"strip,omitempty"`
	When   string `toml:"when" yaml:"when" json:"when,omitempty"`
}

type fileDependency struct {
	Name string `toml:"name" yaml:"name" json:"name"`
	Kind string `toml:"kind" yaml:"kind" json:"kind,omitempty"`
	When string `toml:"when" yaml:"when" json:"when,omitempty"`
}

type fileAction struct {
	Name    string            `toml:"name" yaml:"name" json:"name,omitempty"`
	Command string            `toml:"command" yaml:"command" json:"command"`
	Args    []string          `toml:"args" yaml:"args" json:"args,omitempty"`
	Dir     string            `toml:"dir" yaml:"dir" json:"dir,omitempty"`
	Env     map[string]string `toml:"env" yaml:"env" json:"env,omitempty"`
	When    string            `toml:"when" yaml:"when" json:"when,omitempty"`
	Timeout string            `toml:"timeout" yaml:"timeout" json:"timeout,omitempty"`
}

type fileLayout struct {
	Directories []string `toml:"directories" yaml:"directories" json:"directories,omitempty"`
}

type fileStage struct {
	Edits    []fileEdit    `toml:"edit" yaml:"edit" json:"edit,omitempty"`
	Installs []fileInstall `toml:"install" yaml:"install" json:"install,omitempty"`
	Shims    []fileShim    `toml:"shim" yaml:"shim" json:"shim,omitempty"`
	Configs  []fileConfig  `toml:"config" yaml:"config" json:"config,omitempty"`
}

type fileEdit struct {
	File    string `toml:"file" yaml:"file" json:"file"`
	Pattern string `toml:"pattern" yaml:"pattern" json:"pattern"`
	Replace string `toml:"replace" yaml:"replace" json:"replace"`
	When    string `toml:"when" yaml:"when" json:"when,omitempty"`
}

type fileInstall struct {
	From    []string `toml:"from" yaml:"from" json:"from"`
	To      string   `toml:"to" yaml:"to" json:"to"`
	As      string   `toml:"as" yaml:"as" json:"as,omitempty"`
	Exclude []string `toml:"exclude" yaml:"exclude" json:"exclude,omitempty"`
	When    string   `toml:"when" yaml:"when" json:"when,omitempty"`
}

type fileShim struct {
	Glob        string   `toml:"glob" yaml:"glob" json:"glob"`
	Exclude     []string `toml:"exclude" yaml:"exclude" json:"exclude,omitempty"`
	Dir         string   `toml:"dir" yaml:"dir" json:"dir,omitempty"`
	StripSuffix string   `toml:"strip_suffix" yaml:"strip_suffix" json:"strip_suffix,omitempty"`
	Template    string   `toml:"template" yaml:"template" json:"template"`
	When        string   `toml:"when" yaml:"when" json:"when,omitempty"`
}

type fileConfig struct {
	Path     string `toml:"path" yaml:"path" json:"path"`
	Template string `toml:"template" yaml:"template" json:"template"`
	When     string `toml:"when" yaml:"when" json:"when,omitempty"`
}

type fileService struct {
	Label         string            `toml:"label" yaml:"label" json:"label,omitempty"`
	Program       []string          `toml:"program" yaml:"program" json:"program"`
	WorkingDir    string            `toml:"working_dir" yaml:"working_dir" json:"working_dir,omitempty"`
	RunAtLoad     bool              `toml:"run_at_load" yaml:"run_at_load" json:"run_at_load,omitempty"`
	KeepAlive     bool              `toml:"keep_alive" yaml:"keep_alive" json:"keep_alive,omitempty"`
	Environment   map[string]string `toml:"environment" yaml:"environment" json:"environment,omitempty"`
	LogPath       string            `toml:"log_path" yaml:"log_path" json:"log_path,omitempty"`
	ManualCommand string            `toml:"manual_command" yaml:"manual_command" json:"manual_command,omitempty"`
}
