package config

import (
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"llmn/internal/enablement"
	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/llmn"
	projectConfigDir = ".llmn"
	configFileName   = "config.yaml"
)

// ErrInvalidProjectName is returned by ValidateProjectName.
var ErrInvalidProjectName = errors.New("invalid project name")

var projectNameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{2,}$`)

// LoadConfig layers the defaults, the user file and the project file. An
// empty path looks for .llmn/config.yaml in the working directory. A missing
// project file is not an error; Exists reports whether one was found.
func LoadConfig(path string) (*Config, error) {
	config := GetDefaultConfig()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine user config path: %v", err)
	} else if _, err := os.Stat(userConfigPath); err == nil {
		var uf userFile
		if err := loadYAML(userConfigPath, &uf); err != nil {
			return nil, errors.Wrapf(err, "error loading user config from %s", userConfigPath)
		}
		config.global = mergeGlobal(config.global, uf.GlobalSettings)
	}

	if path == "" {
		path, err = getProjectConfigPath()
		if err != nil {
			return nil, errors.Wrap(err, "could not determine project config path")
		}
	}
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not resolve project config path")
	}
	config.path = path
	config.root = rootFor(path)

	if _, err := os.Stat(path); err == nil {
		var project Config
		if err := loadYAML(path, &project); err != nil {
			return nil, errors.Wrapf(err, "error loading project config from %s", path)
		}
		config = mergeProject(config, project)
		config.exists = true
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "error reading project config %s", path)
	}

	if config.ProjectName == "" {
		config.ProjectName = filepath.Base(config.root)
	}
	logging.Debug("Config", "Loaded config %s (exists=%t)", path, config.exists)
	return &config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// rootFor returns the project root for a config file path: the parent of the
// .llmn directory, or the file's directory otherwise.
func rootFor(path string) string {
	dir := filepath.Dir(path)
	if filepath.Base(dir) == projectConfigDir {
		return filepath.Dir(dir)
	}
	return dir
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func mergeGlobal(base, overlay GlobalSettings) GlobalSettings {
	if overlay.ContainerTool != "" {
		base.ContainerTool = overlay.ContainerTool
	}
	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}
	return base
}

// mergeProject merges the project layer into base. Empty fields keep the base value.
func mergeProject(base, overlay Config) Config {
	merged := base
	if overlay.ProjectName != "" {
		merged.ProjectName = overlay.ProjectName
	}
	if overlay.Version != "" {
		merged.Version = overlay.Version
	}
	merged.Initialized = overlay.Initialized
	if overlay.Dirs.Services != "" {
		merged.Dirs.Services = overlay.Dirs.Services
	}
	if overlay.Dirs.Repos != "" {
		merged.Dirs.Repos = overlay.Dirs.Repos
	}
	if overlay.Dirs.Volumes != "" {
		merged.Dirs.Volumes = overlay.Dirs.Volumes
	}
	if overlay.EnvFile != "" {
		merged.EnvFile = overlay.EnvFile
	}
	merged.ContainerTool = overlay.ContainerTool
	if len(overlay.Groups) > 0 {
		merged.Groups = append([]string(nil), overlay.Groups...)
	}
	merged.ExternalDependencies = append([]string(nil), overlay.ExternalDependencies...)

	merged.Services = make(map[string]ServiceConfig, len(base.Services)+len(overlay.Services))
	for id, sc := range base.Services {
		merged.Services[id] = sc
	}
	for id, sc := range overlay.Services {
		merged.Services[id] = sc
	}
	return merged
}

// Save writes the project record, creating the .llmn directory if needed.
func (c *Config) Save() error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to encode project config")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(c.path))
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", c.path)
	}
	c.exists = true
	logging.Debug("Config", "Saved project config to %s", c.path)
	return nil
}

// Exists reports whether a project file was loaded or saved.
func (c *Config) Exists() bool { return c.exists }

// Path is the project file location.
func (c *Config) Path() string { return c.path }

// Root is the project root directory.
func (c *Config) Root() string { return c.root }

func (c *Config) abs(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.root, p)
}

func (c *Config) ServicesDir() string { return c.abs(c.Dirs.Services) }
func (c *Config) ReposDir() string    { return c.abs(c.Dirs.Repos) }
func (c *Config) VolumesDir() string  { return c.abs(c.Dirs.Volumes) }
func (c *Config) EnvFilePath() string { return c.abs(c.EnvFile) }

// EnvExamplePath is the template copied into the env file on init.
func (c *Config) EnvExamplePath() string { return c.EnvFilePath() + ".example" }

// Tool returns the container tool, project setting first.
func (c *Config) Tool() string {
	if c.ContainerTool != "" {
		return c.ContainerTool
	}
	return c.global.ContainerTool
}

// LogLevel is the user's default log level.
func (c *Config) LogLevel() string { return c.global.LogLevel }

// ServiceMode returns the persisted mode of id; unknown services are off.
func (c *Config) ServiceMode(id string) enablement.Mode {
	if sc, ok := c.Services[id]; ok && sc.Enabled.IsValid() {
		return sc.Enabled
	}
	return enablement.ModeOff
}

// ServiceProfiles returns the persisted profiles of id.
func (c *Config) ServiceProfiles(id string) []string {
	return append([]string(nil), c.Services[id].Profiles...)
}

// SetService records the explicit setting of one service.
func (c *Config) SetService(id string, mode enablement.Mode, profiles []string) {
	if c.Services == nil {
		c.Services = map[string]ServiceConfig{}
	}
	c.Services[id] = ServiceConfig{Enabled: mode, Profiles: append([]string(nil), profiles...)}
}

// IsExternal reports whether id is a tolerated external dependency.
func (c *Config) IsExternal(id string) bool {
	return slices.Contains(c.ExternalDependencies, id)
}

// ValidateProjectName checks that name starts with a letter or digit, has at
// least 3 characters and only uses letters, digits, '_' and '-'.
func ValidateProjectName(name string) error {
	if !projectNameRE.MatchString(name) {
		return errors.WithHint(
			errors.Mark(errors.Newf("invalid project name %q", name), ErrInvalidProjectName),
			"Use at least 3 characters: letters, digits, '_' or '-', starting with a letter or digit.",
		)
	}
	return nil
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}
