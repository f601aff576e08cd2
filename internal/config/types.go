package config

import (
	"llmn/internal/enablement"
)

// Config is the project record persisted at <project>/.llmn/config.yaml.
type Config struct {
	ProjectName string `yaml:"projectName"`
	Version     string `yaml:"version,omitempty"`
	Initialized bool   `yaml:"initialized"`
	Dirs        Dirs   `yaml:"dirs"`
	EnvFile     string `yaml:"envFile,omitempty"`
	// ContainerTool overrides the user level setting for this project.
	ContainerTool string `yaml:"containerTool,omitempty"`
	// Groups lists service groups in start order.
	Groups []string `yaml:"groups,omitempty"`
	// ExternalDependencies are dependency ids tolerated without a registered service.
	ExternalDependencies []string                 `yaml:"externalDependencies,omitempty"`
	Services             map[string]ServiceConfig `yaml:"services,omitempty"`

	global GlobalSettings
	root   string
	path   string
	exists bool
}

// Dirs are paths relative to the project root.
type Dirs struct {
	Services string `yaml:"services,omitempty"`
	Repos    string `yaml:"repos,omitempty"`
	Volumes  string `yaml:"volumes,omitempty"`
}

// ServiceConfig is the persisted explicit setting of one service.
type ServiceConfig struct {
	Enabled  enablement.Mode `yaml:"enabled"`
	Profiles []string        `yaml:"profiles,omitempty"`
}

// GlobalSettings come from the user file and apply to every project.
type GlobalSettings struct {
	ContainerTool string `yaml:"containerTool,omitempty"` // e.g. "docker", "podman"
	LogLevel      string `yaml:"logLevel,omitempty"`
}

// userFile mirrors ~/.config/llmn/config.yaml.
type userFile struct {
	GlobalSettings GlobalSettings `yaml:"globalSettings"`
}
