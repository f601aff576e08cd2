package config

// Defaults of a fresh project.
const (
	DefaultVersion       = "0.1.0"
	DefaultContainerTool = "docker"
	DefaultEnvFile       = ".env"
	DefaultServicesDir   = "services"
	DefaultReposDir      = ".repos"
	DefaultVolumesDir    = "volumes"
)

// DefaultGroups is the start order used when a project does not declare one.
var DefaultGroups = []string{"databases", "middleware", "apps"}

// GetDefaultConfig returns the built-in configuration layer.
func GetDefaultConfig() Config {
	return Config{
		Version: DefaultVersion,
		Dirs: Dirs{
			Services: DefaultServicesDir,
			Repos:    DefaultReposDir,
			Volumes:  DefaultVolumesDir,
		},
		EnvFile:  DefaultEnvFile,
		Groups:   append([]string(nil), DefaultGroups...),
		Services: map[string]ServiceConfig{},
		global: GlobalSettings{
			ContainerTool: DefaultContainerTool,
			LogLevel:      "info",
		},
	}
}
