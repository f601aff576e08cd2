package services

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"

	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
)

// Ollama compose profiles.
const (
	OllamaProfileHost      = "ollama-host"
	OllamaProfileCPU       = "ollama-cpu"
	OllamaProfileGPUAMD    = "ollama-gpu-amd"
	OllamaProfileGPUNvidia = "ollama-gpu-nvidia"

	ollamaHostURL      = "http://host.docker.internal:11434"
	ollamaContainerURL = "http://ollama:11434"
)

// n8n compose profiles.
const (
	N8nProfileDefault = "n8n"
	N8nProfileCustom  = "n8n-custom"
)

// FlowiseAPIConfig is where Flowise keeps its API keys, relative to the
// volumes directory.
var FlowiseAPIConfig = filepath.Join("flowise", "config", "api.json")

func variantFor(service string) interface{} {
	switch service {
	case "ollama":
		return ollamaVariant{}
	case "n8n":
		return n8nVariant{}
	case "flowise":
		return flowiseVariant{}
	default:
		return nil
	}
}

// ollamaVariant runs ollama either in a container or on the host through a
// network bridge.
type ollamaVariant struct{}

func (ollamaVariant) usesHost(s *Service) bool {
	return slices.Contains(s.Profiles(), OllamaProfileHost)
}

func (v ollamaVariant) Start(_ context.Context, s *Service, _ StartOptions) (Result[bool], bool) {
	if !v.usesHost(s) {
		return Result[bool]{}, false
	}
	res := OK(true)
	res.Info("Skipping Ollama service start, using host bridge")
	return res, true
}

func (v ollamaVariant) url(s *Service, env map[string]string) string {
	if host := env["OLLAMA_HOST"]; host != "" {
		return host
	}
	if v.usesHost(s) {
		return ollamaHostURL
	}
	return ollamaContainerURL
}

func (v ollamaVariant) LoadEnv(s *Service, env map[string]string) map[string]string {
	if env["OLLAMA_HOST"] == "" {
		env["OLLAMA_HOST"] = v.url(s, env)
	}
	return env
}

func (v ollamaVariant) Endpoints(s *Service, selector string, env map[string]string) []Endpoint {
	scope, key := parseSelector(selector)
	if scope != "*" && scope != ScopeInternal {
		return nil
	}
	if key != "*" && key != "api" {
		return nil
	}
	return []Endpoint{{
		Service: s.ID(),
		Scope:   ScopeInternal,
		Key:     "api",
		Name:    "Ollama API",
		URL:     v.url(s, env),
	}}
}

func (ollamaVariant) Configure(_ context.Context, s *Service, opts ConfigureOptions) Result[bool] {
	profile := OllamaProfileHost
	if !opts.Silent && opts.Prompter != nil {
		gpuDisabled := s.deps.GOOS == "darwin"
		gpuNote := ""
		if gpuDisabled {
			gpuNote = " (not available on macOS)"
		}
		current := OllamaProfileHost
		if p := s.Profiles(); len(p) > 0 {
			current = p[0]
		}
		choice, err := opts.Prompter.Select("How do you want to run Ollama?", []Option{
			{Label: "[HOST] Creates a network bridge", Value: OllamaProfileHost},
			{Label: "[CPU] Run on CPU, slow but compatible", Value: OllamaProfileCPU},
			{Label: "[AMD] Run on AMD GPU" + gpuNote, Value: OllamaProfileGPUAMD, Disabled: gpuDisabled},
			{Label: "[NVIDIA] Run on Nvidia GPU" + gpuNote, Value: OllamaProfileGPUNvidia, Disabled: gpuDisabled},
		}, current)
		if err != nil {
			return OK(false).Abort(errors.Wrap(err, "ollama profile prompt"), "failed to configure %s", s.Name())
		}
		profile = choice
	}
	s.SetProfiles([]string{profile})
	res := OK(true)
	res.Debug("ollama profile set to %s", profile)
	return res
}

// n8nVariant chooses between the stock and the customized n8n image.
type n8nVariant struct{}

func (n8nVariant) Configure(_ context.Context, s *Service, opts ConfigureOptions) Result[bool] {
	if !s.IsEnabled() {
		return OK(true)
	}
	profile := N8nProfileDefault
	if !opts.Silent && opts.Prompter != nil {
		current := N8nProfileDefault
		if p := s.Profiles(); len(p) > 0 {
			current = p[0]
		}
		choice, err := opts.Prompter.Select("Which version of n8n do you want to use?", []Option{
			{Label: "n8n with no customizations", Value: N8nProfileDefault},
			{Label: "n8n with custom tracing and ffmpeg support", Value: N8nProfileCustom},
		}, current)
		if err != nil {
			return OK(false).Abort(errors.Wrap(err, "n8n profile prompt"), "failed to configure %s", s.Name())
		}
		profile = choice
	}
	s.SetProfiles([]string{profile})
	return OK(true)
}

// flowiseVariant passes the API key Flowise generated on first start to the
// other services.
type flowiseVariant struct{}

type flowiseAPIKey struct {
	APIKey  string `json:"apiKey"`
	KeyName string `json:"keyName"`
}

// LoadEnv sets FLOWISE_API_KEY and FLOWISE_API_KEY_NAME from the first key in
// the Flowise config. Without a readable key existing values are kept.
func (flowiseVariant) LoadEnv(s *Service, env map[string]string) map[string]string {
	key, ok := readFlowiseAPIKey(filepath.Join(s.deps.VolumesDir, FlowiseAPIConfig))
	if ok {
		env["FLOWISE_API_KEY"] = key.APIKey
		env["FLOWISE_API_KEY_NAME"] = key.KeyName
		return env
	}
	for _, k := range []string{"FLOWISE_API_KEY", "FLOWISE_API_KEY_NAME"} {
		if _, set := env[k]; !set {
			env[k] = ""
		}
	}
	return env
}

func readFlowiseAPIKey(path string) (flowiseAPIKey, bool) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logging.Debug("Service", "Flowise config file not found: %s", path)
		return flowiseAPIKey{}, false
	}
	if err != nil {
		logging.Warn("Service", "Could not read the Flowise API key from %s: %v", path, err)
		return flowiseAPIKey{}, false
	}
	var keys []flowiseAPIKey
	if err := json.Unmarshal(data, &keys); err != nil {
		logging.Warn("Service", "Could not parse %s: %v", path, err)
		return flowiseAPIKey{}, false
	}
	if len(keys) == 0 {
		return flowiseAPIKey{}, false
	}
	return keys[0], true
}
