package services

import (
	"strings"

	"llmn/internal/descriptor"
	"llmn/internal/envfile"
)

// Endpoint scopes.
const (
	ScopeHost     = "host"
	ScopeInternal = "internal"
)

// Credential is one label/value pair shown next to an endpoint.
type Credential struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// Endpoint is an exposed URL with env references already expanded.
type Endpoint struct {
	Service     string       `json:"service" yaml:"service"`
	Scope       string       `json:"scope" yaml:"scope"`
	Key         string       `json:"key" yaml:"key"`
	Name        string       `json:"name,omitempty" yaml:"name,omitempty"`
	URL         string       `json:"url" yaml:"url"`
	Credentials []Credential `json:"credentials,omitempty" yaml:"credentials,omitempty"`
}

// Endpoints returns the endpoints matching selector. A selector is
// "<scope>.<key>" where either part may be "*"; a bare scope means all keys
// of that scope and an empty selector means "host.*".
func (s *Service) Endpoints(selector string) ([]Endpoint, error) {
	env, err := s.ComposeEnv(nil)
	if err != nil {
		return nil, err
	}
	if r, ok := s.variant.(EndpointResolver); ok {
		return r.Endpoints(s, selector, env), nil
	}
	return s.declaredEndpoints(selector, env), nil
}

func (s *Service) declaredEndpoints(selector string, env map[string]string) []Endpoint {
	scope, key := parseSelector(selector)
	exposes := s.desc.Exposes()

	var out []Endpoint
	add := func(sc string, eps descriptor.OrderedMap[descriptor.Endpoint]) {
		if scope != "*" && scope != sc {
			return
		}
		for _, e := range eps {
			if key != "*" && key != e.Key {
				continue
			}
			out = append(out, s.expandEndpoint(sc, e.Key, e.Value, env))
		}
	}
	add(ScopeHost, exposes.Host)
	add(ScopeInternal, exposes.Internal)
	return out
}

func (s *Service) expandEndpoint(scope, key string, e descriptor.Endpoint, env map[string]string) Endpoint {
	ep := Endpoint{
		Service: s.ID(),
		Scope:   scope,
		Key:     key,
		Name:    e.Name,
		URL:     envfile.Expand(e.URL, env),
	}
	for _, c := range e.Credentials {
		ep.Credentials = append(ep.Credentials, Credential{Label: c.Key, Value: envfile.Expand(c.Value, env)})
	}
	return ep
}

func parseSelector(selector string) (scope, key string) {
	if selector == "" {
		return ScopeHost, "*"
	}
	scope, key, found := strings.Cut(selector, ".")
	if !found || key == "" {
		key = "*"
	}
	if scope == "" {
		scope = "*"
	}
	return scope, key
}
