// Package descriptor loads the declarative per-service files (service.yaml)
// into immutable Descriptor values.
//
// A Descriptor only exposes read accessors; every slice or map it hands out is
// a copy, so nothing outside this package can change a loaded descriptor.
package descriptor

import (
	"path/filepath"
)

// DefaultNamespace prefixes ids of descriptors that do not declare one.
const DefaultNamespace = "llmn"

// Generation methods understood by init.generate directives.
const (
	MethodSecretKey    = "generateSecretKey"
	MethodRandomBase64 = "generateRandomBase64"
	MethodUUID         = "generateUUID"
)

// Repo describes an auxiliary repository cloned before the service starts.
type Repo struct {
	URL       string     `yaml:"url" validate:"required"`
	Dir       string     `yaml:"dir" validate:"required"`
	Sparse    bool       `yaml:"sparse"`
	SparseDir StringList `yaml:"sparse_dir"`
	CheckFile string     `yaml:"check_file"`
}

// VolumeSeed copies a file or directory into the volumes tree once.
type VolumeSeed struct {
	Source      string `yaml:"source" validate:"required"`
	Destination string `yaml:"destination" validate:"required"`
	FromRepo    bool   `yaml:"from_repo"`
}

// Endpoint is one exposed URL, optionally with credentials shown to the user.
type Endpoint struct {
	Name        string             `yaml:"name"`
	URL         string             `yaml:"url" validate:"required"`
	Credentials OrderedMap[string] `yaml:"credentials"`
}

// Exposes groups endpoints reachable from the host and inside the stack network.
type Exposes struct {
	Host     OrderedMap[Endpoint] `yaml:"host"`
	Internal OrderedMap[Endpoint] `yaml:"internal"`
}

// PostgresSchema names the env keys that hold a service's schema credentials.
type PostgresSchema struct {
	User   string `yaml:"user" validate:"required"`
	Pass   string `yaml:"pass" validate:"required"`
	Schema string `yaml:"schema"`
}

// Generate is a secret generation directive for one env key.
type Generate struct {
	Method string `yaml:"method" validate:"required,oneof=generateSecretKey generateRandomBase64 generateUUID"`
	Length int    `yaml:"length" validate:"gte=0"`
	Prefix string `yaml:"prefix"`
}

// InitDirectives are the one-time setup steps of a service.
type InitDirectives struct {
	PostgresSchema *PostgresSchema      `yaml:"postgres_schema"`
	Generate       OrderedMap[Generate] `yaml:"generate"`
}

// file mirrors service.yaml.
type file struct {
	ID            string             `yaml:"id"`
	Service       string             `yaml:"service" validate:"required,servicename"`
	Name          string             `yaml:"name"`
	Description   string             `yaml:"description"`
	ComposeFile   string             `yaml:"compose_file" validate:"required"`
	ServiceGroup  string             `yaml:"service_group"`
	Provides      OrderedMap[string] `yaml:"provides"`
	DependsOn     dependsOn          `yaml:"depends_on"`
	Repo          *Repo              `yaml:"repo"`
	Volumes       []string           `yaml:"volumes" validate:"dive,required"`
	VolumeSeeds   []VolumeSeed       `yaml:"volumes_seeds" validate:"dive"`
	AppVersionCmd []string           `yaml:"app_version_cmd"`
	Exposes       Exposes            `yaml:"exposes"`
	Init          *InitDirectives    `yaml:"init"`
}

// Descriptor is the immutable, parsed form of one service.yaml.
type Descriptor struct {
	f   file
	dir string
}

// ID is the unique service id, "<namespace>/<service>" unless declared.
func (d *Descriptor) ID() string { return d.f.ID }

// Service is the short service name, also used as the compose project member name.
func (d *Descriptor) Service() string { return d.f.Service }

// Name is the display name; it falls back to the service name.
func (d *Descriptor) Name() string {
	if d.f.Name != "" {
		return d.f.Name
	}
	return d.f.Service
}

func (d *Descriptor) Description() string { return d.f.Description }

// Group is the service group used for batch ordering.
func (d *Descriptor) Group() string { return d.f.ServiceGroup }

// Dir is the directory the descriptor was loaded from.
func (d *Descriptor) Dir() string { return d.dir }

// ComposeFile returns the compose fragment path, resolved against Dir.
func (d *Descriptor) ComposeFile() string {
	if filepath.IsAbs(d.f.ComposeFile) || d.dir == "" {
		return d.f.ComposeFile
	}
	return filepath.Join(d.dir, d.f.ComposeFile)
}

// DependsOn returns the declared dependency references (ids or service names).
func (d *Descriptor) DependsOn() []string {
	return append([]string(nil), d.f.DependsOn...)
}

// Provides returns capability -> container pairs in declaration order.
func (d *Descriptor) Provides() OrderedMap[string] {
	return d.f.Provides.clone()
}

// Containers returns the provided container names in declaration order.
func (d *Descriptor) Containers() []string {
	out := make([]string, 0, len(d.f.Provides))
	for _, e := range d.f.Provides {
		out = append(out, e.Value)
	}
	return out
}

// PrimaryContainer is the container of the first provides entry, or "".
func (d *Descriptor) PrimaryContainer() string {
	if len(d.f.Provides) == 0 {
		return ""
	}
	return d.f.Provides[0].Value
}

// ProvidesCapability reports whether capability appears in provides.
func (d *Descriptor) ProvidesCapability(capability string) bool {
	_, ok := d.f.Provides.Get(capability)
	return ok
}

// Repo returns the repository directive, if any.
func (d *Descriptor) Repo() (Repo, bool) {
	if d.f.Repo == nil {
		return Repo{}, false
	}
	r := *d.f.Repo
	r.SparseDir = append(StringList(nil), r.SparseDir...)
	return r, true
}

func (d *Descriptor) Volumes() []string {
	return append([]string(nil), d.f.Volumes...)
}

func (d *Descriptor) VolumeSeeds() []VolumeSeed {
	return append([]VolumeSeed(nil), d.f.VolumeSeeds...)
}

func (d *Descriptor) AppVersionCmd() []string {
	return append([]string(nil), d.f.AppVersionCmd...)
}

// Exposes returns a copy of the exposed endpoints.
func (d *Descriptor) Exposes() Exposes {
	return Exposes{
		Host:     cloneEndpoints(d.f.Exposes.Host),
		Internal: cloneEndpoints(d.f.Exposes.Internal),
	}
}

// Init returns a copy of the init directives. The zero value means none.
func (d *Descriptor) Init() InitDirectives {
	if d.f.Init == nil {
		return InitDirectives{}
	}
	out := InitDirectives{Generate: d.f.Init.Generate.clone()}
	if d.f.Init.PostgresSchema != nil {
		ps := *d.f.Init.PostgresSchema
		out.PostgresSchema = &ps
	}
	return out
}

func cloneEndpoints(in OrderedMap[Endpoint]) OrderedMap[Endpoint] {
	if in == nil {
		return nil
	}
	out := make(OrderedMap[Endpoint], len(in))
	for i, e := range in {
		ep := e.Value
		ep.Credentials = ep.Credentials.clone()
		out[i] = Entry[Endpoint]{Key: e.Key, Value: ep}
	}
	return out
}
