package descriptor

import (
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileName is the descriptor file looked up in every service directory.
const FileName = "service.yaml"

var (
	// ErrParse marks a descriptor file that is not valid YAML.
	ErrParse = errors.New("descriptor parse error")
	// ErrSchema marks a descriptor with missing or invalid fields, or a
	// duplicate id.
	ErrSchema = errors.New("descriptor schema error")
)

var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("servicename", func(fl validator.FieldLevel) bool {
		return serviceNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Load reads every service.yaml below dir, in lexical path order.
// It stops at the first malformed or invalid file.
func Load(dir string) ([]*Descriptor, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() && path != dir && strings.HasPrefix(entry.Name(), ".") {
			return filepath.SkipDir
		}
		if !entry.IsDir() && entry.Name() == FileName {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to scan services directory %s", dir)
	}
	sort.Strings(paths)

	descriptors := make([]*Descriptor, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		d, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[d.ID()]; dup {
			return nil, errors.Mark(
				errors.Newf("duplicate service id %q in %s (already declared in %s)", d.ID(), path, prev),
				ErrSchema,
			)
		}
		seen[d.ID()] = path
		descriptors = append(descriptors, d)
	}

	logging.Debug("Registry", "Loaded %d service descriptors from %s", len(descriptors), dir)
	return descriptors, nil
}

// LoadFile reads and validates a single descriptor file.
func LoadFile(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	d, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return d, nil
}

// Parse decodes descriptor YAML. dir anchors relative paths such as compose_file.
func Parse(data []byte, dir string) (*Descriptor, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid YAML"), ErrParse)
	}

	if err := validate.Struct(&f); err != nil {
		return nil, schemaError(err)
	}

	if f.ID == "" {
		f.ID = DefaultNamespace + "/" + f.Service
	}
	for _, e := range f.Provides {
		if e.Key == "" || e.Value == "" {
			return nil, errors.Mark(errors.New("provides entries need a capability and a container name"), ErrSchema)
		}
	}
	if f.Init != nil {
		for _, g := range f.Init.Generate {
			if err := validate.Struct(g.Value); err != nil {
				return nil, errors.Wrapf(schemaError(err), "init.generate.%s", g.Key)
			}
		}
	}

	return &Descriptor{f: f, dir: dir}, nil
}

func schemaError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errors.Mark(errors.Wrap(err, "invalid descriptor"), ErrSchema)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, field+" must be one of: "+fe.Param())
		case "servicename":
			msgs = append(msgs, field+" must start with a letter or digit and contain only letters, digits, '.', '_' or '-'")
		default:
			msgs = append(msgs, field+" failed "+fe.Tag()+" validation")
		}
	}
	return errors.Mark(errors.Newf("invalid descriptor: %s", strings.Join(msgs, "; ")), ErrSchema)
}
