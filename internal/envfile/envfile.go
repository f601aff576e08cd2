// Package envfile reads and updates the stack's .env file.
package envfile

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

var keyPattern = regexp.MustCompile(`^\s*(?:export\s+)?([A-Za-z_][A-Za-z0-9_]*)\s*=`)

// Store is a .env file on disk. Writes keep comments and unrelated lines.
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a Store for path. The file does not need to exist yet.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the file location.
func (s *Store) Path() string { return s.path }

// Load parses the file. A missing file yields an empty map.
func (s *Store) Load() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", s.path)
	}
	env, err := godotenv.UnmarshalBytes(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", s.path)
	}
	return env, nil
}

// Get returns a single value.
func (s *Store) Get(key string) (string, bool, error) {
	env, err := s.Load()
	if err != nil {
		return "", false, err
	}
	v, ok := env[key]
	return v, ok, nil
}

// SetVars writes vars into the file: existing keys are replaced in place,
// new keys are appended in sorted order.
func (s *Store) SetVars(vars map[string]string) error {
	if len(vars) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "failed to read %s", s.path)
	}

	pending := make(map[string]string, len(vars))
	for k, v := range vars {
		pending[k] = v
	}

	var out bytes.Buffer
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := keyPattern.FindStringSubmatch(line); m != nil {
			if v, ok := pending[m[1]]; ok {
				line = m[1] + "=" + quote(v)
				delete(pending, m[1])
			}
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "failed to scan %s", s.path)
	}

	keys := make([]string, 0, len(pending))
	for k := range pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.WriteString(k + "=" + quote(pending[k]) + "\n")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(s.path))
	}
	if err := os.WriteFile(s.path, out.Bytes(), 0o600); err != nil {
		return errors.Wrapf(err, "failed to write %s", s.path)
	}
	return nil
}

// CreateFromExample copies example to the store path unless the file already
// exists. It reports whether a file was created.
func (s *Store) CreateFromExample(example string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	}
	data, err := os.ReadFile(example)
	if err != nil {
		return false, errors.Wrapf(err, "failed to read %s", example)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return false, errors.Wrapf(err, "failed to write %s", s.path)
	}
	return true, nil
}

// Expand substitutes ${VAR} and $VAR references from env. Unknown variables
// expand to the empty string.
func Expand(s string, env map[string]string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	return os.Expand(s, func(key string) string {
		return env[key]
	})
}

// quote wraps values that godotenv would otherwise split or reinterpret.
// Single quotes keep the value literal; values containing one fall back to
// double quotes with escapes.
func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t#\"'\\$\n") {
		return v
	}
	if !strings.ContainsAny(v, "'\n") {
		return "'" + v + "'"
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "$", `\$`)
	return `"` + r.Replace(v) + `"`
}
