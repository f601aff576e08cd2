// Package postgres checks connectivity to the stack's postgres provider and
// manages per-service schemas and roles.
package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"llmn/internal/secrets"
	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
)

// Defaults used when the env file does not override them.
const (
	DefaultHost     = "localhost"
	DefaultPort     = 5432
	DefaultUser     = "postgres"
	DefaultDatabase = "postgres"
)

// Config holds connection parameters for the admin connection.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

// ConfigFromEnv reads POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER,
// POSTGRES_PASSWORD and POSTGRES_DB, falling back to the defaults.
func ConfigFromEnv(env map[string]string) Config {
	cfg := Config{
		Host:     DefaultHost,
		Port:     DefaultPort,
		User:     DefaultUser,
		Password: env["POSTGRES_PASSWORD"],
		Database: DefaultDatabase,
		Timeout:  5 * time.Second,
	}
	if v := env["POSTGRES_HOST"]; v != "" {
		cfg.Host = v
	}
	if v, err := strconv.Atoi(env["POSTGRES_PORT"]); err == nil && v > 0 {
		cfg.Port = v
	}
	if v := env["POSTGRES_USER"]; v != "" {
		cfg.User = v
	}
	if v := env["POSTGRES_DB"]; v != "" {
		cfg.Database = v
	}
	return cfg
}

// ConnString renders cfg as a postgres URL.
func (c Config) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	if c.Timeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(int(c.Timeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Credentials are the generated login of a service schema.
type Credentials struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
	Schema   string `json:"schema" yaml:"schema"`
}

// Client runs admin statements against postgres.
type Client struct {
	cfg     Config
	secrets secrets.Generator
}

// NewClient creates a client; no connection is made until a method is called.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Ping opens a connection and runs SELECT 1.
func (c *Client) Ping(ctx context.Context) error {
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	var one int
	if err := conn.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return errors.Wrap(err, "postgres did not answer SELECT 1")
	}
	return nil
}

// CreateSchema creates (or refreshes) the role and schema for service and
// returns the new credentials. Running it again rotates the password.
func (c *Client) CreateSchema(ctx context.Context, service string) (Credentials, error) {
	name := SchemaName(service)
	password, err := c.secrets.SecretKey(24)
	if err != nil {
		return Credentials{}, err
	}

	conn, err := c.connect(ctx)
	if err != nil {
		return Credentials{}, err
	}
	defer conn.Close(context.Background())

	var exists bool
	if err := conn.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)", name).Scan(&exists); err != nil {
		return Credentials{}, errors.Wrapf(err, "checking role %s", name)
	}

	for _, stmt := range createStatements(name, password, exists) {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return Credentials{}, errors.Wrapf(err, "creating schema for %s", service)
		}
	}

	logging.Info("Postgres", "Created schema %s for %s", name, service)
	return Credentials{Username: name, Password: password, Database: c.cfg.Database, Schema: name}, nil
}

// RemoveSchema drops the schema (cascading) and the role of service.
func (c *Client) RemoveSchema(ctx context.Context, service string) (Credentials, error) {
	name := SchemaName(service)

	conn, err := c.connect(ctx)
	if err != nil {
		return Credentials{}, err
	}
	defer conn.Close(context.Background())

	for _, stmt := range removeStatements(name) {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return Credentials{}, errors.Wrapf(err, "removing schema for %s", service)
		}
	}

	logging.Info("Postgres", "Removed schema %s for %s", name, service)
	return Credentials{Username: name, Database: c.cfg.Database, Schema: name}, nil
}

func (c *Client) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, c.cfg.ConnString())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to postgres at %s:%d", c.cfg.Host, c.cfg.Port)
	}
	return conn, nil
}

// SchemaName maps a service name to the role and schema name service_<name>.
func SchemaName(service string) string {
	var b strings.Builder
	b.WriteString("service_")
	for _, r := range strings.ToLower(service) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func createStatements(name, password string, roleExists bool) []string {
	ident := pgx.Identifier{name}.Sanitize()
	verb := "CREATE ROLE"
	if roleExists {
		verb = "ALTER ROLE"
	}
	return []string{
		fmt.Sprintf("%s %s WITH LOGIN PASSWORD %s", verb, ident, literal(password)),
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s AUTHORIZATION %s", ident, ident),
		fmt.Sprintf("GRANT USAGE, CREATE ON SCHEMA %s TO %s", ident, ident),
		fmt.Sprintf("ALTER ROLE %s SET search_path TO %s", ident, ident),
	}
}

func removeStatements(name string) []string {
	ident := pgx.Identifier{name}.Sanitize()
	return []string{
		fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", ident),
		fmt.Sprintf("DROP ROLE IF EXISTS %s", ident),
	}
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
