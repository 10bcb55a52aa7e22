package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvAnthropicModel  = "ANTHROPIC_MODEL"
	EnvPGUser          = "PGUSER"
	EnvPGDatabase      = "PGDATABASE"
	EnvPGHost          = "PGHOST"
	EnvPGPassword      = "PGPASSWORD"
	EnvPGPort          = "PGPORT"
	EnvPGSSLMode       = "PGSSLMODE"
	EnvReadOnly        = "PGMCP_READ_ONLY"
	EnvMaxRows         = "PGMCP_MAX_ROWS"
	EnvQueryTimeout    = "PGMCP_QUERY_TIMEOUT"

	DefaultEnvFile      = ".env"
	defaultPort         = "5432"
	defaultSSLMode      = "prefer"
	defaultMaxRows      = 1000
	defaultQueryTimeout = 30 * time.Second

	redacted = "REDACTED"
)

var ErrMissingEnv = errors.New("missing required environment variables")

// Postgres holds the connection settings read from the standard libpq variables.
type Postgres struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnString returns a libpq keyword/value DSN with every value quoted, so socket
// directories in PGHOST and passwords with spaces or quotes pass through intact.
func (p Postgres) ConnString() string {
	return p.dsn(p.Password)
}

// Redacted returns the DSN with the password masked, safe for logs.
func (p Postgres) Redacted() string {
	if p.Password == "" {
		return p.dsn("")
	}
	return p.dsn(redacted)
}

func (p Postgres) dsn(password string) string {
	pairs := []struct{ key, value string }{
		{"host", p.Host},
		{"port", p.Port},
		{"user", p.User},
		{"password", password},
		{"dbname", p.Database},
		{"sslmode", p.SSLMode},
	}
	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		if kv.value == "" {
			continue
		}
		parts = append(parts, kv.key+"="+quoteDSNValue(kv.value))
	}
	return strings.Join(parts, " ")
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quoteDSNValue(v string) string {
	return "'" + dsnEscaper.Replace(v) + "'"
}

func (p Postgres) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", p.Host),
		slog.String("port", p.Port),
		slog.String("user", p.User),
		slog.String("database", p.Database),
		slog.String("sslmode", p.SSLMode),
	)
}

type Config struct {
	Postgres Postgres

	AnthropicAPIKey string
	AnthropicModel  string

	ReadOnly     bool
	MaxRows      int
	QueryTimeout time.Duration
}

func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("postgres", c.Postgres),
		slog.Bool("read_only", c.ReadOnly),
		slog.Int("max_rows", c.MaxRows),
		slog.Duration("query_timeout", c.QueryTimeout),
		slog.Bool("anthropic_key_set", c.AnthropicAPIKey != ""),
		slog.String("anthropic_model", c.AnthropicModel),
	)
}

// Load reads configuration from the environment after loading envFile, if it exists.
// Variables already present in the environment take precedence over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Postgres: Postgres{
			Host:     os.Getenv(EnvPGHost),
			Port:     getEnv(EnvPGPort, defaultPort),
			User:     os.Getenv(EnvPGUser),
			Password: os.Getenv(EnvPGPassword),
			Database: os.Getenv(EnvPGDatabase),
			SSLMode:  getEnv(EnvPGSSLMode, defaultSSLMode),
		},
		AnthropicAPIKey: os.Getenv(EnvAnthropicAPIKey),
		AnthropicModel:  os.Getenv(EnvAnthropicModel),
	}

	var err error
	if cfg.ReadOnly, err = strconv.ParseBool(getEnv(EnvReadOnly, "true")); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvReadOnly, err)
	}
	if cfg.MaxRows, err = strconv.Atoi(getEnv(EnvMaxRows, strconv.Itoa(defaultMaxRows))); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvMaxRows, err)
	}
	if cfg.MaxRows <= 0 {
		return nil, fmt.Errorf("invalid %s: must be positive", EnvMaxRows)
	}
	if cfg.QueryTimeout, err = time.ParseDuration(getEnv(EnvQueryTimeout, defaultQueryTimeout.String())); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", EnvQueryTimeout, err)
	}

	return cfg, nil
}

// ValidateServer checks the variables the MCP server needs before it touches the database.
func (c *Config) ValidateServer() error {
	return requireSet(map[string]string{
		EnvPGUser:     c.Postgres.User,
		EnvPGDatabase: c.Postgres.Database,
		EnvPGHost:     c.Postgres.Host,
		EnvPGPassword: c.Postgres.Password,
	})
}

// ValidateClient checks the variables the chat client needs to reach the model API.
func (c *Config) ValidateClient() error {
	return requireSet(map[string]string{
		EnvAnthropicAPIKey: c.AnthropicAPIKey,
	})
}

func requireSet(vars map[string]string) error {
	var missing []string
	for name, value := range vars {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
