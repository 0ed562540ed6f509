package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/conduit-lang/waterline/internal/logging"
	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/adapter/boltstore"
	"github.com/conduit-lang/waterline/internal/orm/adapter/memory"
	"github.com/conduit-lang/waterline/internal/orm/adapter/redisstore"
	"github.com/conduit-lang/waterline/internal/orm/adapter/sqldb"
)

// FileName is the configuration file name without extension
const FileName = "waterline"

// ErrNotInProject is returned when no directory up the tree holds waterline.yml
var ErrNotInProject = errors.New("not in a Waterline project")

// Adapter types accepted in the adapters section
const (
	TypeMemory   = "memory"
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"
	TypeRedis    = "redis"
	TypeBolt     = "bolt"
)

// Config represents the Waterline configuration
type Config struct {
	ProjectName string                        `mapstructure:"project_name" yaml:"project_name,omitempty"`
	ModelsDir   string                        `mapstructure:"models_dir" yaml:"models_dir,omitempty"`
	Log         LogConfig                     `mapstructure:"log" yaml:"log,omitempty"`
	Server      ServerConfig                  `mapstructure:"server" yaml:"server,omitempty"`
	Adapters    map[string]AdapterConfig      `mapstructure:"adapters" yaml:"adapters,omitempty"`
	Connections map[string]adapter.Connection `mapstructure:"connections" yaml:"connections,omitempty"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level,omitempty"`
	Development bool   `mapstructure:"development" yaml:"development,omitempty"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port      int    `mapstructure:"port" yaml:"port,omitempty"`
	Host      string `mapstructure:"host" yaml:"host,omitempty"`
	APIPrefix string `mapstructure:"api_prefix" yaml:"api_prefix,omitempty"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AdapterConfig describes one adapter instance. Which fields apply depends on Type.
type AdapterConfig struct {
	Type     string `mapstructure:"type" yaml:"type,omitempty"`
	URL      string `mapstructure:"url" yaml:"url,omitempty"`
	Path     string `mapstructure:"path" yaml:"path,omitempty"`
	Addr     string `mapstructure:"addr" yaml:"addr,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" yaml:"db,omitempty"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// Load loads the configuration from waterline.yml in the current directory
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom loads the configuration from waterline.yml or waterline.yaml in dir.
// Values can be overridden with WATERLINE_ environment variables, for example
// WATERLINE_SERVER_PORT or WATERLINE_ADAPTERS_PG_URL.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("models_dir", "models")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("server.port", 1337)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.api_prefix", "")

	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("WATERLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &config)
	applyAdapterDefaults(&config)

	if config.ModelsDir != "" && !filepath.IsAbs(config.ModelsDir) {
		config.ModelsDir = filepath.Join(dir, config.ModelsDir)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// applyEnvOverrides lets WATERLINE_ADAPTERS_<NAME>_<FIELD> reach adapters declared in
// the file. AutomaticEnv only sees keys viper already knows, and map entries are not
// bound individually.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	for name, ac := range cfg.Adapters {
		key := "adapters." + name + "."
		if s := v.GetString(key + "url"); s != "" {
			ac.URL = s
		}
		if s := v.GetString(key + "path"); s != "" {
			ac.Path = s
		}
		if s := v.GetString(key + "addr"); s != "" {
			ac.Addr = s
		}
		if s := v.GetString(key + "password"); s != "" {
			ac.Password = s
		}
		cfg.Adapters[name] = ac
	}
}

// applyAdapterDefaults gives a bare configuration one in-memory adapter bound to the
// default connection
func applyAdapterDefaults(cfg *Config) {
	if len(cfg.Adapters) == 0 {
		cfg.Adapters = map[string]AdapterConfig{TypeMemory: {Type: TypeMemory}}
	}
	if len(cfg.Connections) == 0 && len(cfg.Adapters) == 1 {
		for name := range cfg.Adapters {
			cfg.Connections = map[string]adapter.Connection{adapter.DefaultConnection: {Adapter: name}}
		}
	}
}

// AdapterNames returns the configured adapter names, sorted
func (c *Config) AdapterNames() []string {
	names := make([]string, 0, len(c.Adapters))
	for name := range c.Adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildAdapters constructs the adapters named by connections. Adapters no
// connection uses are left unopened. Nothing connects until the ontology registers
// models with them.
func (c *Config) BuildAdapters() (map[string]adapter.Adapter, error) {
	out := make(map[string]adapter.Adapter, len(c.Connections))
	for _, name := range c.ConnectedAdapterNames() {
		ac, ok := c.Adapters[name]
		if !ok {
			return nil, fmt.Errorf("adapter %q is not configured", name)
		}
		a, err := buildAdapter(ac)
		if err != nil {
			return nil, fmt.Errorf("adapter %s: %w", name, err)
		}
		out[name] = a
	}
	return out, nil
}

// ConnectedAdapterNames returns the adapters some connection refers to, sorted
func (c *Config) ConnectedAdapterNames() []string {
	seen := make(map[string]bool, len(c.Connections))
	var names []string
	for _, conn := range c.Connections {
		if !seen[conn.Adapter] {
			seen[conn.Adapter] = true
			names = append(names, conn.Adapter)
		}
	}
	sort.Strings(names)
	return names
}

// BuildAdapter constructs one configured adapter by name
func (c *Config) BuildAdapter(name string) (adapter.Adapter, error) {
	ac, ok := c.Adapters[name]
	if !ok {
		return nil, fmt.Errorf("adapter %q is not configured", name)
	}
	return buildAdapter(ac)
}

func buildAdapter(ac AdapterConfig) (adapter.Adapter, error) {
	switch strings.ToLower(ac.Type) {
	case TypeMemory:
		return memory.New(), nil
	case TypePostgres, "postgresql":
		if ac.URL == "" {
			if url := os.Getenv("DATABASE_URL"); url != "" {
				ac.URL = url
			} else {
				return nil, errors.New("postgres adapter requires url")
			}
		}
		return sqldb.Open(sqldb.Postgres{}, ac.URL)
	case TypeSQLite, "sqlite3":
		if ac.Path == "" {
			return nil, errors.New("sqlite adapter requires path")
		}
		return sqldb.Open(sqldb.SQLite{}, ac.Path)
	case TypeRedis:
		rc := redisstore.DefaultConfig()
		if ac.Addr != "" {
			rc.Addr = ac.Addr
		}
		if ac.Prefix != "" {
			rc.Prefix = ac.Prefix
		}
		rc.Password = ac.Password
		rc.DB = ac.DB
		return redisstore.New(rc), nil
	case TypeBolt:
		if ac.Path == "" {
			return nil, errors.New("bolt adapter requires path")
		}
		return boltstore.New(ac.Path), nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.Type)
	}
}

// GetProjectRoot walks up from the working directory looking for waterline.yml
func GetProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return FindProjectRoot(dir)
}

// FindProjectRoot walks up from start looking for waterline.yml or waterline.yaml
func FindProjectRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, FileName+".yml")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, FileName+".yaml")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w (no %s.yml found)", ErrNotInProject, FileName)
		}
		dir = parent
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	// Validate API prefix format
	if cfg.Server.APIPrefix != "" {
		if !strings.HasPrefix(cfg.Server.APIPrefix, "/") {
			return fmt.Errorf("server.api_prefix must start with '/', got: %s", cfg.Server.APIPrefix)
		}
		if strings.HasSuffix(cfg.Server.APIPrefix, "/") {
			return fmt.Errorf("server.api_prefix must not end with '/', got: %s", cfg.Server.APIPrefix)
		}
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	for _, name := range cfg.AdapterNames() {
		if cfg.Adapters[name].Type == "" {
			return fmt.Errorf("adapters.%s.type is required", name)
		}
	}

	for name, conn := range cfg.Connections {
		if _, ok := cfg.Adapters[conn.Adapter]; !ok {
			return fmt.Errorf("connections.%s names adapter %q, which is not configured", name, conn.Adapter)
		}
	}
	return nil
}
