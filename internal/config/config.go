package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from flags, files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`

	Host                     string        `mapstructure:"host"`
	Port                     int           `mapstructure:"port"`
	JWTSecret                string        `mapstructure:"jwt_secret"`
	CORSAllowedOrigins       string        `mapstructure:"cors_allowed_origins"`
	ShutdownTimeoutSeconds   int64         `mapstructure:"shutdown_timeout_seconds"`
	ReadHeaderTimeoutSeconds int64         `mapstructure:"read_header_timeout_seconds"`
	ShutdownTimeout          time.Duration `mapstructure:"-"`
	ReadHeaderTimeout        time.Duration `mapstructure:"-"`

	StorageType    string `mapstructure:"storage_type"`
	BBoltPath      string `mapstructure:"bbolt_path"`
	SQLitePath     string `mapstructure:"sqlite_path"`
	PublishersFile string `mapstructure:"publishers_file"`
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AllowedOrigins splits the comma separated CORS origin list.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Redacted returns a copy safe to log; the JWT secret is masked.
func (c Config) Redacted() Config {
	if c.JWTSecret != "" {
		c.JWTSecret = "***"
	}
	return c
}

// Load reads configuration from environment variables, an optional .env file and
// the given flag set (nil is allowed). Flags override the environment.
func Load(flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "nexlink")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("host", "")
	v.SetDefault("port", 5000)
	v.SetDefault("jwt_secret", "")
	v.SetDefault("cors_allowed_origins", "*")
	v.SetDefault("shutdown_timeout_seconds", 10)
	v.SetDefault("read_header_timeout_seconds", 10)
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/nexlink.db")
	v.SetDefault("sqlite_path", "./data/nexlink.sqlite")
	v.SetDefault("publishers_file", "")

	v.AutomaticEnv()

	if flags != nil {
		// --storage-type binds to storage_type
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finalize() error {
	c.JWTSecret = strings.TrimSpace(c.JWTSecret)
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid shutdown_timeout_seconds (must be positive seconds)")
	}
	if c.ReadHeaderTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid read_header_timeout_seconds (must be positive seconds)")
	}
	c.ShutdownTimeout = time.Duration(c.ShutdownTimeoutSeconds) * time.Second
	c.ReadHeaderTimeout = time.Duration(c.ReadHeaderTimeoutSeconds) * time.Second
	c.StorageType = strings.ToLower(strings.TrimSpace(c.StorageType))
	return nil
}
