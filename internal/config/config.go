// Package config loads the service settings from defaults, an optional config
// file, an optional .env file and the environment, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppPort     string
	Store       StoreConfig
	Auth        AuthConfig
	Form        FormConfig
	Status      StatusConfig
	Redis       RedisConfig
	RabbitMQURL string
	Log         LogConfig
}

type StoreConfig struct {
	Driver    string // sqlite, postgres, mysql, sheet or memory
	DSN       string
	SheetPath string
}

type AuthConfig struct {
	JWTSecret      string
	TokenTTL       time.Duration
	BcryptCost     int
	AdminUsernames []string
}

type FormConfig struct {
	ClassOptions            []string
	CohortOptions           []string
	RequireArtifactFilename bool
}

type StatusConfig struct {
	WriteEncoding string
	DoneLabels    []string
	DoneLabel     string
	NotDoneLabel  string
}

// RedisConfig is disabled when Addr is empty.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("STORE_DRIVER", "sqlite")
	v.SetDefault("DATABASE_DSN", "rplhub.db")
	v.SetDefault("SHEET_PATH", "rplhub.xlsx")
	v.SetDefault("JWT_SECRET", "change-me")
	v.SetDefault("TOKEN_TTL", 12*time.Hour)
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("ADMIN_USERNAMES", "admin")
	v.SetDefault("CLASS_OPTIONS", "XI RPL 1,XI RPL 2,XI RPL 3")
	v.SetDefault("COHORT_OPTIONS", "2024/2025,2025/2026")
	v.SetDefault("STATUS_WRITE_ENCODING", "truefalse")
	v.SetDefault("STATUS_DONE_LABELS", "Sudah Mengerjakan")
	v.SetDefault("STATUS_DONE_LABEL", "Sudah Mengerjakan")
	v.SetDefault("STATUS_NOT_DONE_LABEL", "Belum Mengerjakan")
	v.SetDefault("REQUIRE_ARTIFACT_FILENAME", false)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL", 5*time.Minute)
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// Load reads the configuration. dotEnvPath may be empty; a missing .env file
// is not an error. CONFIG_PATH, when set, names a yaml or json file whose keys
// match the environment variable names.
func Load(dotEnvPath string) (*Config, error) {
	if dotEnvPath != "" {
		if _, err := os.Stat(dotEnvPath); err == nil {
			if err := godotenv.Load(dotEnvPath); err != nil {
				return nil, fmt.Errorf("config.godotenv(%s): %w", dotEnvPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config.os.Stat(%s): %w", dotEnvPath, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config.ReadInConfig(%s): %w", path, err)
		}
	}

	cfg := &Config{
		AppPort: v.GetString("APP_PORT"),
		Store: StoreConfig{
			Driver:    strings.ToLower(v.GetString("STORE_DRIVER")),
			DSN:       v.GetString("DATABASE_DSN"),
			SheetPath: v.GetString("SHEET_PATH"),
		},
		Auth: AuthConfig{
			JWTSecret:      v.GetString("JWT_SECRET"),
			TokenTTL:       v.GetDuration("TOKEN_TTL"),
			BcryptCost:     v.GetInt("BCRYPT_COST"),
			AdminUsernames: list(v.Get("ADMIN_USERNAMES")),
		},
		Form: FormConfig{
			ClassOptions:            list(v.Get("CLASS_OPTIONS")),
			CohortOptions:           list(v.Get("COHORT_OPTIONS")),
			RequireArtifactFilename: v.GetBool("REQUIRE_ARTIFACT_FILENAME"),
		},
		Status: StatusConfig{
			WriteEncoding: strings.ToLower(v.GetString("STATUS_WRITE_ENCODING")),
			DoneLabels:    list(v.Get("STATUS_DONE_LABELS")),
			DoneLabel:     v.GetString("STATUS_DONE_LABEL"),
			NotDoneLabel:  v.GetString("STATUS_NOT_DONE_LABEL"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			TTL:      v.GetDuration("CACHE_TTL"),
		},
		RabbitMQURL: v.GetString("RABBITMQ_URL"),
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString("LOG_LEVEL")),
			Format: strings.ToLower(v.GetString("LOG_FORMAT")),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres", "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("DATABASE_DSN is required for store driver %s", c.Store.Driver)
		}
	case "sheet":
		if c.Store.SheetPath == "" {
			return fmt.Errorf("SHEET_PATH is required for store driver sheet")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.Auth.TokenTTL)
	}
	if len(c.Form.ClassOptions) == 0 {
		return fmt.Errorf("CLASS_OPTIONS must list at least one class")
	}
	return nil
}

// list accepts a comma-separated string from the environment or a list from a
// config file. Class labels contain spaces, so whitespace is not a separator.
func list(raw interface{}) []string {
	var items []string
	switch v := raw.(type) {
	case string:
		items = strings.Split(v, ",")
	case []string:
		items = v
	case []interface{}:
		for _, item := range v {
			items = append(items, fmt.Sprint(item))
		}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
