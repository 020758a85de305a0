package internal

import (
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/filedesk/internal/resource"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Auth     AuthConfig        `yaml:"auth"`
	Storages []StorageConfig   `yaml:"storages"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	return c.validateStorages()
}

func (c *Config) validateStorages() error {
	if len(c.Storages) == 0 {
		return fmt.Errorf("storages: at least one storage is required")
	}
	seen := make(map[int]bool, len(c.Storages))
	for i := range c.Storages {
		s := &c.Storages[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("storages[%d]: %w", i, err)
		}
		if seen[s.UID] {
			return fmt.Errorf("storages[%d]: duplicate uid %d", i, s.UID)
		}
		seen[s.UID] = true
	}
	return nil
}

// ResourceConfigs converts the storage section for the resource factory.
func (c *Config) ResourceConfigs() []resource.Config {
	out := make([]resource.Config, 0, len(c.Storages))
	for _, s := range c.Storages {
		out = append(out, resource.Config{
			UID:      s.UID,
			Name:     s.Name,
			Driver:   s.Driver,
			Writable: s.Writable,
			Options:  s.Options,
		})
	}
	return out
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level   `yaml:"log_level"`
	HTTP     HTTPConfig   `yaml:"http"`
	Upload   UploadConfig `yaml:"upload"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	return c.Upload.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// UploadConfig limits multipart uploads.
type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes"`
}

// Validate validates the upload configuration.
func (c *UploadConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxBytes, validation.Min(int64(0))),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// StorageConfig describes one storage. Options are passed to the driver
// as-is; see resource.LocalOptions and friends for the keys each accepts.
type StorageConfig struct {
	UID      int            `yaml:"uid"`
	Name     string         `yaml:"name"`
	Driver   string         `yaml:"driver"`
	Writable bool           `yaml:"writable"`
	Options  map[string]any `yaml:"options"`
}

// Validate validates the storage entry.
func (c *StorageConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.UID, validation.Required, validation.Min(1)),
		validation.Field(&c.Name, validation.Required),
		validation.Field(&c.Driver, validation.Required, validation.By(knownDriver)),
	)
}

func knownDriver(value any) error {
	name, _ := value.(string)
	if _, ok := resource.Drivers[name]; !ok {
		return fmt.Errorf("unknown driver %q", name)
	}
	return nil
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values: one
// writable local storage below ./data.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
			Upload: UploadConfig{
				MaxBytes: 50 << 20,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./filedesk.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Storages: []StorageConfig{
			{
				UID:      1,
				Name:     "Local files",
				Driver:   "local",
				Writable: true,
				Options:  map[string]any{"base_path": "./data"},
			},
		},
	}
}
