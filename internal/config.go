package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App          ApplicationConfig  `yaml:"app"`
	Wiki         WikiConfig         `yaml:"wiki"`
	Announcement AnnouncementConfig `yaml:"announcement"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Inbox        InboxConfig        `yaml:"inbox"`
	Auth         AuthConfig         `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Wiki.Validate(); err != nil {
		return err
	}
	if err := c.Announcement.Validate(); err != nil {
		return err
	}
	if err := c.Ledger.Validate(); err != nil {
		return err
	}
	if err := c.Schedule.Validate(); err != nil {
		return err
	}
	if err := c.Inbox.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
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

// WikiConfig describes the wiki remote and its local checkout.
//
// A relative Path is resolved against the directory of the running
// executable when RelativeToBinary is set, otherwise against the process
// working directory.
type WikiConfig struct {
	RemoteURL        string `yaml:"remote_url"`
	Path             string `yaml:"path"`
	RelativeToBinary bool   `yaml:"relative_to_binary"`
	IndexFile        string `yaml:"index_file"`
	IndexEnabled     bool   `yaml:"index_enabled"`
	TemplatePath     string `yaml:"template_path"`
	GitBinary        string `yaml:"git_binary"`
}

// Validate validates the wiki configuration.
func (c *WikiConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RemoteURL, validation.Required),
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.IndexFile, validation.When(c.IndexEnabled, validation.Required)),
	)
}

// CheckoutPath returns the absolute checkout path.
func (c *WikiConfig) CheckoutPath() (string, error) {
	exe := ""
	if c.RelativeToBinary {
		var err error
		if exe, err = os.Executable(); err != nil {
			return "", fmt.Errorf("locate executable: %w", err)
		}
	}
	return c.resolvePath(exe)
}

func (c *WikiConfig) resolvePath(exe string) (string, error) {
	if filepath.IsAbs(c.Path) {
		return filepath.Clean(c.Path), nil
	}
	if c.RelativeToBinary && exe != "" {
		return filepath.Join(filepath.Dir(exe), c.Path), nil
	}
	return filepath.Abs(c.Path)
}

// AnnouncementConfig controls announcement fetching.
type AnnouncementConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the announcement configuration.
func (c *AnnouncementConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// LedgerConfig holds the run ledger database location.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// ScheduleConfig enables a cron-driven publish of a fixed source.
type ScheduleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Cron      string `yaml:"cron"`
	SourceURI string `yaml:"source_uri"`
}

// Validate validates the schedule configuration.
func (c *ScheduleConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Cron, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.SourceURI, validation.When(c.Enabled, validation.Required)),
	)
}

// InboxConfig enables the drop-directory watcher.
type InboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Validate validates the inbox configuration.
func (c *InboxConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(c.Enabled, validation.Required)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
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

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Wiki: WikiConfig{
			RemoteURL:        "https://github.com/kyotorb/meetup.wiki.git",
			Path:             "../meetup.wiki",
			RelativeToBinary: true,
			IndexFile:        "Home.md",
			IndexEnabled:     true,
			GitBinary:        "git",
		},
		Announcement: AnnouncementConfig{
			Timeout: 30 * time.Second,
		},
		Ledger: LedgerConfig{
			Path: "./meetupwiki.db",
		},
		Schedule: ScheduleConfig{
			Cron: "0 9 * * 1",
		},
		Inbox: InboxConfig{
			Path: "./inbox",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
