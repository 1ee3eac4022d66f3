package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/iSoldLeo/DynamicAPI/pkg/httpclient"
)

const (
	// FilePermissions is the default permission mode for regular files (read/write for owner, read for others)
	FilePermissions = 0644
	// DirPermissions is the default permission mode for directories (rwxr-xr-x)
	DirPermissions = 0755
)

var (
	// ConfigDir is the global configuration directory (~/.dynapi)
	ConfigDir string

	// SettingsFile is the CLI settings file
	SettingsFile string

	// DatabasePath is the SQLite database file for call history
	DatabasePath string
)

// Initialize sets up the configuration directory.
// It creates ~/.dynapi/ if it doesn't exist
func Initialize() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	return InitializeAt(filepath.Join(homeDir, ".dynapi"))
}

// InitializeAt is Initialize with an explicit directory.
func InitializeAt(dir string) error {
	ConfigDir = dir
	SettingsFile = filepath.Join(ConfigDir, "settings.yaml")
	DatabasePath = filepath.Join(ConfigDir, "history.db")

	if err := os.MkdirAll(ConfigDir, DirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", ConfigDir, err)
	}
	return nil
}

// Settings are the CLI defaults. Flags override them.
type Settings struct {
	// Config is the default API document path.
	Config  string `yaml:"config"`
	Profile string `yaml:"profile"`
	// TimeoutSeconds overrides globals.timeout from the document.
	TimeoutSeconds float64 `yaml:"timeout_seconds"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`

	History struct {
		Enabled *bool  `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"history"`

	Security struct {
		RequireHTTPS *bool    `yaml:"require_https"`
		AllowedHosts []string `yaml:"allowed_hosts"`
	} `yaml:"security"`

	TLS *httpclient.TLSOptions `yaml:"tls"`

	OAuth struct {
		TokenURL     string   `yaml:"token_url"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		Scopes       []string `yaml:"scopes"`
	} `yaml:"oauth"`

	Signing struct {
		Secret string `yaml:"secret"`
		Param  string `yaml:"param"`
		Header string `yaml:"header"`
	} `yaml:"signing"`

	RequestIDHeader string `yaml:"request_id_header"`

	// Mappers are registered under their key for operations whose
	// response_mapping names them.
	Mappers map[string]MapperSettings `yaml:"mappers"`
}

// MapperSettings selects a fragment of the response body. Exactly one field is set.
type MapperSettings struct {
	JMESPath string `yaml:"jmespath"`
	Path     string `yaml:"path"`
}

// HistoryEnabled reports whether calls are recorded. Defaults to true.
func (s *Settings) HistoryEnabled() bool {
	return s.History.Enabled == nil || *s.History.Enabled
}

// RequireHTTPS defaults to true.
func (s *Settings) RequireHTTPS() bool {
	return s.Security.RequireHTTPS == nil || *s.Security.RequireHTTPS
}

// LoadSettings reads path (SettingsFile when empty). A missing file yields
// defaults. Environment variables are applied last.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		path = SettingsFile
	}

	var s Settings
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read settings: %w", err)
		default:
			if err := yaml.Unmarshal(b, &s); err != nil {
				return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
			}
		}
	}

	applyDefaults(&s)
	applyEnvOverrides(&s)
	if err := validate(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func applyDefaults(s *Settings) {
	if strings.TrimSpace(s.Logging.Level) == "" {
		s.Logging.Level = "warn"
	}
	if strings.TrimSpace(s.Logging.Format) == "" {
		s.Logging.Format = "console"
	}
	if strings.TrimSpace(s.Logging.Output) == "" {
		s.Logging.Output = "stderr"
	}
	if strings.TrimSpace(s.History.Path) == "" {
		s.History.Path = DatabasePath
	}
	if strings.TrimSpace(s.RequestIDHeader) == "" {
		s.RequestIDHeader = "X-Request-ID"
	}
}

func applyEnvOverrides(s *Settings) {
	if v := strings.TrimSpace(os.Getenv("DYNAPI_CONFIG")); v != "" {
		s.Config = v
	}
	if v := strings.TrimSpace(os.Getenv("DYNAPI_PROFILE")); v != "" {
		s.Profile = v
	}
	if v := strings.TrimSpace(os.Getenv("DYNAPI_LOG_LEVEL")); v != "" {
		s.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("DYNAPI_LOG_FORMAT")); v != "" {
		s.Logging.Format = v
	}
	if v, ok := envBool("DYNAPI_HISTORY_ENABLED"); ok {
		s.History.Enabled = &v
	}
	if v, ok := envBool("DYNAPI_REQUIRE_HTTPS"); ok {
		s.Security.RequireHTTPS = &v
	}
	if v := strings.TrimSpace(os.Getenv("DYNAPI_ALLOWED_HOSTS")); v != "" {
		var hosts []string
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
		s.Security.AllowedHosts = hosts
	}
	if v := strings.TrimSpace(os.Getenv("DYNAPI_TIMEOUT_SECONDS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			s.TimeoutSeconds = f
		}
	}
	if v := os.Getenv("DYNAPI_SIGNING_SECRET"); v != "" {
		s.Signing.Secret = v
	}
	if v := os.Getenv("DYNAPI_OAUTH_CLIENT_SECRET"); v != "" {
		s.OAuth.ClientSecret = v
	}
}

func envBool(name string) (bool, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}

func validate(s *Settings) error {
	switch strings.ToLower(s.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", s.Logging.Level)
	}
	switch strings.ToLower(s.Logging.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging.format %q (want console or json)", s.Logging.Format)
	}
	if s.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout_seconds must not be negative")
	}
	for name, m := range s.Mappers {
		if (m.JMESPath == "") == (m.Path == "") {
			return fmt.Errorf("mapper %q must set exactly one of jmespath or path", name)
		}
	}
	if s.OAuth.TokenURL != "" && s.OAuth.ClientID == "" {
		return fmt.Errorf("oauth.client_id is required when oauth.token_url is set")
	}
	return nil
}
