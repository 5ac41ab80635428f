package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings holds server configuration, loaded from TERMPLEX_* environment
// variables.
type Settings struct {
	Port        int    `envconfig:"PORT" default:"8420"`
	DataPath    string `envconfig:"DATA_PATH" default:"./data"`
	StaticDir   string `envconfig:"STATIC_DIR" default:""`
	MaxSessions int    `envconfig:"MAX_SESSIONS" default:"32"`

	// Push channel (websocket) settings
	AllowPush bool `envconfig:"ALLOW_PUSH" default:"true"`
	PushPort  int  `envconfig:"PUSH_PORT" default:"0"`

	// Session engine settings
	TickInterval    time.Duration `envconfig:"TICK_INTERVAL" default:"50ms"`
	AutoFlushLength int           `envconfig:"AUTO_FLUSH_LENGTH" default:"40"`
	SampleIdle      time.Duration `envconfig:"SAMPLE_IDLE" default:"1500ms"`
	SampleInterval  time.Duration `envconfig:"SAMPLE_INTERVAL" default:"3s"`
	SampleTimeout   time.Duration `envconfig:"SAMPLE_TIMEOUT" default:"5s"`
	MaxOutputLines  int           `envconfig:"MAX_OUTPUT_LINES" default:"1000"`

	// Terminal settings
	EditFileCommand string `envconfig:"EDIT_FILE_COMMAND" default:""`
	ShellsFile      string `envconfig:"SHELLS_FILE" default:""`
	DefaultCols     int    `envconfig:"DEFAULT_COLS" default:"80"`
	DefaultRows     int    `envconfig:"DEFAULT_ROWS" default:"25"`
}

// Load reads Settings from the environment and validates them.
func Load() (Settings, error) {
	var s Settings
	if err := envconfig.Process("TERMPLEX", &s); err != nil {
		return Settings{}, fmt.Errorf("load config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects settings the session engine cannot run with.
func (s Settings) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d", s.Port)
	}
	if s.PushPort < 0 || s.PushPort > 65535 {
		return fmt.Errorf("invalid push port: %d", s.PushPort)
	}
	if s.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", s.TickInterval)
	}
	if s.AutoFlushLength < 1 {
		return fmt.Errorf("auto flush length must be at least 1, got %d", s.AutoFlushLength)
	}
	if s.MaxOutputLines < 1 {
		return fmt.Errorf("max output lines must be at least 1, got %d", s.MaxOutputLines)
	}
	if s.DefaultCols < 1 || s.DefaultRows < 1 {
		return fmt.Errorf("invalid default geometry %dx%d", s.DefaultCols, s.DefaultRows)
	}
	return nil
}
