package presence

import (
	"os"
	"strconv"
	"time"
)

const (
	// DefaultOnlineTimeout is how long a session stays online without a touch.
	DefaultOnlineTimeout = 10 * time.Minute
	// DefaultEventBufferSize is the per-subscriber offline event buffer.
	DefaultEventBufferSize = 64
)

// Config holds the Manager settings fixed at construction.
type Config struct {
	// OnlineTimeout is the sliding expiry applied on every touch.
	OnlineTimeout time.Duration `yaml:"online_timeout"`
	// EventBufferSize is used by Subscribe when the caller passes a non-positive size.
	EventBufferSize int `yaml:"event_buffer_size"`
}

// NewConfigDefaults provides a config with sensible defaults, overridable
// through PRESENCE_ONLINE_TIMEOUT and PRESENCE_EVENT_BUFFER.
func NewConfigDefaults() *Config {
	cfg := &Config{
		OnlineTimeout:   DefaultOnlineTimeout,
		EventBufferSize: DefaultEventBufferSize,
	}
	cfg.ApplyEnvOverrides()
	return cfg
}

// ApplyEnvOverrides replaces fields from PRESENCE_ONLINE_TIMEOUT (a Go
// duration) and PRESENCE_EVENT_BUFFER. Unparseable or non-positive values
// are ignored.
func (c *Config) ApplyEnvOverrides() {
	if ot := os.Getenv("PRESENCE_ONLINE_TIMEOUT"); ot != "" {
		if val, err := time.ParseDuration(ot); err == nil && val > 0 {
			c.OnlineTimeout = val
		}
	}
	if eb := os.Getenv("PRESENCE_EVENT_BUFFER"); eb != "" {
		if val, err := strconv.Atoi(eb); err == nil && val > 0 {
			c.EventBufferSize = val
		}
	}
}
