// Package config loads the mission control configuration: a JSONC file
// with environment templates, plus an optional YAML seed declaring
// workspaces and agents.
package config

import "time"

// Config is the root configuration.
type Config struct {
	API     APIConfig     `json:"api"`
	Store   StoreConfig   `json:"store"`
	Ledger  LedgerConfig  `json:"ledger"`
	Gateway GatewayConfig `json:"gateway"`
	Events  EventsConfig  `json:"events"`
	Seed    SeedConfig    `json:"seed"`
}

// APIConfig holds the HTTP server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `json:"path"`
}

// LedgerConfig locates the external initiative ledger document.
type LedgerConfig struct {
	Path string `json:"path"`
}

// GatewayConfig configures the outbound agent-gateway transport.
type GatewayConfig struct {
	URL     string   `json:"url"`
	Timeout Duration `json:"timeout,omitempty"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// SeedConfig locates the optional workspace/agent seed file.
type SeedConfig struct {
	Path string `json:"path,omitempty"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
