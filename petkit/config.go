package petkit

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	defaultPassportURL = "https://passport.petkt.com/6/account"
	defaultLoginURL    = "http://api.petkt.com/latest"
	defaultTimeout     = 30 * time.Second

	// defaultRelayType identifies the relay appliance generation bridging
	// fountain BLE calls. The derivation rule varied across vendor app
	// versions, so it is configuration rather than hardcoded logic.
	defaultRelayType = 14
)

// Config defines runtime configuration for the PetKit client.
type Config struct {
	Username string
	Password string

	// PassportURL and LoginURL override the vendor endpoints, mainly for
	// tests. BaseURL skips region resolution entirely when set.
	PassportURL string
	LoginURL    string
	BaseURL     string

	Timeout   time.Duration
	RelayType int
	Timezone  string
}

func (c Config) withDefaults() Config {
	if c.PassportURL == "" {
		c.PassportURL = defaultPassportURL
	}
	if c.LoginURL == "" {
		c.LoginURL = defaultLoginURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.RelayType == 0 {
		c.RelayType = defaultRelayType
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	return c
}

// Bootstrap captures persisted PetKit account credentials.
type Bootstrap struct {
	SchemaVersion int    `json:"schema_version"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	Region        string `json:"region,omitempty"`
}

// LoadBootstrap reads and validates a credentials bootstrap file.
func LoadBootstrap(path string) (Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bootstrap{}, fmt.Errorf("read petkit bootstrap: %w", err)
	}

	var state Bootstrap
	if err := json.Unmarshal(data, &state); err != nil {
		return Bootstrap{}, fmt.Errorf("parse petkit bootstrap: %w", err)
	}
	if state.SchemaVersion != 1 {
		return Bootstrap{}, fmt.Errorf("unsupported petkit bootstrap schema_version %d", state.SchemaVersion)
	}
	if state.Username == "" {
		return Bootstrap{}, fmt.Errorf("petkit bootstrap missing username")
	}
	if state.Password == "" {
		return Bootstrap{}, fmt.Errorf("petkit bootstrap missing password")
	}

	return state, nil
}
