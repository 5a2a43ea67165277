package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all front-end configuration.
type Config struct {
	Debug bool `yaml:"debug"`

	Telnet    Listener    `yaml:"telnet"`
	TelnetTLS TLSListener `yaml:"telnet_tls"`
	SSH       SSHListener `yaml:"ssh"`
	Backend   Backend     `yaml:"backend"`
	MSSP      MSSP        `yaml:"mssp"`
}

// Listener configures one client-facing port.
type Listener struct {
	Enabled     bool          `yaml:"enabled"`
	BindAddress string        `yaml:"bind_address"`
	Port        int           `yaml:"port"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// Addr returns the listen address in host:port form.
func (l Listener) Addr() string {
	return fmt.Sprintf("%s:%d", l.BindAddress, l.Port)
}

// TLSListener is a Listener with server certificate material.
type TLSListener struct {
	Listener         `yaml:",inline"`
	CertFile         string        `yaml:"cert_file"`
	KeyFile          string        `yaml:"key_file"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// SSHListener is a Listener with host key material. The passphrase decrypts
// the host key PEM; it is not client authentication, which the game engine
// handles itself.
type SSHListener struct {
	Listener    `yaml:",inline"`
	HostKeyFile string        `yaml:"host_key_file"`
	Passphrase  string        `yaml:"passphrase"`
	Keepalive   time.Duration `yaml:"keepalive"`
}

// Backend configures the game engine WebSocket endpoint.
type Backend struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
	// Secret is the shared symmetric token carried on every frame.
	Secret string `yaml:"secret"`
	// SoftbootCommand is the argv used to relaunch the game engine.
	SoftbootCommand []string `yaml:"softboot_command"`
}

// Addr returns the listen address in host:port form.
func (b Backend) Addr() string {
	return fmt.Sprintf("%s:%d", b.BindAddress, b.Port)
}

// MSSP holds the identity fields published over the Mud Server Status
// Protocol.
type MSSP struct {
	Name     string `yaml:"name"`
	Codebase string `yaml:"codebase"`
	Contact  string `yaml:"contact"`
	Location string `yaml:"location"`
}

// Default returns the configuration with the stock ports: telnet 4000 and
// secure telnet 4002 on loopback, ssh 4001 on all interfaces, backend
// WebSocket 8989 on loopback.
func Default() Config {
	return Config{
		Telnet: Listener{
			Enabled:     true,
			BindAddress: "127.0.0.1",
			Port:        4000,
			IdleTimeout: time.Hour,
		},
		TelnetTLS: TLSListener{
			Listener: Listener{
				Enabled:     true,
				BindAddress: "127.0.0.1",
				Port:        4002,
				IdleTimeout: time.Hour,
			},
			CertFile:         "server_cert.pem",
			KeyFile:          "server_key.pem",
			HandshakeTimeout: 5 * time.Second,
		},
		SSH: SSHListener{
			Listener: Listener{
				Enabled:     true,
				BindAddress: "0.0.0.0",
				Port:        4001,
				IdleTimeout: time.Hour,
			},
			HostKeyFile: "host_key.pem",
			Keepalive:   10 * time.Second,
		},
		Backend: Backend{
			BindAddress: "127.0.0.1",
			Port:        8989,
		},
		MSSP: MSSP{
			Name:     "Gate",
			Codebase: "mudforge/gate",
			Contact:  "admin@localhost",
			Location: "United States of America",
		},
	}
}

// Load reads config from a YAML file. A missing file returns defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}
