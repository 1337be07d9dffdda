// Package config loads switch and edge-agent settings from defaults, an
// optional YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Switch configures the vswitch process
type Switch struct {
	// Ports lists the UDP listen ports; each one is an isolated segment.
	Ports []int `yaml:"ports"`
	// ListenHost is the local address to bind. Empty binds all addresses.
	ListenHost string `yaml:"listen_host"`
	// MaxEntries caps the forwarding table of each segment.
	MaxEntries  int               `yaml:"max_entries"`
	ReadBuffer  datasize.ByteSize `yaml:"read_buffer"`
	WriteBuffer datasize.ByteSize `yaml:"write_buffer"`
	// StatsInterval is how often statistics are logged; 0 disables it.
	StatsInterval time.Duration `yaml:"stats_interval"`
	LogLevel      string        `yaml:"log_level"`
	LogFile       string        `yaml:"log_file"`
	PIDFile       string        `yaml:"pid_file"`
}

// Port configures the vport edge agent
type Port struct {
	SwitchHost string `yaml:"switch_host"`
	SwitchPort int    `yaml:"switch_port"`
	// Device names the TAP interface; empty lets the kernel choose.
	Device      string            `yaml:"device"`
	LocalAddr   string            `yaml:"local_addr"`
	ReadBuffer  datasize.ByteSize `yaml:"read_buffer"`
	WriteBuffer datasize.ByteSize `yaml:"write_buffer"`
	LogLevel    string            `yaml:"log_level"`
	LogFile     string            `yaml:"log_file"`
}

// DefaultSwitch returns the switch defaults
func DefaultSwitch() *Switch {
	return &Switch{
		Ports:         []int{9999},
		MaxEntries:    256,
		StatsInterval: 60 * time.Second,
		LogLevel:      "info",
		PIDFile:       "/tmp/vswitch.pid",
	}
}

// DefaultPort returns the edge-agent defaults
func DefaultPort() *Port {
	return &Port{
		Device:   "tap0",
		LogLevel: "info",
	}
}

// LoadSwitch reads path over the defaults and applies VSWITCH_* environment
// overrides. An empty path skips the file.
func LoadSwitch(path string) (*Switch, error) {
	cfg := DefaultSwitch()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}

	if v := os.Getenv("VSWITCH_PORTS"); v != "" {
		ports, err := ParsePorts(v)
		if err != nil {
			return nil, fmt.Errorf("VSWITCH_PORTS: %w", err)
		}
		cfg.Ports = ports
	}
	cfg.ListenHost = getEnvOrDefault("VSWITCH_LISTEN_HOST", cfg.ListenHost)
	cfg.MaxEntries = getEnvIntOrDefault("VSWITCH_MAX_ENTRIES", cfg.MaxEntries)
	cfg.StatsInterval = getEnvDurationOrDefault("VSWITCH_STATS_INTERVAL", cfg.StatsInterval)
	cfg.LogLevel = getEnvOrDefault("VSWITCH_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnvOrDefault("VSWITCH_LOG_FILE", cfg.LogFile)
	cfg.PIDFile = getEnvOrDefault("VSWITCH_PID_FILE", cfg.PIDFile)

	return cfg, nil
}

// LoadPort reads path over the defaults and applies VPORT_* environment
// overrides. An empty path skips the file.
func LoadPort(path string) (*Port, error) {
	cfg := DefaultPort()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}

	cfg.SwitchHost = getEnvOrDefault("VPORT_SWITCH_HOST", cfg.SwitchHost)
	cfg.SwitchPort = getEnvIntOrDefault("VPORT_SWITCH_PORT", cfg.SwitchPort)
	cfg.Device = getEnvOrDefault("VPORT_DEVICE", cfg.Device)
	cfg.LocalAddr = getEnvOrDefault("VPORT_LOCAL_ADDR", cfg.LocalAddr)
	cfg.LogLevel = getEnvOrDefault("VPORT_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnvOrDefault("VPORT_LOG_FILE", cfg.LogFile)

	return cfg, nil
}

func loadFile(path string, out interface{}) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks the switch settings
func (c *Switch) Validate() error {
	if len(c.Ports) == 0 {
		return errors.New("no ports specified")
	}
	for _, p := range c.Ports {
		if err := validatePort(p); err != nil {
			return err
		}
	}
	if c.MaxEntries < 1 {
		return fmt.Errorf("max_entries must be positive, got %d", c.MaxEntries)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Validate checks the edge-agent settings
func (c *Port) Validate() error {
	if c.SwitchHost == "" {
		return errors.New("switch host not specified")
	}
	if err := validatePort(c.SwitchPort); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParsePorts parses a comma-separated list of port numbers
func ParsePorts(portStr string) ([]int, error) {
	if strings.TrimSpace(portStr) == "" {
		return nil, errors.New("empty port string")
	}

	portStrs := strings.Split(portStr, ",")
	ports := make([]int, 0, len(portStrs))

	for _, str := range portStrs {
		str = strings.TrimSpace(str)
		if str == "" {
			continue
		}

		port, err := strconv.Atoi(str)
		if err != nil {
			return nil, fmt.Errorf("invalid port '%s': %w", str, err)
		}
		if err := validatePort(port); err != nil {
			return nil, err
		}

		ports = append(ports, port)
	}

	return ports, nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range (1-65535)", port)
	}
	return nil
}

// getEnvOrDefault returns environment variable value or default if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvIntOrDefault returns environment variable as int or default if not set/invalid
func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
