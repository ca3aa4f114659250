package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openmesa/openmesa/pkg/clients/ansible"
	"github.com/openmesa/openmesa/pkg/clients/openstack"
	"github.com/openmesa/openmesa/pkg/stores"
	"github.com/openmesa/openmesa/pkg/telemetry"
)

// Config is the full OpenMesa configuration.
type Config struct {
	// Telemetry configures logging, metrics, and tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`

	// Store configures the deployment database.
	Store stores.Config `yaml:"store"`

	// OpenStack configures the cloud resource client.
	OpenStack openstack.Config `yaml:"openstack"`

	// Ansible configures the playbook runner.
	Ansible ansible.Config `yaml:"ansible"`

	// Engine configures the workflow engine.
	Engine EngineConfig `yaml:"engine"`
}

// EngineConfig holds the workflow engine tunables.
type EngineConfig struct {
	// PollInterval is the delay between server status poll rounds.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollAttempts bounds the provisioning poll loop.
	PollAttempts int `yaml:"poll_attempts"`

	// PreflightTimeout bounds the SSH reachability wait before playbook
	// runs. Zero disables the preflight.
	PreflightTimeout time.Duration `yaml:"preflight_timeout"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Telemetry: *telemetry.DefaultConfig(),
		Store: stores.Config{
			Path: "openmesa.db",
		},
		Engine: EngineConfig{
			PollInterval: 5 * time.Second,
			PollAttempts: 60,
		},
	}
}

// Load reads the configuration file (when path is non-empty), overlays it
// on the defaults, and applies environment variable overrides. Validation
// is deferred to Validate so commands that need only a subset of the
// configuration can run without full credentials.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides configuration fields from the environment. The
// OpenStack credentials honor the standard OS_* variables so an existing
// openrc file works unchanged.
func applyEnv(cfg *Config) {
	setString(&cfg.Telemetry.Logging.Level, "MESA_LOG_LEVEL")
	setString(&cfg.Telemetry.Logging.Format, "MESA_LOG_FORMAT")
	setString(&cfg.Store.Path, "MESA_DB_PATH")
	setString(&cfg.Telemetry.Metrics.ListenAddress, "MESA_METRICS_ADDR")

	setString(&cfg.OpenStack.AuthURL, "OS_AUTH_URL")
	setString(&cfg.OpenStack.Username, "OS_USERNAME")
	setString(&cfg.OpenStack.Password, "OS_PASSWORD")
	setString(&cfg.OpenStack.ProjectName, "OS_PROJECT_NAME")
	setString(&cfg.OpenStack.DomainName, "OS_USER_DOMAIN_NAME")
	setString(&cfg.OpenStack.Region, "OS_REGION_NAME")

	setString(&cfg.Ansible.BinaryPath, "MESA_ANSIBLE_BIN")
	setString(&cfg.Ansible.SSHUser, "MESA_SSH_USER")
	setString(&cfg.Ansible.SSHKeyPath, "MESA_SSH_KEY")

	setDuration(&cfg.Engine.PollInterval, "MESA_POLL_INTERVAL")
	setInt(&cfg.Engine.PollAttempts, "MESA_POLL_ATTEMPTS")
	setDuration(&cfg.Engine.PreflightTimeout, "MESA_PREFLIGHT_TIMEOUT")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate checks the full configuration, including the cloud credentials.
func (c *Config) Validate() error {
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine poll_interval must be positive")
	}
	if c.Engine.PollAttempts <= 0 {
		return fmt.Errorf("engine poll_attempts must be positive")
	}
	return nil
}

// ValidateStore checks only the parts needed for database commands.
func (c *Config) ValidateStore() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}
	return nil
}
