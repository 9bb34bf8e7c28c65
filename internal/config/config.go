package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuntimeKind selects which backend driver is constructed per session.
const (
	RuntimeContainer = "container"
	RuntimeMicroVM   = "microvm"
)

type ContainerConfig struct {
	Image      string  `yaml:"image"`
	CPULimit   float64 `yaml:"cpu_limit"`
	MemLimitMB int     `yaml:"mem_limit_mb"`
	PidsLimit  int     `yaml:"pids_limit"`
	// PlatformTag overrides the wheel platform tag when the host CPU
	// architecture differs from the container's.
	PlatformTag string `yaml:"platform_tag"`
}

type MicroVMConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseTLS    bool   `yaml:"use_tls"`
}

// Enabled reports whether an object store is configured at all. Absence
// is valid; artifact uploads are skipped.
func (c ObjectStoreConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type Config struct {
	Listen      string `yaml:"listen"`
	APIKey      string `yaml:"api_key"`
	RuntimeKind string `yaml:"runtime_kind"`

	AllowedPackages []string `yaml:"allowed_packages"`

	ExecutionTimeoutSeconds float64 `yaml:"execution_timeout_seconds"`
	IdleTimeoutSeconds      float64 `yaml:"idle_timeout_seconds"`
	ReaperIntervalSeconds   float64 `yaml:"reaper_interval_seconds"`

	EnableAuditLogging bool   `yaml:"enable_audit_logging"`
	AuditDBPath        string `yaml:"audit_db_path"`
	JSONLogs           bool   `yaml:"json_logs"`

	Container   ContainerConfig   `yaml:"container"`
	MicroVM     MicroVMConfig     `yaml:"microvm"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
}

func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Listen:                  "127.0.0.1:8080",
		RuntimeKind:             RuntimeContainer,
		ExecutionTimeoutSeconds: 60.0,
		IdleTimeoutSeconds:      300.0,
		ReaperIntervalSeconds:   60.0,
		EnableAuditLogging:      true,
		Container: ContainerConfig{
			Image:      "crucible-runtime:base",
			CPULimit:   1.0,
			MemLimitMB: 512,
			PidsLimit:  256,
		},
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CRUCIBLE_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("CRUCIBLE_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("CRUCIBLE_RUNTIME_KIND"); v != "" {
		cfg.RuntimeKind = v
	}
	if v := os.Getenv("CRUCIBLE_ALLOWED_PACKAGES"); v != "" {
		cfg.AllowedPackages = strings.Split(v, ",")
	}
	if v := os.Getenv("CRUCIBLE_EXECUTION_TIMEOUT_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ExecutionTimeoutSeconds = f
		}
	}
	if v := os.Getenv("CRUCIBLE_IDLE_TIMEOUT_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.IdleTimeoutSeconds = f
		}
	}
	if v := os.Getenv("CRUCIBLE_REAPER_INTERVAL_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ReaperIntervalSeconds = f
		}
	}
	if v := os.Getenv("CRUCIBLE_ENABLE_AUDIT_LOGGING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.EnableAuditLogging = b
		}
	}
	if v := os.Getenv("CRUCIBLE_AUDIT_DB_PATH"); v != "" {
		cfg.AuditDBPath = v
	}
	if v := os.Getenv("CRUCIBLE_JSON_LOGS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.JSONLogs = b
		}
	}
	if v := os.Getenv("CRUCIBLE_CONTAINER_IMAGE"); v != "" {
		cfg.Container.Image = v
	}
	if v := os.Getenv("CRUCIBLE_CONTAINER_CPU_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Container.CPULimit = f
		}
	}
	if v := os.Getenv("CRUCIBLE_CONTAINER_MEM_LIMIT_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Container.MemLimitMB = n
		}
	}
	if v := os.Getenv("CRUCIBLE_CONTAINER_PLATFORM_TAG"); v != "" {
		cfg.Container.PlatformTag = v
	}
	if v := os.Getenv("CRUCIBLE_MICROVM_ENDPOINT"); v != "" {
		cfg.MicroVM.Endpoint = v
	}
	if v := os.Getenv("CRUCIBLE_MICROVM_API_KEY"); v != "" {
		cfg.MicroVM.APIKey = v
	}
	if v := os.Getenv("CRUCIBLE_OBJECT_STORE_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("CRUCIBLE_OBJECT_STORE_BUCKET"); v != "" {
		cfg.ObjectStore.Bucket = v
	}
	if v := os.Getenv("CRUCIBLE_OBJECT_STORE_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("CRUCIBLE_OBJECT_STORE_SECRET_KEY"); v != "" {
		cfg.ObjectStore.SecretKey = v
	}
}
