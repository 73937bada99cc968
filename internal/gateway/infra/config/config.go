package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	BaseDir string `yaml:"base_dir"`
	// Storage picks the result file backend: "local" or "minio".
	Storage string `yaml:"storage"`

	TaskTTL          time.Duration `yaml:"task_ttl"`
	JobTimeout       time.Duration `yaml:"job_timeout"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	MaxUploadBytesMb int64         `yaml:"max_upload_mb"`
	MaxMessageMb     int           `yaml:"max_message_mb"`

	Fetch Fetch `yaml:"fetch"`
	Redis Redis `yaml:"redis"`
	MinIO MinIO `yaml:"minio"`
	NATS  NATS  `yaml:"nats"`
}

type Fetch struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxBytesMb int64         `yaml:"max_mb"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
}

type NATS struct {
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

func MustLoad(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("config: cannot read file %q: %v", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("config: cannot unmarshal yaml: %v", err)
	}

	if cfg.Addr == "" {
		log.Fatalf("config: addr is empty")
	}
	if cfg.NATS.URL == "" {
		log.Fatalf("config: nats.url is empty")
	}
	if cfg.Storage == "" {
		cfg.Storage = "local"
	}
	if cfg.Storage == "local" && cfg.BaseDir == "" {
		log.Fatalf("config: base_dir is empty")
	}
	if cfg.TaskTTL <= 0 {
		log.Fatalf("config: task_ttl must be positive, got %s", cfg.TaskTTL)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 15 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.MaxUploadBytesMb <= 0 {
		cfg.MaxUploadBytesMb = 500
	}

	return &cfg
}
