package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS    NATS    `yaml:"nats"`
	Engine  Engine  `yaml:"engine"`
	Limits  Limits  `yaml:"limits"`
	Staging Staging `yaml:"staging"`
}

type NATS struct {
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

type Engine struct {
	// Kind picks the conversion backend: "ffmpeg" or "mock".
	Kind string `yaml:"kind"`

	Binary      string   `yaml:"binary"`
	WorkDir     string   `yaml:"work_dir"`
	MaxParallel int      `yaml:"max_parallel"`
	Transcode   []string `yaml:"transcode_args"`

	JobTimeout      time.Duration `yaml:"job_timeout"`
	ExtendedTimeout time.Duration `yaml:"extended_timeout"`
}

type Limits struct {
	MaxMessageMb int `yaml:"max_message_mb"`
}

type Staging struct {
	TransferTTL   time.Duration `yaml:"transfer_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
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

	if cfg.NATS.URL == "" {
		log.Fatalf("config: nats.url is empty")
	}
	if cfg.Engine.Kind == "" {
		cfg.Engine.Kind = "ffmpeg"
	}
	if cfg.Engine.Kind == "ffmpeg" && cfg.Engine.Binary == "" {
		cfg.Engine.Binary = "ffmpeg"
	}
	if cfg.Engine.MaxParallel <= 0 {
		cfg.Engine.MaxParallel = 1
	}
	if cfg.Staging.SweepInterval <= 0 {
		cfg.Staging.SweepInterval = time.Minute
	}

	return &cfg
}
