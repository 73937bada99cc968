package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	NATS     NATS     `yaml:"nats"`
	Worker   Worker   `yaml:"worker"`
	Limits   Limits   `yaml:"limits"`
	Timeouts Timeouts `yaml:"timeouts"`
	Staging  Staging  `yaml:"staging"`
	Fetch    Fetch    `yaml:"fetch"`
}

type NATS struct {
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

type Worker struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	PollInterval time.Duration `yaml:"poll_interval"`
	PollAttempts int           `yaml:"poll_attempts"`
	ReadyWait    time.Duration `yaml:"ready_wait"`
	PingTimeout  time.Duration `yaml:"ping_timeout"`
}

type Limits struct {
	MaxMessageMb int `yaml:"max_message_mb"`
}

type Timeouts struct {
	Job         time.Duration `yaml:"job"`
	ExtendedJob time.Duration `yaml:"extended_job"`
	ChunkAck    time.Duration `yaml:"chunk_ack"`
}

type Staging struct {
	TransferTTL   time.Duration `yaml:"transfer_ttl"`
	ResultTTL     time.Duration `yaml:"result_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type Fetch struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxBytesMb int64         `yaml:"max_mb"`
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
	if cfg.Worker.Command == "" {
		log.Fatalf("config: worker.command is empty")
	}
	if cfg.Worker.PingTimeout <= 0 {
		cfg.Worker.PingTimeout = 2 * time.Second
	}
	if cfg.Staging.SweepInterval <= 0 {
		cfg.Staging.SweepInterval = time.Minute
	}

	return &cfg
}
