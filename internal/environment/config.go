// Package environment loads harness configuration from a TOML file with
// .env / environment variable overrides for deployment-specific values.
package environment

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

type TargetConfig struct {
	Binary string   `toml:"binary"`
	Args   []string `toml:"args"`

	LaunchTimeoutSec int      `toml:"launch_timeout_sec"`
	HangGraceSec     int      `toml:"hang_grace_sec"`
	LogLimitBytes    int64    `toml:"log_limit_bytes"`
	OOMPatterns      []string `toml:"oom_patterns"`
}

type RunConfig struct {
	TimeLimitSec  int  `toml:"time_limit_sec"`
	IdleLimitSec  int  `toml:"idle_limit_sec"`
	AcceptPartial bool `toml:"accept_partial"`
	ReportHangs   bool `toml:"report_hangs"`
	Reuse         bool `toml:"reuse"`
	RelaunchAfter int  `toml:"relaunch_after"`
	HealthPollMs  int  `toml:"health_poll_ms"`

	IgnoreKinds    []string `toml:"ignore_kinds"`
	IgnorePatterns []string `toml:"ignore_patterns"`
}

type ReportConfig struct {
	// Sink selects the reporter backend: term, nats or sqs.
	Sink string `toml:"sink"`

	NatsURL     string `toml:"nats_url"`
	NatsSubject string `toml:"nats_subject"`

	SqsQueueURL string `toml:"sqs_queue_url"`
	S3Bucket    string `toml:"s3_bucket"`
	S3KeyPrefix string `toml:"s3_key_prefix"`
	AwsRegion   string `toml:"aws_region"`
}

type Config struct {
	Target TargetConfig `toml:"target"`
	Run    RunConfig    `toml:"run"`
	Report ReportConfig `toml:"report"`
}

func defaults() Config {
	return Config{
		Target: TargetConfig{
			LaunchTimeoutSec: 300,
			HangGraceSec:     5,
		},
		Run: RunConfig{
			TimeLimitSec: 30,
			HealthPollMs: 250,
		},
		Report: ReportConfig{
			Sink:        "term",
			NatsSubject: "grizzly.reports",
		},
	}
}

// Load reads the config file (optional, "" skips it) on top of the
// defaults, then applies environment overrides. A .env file in the
// working directory is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("GRIZZLY_TARGET_BINARY"); v != "" {
		cfg.Target.Binary = v
	}
	if v := os.Getenv("GRIZZLY_NATS_URL"); v != "" {
		cfg.Report.NatsURL = v
	}
	if v := os.Getenv("GRIZZLY_SQS_QUEUE_URL"); v != "" {
		cfg.Report.SqsQueueURL = v
	}
	if v := os.Getenv("GRIZZLY_S3_BUCKET"); v != "" {
		cfg.Report.S3Bucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Report.AwsRegion = v
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Run.TimeLimitSec <= 0 {
		return fmt.Errorf("config: run.time_limit_sec must be positive")
	}
	switch c.Report.Sink {
	case "term", "nats", "sqs":
	default:
		return fmt.Errorf("config: unknown report sink %q", c.Report.Sink)
	}
	if c.Report.Sink == "nats" && c.Report.NatsURL == "" {
		return fmt.Errorf("config: report.nats_url required for the nats sink")
	}
	if c.Report.Sink == "sqs" && c.Report.SqsQueueURL == "" {
		return fmt.Errorf("config: report.sqs_queue_url required for the sqs sink")
	}
	return nil
}

func (c *Config) TimeLimit() time.Duration {
	return time.Duration(c.Run.TimeLimitSec) * time.Second
}

func (c *Config) IdleLimit() time.Duration {
	return time.Duration(c.Run.IdleLimitSec) * time.Second
}

func (c *Config) LaunchTimeout() time.Duration {
	return time.Duration(c.Target.LaunchTimeoutSec) * time.Second
}

func (c *Config) HangGrace() time.Duration {
	return time.Duration(c.Target.HangGraceSec) * time.Second
}

func (c *Config) HealthPoll() time.Duration {
	return time.Duration(c.Run.HealthPollMs) * time.Millisecond
}
