// Package config loads server settings from the environment, with an
// optional .env file for development.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	JWTSecret string        `envconfig:"JWT_SECRET" default:"dev-only-secret"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	// StaffKey must be presented to obtain a staff token. Staff logins are
	// disabled while it is empty.
	StaffKey string `envconfig:"STAFF_KEY"`

	// Empty ScyllaHosts selects the in-memory store (dev/tests only).
	ScyllaHosts    []string `envconfig:"SCYLLA_HOSTS"`
	ScyllaKeyspace string   `envconfig:"SCYLLA_KEYSPACE" default:"chat"`
	SnowflakeNode  int64    `envconfig:"SNOWFLAKE_NODE" default:"1"`

	// Empty RedisAddr keeps presence in-process.
	RedisAddr string `envconfig:"REDIS_ADDR"`

	// Empty KafkaBrokers keeps fan-out local to this instance.
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"chat-messages"`

	UploadDir      string `envconfig:"UPLOAD_DIR" default:"uploads"`
	UploadMaxBytes int64  `envconfig:"UPLOAD_MAX_BYTES" default:"10485760"`

	TypingWindow time.Duration `envconfig:"TYPING_WINDOW" default:"2s"`

	Debug bool `envconfig:"DEBUG"`
}

func Load() (Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
