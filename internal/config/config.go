// Package config loads the engine's YAML configuration file and
// overlays environment variables on top of it, following the file+env
// layering used throughout the example stack.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backoff configures the empty-poll backoff state machine a processor
// applies: below Threshold consecutive empty polls, each empty poll
// waits InitialMS; at or above it, the delay grows by Factor per empty
// poll up to MaxMS. Enabled gates growth entirely — false means every
// empty poll just waits InitialMS. PollingIntervalMS is not used for
// empty polls; it is the delay after a handled batch, an error, or a
// skipped tick.
type Backoff struct {
	Enabled   bool    `yaml:"enabled"`
	Threshold int     `yaml:"threshold"`
	InitialMS int     `yaml:"initial_ms"`
	MaxMS     int     `yaml:"max_ms"`
	Factor    float64 `yaml:"factor"`
}

// Processor holds the scheduling configuration shared by every
// generic-processor instantiation (outbox adapters, view adapters).
type Processor struct {
	PollingIntervalMS           int     `yaml:"polling_interval_ms"`
	BatchSize                   int     `yaml:"batch_size"`
	Enabled                     bool    `yaml:"enabled"`
	Backoff                     Backoff `yaml:"backoff"`
	LeaderElectionRetryIntervalMS int   `yaml:"leader_election_retry_interval_ms"`
	MaxConsecutiveErrors        int     `yaml:"max_consecutive_errors"`
}

// TagFilter mirrors a dcb.QueryItem in YAML form for topic/view
// subscription configuration.
type TagFilter struct {
	EventTypes    []string          `yaml:"event_types"`
	RequiredTags  []string          `yaml:"required_tags"`
	AnyOfTagKeys  []string          `yaml:"any_of_tag_keys"`
	ExactTags     map[string]string `yaml:"exact_tags"`
}

// Topic configures one outbox topic: its filter and its publisher.
type Topic struct {
	Processor
	Filter            TagFilter `yaml:"filter"`
	Publisher         string    `yaml:"publisher"` // "kafka" or "memory"
	KafkaTopic        string    `yaml:"kafka_topic"`
	PublisherOverride string    `yaml:"publisher_override"`
}

// View configures one view subscription.
type View struct {
	Processor
	Filter TagFilter `yaml:"filter"`
}

// ReadReplica names a read-only Postgres DSN. Entries are parsed into
// Config only: the event store does not open them, and Query/Project
// always read from the primary pool.
type ReadReplica struct {
	DSN    string `yaml:"dsn"`
	Weight int    `yaml:"weight"`
}

// Config is the root of config.yaml.
type Config struct {
	DatabaseURL          string                 `yaml:"database_url"`
	PersistCommands      bool                   `yaml:"persist_commands"`
	FetchSize            int                    `yaml:"fetch_size"`
	TransactionIsolation string                 `yaml:"transaction_isolation"`
	ReadReplicas         []ReadReplica          `yaml:"read_replicas"`
	RejectOnDuplicate    []string               `yaml:"reject_on_duplicate_commands"`
	Topics               map[string]Topic       `yaml:"topics"`
	Views                map[string]View        `yaml:"views"`
	RedisURL             string                 `yaml:"redis_url"`
	AdminAddr            string                 `yaml:"admin_addr"`
	LagAlertThreshold    int                    `yaml:"lag_alert_threshold"`
}

// Default returns the configuration used when no config.yaml is found,
// mirroring the conservative defaults spec §6 names.
func Default() Config {
	return Config{
		PersistCommands:      false,
		FetchSize:            100,
		TransactionIsolation: "READ_COMMITTED",
		AdminAddr:            ":9090",
		LagAlertThreshold:    1000,
		Topics:               map[string]Topic{},
		Views:                map[string]View{},
	}
}

// Load reads path (if it exists) into a Config seeded with Default,
// then applies environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.DatabaseURL = getEnvStr("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnvStr("REDIS_URL", cfg.RedisURL)
	cfg.AdminAddr = getEnvStr("ADMIN_ADDR", cfg.AdminAddr)
	cfg.PersistCommands = getEnvBool("PERSIST_COMMANDS", cfg.PersistCommands)
	cfg.FetchSize = getEnvInt("FETCH_SIZE", cfg.FetchSize)
	cfg.TransactionIsolation = getEnvStr("TRANSACTION_ISOLATION", cfg.TransactionIsolation)
	if v := os.Getenv("REJECT_ON_DUPLICATE_COMMANDS"); v != "" {
		cfg.RejectOnDuplicate = splitCSV(v)
	}
}

func getEnvStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// BackoffDuration converts Backoff's millisecond fields and growth
// policy into the values the processor's Backoff state machine
// consumes.
func (b Backoff) BackoffDuration() (enabled bool, threshold int, initial, max time.Duration, factor float64) {
	enabled = b.Enabled
	threshold = b.Threshold
	initial = time.Duration(b.InitialMS) * time.Millisecond
	max = time.Duration(b.MaxMS) * time.Millisecond
	factor = b.Factor
	if factor <= 1 {
		factor = 2
	}
	return
}
