package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/census-population-etl/internal/domain"
)

const (
	defaultAPIURL       = "https://api.census.gov/data/2022/acs/acs5"
	defaultVariablesURL = "https://api.census.gov/data/2022/acs/acs5/variables.html"
	defaultZCTAURL      = "https://api.census.gov/data/2017/acs/acs5"
)

// Output encodings selectable with OUTPUT_FORMAT. Native stores bundles and
// household summaries as gob and the age/gender side file as CSV.
const (
	FormatNative = "native"
	FormatJSON   = "json"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Census Data API.
	APIKey       string
	APIURL       string
	VariablesURL string
	ZCTAURL      string
	Timeout      time.Duration
	RateLimit    float64

	GeographyKind domain.Kind
	OutputDir     string
	OutputFormat  string

	// Scheduling.
	StateBatchSize  int
	StateWorkers    int
	UnitConcurrency int

	// Retry policy. MaxAttempts of 1 disables retries.
	RetryMaxAttempts int
	RetryBackoff     time.Duration

	HouseholdEnabled bool
	RulesFile        string

	MetricsAddr string

	// Unit result notifications; disabled when KafkaBrokers is empty.
	KafkaBrokers      []string
	KafkaResultsTopic string

	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	timeout, err := parsePositiveDuration("CENSUS_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	backoff, err := parsePositiveDuration("RETRY_BACKOFF", "200ms")
	if err != nil {
		return nil, err
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("CENSUS_RATE_LIMIT", "5"), 64)
	if err != nil || rateLimit <= 0 {
		return nil, errors.New("invalid CENSUS_RATE_LIMIT: must be a positive number")
	}

	kind, err := domain.ParseKind(sharedcfg.EnvOrDefault("GEOGRAPHY_KIND", "county"))
	if err != nil {
		return nil, fmt.Errorf("GEOGRAPHY_KIND: %w", err)
	}

	outputFormat := sharedcfg.EnvOrDefault("OUTPUT_FORMAT", FormatNative)
	if outputFormat != FormatNative && outputFormat != FormatJSON {
		return nil, fmt.Errorf("invalid OUTPUT_FORMAT %q: must be %s or %s", outputFormat, FormatNative, FormatJSON)
	}

	batchSize, err := parseIntRange("STATE_BATCH_SIZE", 10, 1, 51)
	if err != nil {
		return nil, err
	}
	workers, err := parseIntRange("STATE_WORKERS", 4, 1, 64)
	if err != nil {
		return nil, err
	}
	unitConcurrency, err := parseIntRange("UNIT_CONCURRENCY", 4, 1, 64)
	if err != nil {
		return nil, err
	}
	attempts, err := parseIntRange("RETRY_MAX_ATTEMPTS", 3, 1, 10)
	if err != nil {
		return nil, err
	}

	householdEnabled := true
	if v := os.Getenv("HOUSEHOLD_ENABLED"); v != "" {
		householdEnabled = v == "true"
	}

	cfg := &Config{
		APIKey:       os.Getenv("CENSUS_API_KEY"),
		APIURL:       sharedcfg.EnvOrDefault("CENSUS_API_URL", defaultAPIURL),
		VariablesURL: sharedcfg.EnvOrDefault("CENSUS_VARIABLES_URL", defaultVariablesURL),
		ZCTAURL:      sharedcfg.EnvOrDefault("CENSUS_ZCTA_URL", defaultZCTAURL),
		Timeout:      timeout,
		RateLimit:    rateLimit,

		GeographyKind: kind,
		OutputDir:     sharedcfg.EnvOrDefault("OUTPUT_DIR", "data"),
		OutputFormat:  outputFormat,

		StateBatchSize:  batchSize,
		StateWorkers:    workers,
		UnitConcurrency: unitConcurrency,

		RetryMaxAttempts: attempts,
		RetryBackoff:     backoff,

		HouseholdEnabled: householdEnabled,
		RulesFile:        os.Getenv("RULES_FILE"),
		MetricsAddr:      os.Getenv("METRICS_ADDR"),

		KafkaBrokers:      sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaResultsTopic: sharedcfg.EnvOrDefault("KAFKA_RESULTS_TOPIC", "census-unit-results"),

		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	return cfg, nil
}

// ValidateRun checks the settings that only matter when talking to the
// Census API. Offline commands (plan, recategorize) skip it.
func (c *Config) ValidateRun() error {
	if c.APIKey == "" {
		return errors.New("CENSUS_API_KEY is required")
	}
	return nil
}

// NotifierEnabled reports whether unit results are published to Kafka.
func (c *Config) NotifierEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parsePositiveDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseIntRange(key string, fallback, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be %d-%d", key, lo, hi)
	}
	return n, nil
}
