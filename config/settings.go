package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultMaxEvents = 500
	MaxEventsHardCap = 5000

	// processor list endpoints cap a page at 100 items
	MaxPageSize = 100

	MinReconciliationInterval = 300 * time.Second
)

// Settings is the typed view over the env vars the reconciliation service reads.
type Settings struct {
	ReconciliationEnabled     bool
	ReconciliationInterval    time.Duration `validate:"gte=5m"`
	ReconciliationConcurrency int           `validate:"gte=1,lte=32"`
	DefaultMaxEvents          int           `validate:"gte=1,lte=5000"`
	PageSize                  int           `validate:"gte=1,lte=100"`
	RunLockTTL                time.Duration `validate:"gte=10s"`

	ProcessorProvider      string        `validate:"required"`
	ProcessorBaseURL       string        `validate:"required,url"`
	ProcessorAPIKey        string
	ProcessorTimeout       time.Duration `validate:"gte=1s"`
	ProcessorMaxRetries    int           `validate:"gte=0,lte=10"`
	ProcessorRatePerSec    int           `validate:"gte=1"`
	WebhookSecret          string
	WebhookTolerance       time.Duration `validate:"gte=0s"`
	RunFinishedTopic       string
	CreateTopic            bool
	PublishTimeout         time.Duration `validate:"gte=1s,lte=60s"`
	EnablePubSubPush       bool
	ParityThresholdsFile   string `validate:"omitempty,file"`
	ParityThresholdDefault string `validate:"required,numeric"`
}

var settingsValidator = validator.New()

// LoadSettings reads the process env. Out-of-range values are rejected rather
// than clamped, except the scheduler interval which is raised to its minimum.
func LoadSettings() (Settings, error) {
	s := Settings{
		ReconciliationEnabled:     envBoolDefault("RECONCILIATION_ENABLED", false),
		ReconciliationInterval:    time.Duration(intFromEnv("RECONCILIATION_INTERVAL_SECONDS", 3600)) * time.Second,
		ReconciliationConcurrency: intFromEnv("RECONCILIATION_CONCURRENCY", 4),
		DefaultMaxEvents:          intFromEnv("RECONCILIATION_MAX_EVENTS", DefaultMaxEvents),
		PageSize:                  intFromEnv("PROCESSOR_PAGE_SIZE", MaxPageSize),
		RunLockTTL:                time.Duration(intFromEnv("RECONCILIATION_LOCK_TTL_SECONDS", 120)) * time.Second,

		ProcessorProvider:      envDefault("PROCESSOR_PROVIDER", "stripe"),
		ProcessorBaseURL:       strings.TrimRight(envDefault("PROCESSOR_API_BASE_URL", "https://api.stripe.com"), "/"),
		ProcessorAPIKey:        strings.TrimSpace(os.Getenv("PROCESSOR_API_KEY")),
		ProcessorTimeout:       time.Duration(intFromEnv("PROCESSOR_TIMEOUT_SECONDS", 30)) * time.Second,
		ProcessorMaxRetries:    intFromEnv("PROCESSOR_MAX_RETRIES", 3),
		ProcessorRatePerSec:    intFromEnv("PROCESSOR_RATE_LIMIT_PER_SEC", 20),
		WebhookSecret:          strings.TrimSpace(os.Getenv("PROCESSOR_WEBHOOK_SECRET")),
		WebhookTolerance:       time.Duration(intFromEnv("PROCESSOR_WEBHOOK_TOLERANCE_SECONDS", 300)) * time.Second,
		RunFinishedTopic:       strings.TrimSpace(os.Getenv("RECONCILIATION_TOPIC")),
		CreateTopic:            envBoolDefault("RECONCILIATION_CREATE_TOPIC", false),
		PublishTimeout:         time.Duration(intFromEnv("RECONCILIATION_PUBLISH_TIMEOUT_SECONDS", 10)) * time.Second,
		EnablePubSubPush:       envBoolDefault("ENABLE_RECONCILIATION_PUBSUB_PUSH_ENDPOINT", true),
		ParityThresholdsFile:   strings.TrimSpace(os.Getenv("PARITY_THRESHOLDS_FILE")),
		ParityThresholdDefault: envDefault("PARITY_THRESHOLD_DEFAULT", "50"),
	}
	if s.ReconciliationInterval < MinReconciliationInterval {
		s.ReconciliationInterval = MinReconciliationInterval
	}
	if err := settingsValidator.Struct(s); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func envDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
