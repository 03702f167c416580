/*
Copyright 2025 NBA Stats Scraper Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT = "5002"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"ORCH_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"ORCH_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"ORCH_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"ORCH_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"ORCH_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"ORCH_REDIS_SKIP_TLS_VERIFY"`
}

type QueueConfig struct {
	CompletionQueuePrefix string `json:"completion_queue_prefix" envconfig:"ORCH_QUEUE_COMPLETION_PREFIX"`
	TriggerQueuePrefix    string `json:"trigger_queue_prefix" envconfig:"ORCH_QUEUE_TRIGGER_PREFIX"`
	ReprocessQueue        string `json:"reprocess_queue" envconfig:"ORCH_QUEUE_REPROCESS"`
	MaxRetryAttempts      int    `json:"max_retry_attempts" envconfig:"ORCH_QUEUE_MAX_RETRY_ATTEMPTS"`
	MonitoringPort        string `json:"monitoring_port" envconfig:"ORCH_QUEUE_MONITORING_PORT"`
}

// PhaseConfig declares one phase boundary: the static set of processors
// expected to report for each run-date, and the completion fraction that
// triggers the downstream phase. Critical phases run at 1.0; soft-dependency
// phases run between 0.6 and 0.8.
type PhaseConfig struct {
	Name               string   `json:"name"`
	ExpectedProcessors []string `json:"expected_processors"`
	TriggerThreshold   float64  `json:"trigger_threshold"`
}

type PipelineConfig struct {
	Phases            []PhaseConfig `json:"phases"`
	LockTTLSec        int           `json:"lock_ttl_sec" envconfig:"ORCH_PIPELINE_LOCK_TTL_SEC"`
	IdempotencyTTLSec int           `json:"idempotency_ttl_sec" envconfig:"ORCH_PIPELINE_IDEMPOTENCY_TTL_SEC"`
}

// Phase returns the configuration for the named phase.
func (p PipelineConfig) Phase(name string) (PhaseConfig, bool) {
	for _, ph := range p.Phases {
		if ph.Name == name {
			return ph, true
		}
	}
	return PhaseConfig{}, false
}

type ReconcilerConfig struct {
	IntervalSec      int  `json:"interval_sec" envconfig:"ORCH_RECONCILER_INTERVAL_SEC"`
	WindowDays       int  `json:"window_days" envconfig:"ORCH_RECONCILER_WINDOW_DAYS"`
	AlertAfterPasses int  `json:"alert_after_passes" envconfig:"ORCH_RECONCILER_ALERT_AFTER_PASSES"`
	EnableBackfill   bool `json:"enable_backfill" envconfig:"ORCH_RECONCILER_ENABLE_BACKFILL"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int `json:"failure_threshold" envconfig:"ORCH_BREAKER_FAILURE_THRESHOLD"`
	CooldownSec      int `json:"cooldown_sec" envconfig:"ORCH_BREAKER_COOLDOWN_SEC"`
}

type RetryConfig struct {
	MaxAttempts int `json:"max_attempts" envconfig:"ORCH_RETRY_MAX_ATTEMPTS"`
	BaseDelayMs int `json:"base_delay_ms" envconfig:"ORCH_RETRY_BASE_DELAY_MS"`
	CapMs       int `json:"cap_ms" envconfig:"ORCH_RETRY_CAP_MS"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"ORCH_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"ORCH_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"ORCH_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack   SlackWebhook `json:"slack"`
	Webhook struct {
		Url     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	} `json:"webhook"`
}

type Configuration struct {
	ProjectName     string               `json:"project_name" envconfig:"ORCH_PROJECT_NAME"`
	EnableTelemetry bool                 `json:"enable_telemetry" envconfig:"ORCH_ENABLE_TELEMETRY"`
	Server          ServerConfig         `json:"server"`
	DataSource      DataSourceConfig     `json:"data_source"`
	Redis           RedisConfig          `json:"redis"`
	Queue           QueueConfig          `json:"queue"`
	Pipeline        PipelineConfig       `json:"pipeline"`
	Reconciler      ReconcilerConfig     `json:"reconciler"`
	CircuitBreaker  CircuitBreakerConfig `json:"circuit_breaker"`
	Retry           RetryConfig          `json:"retry"`
	Notification    Notification         `json:"notification"`
	RateLimit       RateLimitConfig      `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("orch", &cnf)
	if err != nil {
		return err
	}

	err = cnf.validateAndAddDefaults()
	if err != nil {
		return err
	}

	ConfigStore.Store(&cnf)
	return err
}

func InitConfig(configFile string) error {
	logger()
	return loadConfigFromFile(configFile)
}

func Fetch() (*Configuration, error) {
	config := ConfigStore.Load()
	c, ok := config.(*Configuration)
	if !ok {
		return nil, errors.New("config not loaded from file. Create a json file called orchestrator.json with your config")
	}
	return c, nil
}

// defaultPhases is the static phase graph of the stats pipeline. The expected
// processor sets are configuration, never inferred from observed events.
func defaultPhases() []PhaseConfig {
	return []PhaseConfig{
		{
			Name: "raw",
			ExpectedProcessors: []string{
				"nbacom-boxscores", "nbacom-gamebooks", "espn-boxscores",
				"bigdataball-pbp", "odds-api-lines",
			},
			TriggerThreshold: 0.8,
		},
		{
			Name: "analytics",
			ExpectedProcessors: []string{
				"player-game-summary", "team-defense-summary", "vegas-line-history",
			},
			TriggerThreshold: 0.8,
		},
		{
			Name:               "features",
			ExpectedProcessors: []string{"player-form-features", "matchup-features"},
			TriggerThreshold:   1.0,
		},
		{
			Name:               "predictions",
			ExpectedProcessors: []string{"points-prop-model"},
			TriggerThreshold:   1.0,
		},
		{
			Name:               "export",
			ExpectedProcessors: []string{"grading-export", "report-export"},
			TriggerThreshold:   1.0,
		},
	}
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Stats Pipeline Orchestrator"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.Queue.CompletionQueuePrefix == "" {
		cnf.Queue.CompletionQueuePrefix = "completions"
	}
	if cnf.Queue.TriggerQueuePrefix == "" {
		cnf.Queue.TriggerQueuePrefix = "triggers"
	}
	if cnf.Queue.ReprocessQueue == "" {
		cnf.Queue.ReprocessQueue = "reprocess"
	}
	if cnf.Queue.MaxRetryAttempts <= 0 {
		cnf.Queue.MaxRetryAttempts = 5
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = "5003"
	}

	if len(cnf.Pipeline.Phases) == 0 {
		cnf.Pipeline.Phases = defaultPhases()
	}
	for i, ph := range cnf.Pipeline.Phases {
		if ph.TriggerThreshold <= 0 || ph.TriggerThreshold > 1 {
			log.Printf("Warning: phase %s has no usable trigger threshold, defaulting to 1.0", ph.Name)
			cnf.Pipeline.Phases[i].TriggerThreshold = 1.0
		}
		if len(ph.ExpectedProcessors) == 0 {
			return errors.New("phase " + ph.Name + " has an empty expected processor set")
		}
	}
	if cnf.Pipeline.LockTTLSec <= 0 {
		cnf.Pipeline.LockTTLSec = 300
	}
	if cnf.Pipeline.IdempotencyTTLSec <= 0 {
		cnf.Pipeline.IdempotencyTTLSec = 86400
	}

	if cnf.Reconciler.IntervalSec <= 0 {
		cnf.Reconciler.IntervalSec = 300
	}
	if cnf.Reconciler.WindowDays <= 0 {
		cnf.Reconciler.WindowDays = 3
	}
	if cnf.Reconciler.AlertAfterPasses <= 0 {
		cnf.Reconciler.AlertAfterPasses = 3
	}

	if cnf.CircuitBreaker.FailureThreshold <= 0 {
		cnf.CircuitBreaker.FailureThreshold = 5
	}
	if cnf.CircuitBreaker.CooldownSec <= 0 {
		cnf.CircuitBreaker.CooldownSec = 600
	}

	if cnf.Retry.MaxAttempts <= 0 {
		cnf.Retry.MaxAttempts = 5
	}
	if cnf.Retry.BaseDelayMs <= 0 {
		cnf.Retry.BaseDelayMs = 1000
	}
	if cnf.Retry.CapMs <= 0 {
		cnf.Retry.CapMs = 30000
	}

	if cnf.RateLimit.RequestsPerSecond != nil && cnf.RateLimit.Burst == nil {
		defaultBurst := 2 * int(*cnf.RateLimit.RequestsPerSecond)
		cnf.RateLimit.Burst = &defaultBurst
		log.Printf("Warning: Rate limit burst not specified. Setting default value: %d", defaultBurst)
	}
	if cnf.RateLimit.RequestsPerSecond == nil && cnf.RateLimit.Burst != nil {
		defaultRPS := float64(*cnf.RateLimit.Burst) / 2
		cnf.RateLimit.RequestsPerSecond = &defaultRPS
		log.Printf("Warning: Rate limit RPS not specified. Setting default value: %.2f", defaultRPS)
	}
	if cnf.RateLimit.CleanupIntervalSec == nil {
		defaultCleanup := 10800
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
