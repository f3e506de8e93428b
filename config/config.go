/*
Copyright 2024 Blnk Finance Authors.

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
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_PORT                  = "5005"
	DEFAULT_DRIVER                = "sqlite3"
	DEFAULT_PROBE_PATH            = "/api/health"
	DEFAULT_COMMIT_PATH           = "/api/pos/orders"
	DEFAULT_PROBE_TIMEOUT         = 3
	DEFAULT_SUBMIT_TIMEOUT        = 30
	DEFAULT_SYNC_INTERVAL         = 60
	DEFAULT_CONNECTIVITY_INTERVAL = 30
	DEFAULT_STALE_AFTER           = 15
	DEFAULT_MAX_ATTEMPTS          = 10
	DEFAULT_RETRY_INITIAL         = 30
	DEFAULT_RETRY_MAX             = 1800
	DEFAULT_STUCK_SYNCING_AFTER   = 600
	DEFAULT_LOCK_TTL              = 120
	DEFAULT_WEBHOOK_QUEUE         = "tillsync_webhooks"
	DEFAULT_MONITORING_PORT       = "5004"
	DEFAULT_COMMIT_CACHE_TTL      = 86400
)

var ConfigStore atomic.Value

type ServerConfig struct {
	SSL       bool   `json:"ssl" envconfig:"TILLSYNC_SERVER_SSL"`
	Secure    bool   `json:"secure" envconfig:"TILLSYNC_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"TILLSYNC_SERVER_SECRET_KEY"`
	Domain    string `json:"domain" envconfig:"TILLSYNC_SERVER_SSL_DOMAIN"`
	Email     string `json:"ssl_email" envconfig:"TILLSYNC_SERVER_SSL_EMAIL"`
	Port      string `json:"port" envconfig:"TILLSYNC_SERVER_PORT"`
}

// DataSourceConfig points at the local order store. Driver is one of
// sqlite3, postgres or mysql.
type DataSourceConfig struct {
	Driver string `json:"driver" envconfig:"TILLSYNC_DATA_SOURCE_DRIVER"`
	Dns    string `json:"dns" envconfig:"TILLSYNC_DATA_SOURCE_DNS"`
}

// RedisConfig is optional. Without it the engine runs single-process:
// no distributed order locks, no commit cache and no webhook queue.
type RedisConfig struct {
	Dns           string `json:"dns" envconfig:"TILLSYNC_REDIS_DNS"`
	SkipTLSVerify bool   `json:"skip_tls_verify" envconfig:"TILLSYNC_REDIS_SKIP_TLS_VERIFY"`
}

// LedgerConfig describes the remote order ledger the till reconciles with.
type LedgerConfig struct {
	Url           string `json:"url" envconfig:"TILLSYNC_LEDGER_URL"`
	ApiKey        string `json:"api_key" envconfig:"TILLSYNC_LEDGER_API_KEY"`
	ProbePath     string `json:"probe_path" envconfig:"TILLSYNC_LEDGER_PROBE_PATH"`
	CommitPath    string `json:"commit_path" envconfig:"TILLSYNC_LEDGER_COMMIT_PATH"`
	ProbeTimeout  int    `json:"probe_timeout_sec" envconfig:"TILLSYNC_LEDGER_PROBE_TIMEOUT"`
	SubmitTimeout int    `json:"submit_timeout_sec" envconfig:"TILLSYNC_LEDGER_SUBMIT_TIMEOUT"`
}

type SyncConfig struct {
	IntervalSec             int  `json:"interval_sec" envconfig:"TILLSYNC_SYNC_INTERVAL"`
	ConnectivityIntervalSec int  `json:"connectivity_interval_sec" envconfig:"TILLSYNC_SYNC_CONNECTIVITY_INTERVAL"`
	StaleAfterSec           int  `json:"stale_after_sec" envconfig:"TILLSYNC_SYNC_STALE_AFTER"`
	MaxAttempts             int  `json:"max_attempts" envconfig:"TILLSYNC_SYNC_MAX_ATTEMPTS"`
	RetryInitialSec         int  `json:"retry_initial_sec" envconfig:"TILLSYNC_SYNC_RETRY_INITIAL"`
	RetryMaxSec             int  `json:"retry_max_sec" envconfig:"TILLSYNC_SYNC_RETRY_MAX"`
	StuckSyncingAfterSec    int  `json:"stuck_syncing_after_sec" envconfig:"TILLSYNC_SYNC_STUCK_AFTER"`
	LockTTLSec              int  `json:"lock_ttl_sec" envconfig:"TILLSYNC_SYNC_LOCK_TTL"`
	CommitCacheTTLSec       int  `json:"commit_cache_ttl_sec" envconfig:"TILLSYNC_SYNC_COMMIT_CACHE_TTL"`
	DisableAutoRetry        bool `json:"disable_auto_retry" envconfig:"TILLSYNC_SYNC_DISABLE_AUTO_RETRY"`
}

type QueueConfig struct {
	WebhookQueue   string `json:"webhook_queue" envconfig:"TILLSYNC_QUEUE_WEBHOOK"`
	MonitoringPort string `json:"monitoring_port" envconfig:"TILLSYNC_QUEUE_MONITORING_PORT"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"TILLSYNC_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"TILLSYNC_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"TILLSYNC_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url" envconfig:"TILLSYNC_SLACK_WEBHOOK_URL"`
}

type WebhookConfig struct {
	Url     string            `json:"url" envconfig:"TILLSYNC_WEBHOOK_URL"`
	Headers map[string]string `json:"headers"`
}

type Notification struct {
	Slack   SlackWebhook  `json:"slack"`
	Webhook WebhookConfig `json:"webhook"`
}

type Configuration struct {
	ProjectName     string           `json:"project_name" envconfig:"TILLSYNC_PROJECT_NAME"`
	TerminalID      string           `json:"terminal_id" envconfig:"TILLSYNC_TERMINAL_ID"`
	EnableTelemetry bool             `json:"enable_telemetry" envconfig:"TILLSYNC_ENABLE_TELEMETRY"`
	Server          ServerConfig     `json:"server"`
	DataSource      DataSourceConfig `json:"data_source"`
	Redis           RedisConfig      `json:"redis"`
	Ledger          LedgerConfig     `json:"ledger"`
	Sync            SyncConfig       `json:"sync"`
	Queue           QueueConfig      `json:"queue"`
	Notification    Notification     `json:"notification"`
	RateLimit       RateLimitConfig  `json:"rate_limit"`
}

func loadConfigFromFile(file string) error {
	var cnf Configuration
	_, err := os.Stat(file)
	if err == nil {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		err = json.NewDecoder(f).Decode(&cnf)
		if err != nil {
			return err
		}

	} else if errors.Is(err, os.ErrNotExist) {
		log.Println("config json not passed, will use env variables")
	}

	// override config from environment variables
	err = envconfig.Process("tillsync", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called tillsync.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Tillsync"
	}

	// Trim white spaces from fields
	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.DataSource.Driver = strings.ToLower(strings.TrimSpace(cnf.DataSource.Driver))
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)
	cnf.Ledger.Url = strings.TrimRight(strings.TrimSpace(cnf.Ledger.Url), "/")

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.DataSource.Driver == "" {
		cnf.DataSource.Driver = DEFAULT_DRIVER
	}
	switch cnf.DataSource.Driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return errors.New("data source driver must be one of sqlite3, postgres, mysql")
	}

	if cnf.Ledger.Url == "" {
		log.Println("Error: Ledger URL is empty. It's a required field.")
		return errors.New("ledger URL is required")
	}

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	cnf.setLedgerDefaults()
	cnf.setSyncDefaults()

	if cnf.Queue.WebhookQueue == "" {
		cnf.Queue.WebhookQueue = DEFAULT_WEBHOOK_QUEUE
	}
	if cnf.Queue.MonitoringPort == "" {
		cnf.Queue.MonitoringPort = DEFAULT_MONITORING_PORT
	}

	// Rate limiting is disabled by default (when both RPS and Burst are nil)
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
		defaultCleanup := 10800 // 3 hours in seconds
		cnf.RateLimit.CleanupIntervalSec = &defaultCleanup
	}

	return nil
}

func (cnf *Configuration) setLedgerDefaults() {
	if cnf.Ledger.ProbePath == "" {
		cnf.Ledger.ProbePath = DEFAULT_PROBE_PATH
	}
	if cnf.Ledger.CommitPath == "" {
		cnf.Ledger.CommitPath = DEFAULT_COMMIT_PATH
	}
	if cnf.Ledger.ProbeTimeout <= 0 {
		cnf.Ledger.ProbeTimeout = DEFAULT_PROBE_TIMEOUT
	}
	if cnf.Ledger.SubmitTimeout <= 0 {
		cnf.Ledger.SubmitTimeout = DEFAULT_SUBMIT_TIMEOUT
	}
	// the probe must stay shorter than a submission, otherwise a slow ledger
	// looks online while every commit times out
	if cnf.Ledger.ProbeTimeout >= cnf.Ledger.SubmitTimeout {
		log.Printf("Warning: probe timeout %ds is not shorter than submit timeout %ds. Using %ds.", cnf.Ledger.ProbeTimeout, cnf.Ledger.SubmitTimeout, DEFAULT_PROBE_TIMEOUT)
		cnf.Ledger.ProbeTimeout = DEFAULT_PROBE_TIMEOUT
		if cnf.Ledger.SubmitTimeout <= DEFAULT_PROBE_TIMEOUT {
			cnf.Ledger.SubmitTimeout = DEFAULT_SUBMIT_TIMEOUT
		}
	}
}

func (cnf *Configuration) setSyncDefaults() {
	s := &cnf.Sync
	if s.IntervalSec <= 0 {
		s.IntervalSec = DEFAULT_SYNC_INTERVAL
	}
	if s.ConnectivityIntervalSec <= 0 {
		s.ConnectivityIntervalSec = DEFAULT_CONNECTIVITY_INTERVAL
	}
	if s.StaleAfterSec <= 0 {
		s.StaleAfterSec = DEFAULT_STALE_AFTER
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = DEFAULT_MAX_ATTEMPTS
	}
	if s.RetryInitialSec <= 0 {
		s.RetryInitialSec = DEFAULT_RETRY_INITIAL
	}
	if s.RetryMaxSec <= 0 {
		s.RetryMaxSec = DEFAULT_RETRY_MAX
	}
	if s.StuckSyncingAfterSec <= 0 {
		s.StuckSyncingAfterSec = DEFAULT_STUCK_SYNCING_AFTER
	}
	if s.LockTTLSec <= 0 {
		s.LockTTLSec = DEFAULT_LOCK_TTL
	}
	if s.CommitCacheTTLSec <= 0 {
		s.CommitCacheTTLSec = DEFAULT_COMMIT_CACHE_TTL
	}
}

func (l LedgerConfig) ProbeTimeoutDuration() time.Duration {
	return time.Duration(l.ProbeTimeout) * time.Second
}

func (l LedgerConfig) SubmitTimeoutDuration() time.Duration {
	return time.Duration(l.SubmitTimeout) * time.Second
}

func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSec) * time.Second
}

func (s SyncConfig) ConnectivityInterval() time.Duration {
	return time.Duration(s.ConnectivityIntervalSec) * time.Second
}

func (s SyncConfig) StaleAfter() time.Duration {
	return time.Duration(s.StaleAfterSec) * time.Second
}

func (s SyncConfig) RetryInitial() time.Duration {
	return time.Duration(s.RetryInitialSec) * time.Second
}

func (s SyncConfig) RetryMax() time.Duration {
	return time.Duration(s.RetryMaxSec) * time.Second
}

func (s SyncConfig) StuckSyncingAfter() time.Duration {
	return time.Duration(s.StuckSyncingAfterSec) * time.Second
}

func (s SyncConfig) LockTTL() time.Duration {
	return time.Duration(s.LockTTLSec) * time.Second
}

func (s SyncConfig) CommitCacheTTL() time.Duration {
	return time.Duration(s.CommitCacheTTLSec) * time.Second
}

// MockConfig sets a mock configuration for testing purposes.
func MockConfig(mockConfig *Configuration) {
	ConfigStore.Store(mockConfig)
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
