/*
Copyright 2025 Paintbox Authors.

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
	DEFAULT_PORT = "5001"
)

var ConfigStore atomic.Value

type ServerConfig struct {
	Secure    bool   `json:"secure" envconfig:"PAINTBOX_SERVER_SECURE"`
	SecretKey string `json:"secret_key" envconfig:"PAINTBOX_SERVER_SECRET_KEY"`
	Port      string `json:"port" envconfig:"PAINTBOX_SERVER_PORT"`
}

type DataSourceConfig struct {
	Dns string `json:"dns" envconfig:"PAINTBOX_DATA_SOURCE_DNS"`
}

type RedisConfig struct {
	Dns string `json:"dns" envconfig:"PAINTBOX_REDIS_DNS"`
}

// GenAIConfig holds credentials and candidate model lists for the remote
// generation backend. Candidate lists are ordered by preference and are
// never reordered at runtime.
type GenAIConfig struct {
	ApiKey  string `json:"api_key" envconfig:"PAINTBOX_GENAI_API_KEY"`
	BaseUrl string `json:"base_url" envconfig:"PAINTBOX_GENAI_BASE_URL"`
	// Per-call timeout in seconds. A timed-out call is treated as a
	// transport failure, not as model unavailability.
	TimeoutSeconds int             `json:"timeout_seconds" envconfig:"PAINTBOX_GENAI_TIMEOUT_SECONDS"`
	TextModels     []CandidateSpec `json:"text_models"`
	ImageModels    []CandidateSpec `json:"image_models"`
	EditModels     []CandidateSpec `json:"edit_models"`
	DescribeModels []CandidateSpec `json:"describe_models"`
}

// CandidateSpec is the config-file shape of one fallback candidate.
type CandidateSpec struct {
	Model     string `json:"model"`
	Transport string `json:"transport"` // "content" or "predict"
}

type TelegramConfig struct {
	Token   string `json:"token" envconfig:"PAINTBOX_TELEGRAM_TOKEN"`
	BaseUrl string `json:"base_url" envconfig:"PAINTBOX_TELEGRAM_BASE_URL"`
}

type YooKassaConfig struct {
	ShopID    string `json:"shop_id" envconfig:"PAINTBOX_YOOKASSA_SHOP_ID"`
	SecretKey string `json:"secret_key" envconfig:"PAINTBOX_YOOKASSA_SECRET_KEY"`
	ReturnUrl string `json:"return_url" envconfig:"PAINTBOX_YOOKASSA_RETURN_URL"`
}

type QueueConfig struct {
	GenerationQueue   string `json:"generation_queue" envconfig:"PAINTBOX_QUEUE_GENERATION"`
	WorkerConcurrency int    `json:"worker_concurrency" envconfig:"PAINTBOX_QUEUE_CONCURRENCY"`
	// Minimum gap between job starts, in milliseconds. The reference limit
	// is one job per second to stay under the backend's own rate limits.
	RateIntervalMs int `json:"rate_interval_ms" envconfig:"PAINTBOX_QUEUE_RATE_INTERVAL_MS"`
}

type PricingConfig struct {
	ImageGeneration int64 `json:"image_generation" envconfig:"PAINTBOX_PRICE_IMAGE_GENERATION"`
	ImageEdit       int64 `json:"image_edit" envconfig:"PAINTBOX_PRICE_IMAGE_EDIT"`
	// MaxTextCost is the conservative upper estimate used to pre-check
	// balance before a variable-cost text generation. It also bounds the
	// permitted overdraft: balance can never fall below -MaxTextCost.
	MaxTextCost     int64 `json:"max_text_cost" envconfig:"PAINTBOX_PRICE_MAX_TEXT_COST"`
	StartingBalance int64 `json:"starting_balance" envconfig:"PAINTBOX_STARTING_BALANCE"`
	ReferralBonus   int64 `json:"referral_bonus" envconfig:"PAINTBOX_REFERRAL_BONUS"`
}

type SessionConfig struct {
	TTLHours int `json:"ttl_hours" envconfig:"PAINTBOX_SESSION_TTL_HOURS"`
}

type SlackWebhook struct {
	WebhookUrl string `json:"webhook_url"`
}

type Notification struct {
	Slack SlackWebhook `json:"slack"`
}

type RateLimitConfig struct {
	RequestsPerSecond  *float64 `json:"requests_per_second" envconfig:"PAINTBOX_RATE_LIMIT_RPS"`
	Burst              *int     `json:"burst" envconfig:"PAINTBOX_RATE_LIMIT_BURST"`
	CleanupIntervalSec *int     `json:"cleanup_interval_sec" envconfig:"PAINTBOX_RATE_LIMIT_CLEANUP_INTERVAL_SEC"`
}

type Configuration struct {
	ProjectName  string           `json:"project_name" envconfig:"PAINTBOX_PROJECT_NAME"`
	Server       ServerConfig     `json:"server"`
	DataSource   DataSourceConfig `json:"data_source"`
	Redis        RedisConfig      `json:"redis"`
	GenAI        GenAIConfig      `json:"genai"`
	Telegram     TelegramConfig   `json:"telegram"`
	YooKassa     YooKassaConfig   `json:"yookassa"`
	Queue        QueueConfig      `json:"queue"`
	Pricing      PricingConfig    `json:"pricing"`
	Session      SessionConfig    `json:"session"`
	Notification Notification     `json:"notification"`
	RateLimit    RateLimitConfig  `json:"rate_limit"`
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
	err = envconfig.Process("paintbox", &cnf)
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
		return nil, errors.New("config not loaded from file. Create a json file called paintbox.json with your config ❌")
	}
	return c, nil
}

func (cnf *Configuration) validateAndAddDefaults() error {
	if cnf.ProjectName == "" {
		log.Println("Warning: Project name is empty. Setting a default name.")
		cnf.ProjectName = "Paintbox Server"
	}

	if cnf.DataSource.Dns == "" {
		log.Println("Error: Data source DNS is empty. It's a required field.")
		return errors.New("data source DNS is required")
	}

	if cnf.Redis.Dns == "" {
		log.Println("Error: Redis DNS is empty. It's a required field.")
		return errors.New("redis DNS is required")
	}

	cnf.ProjectName = strings.TrimSpace(cnf.ProjectName)
	cnf.Server.Port = strings.TrimSpace(cnf.Server.Port)
	cnf.DataSource.Dns = strings.TrimSpace(cnf.DataSource.Dns)
	cnf.Redis.Dns = strings.TrimSpace(cnf.Redis.Dns)

	if cnf.Server.Port == "" {
		cnf.Server.Port = DEFAULT_PORT
		log.Printf("Warning: Port not specified in config. Setting default port: %s", DEFAULT_PORT)
	}

	if cnf.GenAI.BaseUrl == "" {
		cnf.GenAI.BaseUrl = "https://generativelanguage.googleapis.com"
	}
	if cnf.GenAI.TimeoutSeconds <= 0 {
		cnf.GenAI.TimeoutSeconds = 60
	}
	if len(cnf.GenAI.TextModels) == 0 {
		cnf.GenAI.TextModels = []CandidateSpec{{Model: "gemini-1.5-flash", Transport: "content"}}
	}
	if len(cnf.GenAI.ImageModels) == 0 {
		cnf.GenAI.ImageModels = []CandidateSpec{
			{Model: "gemini-2.0-flash-exp-image-generation", Transport: "content"},
			{Model: "imagen-4.0-generate-001", Transport: "predict"},
		}
	}
	if len(cnf.GenAI.EditModels) == 0 {
		cnf.GenAI.EditModels = []CandidateSpec{
			{Model: "gemini-2.0-flash-exp-image-generation", Transport: "content"},
		}
	}
	if len(cnf.GenAI.DescribeModels) == 0 {
		cnf.GenAI.DescribeModels = []CandidateSpec{{Model: "gemini-1.5-flash", Transport: "content"}}
	}

	if cnf.Telegram.BaseUrl == "" {
		cnf.Telegram.BaseUrl = "https://api.telegram.org"
	}

	if cnf.Queue.GenerationQueue == "" {
		cnf.Queue.GenerationQueue = "generation"
	}
	if cnf.Queue.WorkerConcurrency <= 0 {
		cnf.Queue.WorkerConcurrency = 1
	}
	if cnf.Queue.RateIntervalMs <= 0 {
		cnf.Queue.RateIntervalMs = 1000
	}

	if cnf.Pricing.ImageGeneration <= 0 {
		cnf.Pricing.ImageGeneration = 2
	}
	if cnf.Pricing.ImageEdit <= 0 {
		cnf.Pricing.ImageEdit = 2
	}
	if cnf.Pricing.MaxTextCost <= 0 {
		cnf.Pricing.MaxTextCost = 5
	}
	if cnf.Pricing.StartingBalance <= 0 {
		cnf.Pricing.StartingBalance = 10
	}
	if cnf.Pricing.ReferralBonus <= 0 {
		cnf.Pricing.ReferralBonus = 5
	}

	if cnf.Session.TTLHours <= 0 {
		cnf.Session.TTLHours = 24
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

// SessionTTL returns the session store TTL as a duration.
func (cnf *Configuration) SessionTTL() time.Duration {
	return time.Duration(cnf.Session.TTLHours) * time.Hour
}

// MockConfig stores a test configuration in the global store after applying
// defaults. Intended for package tests only.
func MockConfig(mockConfig *Configuration) error {
	err := mockConfig.validateAndAddDefaults()
	if err != nil {
		return err
	}
	ConfigStore.Store(mockConfig)
	return nil
}

func logger() {
	logger := logrus.New()
	log.SetOutput(logger.Writer())
}
