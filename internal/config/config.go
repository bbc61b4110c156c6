// Package config читает настройки сервисов Conveyor из переменных окружения.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Режимы отправки promotion.
const (
	PromotionModeMQ      = "mq"
	PromotionModeWebhook = "webhook"
	PromotionModeValues  = "values"
	PromotionModeLog     = "log"
)

// Config — настройки всех бинарников.
type Config struct {
	DBURL       string
	RabbitMQURL string

	APIPort   string
	OrchPort  string
	SchedPort string

	MaxParallelTasks int
	MaxActiveRuns    int
	PollInterval     time.Duration
	GatePollInterval time.Duration

	// LogDir — каталог логов задач. Пусто — логи в БД.
	LogDir string

	// WorkDir — рабочий каталог shell-команд.
	WorkDir string

	PromotionMode       string
	PromotionWebhookURL string
	ValuesDir           string
	ValuesKey           string
	GitPush             bool
}

// Load читает конфигурацию из окружения и подставляет значения по умолчанию.
func Load() (*Config, error) {
	cfg := &Config{
		DBURL:               os.Getenv("DB_URL"),
		RabbitMQURL:         os.Getenv("RABBITMQ_URL"),
		APIPort:             getEnv("API_PORT", "8080"),
		OrchPort:            getEnv("ORCH_PORT", "8083"),
		SchedPort:           getEnv("SCHED_PORT", "8084"),
		LogDir:              os.Getenv("LOG_DIR"),
		WorkDir:             os.Getenv("WORK_DIR"),
		PromotionMode:       strings.ToLower(getEnv("PROMOTION_MODE", PromotionModeMQ)),
		PromotionWebhookURL: os.Getenv("PROMOTION_WEBHOOK_URL"),
		ValuesDir:           os.Getenv("VALUES_DIR"),
		ValuesKey:           getEnv("VALUES_KEY", "image.tag"),
	}

	var err error
	if cfg.MaxParallelTasks, err = getInt("MAX_PARALLEL_TASKS", 0); err != nil {
		return nil, err
	}
	if cfg.MaxActiveRuns, err = getInt("MAX_ACTIVE_RUNS", 4); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getDuration("POLL_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.GatePollInterval, err = getDuration("GATE_POLL_INTERVAL", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.GitPush, err = getBool("GIT_PUSH", false); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.PromotionMode {
	case PromotionModeMQ, PromotionModeLog:
	case PromotionModeWebhook:
		if c.PromotionWebhookURL == "" {
			return fmt.Errorf("PROMOTION_WEBHOOK_URL is required for promotion mode %q", c.PromotionMode)
		}
	case PromotionModeValues:
		if c.ValuesDir == "" {
			return fmt.Errorf("VALUES_DIR is required for promotion mode %q", c.PromotionMode)
		}
	default:
		return fmt.Errorf("unknown PROMOTION_MODE %q", c.PromotionMode)
	}
	if c.MaxParallelTasks < 0 {
		return fmt.Errorf("MAX_PARALLEL_TASKS must be >= 0, got %d", c.MaxParallelTasks)
	}
	if c.MaxActiveRuns < 1 {
		return fmt.Errorf("MAX_ACTIVE_RUNS must be >= 1, got %d", c.MaxActiveRuns)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

// getDuration принимает "30s", "5m" или число секунд.
func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, v)
	}
	return d, nil
}

func getBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
