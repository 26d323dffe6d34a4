package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	TelegramToken string `mapstructure:"TELEGRAM_TOKEN"`
	DBDSN         string `mapstructure:"DB_DSN"`
	Environment   string `mapstructure:"ENV"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// Канал для публикации завершённых сделок
	BroadcastChannelID int64 `mapstructure:"BROADCAST_CHANNEL_ID"`

	// Тайминги движка
	CompletionCheckDelay time.Duration `mapstructure:"COMPLETION_CHECK_DELAY"`
	BroadcastTimeout     time.Duration `mapstructure:"BROADCAST_TIMEOUT"`
	CooldownWindow       time.Duration `mapstructure:"COOLDOWN_WINDOW"`
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("⚠️  No .env file found, using environment variables")
	} else {
		log.Println("✅ Loaded configuration from .env file")
	}

	// Читаем напрямую из переменных окружения (после godotenv.Load они там)
	cfg := &Config{
		DBDSN:         os.Getenv("DB_DSN"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		Environment:   os.Getenv("ENV"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}

	cfg.RedisDB = envInt("REDIS_DB", 0)
	cfg.BroadcastChannelID = int64(envInt("BROADCAST_CHANNEL_ID", 0))

	cfg.CompletionCheckDelay = envDuration("COMPLETION_CHECK_DELAY", 2*time.Hour)
	cfg.BroadcastTimeout = envDuration("BROADCAST_TIMEOUT", 10*time.Minute)
	cfg.CooldownWindow = envDuration("COOLDOWN_WINDOW", 3*time.Second)

	// Устанавливаем дефолтные значения
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}

	// Проверяем обязательные поля
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required but not set")
	}
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is required but not set")
	}

	log.Printf("Config loaded\n")

	return cfg, nil
}

func (c *Config) GetDBDSN() string {
	return c.DBDSN
}

// envInt читает целое из окружения с дефолтом
func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %d", key, raw, def)
		return def
	}
	return v
}

// envDuration читает time.Duration из окружения с дефолтом
func envDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("⚠️  Invalid %s=%q, using default %s", key, raw, def)
		return def
	}
	return d
}
