package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
)

type Config struct {
	Server struct {
		Addr      string `yaml:"addr"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	Scheduler struct {
		TickInterval time.Duration `yaml:"tick_interval"`
		CycleTimeout time.Duration `yaml:"cycle_timeout"`
	} `yaml:"scheduler"`
	Conversation struct {
		StalenessWindow       time.Duration `yaml:"staleness_window"`
		ClassificationTimeout time.Duration `yaml:"classification_timeout"`
		DeliveryTimeout       time.Duration `yaml:"delivery_timeout"`
	} `yaml:"conversation"`
	Credits struct {
		LowThreshold int                    `yaml:"low_threshold"`
		Packages     []models.CreditPackage `yaml:"packages"`
	} `yaml:"credits"`
	Defaults struct {
		CreditCap      int                     `yaml:"credit_cap"`
		InitialCredits int                     `yaml:"initial_credits"`
		Temperature    float64                 `yaml:"temperature"`
		Settings       models.AutonomySettings `yaml:"settings"`
		ConnectionNote string                  `yaml:"connection_note_template"`
	} `yaml:"defaults"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional
	cfg := defaultConfig()
	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Default() *Config {
	cfg := defaultConfig()
	return &cfg
}

func defaultConfig() Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Database.Path = "seekerd.db"
	cfg.Logging.Level = "info"
	cfg.Scheduler.TickInterval = time.Minute
	cfg.Scheduler.CycleTimeout = 5 * time.Minute
	cfg.Conversation.StalenessWindow = 7 * 24 * time.Hour
	cfg.Conversation.ClassificationTimeout = 5 * time.Second
	cfg.Conversation.DeliveryTimeout = 30 * time.Second
	cfg.Credits.LowThreshold = 5
	cfg.Credits.Packages = []models.CreditPackage{
		{ID: "starter", Name: "Starter", Credits: 25, Price: 9.99},
		{ID: "pro", Name: "Professional", Credits: 100, Price: 29.99},
		{ID: "enterprise", Name: "Enterprise", Credits: 500, Price: 99.99},
	}
	cfg.Defaults.CreditCap = 50
	cfg.Defaults.InitialCredits = 50
	cfg.Defaults.Temperature = 0.5
	cfg.Defaults.Settings = models.AutonomySettings{
		AutoRespond: true,
		WorkingHours: models.WorkingHours{
			Enabled:  true,
			Start:    "09:00",
			End:      "18:00",
			Timezone: "UTC",
		},
		MaxDailyOutreach:   20,
		CooldownPeriodDays: 30,
		AllowAgentContact:  true,
	}
	cfg.Defaults.ConnectionNote = "Hi {{Name}}, I came across your work at {{Company}} and would love to connect."
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SEEKERD_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SEEKERD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SEEKERD_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SEEKERD_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
}

func validate(cfg *Config) error {
	if cfg.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if cfg.Scheduler.TickInterval <= 0 {
		return errors.New("scheduler.tick_interval must be > 0")
	}
	if cfg.Conversation.ClassificationTimeout <= 0 {
		return errors.New("conversation.classification_timeout must be > 0")
	}
	if cfg.Conversation.StalenessWindow <= 0 {
		return errors.New("conversation.staleness_window must be > 0")
	}
	if cfg.Credits.LowThreshold < 0 {
		return errors.New("credits.low_threshold must be >= 0")
	}
	seen := make(map[string]bool, len(cfg.Credits.Packages))
	for _, p := range cfg.Credits.Packages {
		if p.ID == "" || p.Credits <= 0 {
			return fmt.Errorf("credits.packages: package %q needs an id and positive credits", p.Name)
		}
		if seen[p.ID] {
			return fmt.Errorf("credits.packages: duplicate id %q", p.ID)
		}
		seen[p.ID] = true
	}
	if t := cfg.Defaults.Temperature; t < 0 || t > 1 {
		return errors.New("defaults.temperature must be within [0,1]")
	}
	if cfg.Defaults.Settings.MaxDailyOutreach < 0 {
		return errors.New("defaults.settings.max_daily_outreach must be >= 0")
	}
	if cfg.Defaults.Settings.CooldownPeriodDays < 0 {
		return errors.New("defaults.settings.cooldown_period_days must be >= 0")
	}
	if cfg.Defaults.InitialCredits < 0 || cfg.Defaults.CreditCap < 0 {
		return errors.New("defaults credit values must be >= 0")
	}
	return nil
}

// Package looks up a configured credit package by id.
func (c *Config) Package(id string) (models.CreditPackage, bool) {
	for _, p := range c.Credits.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return models.CreditPackage{}, false
}
