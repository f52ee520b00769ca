package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

// ModelRate is the per-1K-token USD price of a model.
type ModelRate struct {
	InputPer1K  float64 `mapstructure:"INPUT_PER_1K"`
	OutputPer1K float64 `mapstructure:"OUTPUT_PER_1K"`
}

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Server     struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Ledger struct {
		Backend  string `mapstructure:"BACKEND"` // memory | file | redis
		FilePath string `mapstructure:"FILE_PATH"`
	} `mapstructure:"LEDGER"`
	Trial struct {
		DailyTaskCap      int64   `mapstructure:"DAILY_TASK_CAP"`
		DailyTokenCap     int64   `mapstructure:"DAILY_TOKEN_CAP"`
		MaxCostPerCallUSD float64 `mapstructure:"MAX_COST_PER_CALL_USD"`
	} `mapstructure:"TRIAL"`
	Budget struct {
		WindowDays int `mapstructure:"WINDOW_DAYS"`
	} `mapstructure:"BUDGET"`
	Scheduler struct {
		TickInterval      time.Duration `mapstructure:"TICK_INTERVAL"`
		MissedRunMaxAge   time.Duration `mapstructure:"MISSED_RUN_MAX_AGE"`
		RetentionDays     int           `mapstructure:"RETENTION_DAYS"`
		MaxRetries        int           `mapstructure:"MAX_RETRIES"`
		DLQAlertThreshold int64         `mapstructure:"DLQ_ALERT_THRESHOLD"`
	} `mapstructure:"SCHEDULER"`
	Delta struct {
		BaseURL    string        `mapstructure:"BASE_URL"`
		APIKey     string        `mapstructure:"API_KEY"`
		APISecret  string        `mapstructure:"API_SECRET"`
		Timeout    time.Duration `mapstructure:"TIMEOUT"`
		MaxRetries int           `mapstructure:"MAX_RETRIES"`
	} `mapstructure:"DELTA"`
	Pricing map[string]ModelRate `mapstructure:"PRICING"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		zap.L().Warn("no config file found, relying on environment", zap.Error(err))
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Fatal("failed to unmarshal config", zap.Error(err))
	}

	applyDefaults(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.AppName == "" {
		cfg.AppName = "waooaw-plant"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Trial.DailyTaskCap == 0 {
		cfg.Trial.DailyTaskCap = 10
	}
	if cfg.Trial.MaxCostPerCallUSD == 0 {
		cfg.Trial.MaxCostPerCallUSD = 1.0
	}
	if cfg.Budget.WindowDays == 0 {
		cfg.Budget.WindowDays = 30
	}
	if cfg.Scheduler.TickInterval == 0 {
		cfg.Scheduler.TickInterval = 30 * time.Second
	}
	if cfg.Scheduler.MissedRunMaxAge == 0 {
		cfg.Scheduler.MissedRunMaxAge = 24 * time.Hour
	}
	if cfg.Scheduler.RetentionDays == 0 {
		cfg.Scheduler.RetentionDays = 30
	}
	if cfg.Scheduler.MaxRetries == 0 {
		cfg.Scheduler.MaxRetries = 3
	}
	if cfg.Scheduler.DLQAlertThreshold == 0 {
		cfg.Scheduler.DLQAlertThreshold = 10
	}
	if cfg.Delta.Timeout == 0 {
		cfg.Delta.Timeout = 10 * time.Second
	}
	if cfg.Delta.MaxRetries == 0 {
		cfg.Delta.MaxRetries = 2
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = "memory"
	}
}
