package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	AI       AIConfig       `mapstructure:"ai"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Features FeaturesConfig `mapstructure:"features"`
}

type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type CrawlerConfig struct {
	Parallelism          int           `mapstructure:"parallelism"`
	MaxAttempts          int           `mapstructure:"max_attempts"`
	FailureRateThreshold float64       `mapstructure:"failure_rate_threshold"`
	Watchdog             time.Duration `mapstructure:"watchdog"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	ListURL              string        `mapstructure:"list_url"`
	QuoteURL             string        `mapstructure:"quote_url"`
	KLineURL             string        `mapstructure:"kline_url"`
}

type ModelOption struct {
	Value string `mapstructure:"value" json:"value"`
	Label string `mapstructure:"label" json:"label"`
}

type RoleOption struct {
	Value       string `mapstructure:"value" json:"value"`
	Label       string `mapstructure:"label" json:"label"`
	Description string `mapstructure:"description" json:"description"`
}

type AIConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	SiteURL         string        `mapstructure:"site_url"`
	SiteName        string        `mapstructure:"site_name"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	Watchdog        time.Duration `mapstructure:"watchdog"`
	AvailableModels []ModelOption `mapstructure:"available_models"`
	AvailableRoles  []RoleOption  `mapstructure:"available_roles"`
}

type TasksConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	StreamBuffer  int           `mapstructure:"stream_buffer"`
	Heartbeat     time.Duration `mapstructure:"heartbeat"`
}

type FeaturesConfig struct {
	EnableRequestLogging bool `mapstructure:"enable_request_logging"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetEnvPrefix("STOCKAPP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
