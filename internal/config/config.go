// Package config содержит логику чтения конфигурации платёжного терминала.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoAPIBaseURL возвращается, если не задан адрес HTTP API сервера.
	ErrNoAPIBaseURL = errors.New("api base url is required")
	// ErrNoWSBaseURL возвращается, если не задан адрес push-канала сервера.
	ErrNoWSBaseURL = errors.New("websocket base url is required")
)

// Config содержит параметры конфигурации терминала.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	APIBaseURL    string `env:"API_BASE_URL"`
	WSBaseURL     string `env:"API_BASE_WS_URL"`
	DatabaseURI   string `env:"DATABASE_URI"`
	AuthToken     string `env:"AUTH_TOKEN"`
	OperatorToken string `env:"OPERATOR_TOKEN"`
	ConfigFile    string `env:"CONFIG_FILE"`
	DevMode       bool   `env:"DEV_MODE"`

	Payment Payment `envPrefix:"PAYMENT_" yaml:"payment"`
	Push    Push    `envPrefix:"PUSH_" yaml:"push"`
	Remote  Remote  `envPrefix:"REMOTE_" yaml:"remote"`
}

// Payment содержит интервалы и пределы сценария оплаты.
type Payment struct {
	DepositTimeout     time.Duration `env:"DEPOSIT_TIMEOUT" yaml:"deposit_timeout"`
	RobotStartInterval time.Duration `env:"ROBOT_START_INTERVAL" yaml:"robot_start_interval"`
	CountdownTick      time.Duration `env:"COUNTDOWN_TICK" yaml:"countdown_tick"`
	QRPollInterval     time.Duration `env:"QR_POLL_INTERVAL" yaml:"qr_poll_interval"`
	QRPollMaxAttempts  int           `env:"QR_POLL_MAX_ATTEMPTS" yaml:"qr_poll_max_attempts"`
	CardPollInterval   time.Duration `env:"CARD_POLL_INTERVAL" yaml:"card_poll_interval"`
	CashPollInterval   time.Duration `env:"CASH_POLL_INTERVAL" yaml:"cash_poll_interval"`
	PayedRetryDelay    time.Duration `env:"PAYED_RETRY_DELAY" yaml:"payed_retry_delay"`
	MaxQueuePosition   int           `env:"MAX_QUEUE_POSITION" yaml:"max_queue_position"`
	LoyaltyTimeout     time.Duration `env:"LOYALTY_TIMEOUT" yaml:"loyalty_timeout"`
	ProgramsTTL        time.Duration `env:"PROGRAMS_TTL" yaml:"programs_ttl"`
	RemoteCallTimeout  time.Duration `env:"REMOTE_CALL_TIMEOUT" yaml:"remote_call_timeout"`
	OrderMemoryTTL     time.Duration `env:"ORDER_MEMORY_TTL" yaml:"order_memory_ttl"`
}

// Push содержит параметры переподключения push-канала.
type Push struct {
	InitialDelay      time.Duration `env:"INITIAL_DELAY" yaml:"initial_delay"`
	ConnectTimeout    time.Duration `env:"CONNECT_TIMEOUT" yaml:"connect_timeout"`
	ReconnectInterval time.Duration `env:"RECONNECT_INTERVAL" yaml:"reconnect_interval"`
	ReconnectAttempts int           `env:"RECONNECT_ATTEMPTS" yaml:"reconnect_attempts"`
}

// Remote содержит параметры HTTP-клиента сервера.
type Remote struct {
	Timeout    time.Duration `env:"TIMEOUT" yaml:"timeout"`
	RetryCount int           `env:"RETRY_COUNT" yaml:"retry_count"`
	RPS        float64       `env:"RPS" yaml:"rps"`
}

// DefaultPayment возвращает значения сценария оплаты по умолчанию.
func DefaultPayment() Payment {
	return Payment{
		DepositTimeout:     30 * time.Second,
		RobotStartInterval: 10 * time.Second,
		CountdownTick:      time.Second,
		QRPollInterval:     time.Second,
		QRPollMaxAttempts:  10,
		CardPollInterval:   1500 * time.Millisecond,
		CashPollInterval:   time.Second,
		PayedRetryDelay:    time.Second,
		MaxQueuePosition:   1,
		LoyaltyTimeout:     30 * time.Second,
		ProgramsTTL:        time.Hour,
		RemoteCallTimeout:  10 * time.Second,
		OrderMemoryTTL:     24 * time.Hour,
	}
}

// DefaultPush возвращает параметры push-канала по умолчанию.
func DefaultPush() Push {
	return Push{
		InitialDelay:      time.Second,
		ConnectTimeout:    5 * time.Second,
		ReconnectInterval: 5 * time.Second,
		ReconnectAttempts: 5,
	}
}

// DefaultRemote возвращает параметры HTTP-клиента по умолчанию.
func DefaultRemote() Remote {
	return Remote{
		Timeout:    5 * time.Second,
		RetryCount: 2,
		RPS:        10,
	}
}

// Parse считывает конфигурацию из флагов командной строки, переменных
// окружения и, если указан, yaml-файла с интервалами.
//
// Переменные окружения приоритетнее флагов, файл переопределяет только
// значения по умолчанию для разделов payment, push и remote.
func Parse() (*Config, error) {
	cfg := &Config{
		Payment: DefaultPayment(),
		Push:    DefaultPush(),
		Remote:  DefaultRemote(),
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envAPIBaseURL := cfg.APIBaseURL
	envWSBaseURL := cfg.WSBaseURL
	envDatabaseURI := cfg.DatabaseURI
	envAuthToken := cfg.AuthToken
	envConfigFile := cfg.ConfigFile

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for kiosk HTTP API")
	flag.StringVar(&cfg.APIBaseURL, "r", "", "car wash backend API base URL")
	flag.StringVar(&cfg.WSBaseURL, "w", "", "car wash backend websocket base URL")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "payment journal database URI")
	flag.StringVar(&cfg.AuthToken, "t", "", "terminal bearer token")
	flag.StringVar(&cfg.ConfigFile, "c", "", "path to yaml file with payment timings")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envAPIBaseURL != "" {
		cfg.APIBaseURL = envAPIBaseURL
	}
	if envWSBaseURL != "" {
		cfg.WSBaseURL = envWSBaseURL
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthToken != "" {
		cfg.AuthToken = envAuthToken
	}
	if envConfigFile != "" {
		cfg.ConfigFile = envConfigFile
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	if cfg.ConfigFile != "" {
		if err := loadFile(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.APIBaseURL == "" {
		return nil, ErrNoAPIBaseURL
	}
	if cfg.WSBaseURL == "" {
		return nil, ErrNoWSBaseURL
	}

	return cfg, nil
}

type fileConfig struct {
	Payment *Payment `yaml:"payment"`
	Push    *Push    `yaml:"push"`
	Remote  *Remote  `yaml:"remote"`
}

// loadFile накладывает значения из yaml-файла на текущие, после чего
// повторно применяет переменные окружения, чтобы они остались главнее.
func loadFile(cfg *Config) error {
	data, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	fc := fileConfig{
		Payment: &cfg.Payment,
		Push:    &cfg.Push,
		Remote:  &cfg.Remote,
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if err := env.ParseWithOptions(&cfg.Payment, env.Options{Prefix: "PAYMENT_"}); err != nil {
		return fmt.Errorf("parse payment env: %w", err)
	}
	if err := env.ParseWithOptions(&cfg.Push, env.Options{Prefix: "PUSH_"}); err != nil {
		return fmt.Errorf("parse push env: %w", err)
	}
	if err := env.ParseWithOptions(&cfg.Remote, env.Options{Prefix: "REMOTE_"}); err != nil {
		return fmt.Errorf("parse remote env: %w", err)
	}

	return nil
}
