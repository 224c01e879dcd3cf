package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App      App      `yaml:"app"`
	Database Database `yaml:"database"`
	Allows   Allows   `yaml:"allows"`
	Log      Log      `yaml:"log"`
	Session  Session  `yaml:"session"`
	Media    Media    `yaml:"media"`
	Broker   Broker   `yaml:"broker"`
}

type App struct {
	Name string `yaml:"name" validate:"required"`
	Port string `yaml:"port" validate:"required"`
	Host string `yaml:"host"`
}

type Database struct {
	Host string `yaml:"host" validate:"required"`
	Port string `yaml:"port" validate:"required"`
	User string `yaml:"user" validate:"required"`
	Pass string `yaml:"pass"`
	Name string `yaml:"name" validate:"required"`
}

type Allows struct {
	Methods []string `yaml:"methods"`
	Origins []string `yaml:"origins"`
	Headers []string `yaml:"headers"`
}

type Log struct {
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error silent"`
}

// Session tunes the connection supervisor.
type Session struct {
	AuthDir     string        `yaml:"auth_dir" validate:"required"`
	EventBuffer int           `yaml:"event_buffer" validate:"gte=1"`
	SeenCache   int           `yaml:"seen_cache" validate:"gte=0"`
	BackoffStep time.Duration `yaml:"backoff_step" validate:"gt=0"`
	BackoffMax  time.Duration `yaml:"backoff_max" validate:"gtefield=BackoffStep"`
}

type Media struct {
	Dir     string `yaml:"dir" validate:"required"`
	BaseURL string `yaml:"base_url"`
}

// Broker is optional; an empty URL disables AMQP fan-out.
type Broker struct {
	URL      string `yaml:"url" validate:"omitempty,url"`
	Exchange string `yaml:"exchange"`
}

func InitConfig() *Config {
	return Load("./config.yaml")
}

// Load reads the yaml file at path (a missing file is fine), applies
// defaults and then environment overrides.
func Load(path string) *Config {
	configs := Defaults()
	file_name, _ := filepath.Abs(path)
	if yaml_file, err := os.ReadFile(file_name); err == nil {
		yaml.Unmarshal(yaml_file, configs)
	}

	// Override with environment variables if they exist (for Docker)
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		configs.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		configs.Database.Port = dbPort
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		configs.Database.User = dbUser
	}
	if dbPassword := os.Getenv("DB_PASSWORD"); dbPassword != "" {
		configs.Database.Pass = dbPassword
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		configs.Database.Name = dbName
	}

	if appHost := os.Getenv("APP_HOST"); appHost != "" {
		configs.App.Host = appHost
	}
	if appPort := os.Getenv("APP_PORT"); appPort != "" {
		configs.App.Port = appPort
	}
	if appName := os.Getenv("APP_NAME"); appName != "" {
		configs.App.Name = appName
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		configs.Log.Level = level
	}
	if dir := os.Getenv("AUTH_DIR"); dir != "" {
		configs.Session.AuthDir = dir
	}
	if buf := os.Getenv("SESSION_EVENT_BUFFER"); buf != "" {
		if n, err := strconv.Atoi(buf); err == nil {
			configs.Session.EventBuffer = n
		}
	}
	if dir := os.Getenv("MEDIA_DIR"); dir != "" {
		configs.Media.Dir = dir
	}
	if base := os.Getenv("MEDIA_BASE_URL"); base != "" {
		configs.Media.BaseURL = base
	}
	if url := os.Getenv("BROKER_URL"); url != "" {
		configs.Broker.URL = url
	}

	return configs
}

func Defaults() *Config {
	return &Config{
		App: App{Name: "deskhub", Port: "8000", Host: "0.0.0.0"},
		Database: Database{
			Host: "localhost",
			Port: "5432",
			User: "postgres",
			Name: "deskhub",
		},
		Log: Log{Level: "info"},
		Session: Session{
			AuthDir:     "./data/auth",
			EventBuffer: 256,
			SeenCache:   512,
			BackoffStep: 1500 * time.Millisecond,
			BackoffMax:  10 * time.Second,
		},
		Media:  Media{Dir: "./data/media", BaseURL: "/media"},
		Broker: Broker{Exchange: "deskhub.events"},
	}
}

// Validate checks the struct tags above.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
