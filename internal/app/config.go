package app

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/shrimpsizemoose/trekker/logger"
)

type HeaderConfig struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

type SheetConfig struct {
	ExamID          string `toml:"exam_id"`
	SpreadsheetID   string `toml:"spreadsheet_id"`
	SheetName       string `toml:"sheet_name"`
	CredentialsFile string `toml:"credentials_file"`
	Cron            string `toml:"cron"`
}

type Config struct {
	Server struct {
		Port string `toml:"port"`
	} `toml:"server"`

	Portal struct {
		InstitutionalDomain string `toml:"institutional_domain"`
	} `toml:"portal"`

	API struct {
		UserIDHeader    string         `toml:"user_id_header"`
		RequiredHeaders []HeaderConfig `toml:"required_headers"`
	} `toml:"api"`

	Database struct {
		DSN string `toml:"dsn"`
	} `toml:"database"`

	AI struct {
		BaseURL        string `toml:"base_url"`
		APIKey         string `toml:"api_key"`
		Model          string `toml:"model"`
		TimeoutSeconds int    `toml:"timeout_seconds"`
	} `toml:"ai"`

	Session struct {
		TickMillis int `toml:"tick_millis"`
	} `toml:"session"`

	Events struct {
		AMQPURL  string `toml:"amqp_url"`
		Exchange string `toml:"exchange"`
	} `toml:"events"`

	Bot struct {
		Token    string  `toml:"token"`
		AdminIDs []int64 `toml:"admin_ids"`
	} `toml:"bot"`

	Sheets []SheetConfig `toml:"gsheet"`
}

func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSeconds) * time.Second
}

func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.Session.TickMillis) * time.Millisecond
}

var envOverrides = []struct {
	name  string
	field func(*Config) *string
}{
	{"PORTAL_AI_API_KEY", func(c *Config) *string { return &c.AI.APIKey }},
	{"PORTAL_AI_BASE_URL", func(c *Config) *string { return &c.AI.BaseURL }},
	{"PORTAL_BOT_TOKEN", func(c *Config) *string { return &c.Bot.Token }},
	{"PORTAL_DATABASE_DSN", func(c *Config) *string { return &c.Database.DSN }},
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return ParseConfig(path, data)
}

// ParseConfig decodes a TOML document, applies environment overrides and
// defaults, and checks the required values.
func ParseConfig(path string, data []byte) (*Config, error) {
	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf(
			"error reading config file %s\n> Error: %w\n> Content:\n%s",
			path,
			err,
			string(data),
		)
	}

	if err := godotenv.Load(); err == nil {
		logger.Debug.Printf("Loaded environment from .env")
	}
	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			*o.field(&config) = v
		}
	}

	if config.Server.Port == "" {
		return nil, fmt.Errorf("Server port is not specified in config, use a value like :9999")
	}
	if config.Portal.InstitutionalDomain == "" {
		return nil, fmt.Errorf("portal.institutional_domain is not specified in config, use a value like ladtem.org")
	}

	if config.API.UserIDHeader == "" {
		config.API.UserIDHeader = "X-Portal-User"
	}
	if config.Database.DSN == "" {
		config.Database.DSN = "examportal.db"
	}
	if config.AI.TimeoutSeconds <= 0 {
		config.AI.TimeoutSeconds = 20
	}
	if config.Session.TickMillis <= 0 {
		config.Session.TickMillis = 1000
	}
	if config.Events.Exchange == "" {
		config.Events.Exchange = "portal.activity"
	}

	logger.Debug.Printf("Loaded config: domain=%s database=%s sheets=%d", config.Portal.InstitutionalDomain, config.Database.DSN, len(config.Sheets))

	return &config, nil
}
