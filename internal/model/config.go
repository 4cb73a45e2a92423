package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// MailboxConfig holds the IMAP connection settings.
type MailboxConfig struct {
	// Host is the IMAP server hostname.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the IMAP server port; 993 for implicit TLS.
	Port string `mapstructure:"port" yaml:"port"`

	// Username is the account used to log in.
	Username string `mapstructure:"username" yaml:"username"`

	// TLS selects implicit TLS; when false the client upgrades with STARTTLS.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Insecure connects without TLS at all. Only for local IMAP bridges
	// such as Proton Bridge on 127.0.0.1.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// Name is the mailbox to scan (e.g., INBOX).
	Name string `mapstructure:"name" yaml:"name"`

	// DialTimeoutSec bounds connection establishment.
	DialTimeoutSec int `mapstructure:"dial_timeout_sec" yaml:"dial_timeout_sec"`

	// RunTimeoutSec bounds an entire ingestion run.
	RunTimeoutSec int `mapstructure:"run_timeout_sec" yaml:"run_timeout_sec"`
}

// SenderConfig is a trusted bank notification sender.
type SenderConfig struct {
	// Address is matched case-insensitively against the From address.
	Address string `mapstructure:"address" yaml:"address"`

	// Bank is recorded as the transaction's bank name.
	Bank string `mapstructure:"bank" yaml:"bank"`
}

// ExtractionConfig tunes the transaction pattern cascade.
type ExtractionConfig struct {
	Category string `mapstructure:"category" yaml:"category"`

	// BlockedCardSuffixes lists trailing card digits whose "credit card"
	// notifications must never be recorded.
	BlockedCardSuffixes []string `mapstructure:"blocked_card_suffixes" yaml:"blocked_card_suffixes"`
}

// MySQLConfig holds connection settings for the mysql driver.
type MySQLConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Name     string `mapstructure:"name" yaml:"name"`
}

// DatabaseConfig selects and configures the transaction store.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string      `mapstructure:"driver" yaml:"driver"`
	Path   string      `mapstructure:"path" yaml:"path"`
	MySQL  MySQLConfig `mapstructure:"mysql" yaml:"mysql"`
}

// ScheduleConfig controls the periodic trigger used by "watch".
type ScheduleConfig struct {
	Cron string `mapstructure:"cron" yaml:"cron"`
}

// NotifyConfig holds SMTP settings for run summary mails.
type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	From     string `mapstructure:"from" yaml:"from"`
	To       string `mapstructure:"to" yaml:"to"`

	// OnlyOnChange suppresses mails for runs that saved nothing and failed nothing.
	OnlyOnChange bool `mapstructure:"only_on_change" yaml:"only_on_change"`
}

// LogConfig holds logger preferences.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mailbox    MailboxConfig    `mapstructure:"mailbox" yaml:"mailbox"`
	Senders    []SenderConfig   `mapstructure:"senders" yaml:"senders"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Schedule   ScheduleConfig   `mapstructure:"schedule" yaml:"schedule"`
	Notify     NotifyConfig     `mapstructure:"notify" yaml:"notify"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// EnvPrefix prefixes environment overrides, e.g. MAILLEDGER_MAILBOX_HOST.
const EnvPrefix = "MAILLEDGER"

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailledger/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailledger", "config.yaml")
}

// DefaultDatabasePath returns the default SQLite database location.
func DefaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "mailledger.db")
	}
	return filepath.Join(home, ".local", "share", "mailledger", "mailledger.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Mailbox: MailboxConfig{
			Port:           "993",
			TLS:            true,
			Name:           "INBOX",
			DialTimeoutSec: 30,
			RunTimeoutSec:  300,
		},
		Senders: []SenderConfig{},
		Extraction: ExtractionConfig{
			Category: CategoryUPIPayment,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   DefaultDatabasePath(),
			MySQL: MySQLConfig{
				Host: "127.0.0.1",
				Port: "3306",
			},
		},
		Schedule: ScheduleConfig{
			Cron: "@every 150m",
		},
		Notify: NotifyConfig{
			Port:         587,
			OnlyOnChange: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// setDefaults mirrors defaultAppConfig so missing keys resolve to sensible
// values and environment overrides are picked up by Unmarshal.
func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("mailbox.host", d.Mailbox.Host)
	v.SetDefault("mailbox.port", d.Mailbox.Port)
	v.SetDefault("mailbox.username", d.Mailbox.Username)
	v.SetDefault("mailbox.tls", d.Mailbox.TLS)
	v.SetDefault("mailbox.insecure", d.Mailbox.Insecure)
	v.SetDefault("mailbox.name", d.Mailbox.Name)
	v.SetDefault("mailbox.dial_timeout_sec", d.Mailbox.DialTimeoutSec)
	v.SetDefault("mailbox.run_timeout_sec", d.Mailbox.RunTimeoutSec)
	v.SetDefault("extraction.category", d.Extraction.Category)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.mysql.host", d.Database.MySQL.Host)
	v.SetDefault("database.mysql.port", d.Database.MySQL.Port)
	v.SetDefault("database.mysql.user", "")
	v.SetDefault("database.mysql.password", "")
	v.SetDefault("database.mysql.name", "")
	v.SetDefault("schedule.cron", d.Schedule.Cron)
	v.SetDefault("notify.enabled", d.Notify.Enabled)
	v.SetDefault("notify.host", "")
	v.SetDefault("notify.port", d.Notify.Port)
	v.SetDefault("notify.username", "")
	v.SetDefault("notify.from", "")
	v.SetDefault("notify.to", "")
	v.SetDefault("notify.only_on_change", d.Notify.OnlyOnChange)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, defaults plus environment overrides are used.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	for i := range cfg.Senders {
		cfg.Senders[i].Address = strings.TrimSpace(cfg.Senders[i].Address)
		if cfg.Senders[i].Bank == "" {
			cfg.Senders[i].Bank = UnknownBank
		}
	}
	if cfg.Mailbox.Port == "" {
		cfg.Mailbox.Port = "993"
	}
	if cfg.Mailbox.Name == "" {
		cfg.Mailbox.Name = "INBOX"
	}
	if cfg.Extraction.Category == "" {
		cfg.Extraction.Category = CategoryUPIPayment
	}

	return cfg, nil
}

// Validate reports configuration that would make an ingestion run impossible.
func (c *AppConfig) Validate() error {
	var missing []string
	if c.Mailbox.Host == "" {
		missing = append(missing, "mailbox.host")
	}
	if c.Mailbox.Username == "" {
		missing = append(missing, "mailbox.username")
	}
	if len(c.Senders) == 0 {
		missing = append(missing, "senders")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("mailbox", cfg.Mailbox)
	v.Set("senders", cfg.Senders)
	v.Set("extraction", cfg.Extraction)
	v.Set("database", cfg.Database)
	v.Set("schedule", cfg.Schedule)
	v.Set("notify", cfg.Notify)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
