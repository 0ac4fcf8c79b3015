package kzconfig

import (
	"flag"
	"fmt"
	"log/syslog"
	"os"

	"github.com/goccy/go-yaml"
)

type Config struct {
	TrustedProxies  []string       `yaml:"trustedproxies"`
	TrustedPlatform string         `yaml:"trustedplatform"`
	Database        DatabaseConfig `yaml:"database"`
	GeoIP           GeoIPConfig    `yaml:"geoip"`
	Tracking        TrackingConfig `yaml:"tracking"`
	Production      bool           `yaml:"production"`
	Listen          ListenConfig   `yaml:"listen"`
	Logger          LoggerConfig   `yaml:"logger"`
}

type DatabaseConfig struct {
	Redis RedisConfig `yaml:"redis"`
	Db    string      `yaml:"db"`
	Path  string      `yaml:"path"`
	Dsn   string      `yaml:"dsn"`
}

type RedisConfig struct {
	Addr string `yaml:"addr"`
	Db   int    `yaml:"db"`
}

type GeoIPConfig struct {
	Path string `yaml:"path"`
}

type TrackingConfig struct {
	// Préfixes d'URL exclus du tracking (assets, admin, API interne)
	SkipPrefixes          []string `yaml:"skipprefixes"`
	SessionTimeoutMinutes int      `yaml:"sessiontimeoutminutes"`
	RetentionDays         int      `yaml:"retentiondays"`
}

type LoggerConfig struct {
	Level  string             `yaml:"level"`
	File   LoggerFileConfig   `yaml:"file"`
	Syslog LoggerSyslogConfig `yaml:"syslog"`
}

type LoggerFileConfig struct {
	Enable     bool   `yaml:"enable"`
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxsize"`
	MaxBackups int    `yaml:"maxbackups"`
	MaxAge     int    `yaml:"maxage"`
	Compress   bool   `yaml:"compress"`
}

type LoggerSyslogConfig struct {
	Enable   bool            `yaml:"enable"`
	Protocol string          `yaml:"protocol"`
	Address  string          `yaml:"address"`
	Tag      string          `yaml:"tag"`
	Priority syslog.Priority `yaml:"priority"`
}

type ListenConfig struct {
	Website string `yaml:"website"`
}

// SessionTimeoutMinutes par défaut si absent de la config
const DefaultSessionTimeoutMinutes = 30

// RetentionDays par défaut si absent de la config
const DefaultRetentionDays = 90

func DefaultSkipPrefixes() []string {
	return []string{
		"/admin/", "/static/", "/media/", "/files/",
		"/api/analytics/", "/favicon.ico", "/health", "/robots.txt",
	}
}

func CreateExampleConfig(filename string) (string, error) {
	example := &Config{
		Database: DatabaseConfig{
			Db:   "sqlite",
			Path: "./analytics.db",
			Redis: RedisConfig{
				Addr: "localhost:6379",
				Db:   0,
			},
		},
		GeoIP: GeoIPConfig{
			Path: "./GeoLite2-City.mmdb",
		},
		Tracking: TrackingConfig{
			SkipPrefixes:          DefaultSkipPrefixes(),
			SessionTimeoutMinutes: DefaultSessionTimeoutMinutes,
			RetentionDays:         DefaultRetentionDays,
		},
		Production: false,
		Logger: LoggerConfig{
			Level: "info",
			File: LoggerFileConfig{
				Enable: false,
			},
			Syslog: LoggerSyslogConfig{
				Enable: false,
			},
		},
		Listen: ListenConfig{
			Website: "0.0.0.0:8080",
		},
	}

	if filename == "/etc/" {
		example.Listen.Website = "127.0.0.1:8000"
		example.Production = true
		example.Database.Path = "/var/lib/konoz/analytics.db"
		example.GeoIP.Path = "/var/lib/konoz/GeoLite2-City.mmdb"
		example.Logger.File = LoggerFileConfig{
			Enable:     true,
			Path:       "/var/log/konoz/konoz.log",
			MaxSize:    100,
			MaxBackups: 30,
			MaxAge:     7,
			Compress:   true,
		}
		filename = "/etc/konoz/config.yaml"
	}

	return filename, WriteConfigYaml(filename, example)
}

func WriteConfigYaml(filename string, conf *Config) error {
	data, err := yaml.Marshal(conf)
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}

// Charger la configuration YAML et appliquer les valeurs par défaut
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("impossible de lire le fichier %s: %v", filename, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("erreur de parsing YAML: %v", err)
	}

	if config.Tracking.SessionTimeoutMinutes <= 0 {
		config.Tracking.SessionTimeoutMinutes = DefaultSessionTimeoutMinutes
	}
	if config.Tracking.RetentionDays <= 0 {
		config.Tracking.RetentionDays = DefaultRetentionDays
	}
	if len(config.Tracking.SkipPrefixes) == 0 {
		config.Tracking.SkipPrefixes = DefaultSkipPrefixes()
	}

	return &config, nil
}

func CreateExample(shouldCreateExample bool, configFile string) {
	if shouldCreateExample {
		if err := handleExampleCreation(configFile); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
		os.Exit(1)
	}

	_, err := os.Stat(configFile)
	if err != nil && os.IsNotExist(err) {
		if err := handleExampleCreation(configFile); err != nil {
			fmt.Printf("❌ %v\n", err)
			os.Exit(1)
		}
	}
}

func ParseCommandLineArgs() (configFile string, shouldCreateExample bool, versionDisplay bool, err error) {
	var config = flag.String("config", "", "Fichier de configuration YAML")
	var example = flag.Bool("example", false, "Créer un fichier de configuration exemple")
	var version = flag.Bool("version", false, "version du produit")
	flag.Parse()

	if *version {
		return "", false, true, nil
	}

	if *example {
		return "", true, false, nil
	}

	if *config == "" {
		return "", false, false, fmt.Errorf("fichier de configuration requis")
	}

	return *config, false, false, nil
}

func handleExampleCreation(filename string) error {
	if filename == "" {
		filename = "konoz.yaml"
	}
	filename, err := CreateExampleConfig(filename)
	if err != nil {
		return fmt.Errorf("erreur création exemple: %v", err)
	}

	fmt.Printf("✅ Fichier exemple créé: %s\n", filename)
	return nil
}
