package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/zenithcms/sentinel/params"
)

const (
	DefaultListenAddr = ":3000"
)

type MySQLConfig struct {
	Dsn             string   `mapstructure:"dsn"`
	ReplicaDsns     []string `mapstructure:"replicaDsns"`
	TablePrefix     string   `mapstructure:"tablePrefix"`
	MaxIdleConns    int      `mapstructure:"maxIdleConns"`
	MaxOpenConns    int      `mapstructure:"maxOpenConns"`
	ConnMaxIdleTime int      `mapstructure:"connMaxIdleTime"`
	ConnMaxLifetime int      `mapstructure:"connMaxLifetime"`
}

type RedisConfig struct {
	URL         string `mapstructure:"url"`
	PoolSize    int    `mapstructure:"poolSize"`
	ClusterMode bool   `mapstructure:"clusterMode"`
}

type TokenConfig struct {
	AccessSecret  string        `mapstructure:"accessSecret"`
	RefreshSecret string        `mapstructure:"refreshSecret"`
	AccessTTL     time.Duration `mapstructure:"accessTTL"`
	RefreshTTL    time.Duration `mapstructure:"refreshTTL"`
}

type AuditConfig struct {
	RetentionDays int `mapstructure:"retentionDays"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	TLS      bool   `mapstructure:"tls"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
	CAFile   string `mapstructure:"caFile"`
}

type NotifyConfig struct {
	From string     `mapstructure:"from"`
	SMTP SMTPConfig `mapstructure:"smtp"`
}

type Config struct {
	Debug        bool         `mapstructure:"debug"`
	SiteName     string       `mapstructure:"siteName"`
	ListenAddr   string       `mapstructure:"listenAddr"`
	AllowOrigins []string     `mapstructure:"allowOrigins"`
	MySQL        MySQLConfig  `mapstructure:"mysql"`
	Redis        RedisConfig  `mapstructure:"redis"`
	Token        TokenConfig  `mapstructure:"token"`
	Audit        AuditConfig  `mapstructure:"audit"`
	Notify       NotifyConfig `mapstructure:"notify"`
}

func (c *Config) Sanitize() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Token.AccessSecret == "" || c.Token.RefreshSecret == "" {
		return errors.New("token secrets must be configured")
	}
	if c.Token.AccessTTL == 0 {
		c.Token.AccessTTL = params.AccessTokenExpiration
	}
	if c.Token.RefreshTTL == 0 {
		c.Token.RefreshTTL = params.RefreshTokenExpiration
	}
	if c.Audit.RetentionDays <= 0 {
		c.Audit.RetentionDays = params.AuditRetentionDays
	}
	return nil
}

func LoadConfig(filename string) (*Config, error) {
	viper.SetConfigFile(filename)
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Sanitize(); err != nil {
		return nil, err
	}
	return &config, nil
}
