package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Env string `yaml:"env"`

	HTTP struct {
		Addr string `yaml:"addr"` // ":7101"
	} `yaml:"http"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		Database int    `yaml:"database"`
	} `yaml:"redis"`

	MySQL struct {
		DSN          string        `yaml:"dsn"`
		MaxOpenConns int           `yaml:"max_open_conns"`
		MaxIdleConns int           `yaml:"max_idle_conns"`
		ConnMaxLife  time.Duration `yaml:"conn_max_life"`
	} `yaml:"mysql"`

	Audit struct {
		Stream   string        `yaml:"stream"`
		Group    string        `yaml:"group"`
		Consumer string        `yaml:"consumer"`
		Tick     time.Duration `yaml:"tick"`
		Batch    int64         `yaml:"batch"`
		Denylist []string      `yaml:"denylist"`
	} `yaml:"audit"`

	Presence struct {
		TTL time.Duration `yaml:"ttl"`
	} `yaml:"presence"`

	WS struct {
		WriteTimeout time.Duration `yaml:"write_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		QueueSize    int           `yaml:"queue_size"`
	} `yaml:"ws"`

	Auth struct {
		Token struct {
			Header       string `yaml:"header"`
			BearerPrefix string `yaml:"bearer_prefix"`
			QueryKey     string `yaml:"query_key"`
			RedisPrefix  string `yaml:"redis_prefix"`
		} `yaml:"token"`
	} `yaml:"auth"`

	Cache struct {
		ProfileTTL time.Duration `yaml:"profile_ttl"`
	} `yaml:"cache"`
}

// Load supports comma-separated config files: "-c common.yml,rs-realtime.yml"
func Load(pathList string) (*Config, error) {
	if strings.TrimSpace(pathList) == "" {
		return nil, errors.New("config path required (e.g. -c ./config.yml or -c common.yml,rs-realtime.yml)")
	}
	var c Config
	for _, p := range strings.Split(pathList, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":7101"
	}
	if c.Audit.Stream == "" {
		c.Audit.Stream = "rs:audit:stream"
	}
	if c.Audit.Group == "" {
		c.Audit.Group = "rs-audit"
	}
	if c.Audit.Consumer == "" {
		c.Audit.Consumer = "worker-1"
	}
	if c.Audit.Tick <= 0 {
		c.Audit.Tick = 1 * time.Second
	}
	if c.Audit.Batch <= 0 {
		c.Audit.Batch = 10
	}
	if c.Presence.TTL <= 0 {
		c.Presence.TTL = 90 * time.Second
	}
	if c.WS.WriteTimeout <= 0 {
		c.WS.WriteTimeout = 5 * time.Second
	}
	if c.WS.ReadTimeout <= 0 {
		c.WS.ReadTimeout = 3 * time.Minute
	}
	if c.WS.QueueSize <= 0 {
		c.WS.QueueSize = 256
	}
	if c.Auth.Token.Header == "" {
		c.Auth.Token.Header = "Authorization"
	}
	if c.Auth.Token.BearerPrefix == "" {
		c.Auth.Token.BearerPrefix = "Bearer "
	}
	if c.Auth.Token.QueryKey == "" {
		c.Auth.Token.QueryKey = "token"
	}
	if c.Auth.Token.RedisPrefix == "" {
		c.Auth.Token.RedisPrefix = "rs:token:"
	}
	if c.Cache.ProfileTTL <= 0 {
		c.Cache.ProfileTTL = 10 * time.Minute
	}
	return &c, nil
}
