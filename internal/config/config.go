package config

import (
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	LogLevel    string      `yaml:"log-level" env:"LOG_LEVEL" env-default:"info"`
	Coordinator Coordinator `yaml:"coordinator"`
	Redis       Redis       `yaml:"redis"`
	Call        Call        `yaml:"call"`
	Participant Participant `yaml:"participant"`
}

type Coordinator struct {
	Port       string `yaml:"port" env:"COORDINATOR_PORT" env-default:"5000"`
	HTTPPort   string `yaml:"http-port" env:"COORDINATOR_HTTP_PORT" env-default:"9090"`
	OutboxSize int    `yaml:"outbox-size" env-default:"64"`
}

type Redis struct {
	Enabled     bool          `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Host        string        `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port        string        `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password    string        `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB          int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	DialTimeout time.Duration `yaml:"dial-timeout" env-default:"2s"`
	// ConnectWait bounds how long startup keeps pinging a Redis that is not up yet.
	ConnectWait time.Duration `yaml:"connect-wait" env-default:"10s"`
	ChatHistory int64         `yaml:"chat-history" env-default:"100"`
}

// Call tunes the peer-to-peer video stream.
type Call struct {
	ConnectAttempts int           `yaml:"connect-attempts" env-default:"3"`
	RetryDelay      time.Duration `yaml:"retry-delay" env-default:"500ms"`
	ConnectTimeout  time.Duration `yaml:"connect-timeout" env-default:"5s"`
	MaxFrameSize    int           `yaml:"max-frame-size" env-default:"5000000"`
	WriteTimeout    time.Duration `yaml:"write-timeout" env-default:"2s"`
	FrameRate       int           `yaml:"frame-rate" env-default:"10"`
}

type Participant struct {
	Server string `yaml:"server" env:"PARTICIPANT_SERVER" env-default:"localhost:5000"`
	Name   string `yaml:"name" env:"PARTICIPANT_NAME" env-default:""`
}

// MustLoad - load all configurations in config.yml file.
func MustLoad(path string) *Config {
	config := &Config{}

	if err := cleanenv.ReadConfig(path, config); err != nil {
		panic(fmt.Errorf("unable to load config file: %w", err))
	}

	return config
}

// Default returns the configuration built from env-default tags and the environment only.
func Default() *Config {
	config := &Config{}

	if err := cleanenv.ReadEnv(config); err != nil {
		panic(fmt.Errorf("unable to read environment: %w", err))
	}

	return config
}

// SlogLevel maps log-level to a slog level. Unknown values log at info.
func (that *Config) SlogLevel() slog.Level {
	switch strings.ToLower(that.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (that *Redis) GetRedisAddr() string {
	return net.JoinHostPort(that.Host, that.Port)
}

// FrameInterval is the capture period derived from FrameRate.
func (that *Call) FrameInterval() time.Duration {
	if that.FrameRate <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(that.FrameRate)
}

func (that *Coordinator) Addr() string {
	return ":" + that.Port
}
