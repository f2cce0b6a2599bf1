package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode string `mapstructure:"mode"`

	// portal client
	APIBaseURL string `mapstructure:"api_base_url"`
	APIToken   string `mapstructure:"api_token"`
	SocketURL  string `mapstructure:"socket_url"`

	// realtime
	StunServers []string      `mapstructure:"stun_servers"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	ReadLimit   int64         `mapstructure:"read_limit"`

	// relay
	Port   int    `mapstructure:"port"`
	Secret string `mapstructure:"secret"`

	// assistant
	OpenAIKey   string `mapstructure:"openai_key"`
	OpenAIModel string `mapstructure:"openai_model"`

	// queue estimator
	QueuePollInterval   time.Duration `mapstructure:"queue_poll_interval"`
	QueuePerPatientWait time.Duration `mapstructure:"queue_per_patient_wait"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("api_base_url", "http://localhost:4002")
	v.SetDefault("socket_url", "ws://localhost:4003/api/ws/consult")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("ping_period", "54s")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("port", 4003)
	v.SetDefault("secret", "dev-secret")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("queue_poll_interval", "5s")
	v.SetDefault("queue_per_patient_wait", "5m")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
