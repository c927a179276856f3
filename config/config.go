package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	APIListenAddr string `mapstructure:"api_listen_addr"`
	WSListenAddr  string `mapstructure:"ws_listen_addr"`
	LogLevel      string `mapstructure:"log_level"`

	Translate Translate `mapstructure:"translate"`
	Local     Local     `mapstructure:"local"`
}

type Translate struct {
	MyMemoryURL string        `mapstructure:"mymemory_url"`
	LibreURL    string        `mapstructure:"libre_url"`
	LibreAPIKey string        `mapstructure:"libre_api_key"`
	LingvaURL   string        `mapstructure:"lingva_url"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

type Local struct {
	// Dir is the shared directory backing local presence sync.
	Dir string `mapstructure:"dir"`
}

// Load reads configuration from an optional file and VOICEBRIDGE_* env
// vars, applying defaults for anything unset. A missing file is not an
// error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("api_listen_addr", ":8080")
	v.SetDefault("ws_listen_addr", ":8888")
	v.SetDefault("log_level", "debug")
	v.SetDefault("translate.mymemory_url", "")
	v.SetDefault("translate.libre_url", "")
	v.SetDefault("translate.libre_api_key", "")
	v.SetDefault("translate.lingva_url", "")
	v.SetDefault("translate.cache_ttl", 15*time.Minute)
	v.SetDefault("translate.backoff", 500*time.Millisecond)
	v.SetDefault("local.dir", "")

	v.SetEnvPrefix("voicebridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
