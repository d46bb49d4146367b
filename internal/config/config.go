package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dkeye/Concierge/internal/domain"
)

type AudioConfig struct {
	SampleRate int `mapstructure:"sample_rate"`
	Channels   int `mapstructure:"channels"`
	FrameMS    int `mapstructure:"frame_ms"`
}

// FrameDuration is the length of one encoded frame.
func (a AudioConfig) FrameDuration() time.Duration {
	return time.Duration(a.FrameMS) * time.Millisecond
}

// FrameSamples is the number of samples per channel in one frame.
func (a AudioConfig) FrameSamples() int {
	return a.SampleRate * a.FrameMS / 1000
}

// Options returns the default session options.
func (c *Config) Options() domain.SessionOptions {
	return domain.SessionOptions{Model: c.Model, Voice: c.Voice, Instructions: c.Instructions}
}

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	AssistantName string `mapstructure:"assistant_name"`
	Model         string `mapstructure:"model"`
	Voice         string `mapstructure:"voice"`
	Instructions  string `mapstructure:"instructions"`

	TokenURL            string `mapstructure:"token_url"`
	SignalingURL        string `mapstructure:"signaling_url"`
	UpstreamSessionsURL string `mapstructure:"upstream_sessions_url"`
	APIKey              string `mapstructure:"api_key"`

	ICEServers     []string      `mapstructure:"ice_servers"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
	DataChannel    bool          `mapstructure:"data_channel"`

	StartLimit  int           `mapstructure:"start_limit"`
	StartWindow time.Duration `mapstructure:"start_window"`
	ResumeGap   time.Duration `mapstructure:"resume_gap"`

	Audio AudioConfig `mapstructure:"audio"`

	VisualInterval time.Duration `mapstructure:"visual_interval"`
	VisualBars     int           `mapstructure:"visual_bars"`
	VisualConsole  bool          `mapstructure:"visual_console"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "concierge-dev-secret")

	v.SetDefault("assistant_name", "iCon Assistant")
	v.SetDefault("model", "gpt-realtime")
	v.SetDefault("voice", "verse")
	v.SetDefault("instructions", "You are a concise hotel concierge. Detect the user's language and reply in that language (Greek or English).")

	v.SetDefault("token_url", "http://127.0.0.1:8080/api/ephemeral")
	v.SetDefault("signaling_url", "https://api.openai.com/v1/realtime")
	v.SetDefault("upstream_sessions_url", "https://api.openai.com/v1/realtime/sessions")

	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("connect_timeout", "20s")
	v.SetDefault("http_timeout", "10s")
	v.SetDefault("data_channel", true)

	v.SetDefault("start_limit", 5)
	v.SetDefault("start_window", "1m")
	v.SetDefault("resume_gap", "400ms")

	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.frame_ms", 20)

	v.SetDefault("visual_interval", "50ms")
	v.SetDefault("visual_bars", 24)
	v.SetDefault("visual_console", false)
	v.SetDefault("ping_period", "54s")
}

func Load() (*Config, error) {
	// .env is optional; the key may already be exported.
	_ = godotenv.Load()

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

	setDefaults(v)
	if err := v.BindEnv("api_key", "OPENAI_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind api key: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Model: %s | Voice: %s\n", cfg.Mode, cfg.Port, cfg.Model, cfg.Voice)
	return &cfg, nil
}

// Default returns the configuration with only built-in defaults applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}
