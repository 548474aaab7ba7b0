// Package config loads meetbot's runtime configuration from a YAML file via
// viper, with environment variables taking precedence for operator-tunable
// knobs.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration object shared by all four binaries.
// Each binary reads only the sections it needs.
type Config struct {
	Observability ObservabilityConfig `mapstructure:"observability"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Controller    ControllerConfig    `mapstructure:"controller"`
	Collector     CollectorConfig     `mapstructure:"collector"`
	Recognizer    RecognizerConfig    `mapstructure:"recognizer"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Auth          AuthConfig          `mapstructure:"auth"`
}

type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Password string `mapstructure:"password"`
}

// ControllerConfig holds the Bot Lifecycle Controller's tunables, named to
// match the environment knobs applied as overrides below.
type ControllerConfig struct {
	MaxConcurrentBotsDefault   int           `mapstructure:"max_concurrent_bots_default"`
	ReconcileIntervalSeconds   int           `mapstructure:"reconciliation_interval_seconds"`
	OrphanGracePeriodSeconds   int           `mapstructure:"orphan_grace_period_seconds"`
	ReconciliationMaxAgeHours  int           `mapstructure:"reconciliation_max_age_hours"`
	StopSafetyNetDelaySeconds  int           `mapstructure:"stop_safety_net_delay_seconds"`
	StopTimeoutSeconds         int           `mapstructure:"stop_timeout_seconds"`
	AutoJoinMinutesBefore      int           `mapstructure:"auto_join_minutes_before"`
	WaitingRoomTimeoutSeconds  int           `mapstructure:"waiting_room_timeout_seconds"`
	NoOneJoinedTimeoutSeconds  int           `mapstructure:"no_one_joined_timeout_seconds"`
	EveryoneLeftTimeoutSeconds int           `mapstructure:"everyone_left_timeout_seconds"`
	MeetingTokenTTL            time.Duration `mapstructure:"meeting_token_ttl"`
	WebhookMaxRetries          int           `mapstructure:"webhook_max_retries"`
	WebhookRetryBackoff        time.Duration `mapstructure:"webhook_retry_backoff"`
	BotNamePrefix              string        `mapstructure:"bot_name_prefix"`
	DockerImage                string        `mapstructure:"docker_image"`
	CallbackBaseURL            string        `mapstructure:"callback_base_url"`
}

// CollectorConfig holds the Transcription Collector's tunables.
type CollectorConfig struct {
	ImmutabilityThreshold    time.Duration `mapstructure:"immutability_threshold"`
	BackgroundTaskInterval   time.Duration `mapstructure:"background_task_interval"`
	SegmentTTL               time.Duration `mapstructure:"redis_segment_ttl"`
	SpeakerEventTTL          time.Duration `mapstructure:"redis_speaker_event_ttl"`
	SessionStartCacheTTL     time.Duration `mapstructure:"session_start_cache_ttl"`
	PendingMsgTimeout        time.Duration `mapstructure:"pending_msg_timeout"`
	MinCharacterLength       int           `mapstructure:"min_character_length"`
	MinRealWords             int           `mapstructure:"min_real_words"`
	SpeakerWindowMs          int64         `mapstructure:"speaker_window_ms"`
	HallucinationPatternFile string        `mapstructure:"hallucination_pattern_file"`
	ConsumerBatchSize        int64         `mapstructure:"consumer_batch_size"`
	ConsumerBlockTimeout     time.Duration `mapstructure:"consumer_block_timeout"`
}

// RecognizerConfig holds the Speech Recognition Worker's tunables.
type RecognizerConfig struct {
	MaxClients               int           `mapstructure:"max_clients"`
	MaxConnectionTime        time.Duration `mapstructure:"max_connection_time"`
	MaxBufferSeconds         float64       `mapstructure:"max_buffer_s"`
	DiscardBufferSeconds     float64       `mapstructure:"discard_buffer_s"`
	ClipIfNoSegmentSeconds   float64       `mapstructure:"clip_if_no_segment_s"`
	ClipRetainSeconds        float64       `mapstructure:"clip_retain_s"`
	MinAudioSeconds          float64       `mapstructure:"min_audio_s"`
	RecentSegmentWindow      int           `mapstructure:"recent_segment_window"`
	HallucinationFiles       []string      `mapstructure:"hallucination_files"`
	HealthMonitorInterval    time.Duration `mapstructure:"health_monitor_interval"`
	MaxUnhealthyStreak       int           `mapstructure:"max_unhealthy_streak"`
	BreakerEnabled           bool          `mapstructure:"breaker_enabled"`
	ServerWarmupSeconds      float64       `mapstructure:"server_warmup_s"`
	SpeakerActiveWindowSec   float64       `mapstructure:"speaker_active_window_s"`
	NoTxStallSeconds         float64       `mapstructure:"server_speaker_no_tx_stall_s"`
	BreakerConsecutiveChecks int           `mapstructure:"circuit_breaker_consecutive"`
	BackendURL               string        `mapstructure:"backend_url"`
}

// GatewayConfig holds the Live Fan-Out Gateway's tunables.
type GatewayConfig struct {
	SkipAuth             *bool         `mapstructure:"skip_auth"`
	CollectorBaseURL     string        `mapstructure:"collector_base_url"`
	AuthorizeTimeout     time.Duration `mapstructure:"authorize_timeout"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	SubscriberBufferSize int           `mapstructure:"subscriber_buffer_size"`
}

// AuthConfig holds the Meeting Token signing secret and issuer/audience.
type AuthConfig struct {
	MeetingTokenSecret string `mapstructure:"meeting_token_secret"`
	Issuer             string `mapstructure:"issuer"`
	Audience           string `mapstructure:"audience"`
}

// Load reads config from CONFIG_PATH, or /etc/meetbot/meetbot.yaml, or
// config/meetbot.yaml, whichever is found first, and applies defaults for
// anything left unset.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		if _, err := os.Stat("/etc/meetbot/meetbot.yaml"); err == nil {
			cfgPath = "/etc/meetbot/meetbot.yaml"
		} else {
			cfgPath = "config/meetbot.yaml"
		}
	}
	if info, err := os.Stat(cfgPath); err == nil && info.IsDir() {
		cfgPath = filepath.Join(cfgPath, "meetbot.yaml")
	}

	cfg := defaults()

	v := viper.New()
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", cfgPath, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	c := &Config{}
	c.Observability.Metrics.Enabled = true
	c.Observability.Metrics.Port = 9090
	c.Observability.Logging.Level = "info"
	c.Observability.Logging.Format = "json"

	c.Database.SSLMode = "disable"
	c.Database.MaxConnections = 20
	c.Database.IdleConnections = 5
	c.Database.MaxLifetime = 30 * time.Minute

	c.Controller.MaxConcurrentBotsDefault = 5
	c.Controller.ReconcileIntervalSeconds = 60
	c.Controller.OrphanGracePeriodSeconds = 120
	c.Controller.ReconciliationMaxAgeHours = 48
	c.Controller.StopSafetyNetDelaySeconds = 30
	c.Controller.StopTimeoutSeconds = 45
	c.Controller.AutoJoinMinutesBefore = 5
	c.Controller.WaitingRoomTimeoutSeconds = 300
	c.Controller.NoOneJoinedTimeoutSeconds = 300
	c.Controller.EveryoneLeftTimeoutSeconds = 60
	c.Controller.MeetingTokenTTL = 4 * time.Hour
	c.Controller.WebhookMaxRetries = 5
	c.Controller.WebhookRetryBackoff = 2 * time.Second
	c.Controller.BotNamePrefix = "Meetbot"
	c.Controller.DockerImage = "meetbot/bot-runner:latest"

	c.Collector.ImmutabilityThreshold = 5 * time.Second
	c.Collector.BackgroundTaskInterval = 2 * time.Second
	c.Collector.SegmentTTL = 2 * time.Hour
	c.Collector.SpeakerEventTTL = 2 * time.Hour
	c.Collector.SessionStartCacheTTL = 2 * time.Hour
	c.Collector.PendingMsgTimeout = 60 * time.Second
	c.Collector.MinCharacterLength = 3
	c.Collector.MinRealWords = 1
	c.Collector.SpeakerWindowMs = 500
	c.Collector.ConsumerBatchSize = 20
	c.Collector.ConsumerBlockTimeout = 5 * time.Second

	c.Recognizer.MaxClients = 10
	c.Recognizer.MaxConnectionTime = time.Hour
	c.Recognizer.MaxBufferSeconds = 45
	c.Recognizer.DiscardBufferSeconds = 30
	c.Recognizer.ClipIfNoSegmentSeconds = 25
	c.Recognizer.ClipRetainSeconds = 5
	c.Recognizer.MinAudioSeconds = 1.0
	c.Recognizer.RecentSegmentWindow = 10
	c.Recognizer.HealthMonitorInterval = 30 * time.Second
	c.Recognizer.MaxUnhealthyStreak = 5
	c.Recognizer.BreakerEnabled = true
	c.Recognizer.ServerWarmupSeconds = 60
	c.Recognizer.SpeakerActiveWindowSec = 8
	c.Recognizer.NoTxStallSeconds = 30
	c.Recognizer.BreakerConsecutiveChecks = 2
	c.Recognizer.BackendURL = "http://localhost:9000/recognize"

	c.Gateway.AuthorizeTimeout = 5 * time.Second
	c.Gateway.PingInterval = 20 * time.Second
	c.Gateway.SubscriberBufferSize = 256

	c.Auth.Issuer = "bot-manager"
	c.Auth.Audience = "transcription-collector"

	return c
}

func applyEnvOverrides(c *Config) {
	if v := os.Getenv("METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Observability.Metrics.Port = n
		}
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Database.Port = n
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		c.Database.Database = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.MeetingTokenSecret = v
	}
	if v := os.Getenv("MEETING_TOKEN_SECRET"); v != "" {
		c.Auth.MeetingTokenSecret = v
	}
	if v := os.Getenv("IMMUTABILITY_THRESHOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Collector.ImmutabilityThreshold = d
		} else if n, err := strconv.Atoi(v); err == nil {
			c.Collector.ImmutabilityThreshold = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("BACKGROUND_TASK_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Collector.BackgroundTaskInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("PENDING_MSG_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Collector.PendingMsgTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_CLIENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Recognizer.MaxClients = n
		}
	}
	if v := os.Getenv("MAX_CONNECTION_TIME"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Recognizer.MaxConnectionTime = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("RECONCILIATION_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Controller.ReconcileIntervalSeconds = n
		}
	}
	if v := os.Getenv("ORPHAN_GRACE_PERIOD_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Controller.OrphanGracePeriodSeconds = n
		}
	}
	if v := os.Getenv("RECONCILIATION_MAX_AGE_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Controller.ReconciliationMaxAgeHours = n
		}
	}
	if v := os.Getenv("AUTO_JOIN_MINUTES_BEFORE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Controller.AutoJoinMinutesBefore = n
		}
	}
	if v := os.Getenv("GATEWAY_SKIP_AUTH"); v != "" {
		b := ParseBool(v)
		c.Gateway.SkipAuth = &b
	}
	if v := os.Getenv("GATEWAY_COLLECTOR_BASE_URL"); v != "" {
		c.Gateway.CollectorBaseURL = v
	}
	if v := os.Getenv("RECOGNIZER_BACKEND_URL"); v != "" {
		c.Recognizer.BackendURL = v
	}
}

// ParseBool converts common string representations to bool.
func ParseBool(val string) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n != 0
		}
	}
	return false
}
