package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion        = 1
	DefaultPath          = "/etc/gohome-spotify/config.yaml"
	PathEnv              = "GOHOME_SPOTIFY_CONFIG"
	DefaultHTTPAddr      = "127.0.0.1:8080"
	DefaultGRPCAddr      = "127.0.0.1:9000"
	DefaultStateDir      = "/var/lib/gohome-spotify"
	DefaultRefreshRateMS = 10000
	MinRefreshRateMS     = 1000
	DefaultHAPPin        = "00102003"
	DefaultMQTTBroker    = "tcp://127.0.0.1:1883"
	DefaultMQTTPrefix    = "gohome/spotify"
	DefaultMirrorPrefix  = "gohome/oauth"
	DefaultMeasurement   = "spotify_accessory"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
)

// Accessory presentation kinds.
const (
	KindLightbulb = "lightbulb"
	KindSwitch    = "switch"
	KindSpeaker   = "speaker"
)

// Config is the persisted plugin configuration. The file is YAML; a JSON
// file parses unchanged.
type Config struct {
	SchemaVersion int    `yaml:"schema_version"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	RefreshToken  string `yaml:"refresh_token"`

	// DeviceID restricts the exposed accessories to a single device.
	DeviceID string `yaml:"device_id"`
	// RefreshRateMS is the reconciliation interval in milliseconds.
	RefreshRateMS int `yaml:"refresh_rate"`
	// FadeSeconds is the power-on volume ramp duration; 0 disables fading.
	FadeSeconds   int    `yaml:"fade_seconds"`
	AccessoryKind string `yaml:"accessory_kind"`

	Core        CoreConfig    `yaml:"core"`
	Logging     LoggingConfig `yaml:"logging"`
	HAP         HAPConfig     `yaml:"hap"`
	MQTT        MQTTConfig    `yaml:"mqtt"`
	InfluxDB    InfluxConfig  `yaml:"influxdb"`
	OAuthMirror MirrorConfig  `yaml:"oauth_mirror"`
}

type CoreConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	StateDir string `yaml:"state_dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HAPConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Pin         string `yaml:"pin"`
	StoragePath string `yaml:"storage_path"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// InfluxConfig enables the power history sink.
type InfluxConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	TokenFile   string `yaml:"token_file"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// MirrorConfig configures the optional S3 mirror for rotated refresh tokens.
type MirrorConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
}

// ResolvePath picks the config path: flag value, then env, then default.
func ResolvePath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(PathEnv)); env != "" {
		return env
	}
	return DefaultPath
}

// Load parses the config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes config bytes, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SchemaVersion == 0 {
		cfg.SchemaVersion = SchemaVersion
	}
	if cfg.RefreshRateMS == 0 {
		cfg.RefreshRateMS = DefaultRefreshRateMS
	}
	if cfg.AccessoryKind == "" {
		cfg.AccessoryKind = KindLightbulb
	}
	cfg.AccessoryKind = strings.ToLower(strings.TrimSpace(cfg.AccessoryKind))

	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.StateDir == "" {
		cfg.Core.StateDir = DefaultStateDir
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}

	if cfg.HAP.Pin == "" {
		cfg.HAP.Pin = DefaultHAPPin
	}

	if cfg.MQTT.Broker == "" {
		cfg.MQTT.Broker = DefaultMQTTBroker
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultMQTTPrefix
	}

	if cfg.InfluxDB.Measurement == "" {
		cfg.InfluxDB.Measurement = DefaultMeasurement
	}

	if cfg.OAuthMirror.Prefix == "" {
		cfg.OAuthMirror.Prefix = DefaultMirrorPrefix
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return fmt.Errorf("client_id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return fmt.Errorf("client_secret is required")
	}
	if strings.TrimSpace(cfg.RefreshToken) == "" {
		return fmt.Errorf("refresh_token is required")
	}
	if cfg.RefreshRateMS < MinRefreshRateMS {
		return fmt.Errorf("refresh_rate must be at least %d ms", MinRefreshRateMS)
	}
	if cfg.FadeSeconds < 0 {
		return fmt.Errorf("fade_seconds must not be negative")
	}
	switch cfg.AccessoryKind {
	case KindLightbulb, KindSwitch, KindSpeaker:
	default:
		return fmt.Errorf("unknown accessory_kind %q", cfg.AccessoryKind)
	}

	if cfg.HAP.Enabled && len(cfg.HAP.Pin) != 8 {
		return fmt.Errorf("hap.pin must be 8 digits")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if cfg.InfluxDB.Enabled {
		if cfg.InfluxDB.URL == "" || cfg.InfluxDB.Org == "" || cfg.InfluxDB.Bucket == "" {
			return fmt.Errorf("influxdb url, org and bucket are required")
		}
		if cfg.InfluxDB.TokenFile == "" {
			return fmt.Errorf("influxdb.token_file is required")
		}
	}
	if cfg.OAuthMirror.Enabled {
		if cfg.OAuthMirror.Endpoint == "" {
			return fmt.Errorf("oauth_mirror.endpoint is required")
		}
		if cfg.OAuthMirror.Bucket == "" {
			return fmt.Errorf("oauth_mirror.bucket is required")
		}
		if cfg.OAuthMirror.AccessKeyFile == "" || cfg.OAuthMirror.SecretKeyFile == "" {
			return fmt.Errorf("oauth_mirror key files are required")
		}
	}
	return nil
}

// RefreshRate returns the reconciliation interval.
func (c *Config) RefreshRate() time.Duration {
	return time.Duration(c.RefreshRateMS) * time.Millisecond
}

// FadeDuration returns the power-on fade duration.
func (c *Config) FadeDuration() time.Duration {
	return time.Duration(c.FadeSeconds) * time.Second
}
