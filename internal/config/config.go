package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of a vodforge process
type Config struct {
	// HTTP listener
	Server ServerConfig `yaml:"server" json:"server"`

	// Job ledger database
	Database DatabaseFullConfig `yaml:"database" json:"database"`

	// Object storage for sources and HLS output
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Codec runtime and job dispatch
	Transcoding TranscodingConfig `yaml:"transcoding" json:"transcoding"`

	// Request authentication
	Auth AuthConfig `yaml:"auth" json:"auth"`

	// Job change notifications
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`

	// Out-of-band job triggering
	Trigger TriggerConfig `yaml:"trigger" json:"trigger"`

	// hclog output
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig controls the HTTP listener and gin middleware
type ServerConfig struct {
	Host           string        `yaml:"host" json:"host" env:"VODFORGE_HOST" default:"0.0.0.0"`
	Port           int           `yaml:"port" json:"port" env:"VODFORGE_PORT" default:"8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" json:"read_timeout" env:"VODFORGE_READ_TIMEOUT" default:"60s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" json:"write_timeout" env:"VODFORGE_WRITE_TIMEOUT" default:"60s"`
	MaxHeaderBytes int           `yaml:"max_header_bytes" json:"max_header_bytes" env:"VODFORGE_MAX_HEADER_BYTES" default:"1048576"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" json:"max_upload_bytes" env:"VODFORGE_MAX_UPLOAD_BYTES" default:"2147483648"`
	EnableCORS     bool          `yaml:"enable_cors" json:"enable_cors" env:"VODFORGE_ENABLE_CORS" default:"true"`
	TrustedProxies []string      `yaml:"trusted_proxies" json:"trusted_proxies" env:"VODFORGE_TRUSTED_PROXIES"`
}

// DatabaseFullConfig holds the job ledger connection settings
type DatabaseFullConfig struct {
	Type            string        `yaml:"type" json:"type" env:"DATABASE_TYPE" default:"sqlite"`
	URL             string        `yaml:"url" json:"url" env:"DATABASE_URL"`
	Host            string        `yaml:"host" json:"host" env:"POSTGRES_HOST" default:"localhost"`
	Port            int           `yaml:"port" json:"port" env:"POSTGRES_PORT" default:"5432"`
	Username        string        `yaml:"username" json:"username" env:"POSTGRES_USER" default:"vodforge"`
	Password        string        `yaml:"password" json:"-" env:"POSTGRES_PASSWORD"`
	Database        string        `yaml:"database" json:"database" env:"POSTGRES_DB" default:"vodforge"`
	DataDir         string        `yaml:"data_dir" json:"data_dir" env:"VODFORGE_DATA_DIR" default:"/var/lib/vodforge"`
	DatabasePath    string        `yaml:"database_path" json:"database_path" env:"VODFORGE_DATABASE_PATH"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" default:"2h"`
	LogQueries      bool          `yaml:"log_queries" json:"log_queries" env:"DB_LOG_QUERIES" default:"false"`
}

// StorageConfig selects and configures the object store
type StorageConfig struct {
	Backend       string `yaml:"backend" json:"backend" env:"STORAGE_BACKEND" default:"local"`
	LocalDir      string `yaml:"local_dir" json:"local_dir" env:"STORAGE_LOCAL_DIR"`
	PublicBaseURL string `yaml:"public_base_url" json:"public_base_url" env:"STORAGE_PUBLIC_BASE_URL" default:"http://localhost:8080/media"`

	MinioEndpoint  string        `yaml:"minio_endpoint" json:"minio_endpoint" env:"MINIO_ENDPOINT" default:"localhost:9000"`
	MinioAccessKey string        `yaml:"minio_access_key" json:"-" env:"MINIO_ACCESS_KEY"`
	MinioSecretKey string        `yaml:"minio_secret_key" json:"-" env:"MINIO_SECRET_KEY"`
	MinioBucket    string        `yaml:"minio_bucket" json:"minio_bucket" env:"MINIO_BUCKET" default:"vodforge"`
	MinioUseSSL    bool          `yaml:"minio_use_ssl" json:"minio_use_ssl" env:"MINIO_USE_SSL" default:"false"`
	MinioRegion    string        `yaml:"minio_region" json:"minio_region" env:"MINIO_REGION"`
	MinioPublicURL string        `yaml:"minio_public_url" json:"minio_public_url" env:"MINIO_PUBLIC_URL"`
	PresignExpiry  time.Duration `yaml:"presign_expiry" json:"presign_expiry" env:"MINIO_PRESIGN_EXPIRY" default:"168h"`
}

// TranscodingConfig holds codec runtime and dispatch settings
type TranscodingConfig struct {
	FFmpegPath     string        `yaml:"ffmpeg_path" json:"ffmpeg_path" env:"FFMPEG_PATH" default:"ffmpeg"`
	FFprobePath    string        `yaml:"ffprobe_path" json:"ffprobe_path" env:"FFPROBE_PATH" default:"ffprobe"`
	ScratchDir     string        `yaml:"scratch_dir" json:"scratch_dir" env:"VODFORGE_SCRATCH_DIR"`
	Workers        int           `yaml:"workers" json:"workers" env:"VODFORGE_WORKERS" default:"1"`
	QueueSize      int           `yaml:"queue_size" json:"queue_size" env:"VODFORGE_QUEUE_SIZE" default:"16"`
	JobTimeout     time.Duration `yaml:"job_timeout" json:"job_timeout" env:"VODFORGE_JOB_TIMEOUT" default:"2h"`
	MaxSourceBytes int64         `yaml:"max_source_bytes" json:"max_source_bytes" env:"VODFORGE_MAX_SOURCE_BYTES" default:"4294967296"`
}

// AuthConfig holds bearer-token settings
type AuthConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled" env:"VODFORGE_AUTH_ENABLED" default:"false"`
	JWTSecret      string        `yaml:"jwt_secret" json:"-" env:"VODFORGE_JWT_SECRET"`
	JWTExpiration  time.Duration `yaml:"jwt_expiration" json:"jwt_expiration" env:"VODFORGE_JWT_EXPIRATION" default:"24h"`
	DevPrincipalID string        `yaml:"dev_principal_id" json:"dev_principal_id" env:"VODFORGE_DEV_PRINCIPAL" default:"dev-user"`
}

// NotificationConfig selects how job changes fan out to watchers
type NotificationConfig struct {
	Backend       string `yaml:"backend" json:"backend" env:"NOTIFY_BACKEND" default:"local"`
	RedisAddr     string `yaml:"redis_addr" json:"redis_addr" env:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `yaml:"redis_password" json:"-" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" json:"redis_db" env:"REDIS_DB" default:"0"`
	ChannelPrefix string `yaml:"channel_prefix" json:"channel_prefix" env:"NOTIFY_CHANNEL_PREFIX" default:"vodforge:jobs"`
}

// TriggerConfig selects how job runs are invoked
type TriggerConfig struct {
	Backend string   `yaml:"backend" json:"backend" env:"TRIGGER_BACKEND" default:"inprocess"`
	Brokers []string `yaml:"brokers" json:"brokers" env:"KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" json:"topic" env:"KAFKA_TOPIC" default:"vodforge.process-job"`
	GroupID string   `yaml:"group_id" json:"group_id" env:"KAFKA_GROUP_ID" default:"vodforge-workers"`
}

// LoggingConfig selects hclog level and output format
type LoggingConfig struct {
	Level        string `yaml:"level" json:"level" env:"VODFORGE_LOG_LEVEL" default:"info"`
	Format       string `yaml:"format" json:"format" env:"VODFORGE_LOG_FORMAT" default:"json"`
	EnableColors bool   `yaml:"enable_colors" json:"enable_colors" env:"VODFORGE_LOG_COLORS" default:"false"`
}

// ConfigManager owns the active Config and reloads it when the file changes
type ConfigManager struct {
	config     *Config
	configPath string
	watchers   []ConfigWatcher
	logger     hclog.Logger
	mu         sync.RWMutex
}

// ConfigWatcher receives the configuration before and after a reload
type ConfigWatcher func(oldConfig, newConfig *Config)

var (
	globalConfigManager *ConfigManager
	configOnce          sync.Once
)

// GetConfigManager returns the process-wide manager
func GetConfigManager() *ConfigManager {
	configOnce.Do(func() {
		globalConfigManager = NewConfigManager()
	})
	return globalConfigManager
}

// NewConfigManager starts from DefaultConfig with a null logger
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: DefaultConfig(),
		logger: hclog.NewNullLogger(),
	}
}

// SetLogger replaces the logger used for load and reload messages.
func (cm *ConfigManager) SetLogger(logger hclog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger.Named("config")
}

// DefaultConfig is what a process runs with when no file or env overrides apply
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   60 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1MB
			MaxUploadBytes: 2 << 30,
			EnableCORS:     true,
			TrustedProxies: []string{},
		},
		Database: DatabaseFullConfig{
			Type:            "sqlite",
			Host:            "localhost",
			Port:            5432,
			Username:        "vodforge",
			Database:        "vodforge",
			DataDir:         "/var/lib/vodforge",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 2 * time.Hour,
		},
		Storage: StorageConfig{
			Backend:       "local",
			PublicBaseURL: "http://localhost:8080/media",
			MinioEndpoint: "localhost:9000",
			MinioBucket:   "vodforge",
			PresignExpiry: 7 * 24 * time.Hour,
		},
		Transcoding: TranscodingConfig{
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
			Workers:        1,
			QueueSize:      16,
			JobTimeout:     2 * time.Hour,
			MaxSourceBytes: 4 << 30,
		},
		Auth: AuthConfig{
			JWTExpiration:  24 * time.Hour,
			DevPrincipalID: "dev-user",
		},
		Notifications: NotificationConfig{
			Backend:       "local",
			RedisAddr:     "localhost:6379",
			ChannelPrefix: "vodforge:jobs",
		},
		Trigger: TriggerConfig{
			Backend: "inprocess",
			Topic:   "vodforge.process-job",
			GroupID: "vodforge-workers",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig rebuilds the configuration from defaults, the file at
// configPath (skipped when empty or missing) and the environment, then
// installs it and notifies watchers. On error the current configuration is
// kept.
func (cm *ConfigManager) LoadConfig(configPath string) error {
	next, err := cm.build(configPath)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	previous := *cm.config
	cm.config = next
	cm.configPath = configPath
	watchers := append([]ConfigWatcher(nil), cm.watchers...)
	cm.mu.Unlock()

	for _, watcher := range watchers {
		go watcher(&previous, next)
	}
	return nil
}

func (cm *ConfigManager) build(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" && fileExists(configPath) {
		if err := decodeFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cm.mu.RLock()
		logger := cm.logger
		cm.mu.RUnlock()
		logger.Info("configuration loaded from file", "path", configPath)
	}

	if err := applyEnv(reflect.ValueOf(cfg).Elem(), os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.applyDerivedConfig(cfg)
	return cfg, nil
}

// GetConfig returns a copy of the current configuration
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c := *cm.config
	return &c
}

// ConfigPath returns the path passed to the last successful LoadConfig.
func (cm *ConfigManager) ConfigPath() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.configPath
}

// AddWatcher registers fn to run after every successful load
func (cm *ConfigManager) AddWatcher(fn ConfigWatcher) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.watchers = append(cm.watchers, fn)
}

// decodeFile reads YAML or JSON, chosen by extension, over cfg
func decodeFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(raw, cfg)
	case ".json":
		return json.Unmarshal(raw, cfg)
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}
}

// applyEnv walks v and, for every field tagged env:"NAME" whose variable is
// set to a non-empty value, parses the value into the field. Nested structs
// are walked; unexported fields are skipped.
func applyEnv(v reflect.Value, lookup func(string) (string, bool)) error {
	for i := range v.NumField() {
		field, meta := v.Field(i), v.Type().Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := applyEnv(field, lookup); err != nil {
				return err
			}
			continue
		}

		name := meta.Tag.Get("env")
		if name == "" {
			continue
		}
		raw, ok := lookup(name)
		if !ok || raw == "" {
			continue
		}
		if err := parseInto(field, raw); err != nil {
			return fmt.Errorf("%s (%s): %w", meta.Name, name, err)
		}
	}
	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// parseInto converts raw to the kind of field. Durations use
// time.ParseDuration and string slices split on commas.
func parseInto(field reflect.Value, raw string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
	case field.Kind() == reflect.String:
		field.SetString(raw)
	case field.CanInt():
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		var items []string
		for _, item := range strings.Split(raw, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

func (cm *ConfigManager) validateConfig(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Database.Type != "sqlite" && config.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	switch config.Storage.Backend {
	case "local", "minio":
	default:
		return fmt.Errorf("unsupported storage backend: %s", config.Storage.Backend)
	}

	switch config.Notifications.Backend {
	case "local", "redis":
	default:
		return fmt.Errorf("unsupported notification backend: %s", config.Notifications.Backend)
	}

	switch config.Trigger.Backend {
	case "inprocess":
	case "kafka":
		if len(config.Trigger.Brokers) == 0 {
			return fmt.Errorf("kafka trigger requires at least one broker")
		}
	default:
		return fmt.Errorf("unsupported trigger backend: %s", config.Trigger.Backend)
	}

	if config.Transcoding.Workers < 1 {
		return fmt.Errorf("invalid worker count: %d", config.Transcoding.Workers)
	}
	if config.Transcoding.QueueSize < 1 {
		return fmt.Errorf("invalid queue size: %d", config.Transcoding.QueueSize)
	}

	if config.Auth.Enabled && config.Auth.JWTSecret == "" {
		return fmt.Errorf("authentication enabled without a JWT secret")
	}

	return nil
}

func (cm *ConfigManager) applyDerivedConfig(config *Config) {
	// sqlite lives next to the media unless told otherwise
	if config.Database.DatabasePath == "" && config.Database.Type == "sqlite" {
		config.Database.DatabasePath = filepath.Join(config.Database.DataDir, "vodforge.db")
	}

	if config.Storage.LocalDir == "" {
		config.Storage.LocalDir = filepath.Join(config.Database.DataDir, "media")
	}

	if config.Transcoding.ScratchDir == "" {
		config.Transcoding.ScratchDir = filepath.Join(os.TempDir(), "vodforge", "scratch")
	}

	// More workers than cores only thrashes the encoder
	if config.Transcoding.Workers > runtime.NumCPU() {
		config.Transcoding.Workers = runtime.NumCPU()
	}

	config.Storage.PublicBaseURL = strings.TrimRight(config.Storage.PublicBaseURL, "/")
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Get returns a copy of the process-wide configuration
func Get() *Config {
	return GetConfigManager().GetConfig()
}

// Load reloads the process-wide configuration from configPath
func Load(configPath string) error {
	return GetConfigManager().LoadConfig(configPath)
}

// AddWatcher registers watcher on the process-wide manager
func AddWatcher(watcher ConfigWatcher) {
	GetConfigManager().AddWatcher(watcher)
}
