package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// AppConfig holds environment driven configuration values.
// Tokens and passwords should never have defaults inside code and must be provided via config.json or the environment.
type AppConfig struct {
	// Local API served to the SPA / desktop shell
	AppHost            string
	AppPort            string
	RateLimitPerMinute int
	AllowedOrigins     []string
	GinMode            string
	GinPath            string
	// Remote HR backend
	APIBaseURL    string
	APITimeoutSec int
	// Polling
	PollIntervalSec       int
	MinRefreshIntervalSec int
	// Durable client storage: file | redis | mysql | memory
	StorageBackend   string
	StoragePath      string
	StorageKeyPrefix string
	// Redis for storage and the realtime feed
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// MySQL for shared kiosk deployments
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Realtime feed
	RealtimeEnabled bool
	RealtimeChannel string
	// Device metadata
	IPLookupURL     string
	DefaultLocation string
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
}

// DefaultAllowedOrigins admits shells served from this machine on any port.
var DefaultAllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}

var cfg AppConfig
var loaded bool

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	if loaded {
		return cfg
	}

	// Precedence: config/config.json -> defaults -> environment variable overrides
	if err := loadJSONConfig(filepath.Join("config", "config.json"), &cfg); err != nil {
		log.Printf("invalid config/config.json ignored: %v", err)
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.APIBaseURL == "" {
		log.Fatal("API_BASE_URL must be set in config.json or environment variables")
	}
	switch cfg.StorageBackend {
	case "file", "redis", "mysql", "memory":
	default:
		log.Fatalf("unknown storage backend %q", cfg.StorageBackend)
	}

	loaded = true
	return cfg
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	if !loaded {
		return Load()
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// loadJSONConfig reads JSON file into out if present. Returns error only for invalid JSON.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil // silently ignore missing file
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	getString := func(m map[string]any, key string) string {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}
	getInt := func(m map[string]any, key string) int {
		if v, ok := m[key]; ok {
			switch t := v.(type) {
			case float64:
				return int(t)
			case int:
				return t
			case json.Number:
				i, _ := t.Int64()
				return int(i)
			}
		}
		return 0
	}
	getBool := func(m map[string]any, key string) bool {
		if v, ok := m[key]; ok {
			if b, ok := v.(bool); ok {
				return b
			}
		}
		return false
	}
	getStringSlice := func(m map[string]any, key string) []string {
		if v, ok := m[key]; ok {
			if arr, ok := v.([]any); ok {
				res := make([]string, 0, len(arr))
				for _, it := range arr {
					if s, ok := it.(string); ok {
						res = append(res, s)
					}
				}
				return res
			}
		}
		return nil
	}

	if app, ok := raw["app"].(map[string]any); ok {
		out.AppHost = getString(app, "Host")
		out.AppPort = getString(app, "Port")
		if v := getInt(app, "RateLimitPerMinute"); v != 0 {
			out.RateLimitPerMinute = v
		}
		if list := getStringSlice(app, "AllowedOrigins"); len(list) > 0 {
			out.AllowedOrigins = list
		}
		if v := getString(app, "GinMode"); v != "" {
			out.GinMode = v
		}
		if v := getString(app, "GinPath"); v != "" {
			out.GinPath = v
		}
	}

	if api, ok := raw["api"].(map[string]any); ok {
		out.APIBaseURL = getString(api, "BaseURL")
		if v := getInt(api, "TimeoutSec"); v != 0 {
			out.APITimeoutSec = v
		}
		if v := getInt(api, "PollIntervalSec"); v != 0 {
			out.PollIntervalSec = v
		}
		if v := getInt(api, "MinRefreshIntervalSec"); v != 0 {
			out.MinRefreshIntervalSec = v
		}
	}

	if st, ok := raw["storage"].(map[string]any); ok {
		out.StorageBackend = getString(st, "Backend")
		out.StoragePath = getString(st, "Path")
		out.StorageKeyPrefix = getString(st, "KeyPrefix")
	}

	if rds, ok := raw["redis"].(map[string]any); ok {
		out.RedisHost = getString(rds, "RedisHost")
		if v := getInt(rds, "RedisPort"); v != 0 {
			out.RedisPort = v
		}
		if v := getInt(rds, "RedisDB"); v != 0 {
			out.RedisDB = v
		}
		out.RedisPassword = getString(rds, "RedisPassword")
	}

	if dbs, ok := raw["database"].(map[string]any); ok {
		out.DatabaseURI = getString(dbs, "DatabaseURI")
		out.DBHost = getString(dbs, "DBHost")
		out.DBPort = getString(dbs, "DBPort")
		out.DBUser = getString(dbs, "DBUser")
		out.DBPassword = getString(dbs, "DBPassword")
		out.DBName = getString(dbs, "DBName")
	}

	if rt, ok := raw["realtime"].(map[string]any); ok {
		out.RealtimeEnabled = getBool(rt, "Enabled")
		out.RealtimeChannel = getString(rt, "Channel")
	}

	if dev, ok := raw["device"].(map[string]any); ok {
		out.IPLookupURL = getString(dev, "IPLookupURL")
		out.DefaultLocation = getString(dev, "DefaultLocation")
	}

	if lg, ok := raw["log"].(map[string]any); ok {
		if v := getString(lg, "Level"); v != "" {
			out.LogLevel = v
		}
		if v := getString(lg, "Path"); v != "" {
			out.LogPath = v
		}
		if v := getInt(lg, "MaxSizeMB"); v != 0 {
			out.LogMaxSizeMB = v
		}
		if v := getInt(lg, "MaxBackups"); v != 0 {
			out.LogMaxBackups = v
		}
		if v := getInt(lg, "MaxAgeDays"); v != 0 {
			out.LogMaxAgeDays = v
		}
		out.LogCompress = getBool(lg, "Compress")
	}

	// flat keys for backward compatibility
	if v, ok := raw["APIBaseURL"]; ok && out.APIBaseURL == "" {
		out.APIBaseURL, _ = v.(string)
	}
	if v, ok := raw["AppPort"]; ok && out.AppPort == "" {
		out.AppPort, _ = v.(string)
	}
	if v, ok := raw["LogLevel"]; ok && out.LogLevel == "" {
		out.LogLevel, _ = v.(string)
	}

	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppHost == "" {
		c.AppHost = "127.0.0.1"
	}
	if c.AppPort == "" {
		c.AppPort = "7420"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 120
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/gin.log"
	}
	if c.APITimeoutSec == 0 {
		c.APITimeoutSec = 15
	}
	if c.PollIntervalSec == 0 {
		c.PollIntervalSec = 30
	}
	if c.MinRefreshIntervalSec == 0 {
		c.MinRefreshIntervalSec = 10
	}
	if c.StorageBackend == "" {
		c.StorageBackend = "file"
	}
	if c.StoragePath == "" {
		c.StoragePath = "data/punchclock.json"
	}
	if c.StorageKeyPrefix == "" {
		c.StorageKeyPrefix = "punchclock:"
	}
	if c.RedisHost == "" {
		c.RedisHost = "127.0.0.1"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "punchclock"
	}
	if c.RealtimeChannel == "" {
		c.RealtimeChannel = "attendance-events"
	}
	if c.IPLookupURL == "" {
		c.IPLookupURL = "https://api.ipify.org?format=json"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) {
	if v := getEnv("APP_HOST", ""); v != "" {
		c.AppHost = v
	}
	if v := getEnv("APP_PORT", ""); v != "" {
		c.AppPort = v
	}
	if v := getEnv("RATE_LIMIT_PER_MINUTE", ""); v != "" {
		c.RateLimitPerMinute = mustParseInt(v)
	}
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		c.AllowedOrigins = readListEnv("CORS_ALLOWED_ORIGINS", c.AllowedOrigins)
	}
	if v := getEnv("GIN_MODE", ""); v != "" {
		c.GinMode = v
	}
	if v := getEnv("GIN_PATH", ""); v != "" {
		c.GinPath = v
	}
	if v := getEnv("API_BASE_URL", ""); v != "" {
		c.APIBaseURL = strings.TrimRight(v, "/")
	}
	if v := getEnv("API_TIMEOUT_SEC", ""); v != "" {
		c.APITimeoutSec = mustParseInt(v)
	}
	if v := getEnv("POLL_INTERVAL_SEC", ""); v != "" {
		c.PollIntervalSec = mustParseInt(v)
	}
	if v := getEnv("MIN_REFRESH_INTERVAL_SEC", ""); v != "" {
		c.MinRefreshIntervalSec = mustParseInt(v)
	}
	if v := getEnv("STORAGE_BACKEND", ""); v != "" {
		c.StorageBackend = v
	}
	if v := getEnv("STORAGE_PATH", ""); v != "" {
		c.StoragePath = v
	}
	if v := getEnv("STORAGE_KEY_PREFIX", ""); v != "" {
		c.StorageKeyPrefix = v
	}
	if v := getEnv("REDIS_HOST", ""); v != "" {
		c.RedisHost = v
	}
	if v := getEnv("REDIS_PORT", ""); v != "" {
		c.RedisPort = mustParseInt(v)
	}
	if v := getEnv("REDIS_DB", ""); v != "" {
		c.RedisDB = mustParseInt(v)
	}
	if v := getEnv("REDIS_PASSWORD", ""); v != "" {
		c.RedisPassword = v
	}
	if v := getEnv("DATABASE_URI", ""); v != "" {
		c.DatabaseURI = v
	}
	if v := getEnv("DB_HOST", ""); v != "" {
		c.DBHost = v
	}
	if v := getEnv("DB_PORT", ""); v != "" {
		c.DBPort = v
	}
	if v := getEnv("DB_USER", ""); v != "" {
		c.DBUser = v
	}
	if v := getEnv("DB_PASSWORD", ""); v != "" {
		c.DBPassword = v
	}
	if v := getEnv("DB_NAME", ""); v != "" {
		c.DBName = v
	}
	if v := getEnv("REALTIME_ENABLED", ""); v != "" {
		c.RealtimeEnabled = v == "true"
	}
	if v := getEnv("REALTIME_CHANNEL", ""); v != "" {
		c.RealtimeChannel = v
	}
	if v := getEnv("IP_LOOKUP_URL", ""); v != "" {
		c.IPLookupURL = v
	}
	if v := getEnv("DEFAULT_LOCATION", ""); v != "" {
		c.DefaultLocation = v
	}
	if v := getEnv("LOG_LEVEL", ""); v != "" {
		c.LogLevel = v
	}
	if v := getEnv("LOG_PATH", ""); v != "" {
		c.LogPath = v
	}
	if v := getEnv("LOG_MAX_SIZE_MB", ""); v != "" {
		c.LogMaxSizeMB = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_BACKUPS", ""); v != "" {
		c.LogMaxBackups = mustParseInt(v)
	}
	if v := getEnv("LOG_MAX_AGE_DAYS", ""); v != "" {
		c.LogMaxAgeDays = mustParseInt(v)
	}
	if v := getEnv("LOG_COMPRESS", ""); v != "" {
		c.LogCompress = v == "true"
	}
}

func mustParseInt(val string) int {
	i, err := strconv.Atoi(val)
	if err != nil {
		log.Fatalf("invalid integer value %s: %v", val, err)
	}
	return i
}

func readListEnv(key string, defaults []string) []string {
	if raw := os.Getenv(key); raw != "" {
		return splitAndTrim(raw)
	}
	return defaults
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
