package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	defaultDataDir       = "/var/lib/osint-worker"
	defaultListenAddress = ":8080"

	// Cache TTLs per class, in seconds.
	defaultTTLUserData     = 3600
	defaultTTLTimelineData = 21600
	defaultTTLTaskResult   = 86400

	defaultTweetCount = 80
	minTweetCount     = 20
	maxTweetCount     = 100
)

// JobConfiguration is the bag of options everything unmarshals its own
// configuration from. Values are placed here by ReadConfig and read back
// through the typed getters.
type JobConfiguration map[string]any

// ReadConfig loads the environment (plus an optional .env file under the
// data dir) into a JobConfiguration.
func ReadConfig() JobConfiguration {
	jc := JobConfiguration{}

	logLevel := os.Getenv("LOG_LEVEL")
	level := ParseLogLevel(logLevel)
	jc["log_level"] = level.String()
	SetLogLevel(level)

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	jc["data_dir"] = dataDir

	if err := godotenv.Load(filepath.Join(dataDir, ".env")); err != nil {
		logrus.Debugf("No env file under %s, reading from environment variables", dataDir)
	}

	listenAddress := os.Getenv("LISTEN_ADDRESS")
	if listenAddress == "" {
		listenAddress = defaultListenAddress
	}
	jc["listen_address"] = listenAddress

	jc["database_url"] = os.Getenv("DATABASE_URL")

	masterKey := os.Getenv("MASTER_ENCRYPTION_KEY")
	if masterKey == "" {
		logrus.Warn("MASTER_ENCRYPTION_KEY is not set; credential storage will be unavailable")
	}
	jc["master_encryption_key"] = masterKey

	if apiKey := os.Getenv("API_KEY"); apiKey != "" {
		jc["api_key"] = apiKey
	}

	jc["cache_ttl_user_data"] = envDuration("CACHE_TTL_USER_DATA", defaultTTLUserData)
	jc["cache_ttl_timeline_data"] = envDuration("CACHE_TTL_TIMELINE_DATA", defaultTTLTimelineData)
	jc["cache_ttl_task_result"] = envDuration("CACHE_TTL_TASK_RESULT", defaultTTLTaskResult)
	jc["result_cache_max_size"] = envInt("RESULT_CACHE_MAX_SIZE", 1000)

	jc["default_tweet_count"] = envInt("DEFAULT_TWEET_COUNT", defaultTweetCount)
	jc["min_tweet_count"] = envInt("MIN_TWEET_COUNT", minTweetCount)
	jc["max_tweet_count"] = envInt("MAX_TWEET_COUNT", maxTweetCount)

	jc["job_timeout_seconds"] = envDuration("JOB_TIMEOUT_SECONDS", 300)
	jc["lease_timeout_seconds"] = envDuration("LEASE_TIMEOUT_SECONDS", 600)
	jc["session_ttl_seconds"] = envDuration("SESSION_TTL_SECONDS", 86400)

	jc["scraper_credential"] = os.Getenv("SCRAPER_CREDENTIAL")

	jc["max_jobs"] = envInt("MAX_JOBS", 4)
	jc["queue_size"] = envInt("QUEUE_SIZE", 1000)

	jc["profiling_enabled"] = os.Getenv("ENABLE_PPROF") == "true"

	return jc
}

func envInt(name string, def int) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		logrus.Errorf("Invalid value %q for %s, using default %d", s, name, def)
		return def
	}
	return v
}

func envDuration(name string, defSecs int) time.Duration {
	return time.Duration(envInt(name, defSecs)) * time.Second
}

// Unmarshal unmarshals the job configuration into the supplied interface.
func (jc JobConfiguration) Unmarshal(v any) error {
	data, err := json.Marshal(jc)
	if err != nil {
		return fmt.Errorf("error marshalling job configuration: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("error unmarshalling job configuration: %w", err)
	}
	return nil
}

func (jc JobConfiguration) DataDir() string {
	return jc.GetString("data_dir", defaultDataDir)
}

func (jc JobConfiguration) ListenAddress() string {
	return jc.GetString("listen_address", defaultListenAddress)
}

// GetInt safely extracts an int from JobConfiguration, with a default fallback.
func (jc JobConfiguration) GetInt(key string, def int) int {
	if v, ok := jc[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case int64:
			return int(val)
		case float64:
			return int(val)
		}
	}
	return def
}

func (jc JobConfiguration) GetDuration(key string, defSecs int) time.Duration {
	if v, ok := jc[key]; ok {
		if val, ok := v.(time.Duration); ok {
			return val
		}
	}
	return time.Duration(defSecs) * time.Second
}

func (jc JobConfiguration) GetString(key string, def string) string {
	if v, ok := jc[key]; ok {
		if val, ok := v.(string); ok && val != "" {
			return val
		}
	}
	return def
}

// GetBool safely extracts a bool from JobConfiguration, with a default fallback.
func (jc JobConfiguration) GetBool(key string, def bool) bool {
	if v, ok := jc[key]; ok {
		if val, ok := v.(bool); ok {
			return val
		}
	}
	return def
}

// ParseLogLevel parses a string and returns the corresponding logrus.Level.
func ParseLogLevel(logLevel string) logrus.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		logrus.Errorf("Invalid log level %q, setting to %s", logLevel, logrus.InfoLevel.String())
		return logrus.InfoLevel
	}
}

// SetLogLevel sets the log level for the application.
func SetLogLevel(level logrus.Level) {
	logrus.SetLevel(level)
}
