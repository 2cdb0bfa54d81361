// Package config reads service settings from the environment. Values that
// are missing or fail to parse fall back to their defaults.
package config

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type MQTT struct {
	Host         string
	Port         int
	AgentTopic   string
	TrafficTopic string
	ClientID     string
	KeepAlive    time.Duration
}

// Enabled reports whether an MQTT broker is configured.
func (m MQTT) Enabled() bool {
	return m.Host != "" && m.Port > 0
}

type Hub struct {
	HTTPAddr            string
	DBPath              string
	RedisAddr           string
	MQTT                MQTT
	BatchSize           int
	AnalyticsWorkers    int
	IdleTimeout         time.Duration
	ReconnectBackoff    time.Duration
	CongestionThreshold int
	LogLevel            slog.Level
}

func Load() Hub {
	return Hub{
		HTTPAddr:  String("HTTP_ADDR", ":8000"),
		DBPath:    String("DB_PATH", "hub.db"),
		RedisAddr: StringAllowEmpty("REDIS_ADDR", "localhost:6379"),
		MQTT: MQTT{
			Host:         String("MQTT_BROKER_HOST", "localhost"),
			Port:         Int("MQTT_BROKER_PORT", 1883),
			AgentTopic:   String("MQTT_AGENT_TOPIC", "agent"),
			TrafficTopic: String("MQTT_TRAFFIC_TOPIC", "traffic"),
			ClientID:     String("MQTT_CLIENT_ID", ""),
			KeepAlive:    Duration("MQTT_KEEP_ALIVE", 60*time.Second),
		},
		BatchSize:           Int("BATCH_SIZE", 5),
		AnalyticsWorkers:    Int("ANALYTICS_WORKERS", runtime.NumCPU()*2),
		IdleTimeout:         Duration("IDLE_TIMEOUT", 60*time.Second),
		ReconnectBackoff:    Duration("RECONNECT_BACKOFF", 5*time.Second),
		CongestionThreshold: Int("CONGESTION_THRESHOLD", 6),
		LogLevel:            Level("LOG_LEVEL", slog.LevelInfo),
	}
}

type MapView struct {
	StoreHost     string
	StorePort     int
	UserID        int
	PollInterval  time.Duration
	KmPerUnit     float64
	ExpectedBatch int
	LogLevel      slog.Level
}

func LoadMapView() MapView {
	return MapView{
		StoreHost:     String("STORE_HOST", "localhost"),
		StorePort:     Int("STORE_PORT", 8000),
		UserID:        Int("USER_ID", 1),
		PollInterval:  Duration("POLL_INTERVAL", 5*time.Second),
		KmPerUnit:     Float("KM_PER_UNIT", 91.4),
		ExpectedBatch: Int("EXPECTED_BATCH", 5),
		LogLevel:      Level("LOG_LEVEL", slog.LevelInfo),
	}
}

func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// StringAllowEmpty is like String but an explicitly empty variable yields
// the empty string.
func StringAllowEmpty(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func Int(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func Float(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return def
}

// Duration accepts Go durations ("90s") and plain seconds ("90").
func Duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}

func Level(key string, def slog.Level) slog.Level {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(raw)); err != nil {
		return def
	}
	return l
}
