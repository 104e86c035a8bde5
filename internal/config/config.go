package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// PollIntervals is the polling cadence of each screen kind.
type PollIntervals struct {
	Feed          time.Duration
	Comments      time.Duration
	Chats         time.Duration
	Conversation  time.Duration
	Notifications time.Duration
}

type Config struct {
	Addr string
	// DatabaseURL selects Postgres. When empty the embedded SQLite file
	// at SQLitePath is used.
	DatabaseURL    string
	SQLitePath     string
	RedisURL       string
	MeiliURL       string
	MeiliMasterKey string
	CORSOrigin     string

	Poll        PollIntervals
	SkipOverlap bool
	FeedLimit   int
	// Row store reads are throttled to StoreRPS with bursts of
	// StoreBurst. Zero disables throttling.
	StoreRPS   float64
	StoreBurst int
}

func Load() Config {
	base := time.Duration(getenvInt("MURMUR_POLL_INTERVAL_MS", 1000)) * time.Millisecond
	return Config{
		Addr:           getenv("API_ADDR", ":8788"),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		SQLitePath:     getenv("MURMUR_SQLITE_PATH", "./data/murmur.db"),
		RedisURL:       getenv("REDIS_URL", ""),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", "murmur-meili-key"),
		CORSOrigin:     getenv("MURMUR_CORS_ORIGIN", "*"),
		Poll: PollIntervals{
			Feed:          getenvMillis("MURMUR_FEED_POLL_MS", base),
			Comments:      getenvMillis("MURMUR_COMMENTS_POLL_MS", base),
			Chats:         getenvMillis("MURMUR_CHATS_POLL_MS", base),
			Conversation:  getenvMillis("MURMUR_CONVERSATION_POLL_MS", base),
			Notifications: getenvMillis("MURMUR_NOTIFICATIONS_POLL_MS", 5*base),
		},
		SkipOverlap: getenvBool("MURMUR_SKIP_OVERLAP", false),
		FeedLimit:   getenvInt("MURMUR_FEED_LIMIT", 50),
		StoreRPS:    getenvFloat("MURMUR_STORE_RPS", 200),
		StoreBurst:  getenvInt("MURMUR_STORE_BURST", 400),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvMillis(key string, fallback time.Duration) time.Duration {
	ms := getenvInt(key, -1)
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func getenvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
