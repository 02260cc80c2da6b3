package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// Runtime is the process configuration, read from the environment.
type Runtime struct {
	BotToken          string
	StoreURL          string
	CacheTTL          time.Duration // negative when CACHE_TTL=0 disables the cache
	StoreTimeout      time.Duration
	AdminChatIDs      []string
	Location          *time.Location
	ReminderCron      string
	ReminderInterval  time.Duration
	EscalateToTeam    bool
	RedisAddr         string
	JournalDSN        string
	HTTPAddr          string
	LogFile           string
	LogLevel          string
	SendRate          float64
	WorkerConcurrency int
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) (Runtime, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Runtime{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	loc, err := loadLocation(getenvDefault("TIMEZONE", "Asia/Tehran"))
	if err != nil {
		return Runtime{}, err
	}
	cfg := Runtime{
		BotToken:          os.Getenv("BOT_TOKEN"),
		StoreURL:          strings.TrimRight(os.Getenv("GOOGLE_API_URL"), "/"),
		CacheTTL:          time.Duration(readInt("CACHE_TTL", 300)) * time.Second,
		StoreTimeout:      readDuration("STORE_TIMEOUT", 25*time.Second),
		AdminChatIDs:      splitList(os.Getenv("ADMIN_CHAT_IDS")),
		Location:          loc,
		ReminderCron:      getenvDefault("REMINDER_CRON", "0 9 * * *"),
		ReminderInterval:  readDuration("REMINDER_INTERVAL", 0),
		EscalateToTeam:    cast.ToBool(os.Getenv("ESCALATE_TO_TEAM")),
		RedisAddr:         getenvDefault("REDIS_ADDR", "127.0.0.1:6379"),
		JournalDSN:        getenvDefault("JOURNAL_DSN", "file:remindx.db"),
		HTTPAddr:          getenvDefault("HTTP_ADDR", ":8080"),
		LogFile:           os.Getenv("LOG_FILE"),
		LogLevel:          getenvDefault("LOG_LEVEL", "info"),
		SendRate:          readFloat("SEND_RATE", 25),
		WorkerConcurrency: readInt("WORKER_CONCURRENCY", 1),
	}
	if cfg.BotToken == "" || cfg.StoreURL == "" {
		return Runtime{}, errors.New("BOT_TOKEN and GOOGLE_API_URL must be set")
	}
	if cfg.CacheTTL < 0 {
		return Runtime{}, fmt.Errorf("CACHE_TTL must not be negative, got %s", cfg.CacheTTL)
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = -1
	}
	return cfg, nil
}

// loadLocation falls back to a fixed +03:30 zone when tzdata is missing;
// Iran has not observed DST since 2022.
func loadLocation(name string) (*time.Location, error) {
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == "Asia/Tehran" {
		return time.FixedZone("IRST", 3*3600+30*60), nil
	}
	return nil, fmt.Errorf("load timezone %q: %w", name, err)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func readInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return fallback
	}
	return n
}

func readFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func readDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return fallback
	}
	return d
}
