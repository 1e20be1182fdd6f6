package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort         string
	FirebaseProject    string
	ServiceAccountJSON string
	ServiceAccountPath string
	StorageBucket      string
	Environment        string
	StoreDriver        string // "firestore" or "memory"

	PresenceHeartbeat   time.Duration
	PresenceStaleAfter  time.Duration
	TypingTimeout       time.Duration
	ReactionMaxAttempts int

	SendRatePerMinute   int
	TypingRatePerMinute int
	CreateChatPerHour   int
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		FirebaseProject:    getEnv("FIREBASE_PROJECT_ID", ""),
		ServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		ServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", ""),
		Environment:        getEnv("ENVIRONMENT", "development"),
		StoreDriver:        getEnv("STORE_DRIVER", "firestore"),

		PresenceHeartbeat:   getEnvAsDuration("PRESENCE_HEARTBEAT", 30*time.Second),
		PresenceStaleAfter:  getEnvAsDuration("PRESENCE_STALE_AFTER", 60*time.Second),
		TypingTimeout:       getEnvAsDuration("TYPING_TIMEOUT", 3*time.Second),
		ReactionMaxAttempts: getEnvAsInt("REACTION_MAX_ATTEMPTS", 5),

		SendRatePerMinute:   getEnvAsInt("SEND_RATE_PER_MIN", 30),
		TypingRatePerMinute: getEnvAsInt("TYPING_RATE_PER_MIN", 120),
		CreateChatPerHour:   getEnvAsInt("CREATE_CHAT_PER_HOUR", 20),
	}

	return config, nil
}

func (c *Config) UseMemoryStore() bool {
	return c.StoreDriver == "memory"
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.Atoi(value)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("30s") or plain seconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
