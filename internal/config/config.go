package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Sessions
	DurationOptions       []int
	InterimCadenceMinutes int
	RecoverySchedule      string

	// Rewards
	RewardAmount          int64
	BadgeThresholds       map[string]int
	OperatingBalanceFloor int64
	SettlementWorkers     int

	// Cache
	UserCacheTTLSeconds int

	// Ledger (Neo N3)
	LedgerTxTimeoutSecs  int
	NeoRPCURL            string
	NeoBotWIF            string
	NeoRewardTokenHash   string
	NeoBadgeContractHash string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		Env:         getEnvOrDefault("ENV", "development"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
		DatabaseURL: mustGetEnv("DATABASE_URL"),
		RedisURL:    mustGetEnv("REDIS_URL"),
		JWTSecret:   mustGetEnv("JWT_SECRET"),

		DurationOptions:       getEnvAsIntListOrDefault("SESSION_DURATION_OPTIONS", []int{50}),
		InterimCadenceMinutes: getEnvAsIntOrDefault("INTERIM_CADENCE_MINUTES", 10),
		RecoverySchedule:      getEnvOrDefault("RECOVERY_SCHEDULE", "@every 1m"),

		RewardAmount:          int64(getEnvAsIntOrDefault("REWARD_AMOUNT", 10)),
		BadgeThresholds:       getEnvAsThresholdsOrDefault("BADGE_THRESHOLDS", DefaultBadgeThresholds()),
		OperatingBalanceFloor: int64(getEnvAsIntOrDefault("OPERATING_BALANCE_FLOOR", 100)),
		SettlementWorkers:     getEnvAsIntOrDefault("SETTLEMENT_WORKERS", 4),

		UserCacheTTLSeconds: getEnvAsIntOrDefault("USER_CACHE_TTL_SECONDS", 300),

		LedgerTxTimeoutSecs:  getEnvAsIntOrDefault("LEDGER_TX_TIMEOUT_SECONDS", 60),
		NeoRPCURL:            getEnvOrDefault("NEO_RPC_URL", ""),
		NeoBotWIF:            getEnvOrDefault("NEO_BOT_WIF", ""),
		NeoRewardTokenHash:   getEnvOrDefault("NEO_REWARD_TOKEN_HASH", ""),
		NeoBadgeContractHash: getEnvOrDefault("NEO_BADGE_CONTRACT_HASH", ""),
	}

	if err := cfg.Validate(); err != nil {
		panic(err.Error())
	}

	return cfg
}

// DefaultBadgeThresholds returns the production milestone table.
func DefaultBadgeThresholds() map[string]int {
	return map[string]int{"bronze": 20, "silver": 50, "gold": 70}
}

// Validate rejects configurations the session core cannot run with.
func (c *Config) Validate() error {
	if len(c.DurationOptions) == 0 {
		return fmt.Errorf("SESSION_DURATION_OPTIONS must list at least one duration")
	}
	for _, d := range c.DurationOptions {
		if d <= 0 {
			return fmt.Errorf("SESSION_DURATION_OPTIONS contains non-positive duration %d", d)
		}
	}
	if c.InterimCadenceMinutes <= 0 {
		return fmt.Errorf("INTERIM_CADENCE_MINUTES must be positive")
	}
	if c.RewardAmount <= 0 {
		return fmt.Errorf("REWARD_AMOUNT must be positive")
	}
	if c.SettlementWorkers <= 0 {
		return fmt.Errorf("SETTLEMENT_WORKERS must be positive")
	}
	for tier, count := range c.BadgeThresholds {
		switch tier {
		case "bronze", "silver", "gold":
		default:
			return fmt.Errorf("BADGE_THRESHOLDS has unknown tier %q", tier)
		}
		if count <= 0 {
			return fmt.Errorf("BADGE_THRESHOLDS tier %s must have a positive count", tier)
		}
	}
	if c.NeoRPCURL == "" || c.NeoBotWIF == "" || c.NeoRewardTokenHash == "" || c.NeoBadgeContractHash == "" {
		return fmt.Errorf("NEO_RPC_URL, NEO_BOT_WIF, NEO_REWARD_TOKEN_HASH and NEO_BADGE_CONTRACT_HASH are required")
	}
	return nil
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvAsIntListOrDefault parses "2,50" into a sorted, de-duplicated list.
// Any malformed entry makes the whole value fall back to the default.
func getEnvAsIntListOrDefault(key string, defaultVal []int) []int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}

	seen := make(map[int]bool)
	var out []int
	for _, part := range strings.Split(val, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return defaultVal
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// getEnvAsThresholdsOrDefault parses "bronze:20,silver:50,gold:70".
func getEnvAsThresholdsOrDefault(key string, defaultVal map[string]int) map[string]int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}

	out := make(map[string]int)
	for _, part := range strings.Split(val, ",") {
		name, count, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return defaultVal
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil {
			return defaultVal
		}
		out[strings.ToLower(strings.TrimSpace(name))] = n
	}
	return out
}

// LoadTooling reads the subset of settings the admin CLI needs. It skips
// the session and ledger validation the server performs.
func LoadTooling() *Config {
	godotenv.Load()

	return &Config{
		Env:         getEnvOrDefault("ENV", "development"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "warn"),
		DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),
		JWTSecret:   getEnvOrDefault("JWT_SECRET", ""),
	}
}
