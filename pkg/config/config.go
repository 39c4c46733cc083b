package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"signal-core/pkg/crypto"
)

// Account is one labelled set of exchange credentials.
type Account struct {
	Label     string
	APIKey    string
	APISecret string
}

// Config holds environment-driven settings for the signal service.
type Config struct {
	Port string

	// Exchange
	DryRun       bool    // DRY_RUN=true routes every account to an in-memory paper venue
	PaperBalance float64 // starting balance of each paper venue
	Production   bool    // BINANCE_ENV=prd targets fapi.binance.com, anything else the testnet
	Accounts     []Account
	RecvWindow   int64
	GatewayRPS   float64

	// Order policy
	StopLoss              float64
	TakeProfit            float64
	WorkingType           string // trigger price source for bracket legs
	PinOffset             float64
	MaxMarginUtilization  float64
	DefaultPositionMargin float64
	MaxPriceDecimals      int
	LegacyQtyPrecision    bool
	AbortOnFlattenFailure bool
	SymbolsFile           string

	// Transport
	WhiteIPList    []string
	TrustedProxies []string // proxies whose X-Forwarded-For is believed
	WSOrigins      []string // browser origins allowed on /ws
	JWTSecret      string

	// Persistence
	StateBackend string // sqlite, file or postgres
	DBPath       string
	StateFile    string
	PostgresDSN  string

	// Alerts
	AlertWebhookURL string
	TelegramToken   string
	TelegramChatID  int64

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	accounts, err := parseAccounts(os.Getenv("ACCOUNTS"))
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 && os.Getenv("BINANCE_API_KEY") != "" {
		accounts = append(accounts, Account{
			Label:     "default",
			APIKey:    os.Getenv("BINANCE_API_KEY"),
			APISecret: os.Getenv("BINANCE_API_SECRET"),
		})
	}

	cfg := &Config{
		Port:                  getEnv("PORT", "80"),
		DryRun:                getEnv("DRY_RUN", "false") == "true",
		PaperBalance:          getEnvFloat("PAPER_BALANCE", 10000),
		Production:            strings.EqualFold(getEnv("BINANCE_ENV", "test"), "prd"),
		Accounts:              accounts,
		RecvWindow:            int64(getEnvInt("RECV_WINDOW", 5000)),
		GatewayRPS:            getEnvFloat("GATEWAY_RPS", 10),
		StopLoss:              getEnvFloat("STOP_LOSS", 0.02),
		TakeProfit:            getEnvFloat("TAKE_PROFIT", 0.007),
		WorkingType:           strings.ToUpper(os.Getenv("WORKING_TYPE")),
		PinOffset:             getEnvFloat("PIN_OFFSET", 0.005),
		MaxMarginUtilization:  getEnvFloat("MAX_MARGIN_UTILIZATION", 0.4),
		DefaultPositionMargin: getEnvFloat("DEFAULT_POSITION_MARGIN", 5),
		MaxPriceDecimals:      getEnvInt("MAX_PRICE_DECIMALS", 4),
		LegacyQtyPrecision:    getEnv("LEGACY_QTY_PRECISION", "false") == "true",
		AbortOnFlattenFailure: getEnv("ABORT_ON_FLATTEN_FAILURE", "false") == "true",
		SymbolsFile:           getEnv("SYMBOLS_FILE", ""),
		WhiteIPList:           splitAndTrim(getEnv("WHITE_IP_LIST", "")),
		TrustedProxies:        splitAndTrim(getEnv("TRUSTED_PROXIES", "")),
		WSOrigins:             splitAndTrim(getEnv("WS_ALLOWED_ORIGINS", "")),
		JWTSecret:             getEnv("JWT_SECRET", DevJWTSecret),
		StateBackend:          strings.ToLower(getEnv("STATE_BACKEND", "sqlite")),
		DBPath:                getEnv("DB_PATH", "./data/signal.db"),
		StateFile:             getEnv("STATE_FILE", "./data/strategy_state.json"),
		PostgresDSN:           os.Getenv("POSTGRES_DSN"),
		AlertWebhookURL:       os.Getenv("ALERT_WEBHOOK_URL"),
		TelegramToken:         os.Getenv("TELEGRAM_TOKEN"),
		TelegramChatID:        int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "text"),
		LogFile:               getEnv("LOG_FILE", "stdout"),
	}
	ring, err := crypto.KeyringFromEnv("SECRETS_KEY")
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.openSecrets(ring); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openSecrets decrypts sealed ENC[vN] settings in place.
func (c *Config) openSecrets(ring *crypto.Keyring) error {
	fields := map[string]*string{
		"JWT_SECRET":     &c.JWTSecret,
		"POSTGRES_DSN":   &c.PostgresDSN,
		"TELEGRAM_TOKEN": &c.TelegramToken,
	}
	for i := range c.Accounts {
		fields["api key of "+c.Accounts[i].Label] = &c.Accounts[i].APIKey
		fields["api secret of "+c.Accounts[i].Label] = &c.Accounts[i].APISecret
	}
	for name, v := range fields {
		plain, err := ring.Open(*v)
		if err != nil {
			return fmt.Errorf("config: open %s: %w", name, err)
		}
		*v = plain
	}
	return nil
}

// DevJWTSecret is the admin token secret used when JWT_SECRET is unset.
// Only dry runs may start with it.
const DevJWTSecret = "dev-secret"

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.Accounts) == 0 && !c.DryRun {
		return errors.New("config: no exchange accounts configured (ACCOUNTS or BINANCE_API_KEY)")
	}
	if !c.DryRun && (c.JWTSecret == "" || c.JWTSecret == DevJWTSecret) {
		return errors.New("config: JWT_SECRET must be set when trading live")
	}
	if c.MaxMarginUtilization <= 0 || c.MaxMarginUtilization > 1 {
		return fmt.Errorf("config: MAX_MARGIN_UTILIZATION must be in (0,1], got %v", c.MaxMarginUtilization)
	}
	if c.StopLoss <= 0 || c.StopLoss >= 1 || c.TakeProfit <= 0 || c.TakeProfit >= 1 {
		return fmt.Errorf("config: STOP_LOSS/TAKE_PROFIT must be fractions in (0,1)")
	}
	switch c.WorkingType {
	case "", "MARK_PRICE", "CONTRACT_PRICE":
	default:
		return fmt.Errorf("config: WORKING_TYPE must be MARK_PRICE or CONTRACT_PRICE, got %q", c.WorkingType)
	}
	switch c.StateBackend {
	case "sqlite", "file":
	case "postgres":
		if c.PostgresDSN == "" {
			return errors.New("config: STATE_BACKEND=postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unknown STATE_BACKEND %q", c.StateBackend)
	}
	return nil
}

// parseAccounts reads "label:key:secret" entries separated by commas.
func parseAccounts(val string) ([]Account, error) {
	var out []Account
	seen := make(map[string]bool)
	for _, entry := range splitAndTrim(val) {
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("config: malformed ACCOUNTS entry %q (want label:key:secret)", entry)
		}
		if seen[parts[0]] {
			return nil, fmt.Errorf("config: duplicate account label %q", parts[0])
		}
		seen[parts[0]] = true
		out = append(out, Account{Label: parts[0], APIKey: parts[1], APISecret: parts[2]})
	}
	return out, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
