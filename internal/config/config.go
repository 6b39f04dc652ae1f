package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Config holds all environment-driven settings.
type Config struct {
	LoginURL      string
	CallURL       string
	BaseURL       string
	RecordingPath string

	MaxErrors       int
	CheckInterval   time.Duration
	RefreshPattern  []int
	ErrorBackoff    time.Duration
	ReauthBackoff   time.Duration
	ManualLoginWait time.Duration
	TableWait       time.Duration

	TableSelector string
	MinRowCells   int
	NumberCell    int

	DownloadDir       string
	MinRecordingBytes int64
	DownloadTimeout   time.Duration
	PrimeDelay        time.Duration
	WorkerCount       int
	JobQueueSize      int
	JobTimeout        time.Duration

	BotToken        string
	AdminChatID     string
	GroupChatID     string
	TelegramBaseURL string

	CookiesJSON   string
	CookiesFile   string
	LoginEmail    string
	LoginPassword string

	Browser    BrowserConfig
	Transcribe TranscribeConfig

	HTTPPort     string
	DBPath       string
	Environment  string
	LogLevel     string
	Location     *time.Location
	ConfigPath   string
	StrictConfig bool
}

// BrowserConfig controls how the Chrome instance is launched or attached.
type BrowserConfig struct {
	ChromeBin         string
	Headless          bool
	DebuggerURL       string
	UserAgent         string
	NavigationTimeout time.Duration
	ViewportWidth     int
	ViewportHeight    int
}

// TranscribeConfig controls the optional OTP extraction enrichment.
type TranscribeConfig struct {
	Enabled   bool
	APIKey    string
	BaseURL   string
	Model     string
	Languages []string
	FFMPEGBin string
}

type fileConfig struct {
	LoginURL       string   `json:"login_url" yaml:"login_url"`
	CallURL        string   `json:"call_url" yaml:"call_url"`
	BaseURL        string   `json:"base_url" yaml:"base_url"`
	MaxErrors      *int     `json:"max_errors" yaml:"max_errors"`
	CheckInterval  *int     `json:"check_interval" yaml:"check_interval"`
	RefreshPattern []int    `json:"refresh_pattern" yaml:"refresh_pattern"`
	TableSelector  string   `json:"table_selector" yaml:"table_selector"`
	DownloadDir    string   `json:"download_dir" yaml:"download_dir"`
	WorkerCount    *int     `json:"worker_count" yaml:"worker_count"`
	Languages      []string `json:"transcribe_languages" yaml:"transcribe_languages"`
	CookiesFile    string   `json:"cookies_file" yaml:"cookies_file"`
}

const (
	defaultLoginURL       = "https://www.orangecarrier.com/login"
	defaultCallURL        = "https://www.orangecarrier.com/live/calls"
	defaultBaseURL        = "https://www.orangecarrier.com"
	defaultRecordingPath  = "/live/calls/sound"
	defaultMaxErrors      = 10
	defaultCheckInterval  = 5
	defaultWorkerCount    = 4
	minQueueSize          = 1
	defaultQueueSize      = 100
	maxQueueSize          = 1024
	maxWorkerCount        = 64
	defaultJobTimeoutSec  = 180
	defaultMinRecording   = 1000
	defaultTableSelector  = "#LiveCalls"
	defaultPort           = ":8000"
	defaultDBFile         = "callwatch.db"
	defaultTelegramURL    = "https://api.telegram.org"
	defaultOpenAIURL      = "https://api.openai.com"
	defaultTranscribeName = "whisper-1"
)

// DefaultRefreshPattern is the cyclic page reload schedule in seconds.
var DefaultRefreshPattern = []int{1800, 1545, 2110, 1850, 1340}

// Load reads configuration from .env, environment variables and an optional
// YAML/JSON file, applying defaults for anything unset.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		LoginURL:        getEnv("LOGIN_URL", defaultLoginURL),
		CallURL:         getEnv("CALL_URL", defaultCallURL),
		BaseURL:         strings.TrimRight(getEnv("BASE_URL", defaultBaseURL), "/"),
		RecordingPath:   getEnv("RECORDING_PATH", defaultRecordingPath),
		MaxErrors:       defaultMaxErrors,
		CheckInterval:   defaultCheckInterval * time.Second,
		RefreshPattern:  append([]int(nil), DefaultRefreshPattern...),
		ErrorBackoff:    secondsEnv("ERROR_BACKOFF_SEC", 5),
		ReauthBackoff:   secondsEnv("REAUTH_BACKOFF_SEC", 10),
		ManualLoginWait: secondsEnv("MANUAL_LOGIN_WAIT_SEC", 300),
		TableWait:       secondsEnv("TABLE_WAIT_SEC", 30),

		TableSelector: getEnv("TABLE_SELECTOR", defaultTableSelector),
		MinRowCells:   intEnv("MIN_ROW_CELLS", 5),
		NumberCell:    intEnv("NUMBER_CELL", 1),

		DownloadDir:       getEnv("DOWNLOAD_DIR", defaultDownloadDir()),
		MinRecordingBytes: int64(intEnv("MIN_RECORDING_BYTES", defaultMinRecording)),
		DownloadTimeout:   secondsEnv("DOWNLOAD_TIMEOUT_SEC", 30),
		PrimeDelay:        secondsEnv("PRIME_DELAY_SEC", 5),
		WorkerCount:       defaultWorkerCount,
		JobQueueSize:      defaultQueueSize,
		JobTimeout:        defaultJobTimeoutSec * time.Second,

		BotToken:        os.Getenv("BOT_TOKEN"),
		AdminChatID:     os.Getenv("ADMIN_CHAT_ID"),
		GroupChatID:     os.Getenv("GROUP_CHAT_ID"),
		TelegramBaseURL: strings.TrimRight(getEnv("TELEGRAM_BASE_URL", defaultTelegramURL), "/"),

		CookiesJSON:   firstNonEmpty(os.Getenv("COOKIES_JSON"), os.Getenv("ORANGE_COOKIES")),
		CookiesFile:   os.Getenv("COOKIES_FILE"),
		LoginEmail:    os.Getenv("LOGIN_EMAIL"),
		LoginPassword: os.Getenv("LOGIN_PASSWORD"),

		Browser: BrowserConfig{
			ChromeBin:         os.Getenv("CHROME_BIN"),
			Headless:          parseBoolEnvDefault("HEADLESS", !term.IsTerminal(int(os.Stdin.Fd()))),
			DebuggerURL:       os.Getenv("BROWSER_DEBUGGER_URL"),
			UserAgent:         os.Getenv("USER_AGENT"),
			NavigationTimeout: secondsEnv("NAVIGATION_TIMEOUT_SEC", 60),
			ViewportWidth:     1920,
			ViewportHeight:    1080,
		},
		Transcribe: TranscribeConfig{
			Enabled:   parseBoolEnv("TRANSCRIBE_ENABLED"),
			APIKey:    os.Getenv("OPENAI_API_KEY"),
			BaseURL:   strings.TrimRight(getEnv("OPENAI_BASE_URL", defaultOpenAIURL), "/"),
			Model:     getEnv("TRANSCRIBE_MODEL", defaultTranscribeName),
			Languages: splitList(getEnv("TRANSCRIBE_LANGUAGES", "en,es")),
			FFMPEGBin: getEnv("FFMPEG_BIN", "ffmpeg"),
		},

		HTTPPort:     normalizePort(getEnv("HTTP_PORT", defaultPort)),
		DBPath:       getEnv("DB_PATH", defaultDBFile),
		Environment:  getEnv("ENVIRONMENT", defaultEnvironment()),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		StrictConfig: parseBoolEnv("STRICT_CONFIG"),
	}

	cfg.ConfigPath = getEnv("CONFIG_PATH", filepath.Join("config", "callwatch.yaml"))
	fileCfg, fileErr := loadFileConfig(cfg.ConfigPath)
	if fileErr != nil {
		if cfg.StrictConfig && !errors.Is(fileErr, os.ErrNotExist) {
			return cfg, fmt.Errorf("config load failed (%s): %w", cfg.ConfigPath, fileErr)
		}
		if !errors.Is(fileErr, os.ErrNotExist) {
			log.Printf("config file %s ignored: %v", cfg.ConfigPath, fileErr)
		}
	} else {
		cfg = applyFileOverrides(cfg, fileCfg)
	}

	if v, ok, err := parseIntEnv("MAX_ERRORS"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid MAX_ERRORS: %w", err)
		}
		log.Printf("invalid MAX_ERRORS: %v (using %d)", err, cfg.MaxErrors)
	} else if ok && v > 0 {
		cfg.MaxErrors = v
	}

	if v, ok, err := parseIntEnv("CHECK_INTERVAL"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid CHECK_INTERVAL: %w", err)
		}
		log.Printf("invalid CHECK_INTERVAL: %v (using %s)", err, cfg.CheckInterval)
	} else if ok && v > 0 {
		cfg.CheckInterval = time.Duration(v) * time.Second
	}

	if raw := strings.TrimSpace(os.Getenv("REFRESH_PATTERN")); raw != "" {
		pattern, err := ParseRefreshPattern(raw)
		if err != nil {
			if cfg.StrictConfig {
				return cfg, err
			}
			log.Printf("invalid REFRESH_PATTERN=%q: %v (using %v)", raw, err, cfg.RefreshPattern)
		} else {
			cfg.RefreshPattern = pattern
		}
	}

	if v, ok, err := parseIntEnv("WORKER_COUNT"); err != nil {
		log.Printf("invalid WORKER_COUNT: %v (using %d)", err, cfg.WorkerCount)
	} else if ok {
		cfg.WorkerCount = clampInt(v, 1, maxWorkerCount)
	}

	if v, ok, err := parseIntEnv("JOB_QUEUE_SIZE"); err != nil {
		log.Printf("invalid JOB_QUEUE_SIZE: %v (using %d)", err, cfg.JobQueueSize)
	} else if ok {
		cfg.JobQueueSize = clampInt(v, minQueueSize, maxQueueSize)
	}
	if cfg.JobQueueSize < cfg.WorkerCount {
		log.Printf("JOB_QUEUE_SIZE must be >= WORKER_COUNT; raising to %d", cfg.WorkerCount)
		cfg.JobQueueSize = cfg.WorkerCount
	}

	if v, ok, err := parseIntEnv("JOB_TIMEOUT_SEC"); err != nil {
		return cfg, fmt.Errorf("invalid JOB_TIMEOUT_SEC: %w", err)
	} else if ok {
		if v <= 0 {
			return cfg, fmt.Errorf("JOB_TIMEOUT_SEC must be positive")
		}
		cfg.JobTimeout = time.Duration(v) * time.Second
	}

	cfg.Location = time.Local
	if tz := strings.TrimSpace(os.Getenv("TIMEZONE")); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			log.Printf("invalid TIMEZONE=%q: %v (using local)", tz, err)
		} else {
			cfg.Location = loc
		}
	}

	if err := Validate(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		log.Printf("config validation failed: %v (continuing)", err)
	}
	return cfg, nil
}

// Validate reports the first setting that would make the monitor unusable.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.CallURL) == "" {
		return errors.New("CALL_URL is required")
	}
	if strings.TrimSpace(cfg.LoginURL) == "" {
		return errors.New("LOGIN_URL is required")
	}
	if len(cfg.RefreshPattern) == 0 {
		return errors.New("refresh pattern must not be empty")
	}
	if cfg.MaxErrors <= 0 {
		return errors.New("MAX_ERRORS must be positive")
	}
	if cfg.MinRowCells <= cfg.NumberCell {
		return fmt.Errorf("MIN_ROW_CELLS (%d) must exceed NUMBER_CELL (%d)", cfg.MinRowCells, cfg.NumberCell)
	}
	if cfg.BotToken == "" || cfg.GroupChatID == "" {
		return errors.New("BOT_TOKEN and GROUP_CHAT_ID are required for notifications")
	}
	if cfg.Transcribe.Enabled && cfg.Transcribe.APIKey == "" {
		return errors.New("TRANSCRIBE_ENABLED requires OPENAI_API_KEY")
	}
	return nil
}

// ParseRefreshPattern parses a comma separated list of positive second counts.
func ParseRefreshPattern(raw string) ([]int, error) {
	parts := splitList(raw)
	if len(parts) == 0 {
		return nil, errors.New("refresh pattern must not be empty")
	}
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("refresh pattern entry %q: %w", p, err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("refresh pattern entry %d must be positive", n)
		}
		out = append(out, n)
	}
	return out, nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := c
	out.BotToken = redact(c.BotToken)
	out.LoginPassword = redact(c.LoginPassword)
	out.CookiesJSON = redact(c.CookiesJSON)
	out.Transcribe.APIKey = redact(c.Transcribe.APIKey)
	return out
}

func redact(v string) string {
	if v == "" {
		return ""
	}
	return "***"
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	return cfg, err
}

func applyFileOverrides(base Config, f fileConfig) Config {
	if strings.TrimSpace(f.LoginURL) != "" {
		base.LoginURL = strings.TrimSpace(f.LoginURL)
	}
	if strings.TrimSpace(f.CallURL) != "" {
		base.CallURL = strings.TrimSpace(f.CallURL)
	}
	if strings.TrimSpace(f.BaseURL) != "" {
		base.BaseURL = strings.TrimRight(strings.TrimSpace(f.BaseURL), "/")
	}
	if f.MaxErrors != nil && *f.MaxErrors > 0 {
		base.MaxErrors = *f.MaxErrors
	}
	if f.CheckInterval != nil && *f.CheckInterval > 0 {
		base.CheckInterval = time.Duration(*f.CheckInterval) * time.Second
	}
	if len(f.RefreshPattern) > 0 {
		valid := true
		for _, v := range f.RefreshPattern {
			if v <= 0 {
				valid = false
			}
		}
		if valid {
			base.RefreshPattern = append([]int(nil), f.RefreshPattern...)
		}
	}
	if strings.TrimSpace(f.TableSelector) != "" {
		base.TableSelector = f.TableSelector
	}
	if strings.TrimSpace(f.DownloadDir) != "" {
		base.DownloadDir = f.DownloadDir
	}
	if f.WorkerCount != nil {
		base.WorkerCount = clampInt(*f.WorkerCount, 1, maxWorkerCount)
	}
	if len(f.Languages) > 0 {
		base.Transcribe.Languages = append([]string(nil), f.Languages...)
	}
	if strings.TrimSpace(f.CookiesFile) != "" && base.CookiesFile == "" {
		base.CookiesFile = f.CookiesFile
	}
	return base
}

func defaultDownloadDir() string {
	if os.Getenv("DYNO") != "" {
		return "/tmp"
	}
	return "./downloads"
}

func defaultEnvironment() string {
	if os.Getenv("DYNO") != "" {
		return "heroku"
	}
	return "local"
}

func normalizePort(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || v == "off" {
		return ""
	}
	if !strings.Contains(v, ":") {
		return ":" + v
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return val
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, def int) int {
	v, ok, err := parseIntEnv(key)
	if err != nil {
		log.Printf("invalid %s: %v (using %d)", key, err, def)
		return def
	}
	if !ok || v <= 0 {
		return def
	}
	return v
}

func secondsEnv(key string, def int) time.Duration {
	return time.Duration(intEnv(key, def)) * time.Second
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return defaultVal
	}
	return parseBoolEnv(key)
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
