package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AccountsPath      string
	ProxiesPath       string
	TwitterTokensPath string
	SpareTwitterPath  string
	DiscordTokensPath string
	EmailsPath        string
	TasksPath         string
	ClearanceDBPath   string
	TaskDBPath        string

	SolviumAPIKey    string
	CapSolverAPIKey  string
	TwoCaptchaAPIKey string
	RPCURL           string

	Threads              int
	Attempts             int
	AttemptPauseMin      time.Duration
	AttemptPauseMax      time.Duration
	ActionPauseMin       time.Duration
	ActionPauseMax       time.Duration
	QuestPollInterval    time.Duration
	MaxQuestPollAttempts int
	ClearanceTTL         time.Duration

	ReplaceFailedTwitter bool
	SkipFailedTasks      bool
	TaskPreset           string
}

type Account struct {
	PrivateKey string `json:"pk"`
}

func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using default values")
	}
	return FromEnv()
}

// FromEnv builds the config from the process environment only.
func FromEnv() Config {
	attemptMin := parseIntWithDefault(os.Getenv("PAUSE_BETWEEN_ATTEMPTS_MIN"), 5)
	attemptMax := parseIntWithDefault(os.Getenv("PAUSE_BETWEEN_ATTEMPTS_MAX"), 15)
	if attemptMax < attemptMin {
		attemptMax = attemptMin
	}
	actionMin := parseIntWithDefault(os.Getenv("PAUSE_BETWEEN_ACTIONS_MIN"), 3)
	actionMax := parseIntWithDefault(os.Getenv("PAUSE_BETWEEN_ACTIONS_MAX"), 10)
	if actionMax < actionMin {
		actionMax = actionMin
	}

	threads := parseIntWithDefault(os.Getenv("THREADS"), 1)
	if threads < 1 {
		threads = 1
	}
	attempts := parseIntWithDefault(os.Getenv("ATTEMPTS"), 5)
	if attempts < 1 {
		attempts = 1
	}

	return Config{
		AccountsPath:      "configs/accounts.json",
		ProxiesPath:       "data/proxies.txt",
		TwitterTokensPath: "data/twitter_tokens.txt",
		SpareTwitterPath:  "data/spare_twitter_tokens.txt",
		DiscordTokensPath: "data/discord_tokens.txt",
		EmailsPath:        "data/emails.txt",
		TasksPath:         "configs/tasks.yaml",
		ClearanceDBPath:   "data/clearance.db",
		TaskDBPath:        "data/tasks.db",

		SolviumAPIKey:    strings.TrimSpace(os.Getenv("SOLVIUM_API_KEY")),
		CapSolverAPIKey:  strings.TrimSpace(os.Getenv("CAPSOLVER_API_KEY")),
		TwoCaptchaAPIKey: strings.TrimSpace(os.Getenv("TWO_CAPTCHA_API_KEY")),
		RPCURL:           strings.TrimSpace(os.Getenv("RPC_URL")),

		Threads:              threads,
		Attempts:             attempts,
		AttemptPauseMin:      time.Duration(attemptMin) * time.Second,
		AttemptPauseMax:      time.Duration(attemptMax) * time.Second,
		ActionPauseMin:       time.Duration(actionMin) * time.Second,
		ActionPauseMax:       time.Duration(actionMax) * time.Second,
		QuestPollInterval:    time.Duration(parseIntWithDefault(os.Getenv("QUEST_POLL_INTERVAL_SECONDS"), 10)) * time.Second,
		MaxQuestPollAttempts: parseIntWithDefault(os.Getenv("MAX_ATTEMPTS_TO_COMPLETE_QUEST"), 12),
		ClearanceTTL:         time.Duration(parseIntWithDefault(os.Getenv("CLEARANCE_TTL_MINUTES"), 25)) * time.Minute,

		ReplaceFailedTwitter: parseBoolWithDefault(os.Getenv("REPLACE_FAILED_TWITTER_ACCOUNT"), true),
		SkipFailedTasks:      parseBoolWithDefault(os.Getenv("SKIP_FAILED_TASKS"), false),
		TaskPreset:           strings.TrimSpace(os.Getenv("TASK_PRESET")),
	}
}

func parseIntWithDefault(value string, defaultVal int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultVal
	}
	if v, err := strconv.Atoi(value); err == nil && v >= 0 {
		return v
	}
	return defaultVal
}

func parseBoolWithDefault(value string, defaultVal bool) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultVal
	}
	if v, err := strconv.ParseBool(value); err == nil {
		return v
	}
	return defaultVal
}

func (c Config) Validate() error {
	if c.SolviumAPIKey == "" && c.CapSolverAPIKey == "" && c.TwoCaptchaAPIKey == "" {
		return errors.New("captcha solver API key required (provide SOLVIUM_API_KEY, CAPSOLVER_API_KEY or TWO_CAPTCHA_API_KEY)")
	}
	return nil
}

func (c Config) LoadAccounts() ([]Account, error) {
	b, err := os.ReadFile(c.AccountsPath)
	if err != nil {
		return nil, err
	}

	var rawAccounts []string
	if err := json.Unmarshal(b, &rawAccounts); err == nil {
		accounts := make([]Account, 0, len(rawAccounts))
		for idx, entry := range rawAccounts {
			pk := strings.TrimSpace(entry)
			if pk == "" {
				return nil, fmt.Errorf("invalid account input: empty private key at index %d", idx)
			}
			accounts = append(accounts, Account{PrivateKey: pk})
		}
		return accounts, nil
	}

	var accounts []Account
	if err := json.Unmarshal(b, &accounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal accounts: %w", err)
	}

	return accounts, nil
}

// LoadLines reads a one-entry-per-line data file. A missing file is empty.
func LoadLines(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

// At returns the index-th entry of lines, wrapping around for proxies.
func At(lines []string, index int, wrap bool) string {
	if len(lines) == 0 || index < 0 {
		return ""
	}
	if index < len(lines) {
		return lines[index]
	}
	if wrap {
		return lines[index%len(lines)]
	}
	return ""
}
