package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// GlobalFlags are the raw persistent cobra flags before layering.
type GlobalFlags struct {
	ConfigPath     string
	Network        string
	Account        string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	EnableCommands string
	Timeout        string
	Retries        int
	MaxStale       string
	NoStale        bool
	NoCache        bool
}

// Settings is the effective configuration after defaults, .env, the config
// file, process env and flags are layered in that order.
type Settings struct {
	Network         string
	Account         string
	SorobanRPCURL   string
	HorizonURL      string
	OutputMode      string
	SelectFields    []string
	ResultsOnly     bool
	EnableCommands  []string
	Timeout         time.Duration
	PartnerTimeout  time.Duration
	Retries         int
	MaxStale        time.Duration
	NoStale         bool
	CacheEnabled    bool
	CachePath       string
	CacheLockPath   string
	PendingPath     string
	PendingLockPath string
	SoroswapAPIKey  string
	DefindexAPIKey  string
	GeminiAPIKey    string
	GeminiModel     string
}

type fileConfig struct {
	Network string `yaml:"network"`
	Account string `yaml:"account"`
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`
	Stellar struct {
		SorobanRPCURL string `yaml:"soroban_rpc_url"`
		HorizonURL    string `yaml:"horizon_url"`
	} `yaml:"stellar"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Execution struct {
		PendingPath     string `yaml:"pending_path"`
		PendingLockPath string `yaml:"pending_lock_path"`
	} `yaml:"execution"`
	Providers struct {
		Soroswap struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"soroswap"`
		Defindex struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
		} `yaml:"defindex"`
		Gemini struct {
			APIKey    string `yaml:"api_key"`
			APIKeyEnv string `yaml:"api_key_env"`
			Model     string `yaml:"model"`
		} `yaml:"gemini"`
	} `yaml:"providers"`
}

func Load(flags GlobalFlags) (Settings, error) {
	// A .env beside the process feeds the same VERBEX_* variables the
	// process env does; existing env always wins.
	_ = godotenv.Load()

	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Network != "testnet" && settings.Network != "mainnet" {
		return Settings{}, fmt.Errorf("network must be testnet or mainnet, got %q", settings.Network)
	}
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.MaxStale < 0 {
		settings.MaxStale = 5 * time.Minute
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	cacheDir := filepath.Dir(cachePath)
	return Settings{
		Network:         "testnet",
		OutputMode:      "json",
		Timeout:         30 * time.Second,
		PartnerTimeout:  15 * time.Second,
		Retries:         2,
		MaxStale:        5 * time.Minute,
		CacheEnabled:    true,
		CachePath:       cachePath,
		CacheLockPath:   lockPath,
		PendingPath:     filepath.Join(cacheDir, "pending.db"),
		PendingLockPath: filepath.Join(cacheDir, "pending.lock"),
		GeminiModel:     "gemini-2.0-flash",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "verbex", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "verbex")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Network != "" {
		settings.Network = strings.ToLower(cfg.Network)
	}
	if cfg.Account != "" {
		settings.Account = cfg.Account
	}
	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Stellar.SorobanRPCURL != "" {
		settings.SorobanRPCURL = cfg.Stellar.SorobanRPCURL
	}
	if cfg.Stellar.HorizonURL != "" {
		settings.HorizonURL = cfg.Stellar.HorizonURL
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Execution.PendingPath != "" {
		settings.PendingPath = cfg.Execution.PendingPath
	}
	if cfg.Execution.PendingLockPath != "" {
		settings.PendingLockPath = cfg.Execution.PendingLockPath
	}
	if cfg.Providers.Soroswap.APIKey != "" {
		settings.SoroswapAPIKey = cfg.Providers.Soroswap.APIKey
	}
	if cfg.Providers.Soroswap.APIKeyEnv != "" {
		settings.SoroswapAPIKey = os.Getenv(cfg.Providers.Soroswap.APIKeyEnv)
	}
	if cfg.Providers.Defindex.APIKey != "" {
		settings.DefindexAPIKey = cfg.Providers.Defindex.APIKey
	}
	if cfg.Providers.Defindex.APIKeyEnv != "" {
		settings.DefindexAPIKey = os.Getenv(cfg.Providers.Defindex.APIKeyEnv)
	}
	if cfg.Providers.Gemini.APIKey != "" {
		settings.GeminiAPIKey = cfg.Providers.Gemini.APIKey
	}
	if cfg.Providers.Gemini.APIKeyEnv != "" {
		settings.GeminiAPIKey = os.Getenv(cfg.Providers.Gemini.APIKeyEnv)
	}
	if cfg.Providers.Gemini.Model != "" {
		settings.GeminiModel = cfg.Providers.Gemini.Model
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("VERBEX_NETWORK"); v != "" {
		settings.Network = strings.ToLower(v)
	}
	if v := os.Getenv("VERBEX_ACCOUNT"); v != "" {
		settings.Account = v
	}
	if v := os.Getenv("VERBEX_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("VERBEX_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("VERBEX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("VERBEX_SOROBAN_RPC_URL"); v != "" {
		settings.SorobanRPCURL = v
	}
	if v := os.Getenv("VERBEX_HORIZON_URL"); v != "" {
		settings.HorizonURL = v
	}
	if v := os.Getenv("VERBEX_MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := os.Getenv("VERBEX_NO_STALE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.NoStale = b
		}
	}
	if v := os.Getenv("VERBEX_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("VERBEX_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("VERBEX_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("VERBEX_PENDING_PATH"); v != "" {
		settings.PendingPath = v
	}
	if v := os.Getenv("VERBEX_PENDING_LOCK_PATH"); v != "" {
		settings.PendingLockPath = v
	}
	if v := os.Getenv("VERBEX_SOROSWAP_API_KEY"); v != "" {
		settings.SoroswapAPIKey = v
	}
	if v := os.Getenv("VERBEX_DEFINDEX_API_KEY"); v != "" {
		settings.DefindexAPIKey = v
	}
	if v := os.Getenv("VERBEX_GEMINI_API_KEY"); v != "" {
		settings.GeminiAPIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && settings.GeminiAPIKey == "" {
		settings.GeminiAPIKey = v
	}
	if v := os.Getenv("VERBEX_GEMINI_MODEL"); v != "" {
		settings.GeminiModel = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.Network != "" {
		settings.Network = strings.ToLower(flags.Network)
	}
	if flags.Account != "" {
		settings.Account = flags.Account
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		parts := strings.Split(flags.Select, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			f := strings.TrimSpace(part)
			if f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	if strings.TrimSpace(flags.EnableCommands) != "" {
		parts := strings.Split(flags.EnableCommands, ",")
		allowed := make([]string, 0, len(parts))
		for _, part := range parts {
			v := strings.TrimSpace(part)
			if v != "" {
				allowed = append(allowed, v)
			}
		}
		settings.EnableCommands = allowed
	}

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.NoStale {
		settings.NoStale = true
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}

	return nil
}
