package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		// Empty DSN selects the in-memory store (single-process dev mode).
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Gateway struct {
		BaseURL     string `yaml:"base_url"`
		APIKey      string `yaml:"api_key"`
		Secret      string `yaml:"secret"`
		CallbackURL string `yaml:"callback_url"`
		Currency    string `yaml:"currency"`
	} `yaml:"gateway"`
	Chat struct {
		APIBase    string   `yaml:"api_base"`
		WSEndpoint string   `yaml:"ws_endpoint"`
		Token      string   `yaml:"token"`
		AdminIDs   []string `yaml:"admin_ids"`
	} `yaml:"chat"`
	Shop struct {
		Cards             []string `yaml:"cards"`
		Denoms            []int64  `yaml:"denoms"`
		MaxQuantity       int      `yaml:"max_quantity"`
		SessionTTLMinutes int      `yaml:"session_ttl_minutes"`
	} `yaml:"shop"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.Gateway.BaseURL == "" {
		return nil, errors.New("gateway base_url is required")
	}
	if len(cfg.Shop.Cards) == 0 || len(cfg.Shop.Denoms) == 0 {
		return nil, errors.New("shop catalog is empty")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Shop.MaxQuantity <= 0 {
		cfg.Shop.MaxQuantity = 10
	}
	if cfg.Shop.SessionTTLMinutes <= 0 {
		cfg.Shop.SessionTTLMinutes = 30
	}
	if cfg.Gateway.Currency == "" {
		cfg.Gateway.Currency = "USD"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("GATEWAY_SECRET"); v != "" {
		cfg.Gateway.Secret = v
	}
	if v := os.Getenv("GATEWAY_CALLBACK_URL"); v != "" {
		cfg.Gateway.CallbackURL = v
	}
	if v := os.Getenv("GATEWAY_CURRENCY"); v != "" {
		cfg.Gateway.Currency = v
	}
	if v := os.Getenv("CHAT_API_BASE"); v != "" {
		cfg.Chat.APIBase = v
	}
	if v := os.Getenv("CHAT_WS_ENDPOINT"); v != "" {
		cfg.Chat.WSEndpoint = v
	}
	if v := os.Getenv("CHAT_TOKEN"); v != "" {
		cfg.Chat.Token = v
	}
	if v := os.Getenv("CHAT_ADMIN_IDS"); v != "" {
		cfg.Chat.AdminIDs = splitCommaList(v)
	}
	if v := os.Getenv("SHOP_CARDS"); v != "" {
		cfg.Shop.Cards = splitCommaList(v)
	}
	if v := os.Getenv("SHOP_DENOMS"); v != "" {
		cfg.Shop.Denoms = splitInt64List(v)
	}
	if v := os.Getenv("SHOP_MAX_QUANTITY"); v != "" {
		cfg.Shop.MaxQuantity = atoiOr(cfg.Shop.MaxQuantity, v)
	}
	if v := os.Getenv("SESSION_TTL_MINUTES"); v != "" {
		cfg.Shop.SessionTTLMinutes = atoiOr(cfg.Shop.SessionTTLMinutes, v)
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func splitInt64List(v string) []int64 {
	var out []int64
	for _, p := range splitCommaList(v) {
		i, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, i)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
