package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"roadcall/internal/dispatch"
	"roadcall/internal/notify"
	"roadcall/internal/sweeper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	GateTable = "table"
	GateNone  = "none"
)

type Config struct {
	HTTPAddr             string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string

	AppEnv      string
	LogLevel    string
	Store       string
	PaymentGate string
	MQTT        notify.MQTTConfig

	// DevApproveProviders lists provider emails approved on registration
	// ("*" for all). Memory store only.
	DevApproveProviders []string

	Tuning Tuning
}

// Tuning is the optional dispatch tuning file.
type Tuning struct {
	Dispatch dispatch.Config `json:"dispatch"`
	Sweeper  sweeper.Config  `json:"sweeper"`
}

// Load reads process settings from the environment (and .env) and the
// tuning file at path, if any.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", "false") == "true",
		AppEnv:               getenv("APP_ENV", "prod"),
		LogLevel:             getenv("LOG_LEVEL", "info"),
		Store:                strings.ToLower(getenv("STORE", StorePostgres)),
		PaymentGate:          strings.ToLower(getenv("PAYMENT_GATE", GateTable)),
		MQTT: notify.MQTTConfig{
			Broker:      getenv("MQTT_BROKER", ""),
			ClientID:    getenv("MQTT_CLIENT_ID", ""),
			Username:    getenv("MQTT_USERNAME", ""),
			Password:    getenv("MQTT_PASSWORD", ""),
			TopicPrefix: getenv("MQTT_TOPIC_PREFIX", "roadcall"),
			QoS:         1,
		},
	}

	cfg.CORSAllowedOrigins = splitList(getenv("CORS_ALLOWED_ORIGINS", ""))
	cfg.DevApproveProviders = splitList(getenv("DEV_APPROVE_PROVIDERS", ""))

	switch cfg.Store {
	case StorePostgres:
		cfg.DatabaseURL = mustGetenv("DATABASE_URL")
	case StoreMemory:
		cfg.DatabaseURL = getenv("DATABASE_URL", "")
	default:
		return Config{}, fmt.Errorf("config: unknown STORE %q", cfg.Store)
	}
	if cfg.PaymentGate != GateTable && cfg.PaymentGate != GateNone {
		return Config{}, fmt.Errorf("config: unknown PAYMENT_GATE %q", cfg.PaymentGate)
	}
	if cfg.Store != StoreMemory && len(cfg.DevApproveProviders) > 0 {
		return Config{}, fmt.Errorf("config: DEV_APPROVE_PROVIDERS requires STORE=%s", StoreMemory)
	}
	if cfg.Store == StoreMemory && cfg.PaymentGate == GateTable {
		// The payments table only exists in Postgres.
		cfg.PaymentGate = GateNone
	}

	cfg.JWTSecret = mustGetenv("JWT_SECRET")

	t, err := LoadTuning(path)
	if err != nil {
		return Config{}, err
	}
	cfg.Tuning = t
	return cfg, nil
}

// LoadTuning reads a YAML or JSON tuning file. An empty path yields the
// defaults. Keys can be overridden with ROADCALL_ variables, for example
// ROADCALL_DISPATCH__MAX_DISTANCE_KM=15.
func LoadTuning(path string) (Tuning, error) {
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return Tuning{}, fmt.Errorf("config: unsupported tuning format %q", filepath.Ext(path))
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Tuning{}, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("ROADCALL_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "roadcall_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return Tuning{}, err
	}

	var t Tuning
	if err := k.UnmarshalWithConf("", &t, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return Tuning{}, fmt.Errorf("config: decode tuning: %w", err)
	}
	if err := t.Dispatch.Validate(); err != nil {
		return Tuning{}, err
	}
	t.Dispatch.SetDefaults()
	t.Sweeper.SetDefaults()
	return t, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func mustGetenv(key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		panic("missing env: " + key)
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
