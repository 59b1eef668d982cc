package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/PratikDhanave/ticket-gateway/internal/auth"
)

// Config contains runtime configuration required by the gateway.
type Config struct {
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR" env-default:":8080"`
	// DBURL selects Postgres. Empty runs on the in-memory store.
	DBURL      string `yaml:"db_url" env:"DB_URL"`
	APIKeysRaw string `yaml:"api_keys" env:"API_KEYS"`
	DevStaff   string `yaml:"dev_staff" env:"DEV_STAFF"`
	LogLevel   string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	LogPretty  bool   `yaml:"log_pretty" env:"LOG_PRETTY" env-default:"false"`
	Strict     bool   `yaml:"strict_validation" env:"STRICT_VALIDATION" env-default:"true"`
	ResolvedID int    `yaml:"resolved_status_id" env:"RESOLVED_STATUS_ID" env-default:"2"`

	Attachments AttachmentsConfig `yaml:"attachments"`
	MinIO       MinIOConfig       `yaml:"minio"`

	// APIKeys is parsed from APIKeysRaw: raw key -> key.
	APIKeys auth.KeyRing `yaml:"-"`
}

type AttachmentsConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ATTACHMENTS_ENABLED" env-default:"true"`
	MaxBytes     int64  `yaml:"max_bytes" env:"ATTACHMENTS_MAX_BYTES" env-default:"10485760"`
	AllowedTypes string `yaml:"allowed_types" env:"ATTACHMENTS_ALLOWED_TYPES"`
	Backend      string `yaml:"backend" env:"ATTACHMENTS_BACKEND" env-default:"db"`
	URLBase      string `yaml:"url_base" env:"ATTACHMENTS_URL_BASE"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT" env-default:"localhost:9000"`
	AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	UseTLS    bool   `yaml:"use_tls" env:"MINIO_USE_TLS" env-default:"false"`
	Bucket    string `yaml:"bucket" env:"MINIO_BUCKET" env-default:"ticket-attachments"`
}

// AllowedTypeList splits the comma separated MIME allow list.
func (a AttachmentsConfig) AllowedTypeList() []string {
	var out []string
	for _, t := range strings.Split(a.AllowedTypes, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, strings.ToLower(t))
		}
	}
	return out
}

// DevStaffCredentials splits DEV_STAFF ("user:password").
func (c Config) DevStaffCredentials() (user, password string, ok bool) {
	user, password, ok = strings.Cut(c.DevStaff, ":")
	user, password = strings.TrimSpace(user), strings.TrimSpace(password)
	return user, password, ok && user != "" && password != ""
}

// Load reads an optional YAML file named by GATEWAY_CONFIG, then
// environment variables.
func Load() (Config, error) {
	var cfg Config
	var err error
	if path := strings.TrimSpace(os.Getenv("GATEWAY_CONFIG")); path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	switch cfg.Attachments.Backend {
	case "db", "minio":
	default:
		return Config{}, fmt.Errorf("ATTACHMENTS_BACKEND must be db or minio, got %q", cfg.Attachments.Backend)
	}

	keys, err := ParseAPIKeys(cfg.APIKeysRaw)
	if err != nil {
		return Config{}, err
	}

	// Local dev fallback so the service runs out-of-the-box.
	if len(keys) == 0 {
		keys["dev-key-123"] = &auth.APIKey{
			Label:        "dev",
			Key:          "dev-key-123",
			Capabilities: map[auth.Capability]bool{auth.CapCreateTickets: true, auth.CapReadTickets: true},
		}
	}
	cfg.APIKeys = keys

	return cfg, nil
}

var errAPIKeysFormat = errors.New(`API_KEYS must be "label:key[:create+read],label:key"`)

// ParseAPIKeys parses "label:key[:caps]" entries separated by commas.
// Capabilities are joined with "+"; a key without them may create and read.
func ParseAPIKeys(raw string) (auth.KeyRing, error) {
	keys := auth.KeyRing{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return keys, nil
	}

	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 3)
		if len(parts) < 2 {
			return nil, errAPIKeysFormat
		}
		label := strings.TrimSpace(parts[0])
		key := strings.TrimSpace(parts[1])
		if label == "" || key == "" {
			return nil, errAPIKeysFormat
		}

		caps := map[auth.Capability]bool{auth.CapCreateTickets: true, auth.CapReadTickets: true}
		if len(parts) == 3 {
			caps = map[auth.Capability]bool{}
			for _, c := range strings.Split(parts[2], "+") {
				switch cp := auth.Capability(strings.TrimSpace(c)); cp {
				case auth.CapCreateTickets, auth.CapReadTickets:
					caps[cp] = true
				default:
					return nil, fmt.Errorf("API_KEYS: unknown capability %q for %s", c, label)
				}
			}
		}
		keys[key] = &auth.APIKey{Label: label, Key: key, Capabilities: caps}
	}
	return keys, nil
}
