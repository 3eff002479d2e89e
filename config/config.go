// Package config loads storefront settings from a YAML or JSON file and the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c0deZ3R0/go-storefront-sync/logging"
)

// Backends a storefront can talk to.
const (
	BackendREST      = "rest"
	BackendFirestore = "firestore"
)

type Config struct {
	API       APIConfig      `json:"api" yaml:"api"`
	Backend   string         `json:"backend" yaml:"backend"`
	Firebase  FirebaseConfig `json:"firebase" yaml:"firebase"`
	Firestore FirebaseConfig `json:"firestore" yaml:"firestore"`
	Storage   StorageConfig  `json:"storage" yaml:"storage"`
	Server    ServerConfig   `json:"server" yaml:"server"`
	Checkout  CheckoutConfig `json:"checkout" yaml:"checkout"`
	Log       logging.Config `json:"log" yaml:"log"`
}

// APIConfig points at the REST datastore.
type APIConfig struct {
	BaseURL  string        `json:"base_url" yaml:"base_url"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
	Gzip     bool          `json:"gzip" yaml:"gzip"`
	RetryMax int           `json:"retry_max" yaml:"retry_max"`
	RetryMin time.Duration `json:"retry_wait_min" yaml:"retry_wait_min"`
	RetryCap time.Duration `json:"retry_wait_max" yaml:"retry_wait_max"`
	// Events enables the change-notification stream at BaseURL + "/events".
	Events bool `json:"events" yaml:"events"`
}

// FirebaseConfig selects a Firebase project. An empty CredentialsFile means Application
// Default Credentials.
type FirebaseConfig struct {
	ProjectID       string `json:"project_id" yaml:"project_id"`
	CredentialsFile string `json:"credentials_file" yaml:"credentials_file"`
}

// Enabled reports whether a project is configured.
func (f FirebaseConfig) Enabled() bool { return f.ProjectID != "" }

type StorageConfig struct {
	SQLitePath string `json:"sqlite_path" yaml:"sqlite_path"`
}

type ServerConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	SeedFile string `json:"seed_file" yaml:"seed_file"`
}

type CheckoutConfig struct {
	ShippingFee float64 `json:"shipping_fee" yaml:"shipping_fee"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:  "http://localhost:4000",
			Timeout:  15 * time.Second,
			Gzip:     true,
			RetryMin: 200 * time.Millisecond,
			RetryCap: 2 * time.Second,
		},
		Backend:  BackendREST,
		Storage:  StorageConfig{SQLitePath: "storefront.db"},
		Server:   ServerConfig{Addr: ":4000"},
		Checkout: CheckoutConfig{ShippingFee: 60},
		Log:      logging.DefaultConfig,
	}
}

// Load reads path over the defaults and then applies the environment. An empty path skips the
// file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := decode(data, detectFormat(path), &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes data in the given format ("yaml", "yml" or "json") over the defaults without
// reading the environment.
func Parse(data []byte, format string) (Config, error) {
	cfg := Default()
	if err := decode(data, format, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func decode(data []byte, format string, cfg *Config) error {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", format)
	}
	return nil
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	default:
		return "yaml"
	}
}

// ApplyEnv overlays the STOREFRONT_* and Firebase variables, then the logging variables.
func (c *Config) ApplyEnv() error {
	c.API.BaseURL = getenvDefault("STOREFRONT_API_URL", c.API.BaseURL)
	c.Backend = strings.ToLower(getenvDefault("STOREFRONT_BACKEND", c.Backend))
	c.Firebase.ProjectID = getenvDefault("FIREBASE_PROJECT_ID", c.Firebase.ProjectID)
	c.Firebase.CredentialsFile = getenvDefault("GOOGLE_APPLICATION_CREDENTIALS", c.Firebase.CredentialsFile)
	c.Firestore.ProjectID = getenvDefault("FIRESTORE_PROJECT_ID", c.Firestore.ProjectID)
	if c.Firestore.CredentialsFile == "" {
		c.Firestore.CredentialsFile = c.Firebase.CredentialsFile
	}
	c.Storage.SQLitePath = getenvDefault("STOREFRONT_SQLITE_PATH", c.Storage.SQLitePath)
	c.Server.Addr = getenvDefault("STOREFRONT_ADDR", c.Server.Addr)

	if v := strings.TrimSpace(os.Getenv("STOREFRONT_SHIPPING_FEE")); v != "" {
		fee, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("STOREFRONT_SHIPPING_FEE: %w", err)
		}
		c.Checkout.ShippingFee = fee
	}
	if v := strings.TrimSpace(os.Getenv("STOREFRONT_API_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("STOREFRONT_API_TIMEOUT: %w", err)
		}
		c.API.Timeout = d
	}
	c.Log = logging.ApplyEnv(c.Log)
	return nil
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" && c.Backend == BackendREST {
		return fmt.Errorf("api.base_url is required for the rest backend")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be positive, got %s", c.API.Timeout)
	}
	if c.API.RetryMax < 0 {
		return fmt.Errorf("api.retry_max must not be negative")
	}
	if c.API.RetryMax > 0 && c.API.RetryCap < c.API.RetryMin {
		return fmt.Errorf("api.retry_wait_max must be at least api.retry_wait_min")
	}
	switch c.Backend {
	case BackendREST:
	case BackendFirestore:
		if c.FirestoreProject() == "" {
			return fmt.Errorf("firestore backend needs firestore.project_id or firebase.project_id")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Checkout.ShippingFee < 0 {
		return fmt.Errorf("checkout.shipping_fee must not be negative")
	}
	return nil
}

// FirestoreProject is the Firestore project, falling back to the Firebase project.
func (c Config) FirestoreProject() string {
	if c.Firestore.ProjectID != "" {
		return c.Firestore.ProjectID
	}
	return c.Firebase.ProjectID
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
