package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dropDatabas3/couchauth/internal/adapter"
	"github.com/dropDatabas3/couchauth/internal/observability/logger"
	"github.com/dropDatabas3/couchauth/internal/store"
)

// Config es la configuración del CLI: config.yaml más overrides por env.
type Config struct {
	App struct {
		// dev | staging | prod
		Env     string `yaml:"app_env"`
		Service string `yaml:"service"`
	} `yaml:"app"`

	Log struct {
		// debug | info | warn | error
		Level string `yaml:"level"`
	} `yaml:"log"`

	Store struct {
		// couchbase | mongo | redis | postgres | memory
		Driver           string        `yaml:"driver"`
		ConnectionString string        `yaml:"connection_string"`
		Bucket           string        `yaml:"bucket"`
		Scope            string        `yaml:"scope"`
		Username         string        `yaml:"username"`
		Password         string        `yaml:"password"`
		ConnectTimeout   time.Duration `yaml:"connect_timeout"`
		KeyPrefix        string        `yaml:"key_prefix"`
		// local | none | global
		Consistency string `yaml:"consistency"`
	} `yaml:"store"`

	Adapter struct {
		// Sólo en arranque con un único proceso.
		EnsureCollections bool `yaml:"ensure_collections"`
		EnsureIndexes     bool `yaml:"ensure_indexes"`
		Collections       struct {
			User              string `yaml:"user"`
			Account           string `yaml:"account"`
			Session           string `yaml:"session"`
			VerificationToken string `yaml:"verification_token"`
		} `yaml:"collections"`
	} `yaml:"adapter"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`
}

// Load lee el YAML (si path no es vacío), aplica defaults y luego env.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.applyEnvOverrides()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.Service == "" {
		c.App.Service = "couchauth"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "couchbase"
	}
	if c.Store.ConnectTimeout == 0 {
		c.Store.ConnectTimeout = 10 * time.Second
	}
	if c.Store.Consistency == "" {
		c.Store.Consistency = "local"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9102"
	}
}

// ---- Helpers env ----

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
func getEnvBool(key string) (bool, bool) {
	if s, ok := getEnvStr(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(s)); err == nil {
			return b, true
		}
	}
	return false, false
}
func getEnvDur(key string) (time.Duration, bool) {
	if s, ok := getEnvStr(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, true
		}
	}
	return 0, false
}

// applyEnvOverrides: pisa el YAML con variables de entorno.
func (c *Config) applyEnvOverrides() {
	// APP
	if v, ok := getEnvStr("APP_ENV"); ok {
		c.App.Env = strings.ToLower(v)
	}
	if v, ok := getEnvStr("LOG_LEVEL"); ok {
		c.Log.Level = strings.ToLower(v)
	}

	// STORE
	if v, ok := getEnvStr("STORE_DRIVER"); ok {
		c.Store.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvStr("STORE_CONNECTION_STRING"); ok {
		c.Store.ConnectionString = v
	}
	if v, ok := getEnvStr("STORE_BUCKET"); ok {
		c.Store.Bucket = v
	}
	if v, ok := getEnvStr("STORE_SCOPE"); ok {
		c.Store.Scope = v
	}
	if v, ok := getEnvStr("STORE_USERNAME"); ok {
		c.Store.Username = v
	}
	if v, ok := getEnvStr("STORE_PASSWORD"); ok {
		c.Store.Password = v
	}
	if v, ok := getEnvDur("STORE_CONNECT_TIMEOUT"); ok {
		c.Store.ConnectTimeout = v
	}
	if v, ok := getEnvStr("STORE_KEY_PREFIX"); ok {
		c.Store.KeyPrefix = v
	}
	if v, ok := getEnvStr("STORE_CONSISTENCY"); ok {
		c.Store.Consistency = strings.ToLower(v)
	}

	// ADAPTER
	if v, ok := getEnvBool("ADAPTER_ENSURE_COLLECTIONS"); ok {
		c.Adapter.EnsureCollections = v
	}
	if v, ok := getEnvBool("ADAPTER_ENSURE_INDEXES"); ok {
		c.Adapter.EnsureIndexes = v
	}

	// METRICS
	if v, ok := getEnvBool("METRICS_ENABLED"); ok {
		c.Metrics.Enabled = v
	}
	if v, ok := getEnvStr("METRICS_ADDR"); ok {
		c.Metrics.Addr = v
	}
}

// Validate verifica los valores críticos. Los drivers validan el resto al conectar.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := store.GetDriver(c.Store.Driver); !ok {
		errs = append(errs, fmt.Errorf("store.driver %q not registered (available: %s)",
			c.Store.Driver, strings.Join(store.ListDrivers(), ", ")))
	}
	if c.Store.Driver != "memory" && c.Store.ConnectionString == "" {
		errs = append(errs, errors.New("store.connection_string is required"))
	}
	if _, err := parseConsistency(c.Store.Consistency); err != nil {
		errs = append(errs, err)
	}
	if c.App.Env == "prod" && c.Adapter.EnsureCollections && c.Adapter.EnsureIndexes {
		errs = append(errs, errors.New("adapter.ensure_collections and adapter.ensure_indexes cannot both be set in prod"))
	}
	return errors.Join(errs...)
}

func parseConsistency(s string) (store.Consistency, error) {
	switch s {
	case "", "local":
		return store.ConsistencyLocal, nil
	case "none":
		return store.ConsistencyNone, nil
	case "global":
		return store.ConsistencyGlobal, nil
	}
	return 0, fmt.Errorf("store.consistency %q invalid (local|none|global)", s)
}

// ConnectOptions traduce la sección store a opciones del driver.
func (c *Config) ConnectOptions() store.ConnectOptions {
	consistency, _ := parseConsistency(c.Store.Consistency)
	return store.ConnectOptions{
		Driver:           c.Store.Driver,
		ConnectionString: c.Store.ConnectionString,
		BucketName:       c.Store.Bucket,
		ScopeName:        c.Store.Scope,
		Username:         c.Store.Username,
		Password:         c.Store.Password,
		ConnectTimeout:   c.Store.ConnectTimeout,
		KeyPrefix:        c.Store.KeyPrefix,
		Consistency:      consistency,
	}
}

// AdapterOptions arma las opciones del adapter. Instance y Logger quedan a
// cargo del caller.
func (c *Config) AdapterOptions() adapter.Options {
	return adapter.Options{
		Connect:           c.ConnectOptions(),
		EnsureCollections: c.Adapter.EnsureCollections,
		EnsureIndexes:     c.Adapter.EnsureIndexes,
		CollectionNames: adapter.CollectionNames{
			User:              c.Adapter.Collections.User,
			Account:           c.Adapter.Collections.Account,
			Session:           c.Adapter.Collections.Session,
			VerificationToken: c.Adapter.Collections.VerificationToken,
		},
	}
}

// LoggerConfig arma la configuración del logger.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{Env: c.App.Env, Level: c.Log.Level, ServiceName: c.App.Service}
}
