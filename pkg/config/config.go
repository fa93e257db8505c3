// Package config loads depscan settings.
//
// Settings are resolved in order, later sources winning:
//
//  1. built-in defaults ([Default])
//  2. the TOML file at $XDG_CONFIG_HOME/depscan/config.toml (or --config)
//  3. DEPSCAN_* environment variables
//  4. command-line flags (applied by the CLI)
//
// Example config.toml:
//
//	registry_url = "https://registry.npmjs.org"
//	cache_ttl    = "24h"
//	store        = "redis"
//	redis_addr   = "localhost:6379"
//	concurrency  = 8
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/depscan/pkg/errors"
	"github.com/matzehuels/depscan/pkg/kv"
	"github.com/matzehuels/depscan/pkg/registry"
)

const appName = "depscan"

// Config holds every tunable setting.
type Config struct {
	RegistryURL string        `toml:"registry_url"`
	CacheTTL    time.Duration `toml:"cache_ttl"`
	HTTPTimeout time.Duration `toml:"http_timeout"`
	Concurrency int           `toml:"concurrency"` // 0 = unbounded

	Store    string `toml:"store"` // file, memory, redis, mongo, none
	CacheDir string `toml:"cache_dir"`

	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`

	MongoURI        string `toml:"mongo_uri"`
	MongoDatabase   string `toml:"mongo_database"`
	MongoCollection string `toml:"mongo_collection"`

	ListenAddr string `toml:"listen_addr"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		RegistryURL:     registry.DefaultBaseURL,
		CacheTTL:        24 * time.Hour,
		HTTPTimeout:     10 * time.Second,
		Store:           kv.BackendFile,
		RedisAddr:       "localhost:6379",
		MongoURI:        "mongodb://localhost:27017",
		MongoDatabase:   appName,
		MongoCollection: "cache",
		ListenAddr:      "127.0.0.1:8080",
	}
}

// Load returns defaults overlaid with the file at path and the environment.
// An empty path means the default location, which may be absent; an
// explicit path must exist.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}

	if path != "" {
		err := cfg.loadFile(path)
		if err != nil && (explicit || !os.IsNotExist(err)) {
			return cfg, err
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return errors.New(errors.ErrCodeInvalidConfig, "unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnv overrides fields from DEPSCAN_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q is not a number", key, v))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s=%q is not a duration", key, v))
				return
			}
			*dst = d
		}
	}

	str("DEPSCAN_REGISTRY_URL", &c.RegistryURL)
	dur("DEPSCAN_CACHE_TTL", &c.CacheTTL)
	dur("DEPSCAN_HTTP_TIMEOUT", &c.HTTPTimeout)
	num("DEPSCAN_CONCURRENCY", &c.Concurrency)
	str("DEPSCAN_STORE", &c.Store)
	str("DEPSCAN_CACHE_DIR", &c.CacheDir)
	str("DEPSCAN_REDIS_ADDR", &c.RedisAddr)
	str("DEPSCAN_REDIS_PASSWORD", &c.RedisPassword)
	num("DEPSCAN_REDIS_DB", &c.RedisDB)
	str("DEPSCAN_MONGO_URI", &c.MongoURI)
	str("DEPSCAN_MONGO_DATABASE", &c.MongoDatabase)
	str("DEPSCAN_MONGO_COLLECTION", &c.MongoCollection)
	str("DEPSCAN_LISTEN_ADDR", &c.ListenAddr)

	if len(errs) > 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "%s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate checks field values.
func (c Config) Validate() error {
	if err := errors.ValidateURL(c.RegistryURL); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "registry_url %q", c.RegistryURL)
	}
	if c.CacheTTL <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "cache_ttl must be positive, got %s", c.CacheTTL)
	}
	if c.HTTPTimeout <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "http_timeout must be positive, got %s", c.HTTPTimeout)
	}
	if c.Concurrency < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "concurrency must not be negative, got %d", c.Concurrency)
	}
	switch c.Store {
	case "", kv.BackendFile, kv.BackendMemory, kv.BackendRedis, kv.BackendMongo, kv.BackendNone:
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown store %q (available: file, memory, redis, mongo, none)", c.Store)
	}
	return nil
}

// StoreOptions translates the store settings for [kv.Open]. An empty
// CacheDir resolves to [DefaultCacheDir].
func (c Config) StoreOptions() (kv.Options, error) {
	dir := c.CacheDir
	if dir == "" && (c.Store == "" || c.Store == kv.BackendFile) {
		d, err := DefaultCacheDir()
		if err != nil {
			return kv.Options{}, err
		}
		dir = d
	}
	return kv.Options{
		Backend: c.Store,
		Dir:     dir,
		Redis: kv.RedisConfig{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		},
		Mongo: kv.MongoConfig{
			URI:        c.MongoURI,
			Database:   c.MongoDatabase,
			Collection: c.MongoCollection,
		},
	}, nil
}

// DefaultPath returns $XDG_CONFIG_HOME/depscan/config.toml, falling back to
// ~/.config/depscan/config.toml.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName, "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName, "config.toml"), nil
}

// DefaultCacheDir returns the cache directory using XDG standard (~/.cache/depscan/).
func DefaultCacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
