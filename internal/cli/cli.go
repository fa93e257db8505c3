package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/depscan/pkg/buildinfo"
	"github.com/matzehuels/depscan/pkg/cache"
	"github.com/matzehuels/depscan/pkg/config"
	"github.com/matzehuels/depscan/pkg/kv"
	"github.com/matzehuels/depscan/pkg/lookup"
	"github.com/matzehuels/depscan/pkg/registry"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "depscan"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
	LogWarn  = log.WarnLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	registry   string
	store      string
	verbose    bool
	quiet      bool
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "depscan looks up npm packages from a manifest or a list of names",
		Long:         `depscan reads a package.json (or any whitespace-separated list of package names), looks every package up in the npm registry concurrently, and shows descriptions and latest versions. Registry responses are cached for 24 hours.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.verbose && c.quiet {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			switch {
			case c.verbose:
				c.SetLogLevel(LogDebug)
			case c.quiet:
				c.SetLogLevel(LogWarn)
			}
			return nil
		},
	}

	root.SetVersionTemplate(buildinfo.Template())

	pf := root.PersistentFlags()
	pf.StringVar(&c.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/depscan/config.toml)")
	pf.StringVar(&c.registry, "registry", "", "registry base URL")
	pf.StringVar(&c.store, "store", "", "cache store: file, memory, redis, mongo or none")
	pf.BoolVarP(&c.verbose, "verbose", "v", false, "log every lookup and cache decision")
	pf.BoolVarP(&c.quiet, "quiet", "q", false, "only log warnings and errors")

	root.AddCommand(c.scanCommand())
	root.AddCommand(c.tuiCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Environment Factory
// =============================================================================

// env is the wired lookup stack shared by the commands.
type env struct {
	cfg    config.Config
	store  kv.Store
	cache  *cache.Cache
	client *registry.Client
}

// loadConfig resolves the config file, environment and global flags.
func (c *CLI) loadConfig() (config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return cfg, err
	}
	if c.registry != "" {
		cfg.RegistryURL = c.registry
	}
	if c.store != "" {
		cfg.Store = c.store
	}
	return cfg, cfg.Validate()
}

// openEnv builds config → store → cache → registry client. Callers must
// Close the returned env.
func (c *CLI) openEnv(ctx context.Context) (*env, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.StoreOptions()
	if err != nil {
		return nil, fmt.Errorf("resolve cache dir: %w", err)
	}
	store, err := kv.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	c.Logger.Debug("cache store opened", "store", storeLocation(opts))

	ch := cache.New(store, cache.WithTTL(cfg.CacheTTL), cache.WithLogger(c.Logger))
	client := registry.NewClient(ch,
		registry.WithBaseURL(cfg.RegistryURL),
		registry.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		registry.WithHeaders(map[string]string{"User-Agent": buildinfo.UserAgent()}),
	)
	return &env{cfg: cfg, store: store, cache: ch, client: client}, nil
}

// orchestrator creates a lookup orchestrator over the env's client.
func (e *env) orchestrator(logger *log.Logger, opts ...lookup.Option) *lookup.Orchestrator {
	base := []lookup.Option{
		lookup.WithLogger(logger),
		lookup.WithConcurrency(e.cfg.Concurrency),
	}
	return lookup.New(e.client, append(base, opts...)...)
}

func (e *env) Close() error {
	return e.store.Close()
}

// storeLocation describes where cached entries live.
func storeLocation(opts kv.Options) string {
	switch opts.Backend {
	case "", kv.BackendFile:
		return opts.Dir
	case kv.BackendRedis:
		return fmt.Sprintf("redis://%s/%d", opts.Redis.Addr, opts.Redis.DB)
	case kv.BackendMongo:
		return fmt.Sprintf("%s (%s.%s)", opts.Mongo.URI, opts.Mongo.Database, opts.Mongo.Collection)
	default:
		return opts.Backend
	}
}
