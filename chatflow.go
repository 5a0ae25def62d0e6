// Package chatflow assembles a ready-to-use workflow environment from a
// [config.Config]: logger, OpenAI-compatible provider, shared rate limiter
// registry, retrying generator, run store, metrics and tracing.
//
// Usage:
//
//	cfg, _ := config.NewLoader().WithConfigPath("chatflow.yaml").Load()
//	client, err := chatflow.New(ctx, cfg)
//	defer client.Close(ctx)
//
//	chat, err := client.Workflow().
//	    Chat("You are terse.", types.RoleSystem).
//	    Chat("Summarise {{ .topic }}", "").
//	    WithInputs(map[string]any{"topic": "rate limiting"}).
//	    Run(ctx, client.MaxSteps())
//
// Workflows defined in JSON or YAML files are loaded with [Client.LoadWorkflow]
// and can be hot-reloaded with [Client.WatchWorkflow]; reloaded workflows keep
// sharing the live rate limiter of the same id.
package chatflow

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/chatflow/config"
	"github.com/BaSui01/chatflow/internal/database"
	"github.com/BaSui01/chatflow/internal/logging"
	"github.com/BaSui01/chatflow/internal/metrics"
	"github.com/BaSui01/chatflow/internal/telemetry"
	"github.com/BaSui01/chatflow/internal/tlsutil"
	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/llm/providers/openaicompat"
	"github.com/BaSui01/chatflow/llm/ratelimit"
	"github.com/BaSui01/chatflow/llm/structured"
	"github.com/BaSui01/chatflow/llm/tools"
	"github.com/BaSui01/chatflow/templates"
	"github.com/BaSui01/chatflow/workflow"
	"github.com/BaSui01/chatflow/workflow/store"
)

// Client owns the shared infrastructure workflows are built on.
type Client struct {
	cfg    *config.Config
	logger *zap.Logger

	provider  llm.Provider
	limiters  *ratelimit.Registry
	generator *llm.Generator
	tools     *tools.Registry
	schemas   map[string]structured.Schema
	renderer  *templates.Manager

	store store.ChatStore
	pool  *database.PoolManager

	collector  *metrics.Collector
	registerer prometheus.Registerer
	telemetry  *telemetry.Providers
	tracer     trace.Tracer

	redisClient *redis.Client
	extraTools  []tools.Tool
	ownsLogger  bool
}

// Option customizes New.
type Option func(*Client)

// WithLogger uses l instead of building one from cfg.Log.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithProvider uses p instead of the OpenAI-compatible provider from cfg.LLM.
func WithProvider(p llm.Provider) Option {
	return func(c *Client) { c.provider = p }
}

// WithRegisterer registers metrics on reg instead of prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}

// WithRedisClient uses rc for the redis store. The store closes it on Close.
func WithRedisClient(rc *redis.Client) Option {
	return func(c *Client) { c.redisClient = rc }
}

// WithTools adds tools that loaded workflow definitions may reference by name.
func WithTools(ts ...tools.Tool) Option {
	return func(c *Client) { c.extraTools = append(c.extraTools, ts...) }
}

// WithSchema names an output schema for loaded workflow definitions.
func WithSchema(name string, s structured.Schema) Option {
	return func(c *Client) { c.schemas[name] = s }
}

// New builds a Client. A nil cfg uses config.DefaultConfig.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     cfg,
		schemas: make(map[string]structured.Schema),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		logger, err := logging.New(cfg.Log)
		if err != nil {
			return nil, err
		}
		c.logger = logger
		c.ownsLogger = true
	}

	c.tools = tools.NewRegistry(c.logger)
	for _, t := range c.extraTools {
		if err := c.tools.Register(t); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}

	if err := c.init(ctx); err != nil {
		_ = c.Close(context.WithoutCancel(ctx))
		return nil, err
	}

	c.logger.Info("chatflow client initialized",
		zap.String("provider", c.provider.Name()),
		zap.String("store", cfg.Store.Type),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Bool("metrics", c.collector != nil),
	)
	return c, nil
}

func (c *Client) init(ctx context.Context) error {
	cfg := c.cfg

	tel, err := telemetry.Init(ctx, cfg.Telemetry, c.logger)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	c.telemetry = tel
	c.tracer = tel.Tracer("github.com/BaSui01/chatflow")

	if cfg.Metrics.Enabled {
		c.collector = metrics.NewCollector(cfg.Metrics.Namespace, c.registerer, c.logger)
	}

	if c.provider == nil {
		pcfg := openaicompat.Config{
			ProviderName: cfg.LLM.Provider,
			APIKey:       cfg.LLM.APIKey,
			BaseURL:      cfg.LLM.BaseURL,
			DefaultModel: cfg.LLM.Model,
			Timeout:      cfg.LLM.Timeout,
			EndpointPath: cfg.LLM.EndpointPath,
		}
		if cfg.RateLimit.Enabled {
			pcfg.MaxConnsPerHost = cfg.RateLimit.MaxConcurrent
		}
		c.provider = openaicompat.New(pcfg, c.logger)
	}

	c.limiters = ratelimit.NewRegistry(c.logger)
	genOpts := append(c.generatorOptions(),
		llm.WithRetryPolicy(cfg.RetryPolicy()),
		llm.WithParams(cfg.GenerationParams()),
	)
	if cfg.RateLimit.Enabled {
		strategy, err := cfg.RateLimitStrategy()
		if err != nil {
			return err
		}
		limiter, err := c.limiters.GetOrCreate(cfg.RateLimit.ID, strategy)
		if err != nil {
			return fmt.Errorf("create rate limiter: %w", err)
		}
		genOpts = append(genOpts, llm.WithRateLimiter(limiter))
	}
	c.generator = llm.NewGenerator(c.provider, genOpts...)

	c.renderer = templates.NewManager(cfg.Workflow.TemplateDir, c.logger)

	return c.openStore(ctx)
}

func (c *Client) openStore(ctx context.Context) error {
	cfg := c.cfg
	backends := store.Backends{Logger: c.logger}

	switch store.Type(cfg.Store.Type) {
	case store.TypeRedis:
		if c.redisClient == nil {
			opts := &redis.Options{
				Addr:         cfg.Redis.Addr,
				Password:     cfg.Redis.Password,
				DB:           cfg.Redis.DB,
				PoolSize:     cfg.Redis.PoolSize,
				MinIdleConns: cfg.Redis.MinIdleConns,
			}
			if cfg.Redis.TLS {
				host, _, _ := net.SplitHostPort(cfg.Redis.Addr)
				opts.TLSConfig = tlsutil.ClientConfig(host)
			}
			c.redisClient = redis.NewClient(opts)
		}
		if err := c.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		backends.Redis = c.redisClient
	case store.TypeSQL:
		var poolOpts []database.PoolOption
		if c.collector != nil {
			poolOpts = append(poolOpts, database.WithStatsObserver(cfg.Database.Driver, c.collector))
		}
		pool, err := database.Open(cfg.Database, c.logger, poolOpts...)
		if err != nil {
			return err
		}
		c.pool = pool
		backends.DB = pool.DB()
	}

	s, err := store.New(ctx, store.Config{
		Type:      store.Type(cfg.Store.Type),
		KeyPrefix: cfg.Store.KeyPrefix,
		TTL:       cfg.Store.TTL,
		TableName: cfg.Store.TableName,
	}, backends)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	c.store = s
	return nil
}

// generatorOptions 返回所有 Generator 共享的可观测性选项
func (c *Client) generatorOptions() []llm.GeneratorOption {
	opts := []llm.GeneratorOption{llm.WithLogger(c.logger), llm.WithTracer(c.tracer)}
	if c.collector != nil {
		opts = append(opts, llm.WithObserver(c.collector))
	}
	return opts
}

// workflowOptions 返回所有 Workflow 共享的选项
func (c *Client) workflowOptions() []workflow.Option {
	opts := []workflow.Option{
		workflow.WithLogger(c.logger),
		workflow.WithTracer(c.tracer),
		workflow.WithStore(c.store),
	}
	if c.collector != nil {
		opts = append(opts, workflow.WithMetrics(c.collector))
	}
	return opts
}

// Workflow returns an empty workflow using the client's generator and the
// defaults of cfg.Workflow. opts are applied last.
func (c *Client) Workflow(opts ...workflow.Option) *workflow.ChatWorkflow {
	base := append(c.workflowOptions(),
		workflow.WithName(c.cfg.Workflow.Name),
		workflow.WithTemplates(c.renderer),
		workflow.WithMaxParallel(c.cfg.Workflow.MaxParallel),
	)
	// Validate 已检查过策略
	policy, _ := c.cfg.ErrorPolicy()
	return workflow.New(c.generator, append(base, opts...)...).OnError(policy)
}

// ParseDefinition decodes a workflow definition. Files ending in .json are
// JSON, everything else is YAML.
func ParseDefinition(path string, data []byte) (*workflow.Definition, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return workflow.DefinitionFromJSON(data)
	}
	return workflow.DefinitionFromYAML(data)
}

// LoadWorkflow builds a workflow from a definition file. Tools and schemas
// are resolved against those registered with WithTools and WithSchema; the
// rate limiter is resolved through the shared registry.
func (c *Client) LoadWorkflow(path string) (*workflow.ChatWorkflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow definition: %w", err)
	}
	def, err := ParseDefinition(path, data)
	if err != nil {
		return nil, fmt.Errorf("parse workflow definition %s: %w", path, err)
	}
	return workflow.FromDefinition(def, workflow.Dependencies{
		Provider:         c.provider,
		Limiters:         c.limiters,
		Tools:            c.tools,
		Schemas:          c.schemas,
		Renderer:         c.renderer,
		Logger:           c.logger,
		GeneratorOptions: c.generatorOptions(),
		Options:          c.workflowOptions(),
	})
}

// WatchWorkflow reloads the definition at path whenever its content changes
// and passes the result to onReload. The returned watcher is already started;
// it stops when ctx is done or Stop is called.
func (c *Client) WatchWorkflow(ctx context.Context, path string, onReload func(*workflow.ChatWorkflow, error)) (*config.FileWatcher, error) {
	interval := c.cfg.Workflow.WatchInterval
	if interval <= 0 {
		return nil, errors.New("workflow.watch_interval must be positive to watch definitions")
	}
	w, err := config.NewFileWatcher([]string{path},
		config.WithPollInterval(interval),
		config.WithWatcherLogger(c.logger),
	)
	if err != nil {
		return nil, err
	}
	w.OnChange(func(evt config.FileEvent) {
		if evt.Op == config.FileOpRemove {
			c.logger.Warn("workflow definition removed, keeping the last version", zap.String("path", evt.Path))
			return
		}
		wf, err := c.LoadWorkflow(evt.Path)
		if err != nil {
			c.logger.Error("workflow reload failed", zap.String("path", evt.Path), zap.Error(err))
		} else {
			c.logger.Info("workflow reloaded", zap.String("path", evt.Path), zap.String("workflow", wf.Name()))
		}
		onReload(wf, err)
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// MaxSteps returns the configured per-run step budget.
func (c *Client) MaxSteps() int { return c.cfg.Workflow.MaxSteps }

// Config returns the configuration the client was built from.
func (c *Client) Config() *config.Config { return c.cfg }

// Logger returns the client logger.
func (c *Client) Logger() *zap.Logger { return c.logger }

// Generator returns the shared generator.
func (c *Client) Generator() *llm.Generator { return c.generator }

// Limiters returns the shared rate limiter registry.
func (c *Client) Limiters() *ratelimit.Registry { return c.limiters }

// Tools returns the tool catalogue used by LoadWorkflow.
func (c *Client) Tools() *tools.Registry { return c.tools }

// Templates returns the template manager.
func (c *Client) Templates() *templates.Manager { return c.renderer }

// Store returns the run store.
func (c *Client) Store() store.ChatStore { return c.store }

// Close releases the store, database pool and telemetry exporters.
func (c *Client) Close(ctx context.Context) error {
	var errs []error
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	} else if c.redisClient != nil {
		_ = c.redisClient.Close()
	}
	if c.pool != nil {
		if err := c.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if err := c.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if c.ownsLogger {
		_ = c.logger.Sync()
	}
	return errors.Join(errs...)
}
