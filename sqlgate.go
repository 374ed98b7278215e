package sqlgate

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/rickchristie/sqlgate-mcp/internal/classify"
	"github.com/rickchristie/sqlgate-mcp/internal/errprompt"
	"github.com/rickchristie/sqlgate-mcp/internal/errs"
	"github.com/rickchristie/sqlgate-mcp/internal/metrics"
	"github.com/rickchristie/sqlgate-mcp/internal/objstore"
	"github.com/rickchristie/sqlgate-mcp/internal/policy"
	"github.com/rickchristie/sqlgate-mcp/internal/pool"
	"github.com/rickchristie/sqlgate-mcp/internal/protection"
	"github.com/rickchristie/sqlgate-mcp/internal/sanitize"
	"github.com/rickchristie/sqlgate-mcp/internal/timeout"
)

// Gateway is the read-only SQL engine behind the MCP tools.
// All exported methods are safe for concurrent use from multiple goroutines.
type Gateway struct {
	config     Config
	primary    *pool.Manager
	metadata   *pool.Manager // same as primary unless a metadata connection is configured
	classifier *classify.Classifier
	protection *protection.Checker // nil when parser verification is disabled
	policy     *policy.Policy
	sanitizer  *sanitize.Sanitizer
	errPrompts *errprompt.Matcher
	timeoutMgr *timeout.Manager
	store      *objstore.Store // nil when exports are returned inline
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// Option is a functional option for New().
type Option func(*options)

type options struct {
	metadataConnString string
	metrics            *metrics.Metrics
}

// WithMetadataConnString routes introspection through a second pool
// connected with connString.
func WithMetadataConnString(connString string) Option {
	return func(o *options) {
		o.metadataConnString = connString
	}
}

// WithMetrics records tool, query and pool activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// New creates a Gateway. No connection is opened until the first request.
// Zero-valued settings take their defaults.
// Panics on invalid config. Returns error for rules, whitelists, connection
// strings or object store settings that fail to parse.
func New(connString string, config Config, logger zerolog.Logger, opts ...Option) (*Gateway, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// --- Config validation (panics on invalid config) ---

	if connString == "" {
		panic("sqlgate: connString must be non-empty")
	}
	config.applyDefaults()
	if config.Pool.MaxConns < 0 {
		panic("sqlgate: pool.max_conns must be > 0")
	}
	if config.Query.LimitSize < 0 {
		panic("sqlgate: query.limit_size must be >= 0")
	}
	if config.Query.DefaultTimeoutSeconds < 0 {
		panic("sqlgate: query.default_timeout_seconds must be > 0")
	}
	if config.Query.MetadataTimeoutSeconds < 0 {
		panic("sqlgate: query.metadata_timeout_seconds must be > 0")
	}
	if config.Query.MaxSQLLength < 0 {
		panic("sqlgate: query.max_sql_length must be > 0")
	}
	if config.Query.MaxValueBytes < 0 {
		panic("sqlgate: query.max_value_bytes must be > 0")
	}
	if config.Export.MaxRows < 0 {
		panic("sqlgate: export.max_rows must be > 0")
	}
	for _, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			panic(fmt.Sprintf("sqlgate: timeout_rule with pattern %q has timeout_seconds <= 0", rule.Pattern))
		}
	}

	acquireTimeout := mustDuration("pool.acquire_timeout", config.Pool.AcquireTimeout)
	maxConnLifetime := mustDuration("pool.max_conn_lifetime", config.Pool.MaxConnLifetime)
	maxConnIdleTime := mustDuration("pool.max_conn_idle_time", config.Pool.MaxConnIdleTime)
	healthCheckPeriod := mustDuration("pool.health_check_period", config.Pool.HealthCheckPeriod)

	// --- Pools ---

	poolConfig := func(name, connString string, maxConns int) pool.Config {
		return pool.Config{
			Name:              name,
			ConnString:        connString,
			MinConns:          config.Pool.MinConns,
			MaxConns:          maxConns,
			AcquireTimeout:    acquireTimeout,
			MaxConnLifetime:   maxConnLifetime,
			MaxConnIdleTime:   maxConnIdleTime,
			HealthCheckPeriod: healthCheckPeriod,
			Timezone:          config.Timezone,
		}
	}
	primary, err := pool.New(poolConfig("primary", connString, config.Pool.MaxConns), logger)
	if err != nil {
		return nil, err
	}
	metadata := primary
	if o.metadataConnString != "" {
		maxConns := config.Pool.MetadataMaxConns
		if maxConns == 0 {
			maxConns = config.Pool.MaxConns
		}
		cfg := poolConfig("metadata", o.metadataConnString, maxConns)
		if cfg.MinConns > maxConns {
			cfg.MinConns = maxConns
		}
		if metadata, err = pool.New(cfg, logger); err != nil {
			return nil, err
		}
	}

	// --- Initialize internal components ---

	accessPolicy, err := policy.New(config.Access.Tables, config.Access.Columns)
	if err != nil {
		return nil, err
	}

	san, err := sanitize.NewSanitizer(mapSanitizationRules(config.Sanitization))
	if err != nil {
		return nil, err
	}

	promptRules := errprompt.DefaultRules()
	if len(config.ErrorPrompts) > 0 {
		promptRules = mapErrorPromptRules(config.ErrorPrompts)
	}
	matcher, err := errprompt.NewMatcher(promptRules)
	if err != nil {
		return nil, err
	}

	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr, err := timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})
	if err != nil {
		return nil, err
	}

	var store *objstore.Store
	if sc := config.Export.ObjectStore; sc != nil {
		ttl, err := parseDuration(sc.PresignTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid export.object_store.presign_ttl %q: %w", sc.PresignTTL, err)
		}
		store, err = objstore.New(objstore.Config{
			Endpoint:   sc.Endpoint,
			AccessKey:  sc.AccessKey,
			SecretKey:  sc.SecretKey,
			UseSSL:     sc.UseSSL,
			Region:     sc.Region,
			Bucket:     sc.Bucket,
			Prefix:     sc.Prefix,
			PresignTTL: ttl,
		})
		if err != nil {
			return nil, err
		}
	}

	var checker *protection.Checker
	if config.Protection.parserEnabled() {
		checker = protection.NewChecker()
	}

	if o.metrics != nil {
		o.metrics.RegisterPool(primary.Name(), primary)
		if metadata != primary {
			o.metrics.RegisterPool(metadata.Name(), metadata)
		}
	}

	classifier := classify.New(config.Query.LimitSize)
	event := logger.Debug().
		Int("limit", classifier.Limit()).
		Strs("tables", accessPolicy.Tables()).
		Strs("columns", accessPolicy.Columns()).
		Bool("parser_check", checker != nil)
	if store != nil {
		event = event.Str("export_bucket", store.Bucket())
	}
	event.Msg("gateway configured")

	return &Gateway{
		config:     config,
		primary:    primary,
		metadata:   metadata,
		classifier: classifier,
		protection: checker,
		policy:     accessPolicy,
		sanitizer:  san,
		errPrompts: matcher,
		timeoutMgr: tmgr,
		store:      store,
		metrics:    o.metrics,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Close shuts down the pools, waiting for leased sessions to be released.
func (g *Gateway) Close() {
	g.primary.Shutdown()
	if g.metadata != g.primary {
		g.metadata.Shutdown()
	}
}

// Ping verifies connectivity of every pool and, when configured, that the
// export bucket exists.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.primary.Ping(ctx); err != nil {
		return err
	}
	if g.metadata != g.primary {
		if err := g.metadata.Ping(ctx); err != nil {
			return err
		}
	}
	if g.store != nil {
		if err := g.store.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// PoolStats returns a usage snapshot of every pool.
func (g *Gateway) PoolStats() []pool.Stat {
	stats := []pool.Stat{g.primary.Stat()}
	if g.metadata != g.primary {
		stats = append(stats, g.metadata.Stat())
	}
	return stats
}

// readOnly leases a session from m, opens a READ ONLY transaction bounded by
// d and runs fn inside it. The transaction is always rolled back. A failure
// that leaves the connection in an unknown state evicts the session.
func (g *Gateway) readOnly(ctx context.Context, m *pool.Manager, d time.Duration, fn func(ctx context.Context, tx pgx.Tx) error) error {
	queryCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	sess, err := m.Acquire(queryCtx)
	if err != nil {
		return err
	}
	defer sess.Release()

	tx, err := sess.Conn().BeginTx(queryCtx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		if pool.ShouldEvict(err) {
			sess.MarkBroken()
		}
		return g.mapError(queryCtx, d, err, "failed to begin transaction")
	}
	// Parent ctx: queryCtx may already be done when the statement timed out.
	defer tx.Rollback(ctx)

	if err := fn(queryCtx, tx); err != nil {
		if pool.ShouldEvict(err) {
			sess.MarkBroken()
		}
		return g.mapError(queryCtx, d, err, "statement failed")
	}
	return nil
}

// mapError converts a failure inside readOnly. An expired statement deadline
// is reported as Timeout whatever the driver returned.
func (g *Gateway) mapError(queryCtx context.Context, d time.Duration, err error, msg string) error {
	if e, ok := errs.As(err); ok {
		return e
	}
	if queryCtx.Err() == context.DeadlineExceeded {
		return errs.Wrap(errs.KindTimeout, fmt.Sprintf("statement exceeded its deadline of %s", d), err)
	}
	return pool.MapError(err, msg)
}

// fail normalizes err into an *errs.Error, attaches error prompts, records
// it and logs it. Every operation returns its errors through fail.
func (g *Gateway) fail(operation string, err error) error {
	e, ok := errs.As(err)
	if !ok {
		e = errs.Wrap(errs.KindInternal, err.Error(), err)
	}
	patterns := g.errPrompts.MatchedPatterns(e.Error())
	g.errPrompts.Annotate(e)
	g.metrics.RecordError(operation, e.Kind.String())

	event := g.logger.Warn()
	if e.Kind == errs.KindInternal {
		event = g.logger.Error()
	}
	event = event.
		Str("operation", operation).
		Str("kind", e.Kind.String()).
		Err(e)
	if e.Code != "" {
		event = event.Str("sqlstate", e.Code)
	}
	if len(patterns) > 0 {
		event = event.Strs("error_prompts", patterns)
	}
	event.Msg("request failed")
	return e
}

func (g *Gateway) metadataTimeout() time.Duration {
	return time.Duration(g.config.Query.MetadataTimeoutSeconds) * time.Second
}

func mustDuration(name, value string) time.Duration {
	d, err := parseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("sqlgate: invalid %s %q: %v", name, value, err))
	}
	return d
}

// mapSanitizationRules converts SanitizationRules to internal sanitize.Rules.
func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
			Columns:     r.Columns,
		}
	}
	return result
}

// mapErrorPromptRules converts ErrorPromptRules to internal errprompt.Rules.
func mapErrorPromptRules(rules []ErrorPromptRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{
			Pattern: r.Pattern,
			Message: r.Message,
		}
	}
	return result
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
