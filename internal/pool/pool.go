// Package pool leases read-only PostgreSQL sessions from a pgxpool.
//
// A Manager owns one pgxpool.Pool which is created on the first Acquire.
// Every connection it opens runs with default_transaction_read_only = on.
// A leased Session is held by exactly one request; releasing a session
// marked broken closes the connection instead of returning it to the pool.
package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rickchristie/sqlgate-mcp/internal/errs"
)

const (
	defaultAcquireTimeout = 10 * time.Second
	closeTimeout          = 5 * time.Second
)

// Config configures one named pool.
type Config struct {
	Name              string
	ConnString        string
	MinConns          int
	MaxConns          int
	AcquireTimeout    time.Duration
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	Timezone          string
}

// Manager hands out sessions from a lazily created pgxpool.
// All methods are safe for concurrent use.
type Manager struct {
	name           string
	poolConfig     *pgxpool.Config
	acquireTimeout time.Duration
	maxConns       int32
	logger         zerolog.Logger

	mu     sync.Mutex
	pool   *pgxpool.Pool
	closed bool

	shutdownOnce sync.Once
	leased       atomic.Int64
	evicted      atomic.Int64
}

// Stat is a snapshot of pool usage.
type Stat struct {
	Name    string
	Open    bool // the underlying pool has been created
	Total   int32
	Idle    int32
	Leased  int64
	Max     int32
	Evicted int64
}

// New validates cfg and parses the connection string. No connection is
// opened until the first Acquire.
func New(cfg Config, logger zerolog.Logger) (*Manager, error) {
	if cfg.Name == "" {
		cfg.Name = "primary"
	}
	if cfg.ConnString == "" {
		return nil, fmt.Errorf("pool %s: connection string must be non-empty", cfg.Name)
	}
	if cfg.MaxConns <= 0 {
		return nil, fmt.Errorf("pool %s: max_conns must be > 0", cfg.Name)
	}
	if cfg.MinConns < 0 || cfg.MinConns > cfg.MaxConns {
		return nil, fmt.Errorf("pool %s: min_conns must be between 0 and max_conns (%d)", cfg.Name, cfg.MaxConns)
	}
	if cfg.AcquireTimeout < 0 {
		return nil, fmt.Errorf("pool %s: acquire_timeout must not be negative", cfg.Name)
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, fmt.Errorf("pool %s: failed to parse connection string: %w", cfg.Name, err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	timezone := cfg.Timezone
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
			return fmt.Errorf("failed to SET default_transaction_read_only: %w", err)
		}
		if timezone != "" {
			escaped := strings.ReplaceAll(timezone, "'", "''")
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET timezone = '%s'", escaped)); err != nil {
				return fmt.Errorf("failed to SET timezone: %w", err)
			}
		}
		return nil
	}

	return &Manager{
		name:           cfg.Name,
		poolConfig:     poolConfig,
		acquireTimeout: cfg.AcquireTimeout,
		maxConns:       int32(cfg.MaxConns),
		logger:         logger.With().Str("pool", cfg.Name).Logger(),
	}, nil
}

// Name returns the pool name.
func (m *Manager) Name() string {
	return m.name
}

func (m *Manager) get() (*pgxpool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errs.Newf(errs.KindExecutionError, "pool %s is shut down", m.name)
	}
	if m.pool != nil {
		return m.pool, nil
	}
	p, err := pgxpool.NewWithConfig(context.Background(), m.poolConfig)
	if err != nil {
		e := errs.Wrap(errs.KindExecutionError, "failed to create connection pool", err)
		e.Retryable = true
		return nil, e
	}
	m.pool = p
	m.logger.Info().
		Int32("max_conns", m.poolConfig.MaxConns).
		Int32("min_conns", m.poolConfig.MinConns).
		Dur("acquire_timeout", m.acquireTimeout).
		Msg("session pool created")
	return p, nil
}

// Acquire leases a session, waiting at most the configured acquire timeout.
// The wait expiring while every session is leased is PoolExhausted; ctx
// ending first is Timeout; a failed connection attempt is a retryable
// ExecutionError.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	p, err := m.get()
	if err != nil {
		return nil, err
	}

	acquireCtx, cancel := context.WithTimeout(ctx, m.acquireTimeout)
	defer cancel()

	conn, err := p.Acquire(acquireCtx)
	if err != nil {
		return nil, m.acquireError(ctx, acquireCtx, p, err)
	}
	m.leased.Add(1)
	return &Session{manager: m, conn: conn}, nil
}

func (m *Manager) acquireError(ctx, acquireCtx context.Context, p *pgxpool.Pool, err error) error {
	if ctx.Err() != nil {
		return errs.Wrap(errs.KindTimeout, "cancelled while waiting for a session", err)
	}
	if acquireCtx.Err() != nil && p.Stat().AcquiredConns() >= m.maxConns {
		e := errs.Wrap(errs.KindPoolExhausted,
			fmt.Sprintf("no session available within %s: all %d sessions of pool %s are in use", m.acquireTimeout, m.maxConns, m.name), err)
		e.Hint = "retry after in-flight queries finish"
		return e
	}
	e := errs.Wrap(errs.KindExecutionError, "failed to open a database session", err)
	e.Retryable = true
	return e
}

// Ping checks connectivity with one round trip on a pooled connection.
func (m *Manager) Ping(ctx context.Context) error {
	p, err := m.get()
	if err != nil {
		return err
	}
	if err := p.Ping(ctx); err != nil {
		return MapError(err, "ping failed")
	}
	return nil
}

// Stat returns current usage. Before the first Acquire only Name, Max and
// the counters are populated.
func (m *Manager) Stat() Stat {
	st := Stat{
		Name:    m.name,
		Max:     m.maxConns,
		Leased:  m.leased.Load(),
		Evicted: m.evicted.Load(),
	}
	m.mu.Lock()
	p := m.pool
	closed := m.closed
	m.mu.Unlock()
	if p != nil && !closed {
		s := p.Stat()
		st.Open = true
		st.Total = s.TotalConns()
		st.Idle = s.IdleConns()
	}
	return st
}

// Shutdown closes the pool, waiting for leased sessions to be released.
// It is idempotent; Acquire fails afterwards.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		p := m.pool
		m.mu.Unlock()
		if p != nil {
			p.Close()
		}
		m.logger.Info().Int64("evicted", m.evicted.Load()).Msg("session pool shut down")
	})
}

// Session is one leased connection.
type Session struct {
	manager *Manager
	conn    *pgxpool.Conn
	broken  atomic.Bool
	once    sync.Once
}

// Conn returns the underlying connection. It must not be used after Release.
func (s *Session) Conn() *pgx.Conn {
	return s.conn.Conn()
}

// MarkBroken makes Release close the connection instead of pooling it.
func (s *Session) MarkBroken() {
	s.broken.Store(true)
}

// Release returns the session to the pool, or closes it when it is broken
// or its connection is already closed. Safe to call more than once.
func (s *Session) Release() {
	s.once.Do(func() {
		m := s.manager
		m.leased.Add(-1)
		if !s.broken.Load() && !s.conn.Conn().IsClosed() {
			s.conn.Release()
			return
		}
		m.evicted.Add(1)
		conn := s.conn.Hijack()
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := conn.Close(ctx); err != nil {
			m.logger.Debug().Err(err).Msg("closing evicted session")
		}
		m.logger.Warn().Int64("evicted_total", m.evicted.Load()).Msg("session evicted")
	})
}

// MapError converts a driver error into an *errs.Error. PostgreSQL errors
// keep their SQLSTATE; a cancelled statement or expired context is Timeout.
func MapError(err error, msg string) *errs.Error {
	if e, ok := errs.As(err); ok {
		return e
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind := errs.KindExecutionError
		if pgErr.Code == "57014" {
			kind = errs.KindTimeout
		}
		e := errs.Wrap(kind, pgErr.Message, err)
		e.Code = pgErr.Code
		if pgErr.Hint != "" {
			e.Hint = pgErr.Hint
		}
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || pgconn.Timeout(err) {
		return errs.Wrap(errs.KindTimeout, "statement exceeded its deadline", err)
	}
	return errs.Wrap(errs.KindExecutionError, msg, err)
}

// ShouldEvict reports whether err leaves the session in an unknown state:
// timeouts, connectivity failures and connection-class SQLSTATEs.
func ShouldEvict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") || pgErr.Code == "57014"
	}
	if e, ok := errs.As(err); ok && e.Cause == nil {
		return e.Kind == errs.KindTimeout
	}
	return true
}
