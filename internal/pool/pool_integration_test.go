//go:build integration

package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rickchristie/govner/pgflock/client"

	"github.com/rickchristie/sqlgate-mcp/internal/errs"
)

const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

func acquireTestDB(t *testing.T) string {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("Failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

func newTestManager(t *testing.T, maxConns int) *Manager {
	t.Helper()
	m, err := New(Config{
		ConnString:     acquireTestDB(t),
		MaxConns:       maxConns,
		AcquireTimeout: 300 * time.Millisecond,
		Timezone:       "UTC",
	}, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(m.Shutdown)
	return m
}

func TestSessionIsReadOnly(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 2)
	ctx := context.Background()

	s, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer s.Release()

	var readOnly, tz string
	if err := s.Conn().QueryRow(ctx, "SHOW default_transaction_read_only").Scan(&readOnly); err != nil {
		t.Fatalf("SHOW failed: %v", err)
	}
	if readOnly != "on" {
		t.Fatalf("expected read-only sessions, got %q", readOnly)
	}
	if err := s.Conn().QueryRow(ctx, "SHOW timezone").Scan(&tz); err != nil {
		t.Fatalf("SHOW failed: %v", err)
	}
	if tz != "UTC" {
		t.Fatalf("expected UTC, got %q", tz)
	}
	if _, err := s.Conn().Exec(ctx, "CREATE TABLE should_fail (id int)"); err == nil {
		t.Fatal("expected write to fail on a read-only session")
	}
}

func TestPoolExhausted(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 1)
	ctx := context.Background()

	s, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	_, err = m.Acquire(ctx)
	if !errs.IsPoolExhausted(err) || !errs.IsRetryable(err) {
		t.Fatalf("expected retryable pool_exhausted, got %v", err)
	}
	s.Release()
	s.Release()

	s2, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	s2.Release()
	if got := m.Stat().Leased; got != 0 {
		t.Fatalf("expected 0 leased sessions, got %d", got)
	}
}

func TestBrokenSessionIsEvicted(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 1)
	ctx := context.Background()

	s, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	pid := s.Conn().PgConn().PID()
	s.MarkBroken()
	s.Release()

	if got := m.Stat().Evicted; got != 1 {
		t.Fatalf("expected 1 eviction, got %d", got)
	}

	s2, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after eviction failed: %v", err)
	}
	defer s2.Release()
	if s2.Conn().PgConn().PID() == pid {
		t.Fatal("expected a fresh backend after eviction")
	}
}

func TestConcurrentAcquireNoLeak(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := m.Acquire(ctx)
			if err != nil {
				if !errs.IsPoolExhausted(err) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			defer s.Release()
			var one int
			if err := s.Conn().QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
				t.Errorf("query failed: %v", err)
			}
		}()
	}
	wg.Wait()

	st := m.Stat()
	if st.Leased != 0 {
		t.Fatalf("expected no leased sessions, got %d", st.Leased)
	}
	if st.Total > 3 {
		t.Fatalf("pool exceeded max_conns: %d", st.Total)
	}
	if err := m.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
}
