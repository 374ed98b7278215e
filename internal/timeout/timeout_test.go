package timeout

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		DefaultTimeout: 30 * time.Second,
		Rules: []Rule{
			{Pattern: "pg_stat", Timeout: 5 * time.Second},
			{Pattern: "(?i)JOIN", Timeout: 60 * time.Second},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

func TestMatchFirstRule(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	got, pattern := m.GetTimeoutWithPattern("SELECT * FROM pg_stat_activity LIMIT 100")
	if got != 5*time.Second || pattern != "pg_stat" {
		t.Errorf("expected 5s from pg_stat, got %v from %q", got, pattern)
	}
}

func TestStopOnFirstMatch(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	if got := m.GetTimeout("SELECT * FROM pg_stat JOIN x JOIN y"); got != 5*time.Second {
		t.Errorf("expected 5s (first match wins), got %v", got)
	}
	if got := m.GetTimeout("select * from a join b using (id)"); got != 60*time.Second {
		t.Errorf("expected 60s for a join, got %v", got)
	}
}

func TestDefaultTimeout(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	got, pattern := m.GetTimeoutWithPattern("SELECT 1")
	if got != 30*time.Second || pattern != "" {
		t.Errorf("expected default 30s, got %v from %q", got, pattern)
	}
	if m.Default() != 30*time.Second {
		t.Errorf("unexpected Default(): %v", m.Default())
	}
}

func TestNewManagerValidation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		config Config
		want   string
	}{
		{"invalid regex", Config{DefaultTimeout: time.Second, Rules: []Rule{{Pattern: "[bad", Timeout: time.Second}}}, "invalid regex pattern"},
		{"zero rule timeout", Config{DefaultTimeout: time.Second, Rules: []Rule{{Pattern: "x"}}}, "must have a timeout > 0"},
		{"zero default", Config{}, "default timeout must be > 0"},
	}
	for _, c := range cases {
		_, err := NewManager(c.config)
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Errorf("%s: expected error containing %q, got %v", c.name, c.want, err)
		}
	}
}

func TestConcurrentGetTimeout(t *testing.T) {
	t.Parallel()
	m := newTestManager(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := m.GetTimeout("SELECT * FROM pg_stat_user_tables"); got != 5*time.Second {
				t.Errorf("expected 5s, got %v", got)
			}
		}()
	}
	wg.Wait()
}
