package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rolekeeper/pkg/assignment"
	"github.com/platinummonkey/rolekeeper/pkg/audit"
	"github.com/platinummonkey/rolekeeper/pkg/catalog"
	"github.com/platinummonkey/rolekeeper/pkg/observability"
)

var testEpoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeClock advances one second per reading
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type sequentialIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequentialIDs) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("role-%d", s.n)
}

// flakyLogger wraps a logger and fails Log while failing is set
type flakyLogger struct {
	audit.Logger
	mu      sync.Mutex
	failing bool
}

func (l *flakyLogger) setFailing(v bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failing = v
}

func (l *flakyLogger) Log(ctx context.Context, entry *audit.Entry) error {
	l.mu.Lock()
	failing := l.failing
	l.mu.Unlock()
	if failing {
		return errors.New("disk full")
	}
	return l.Logger.Log(ctx, entry)
}

type fixture struct {
	engine   *Engine
	repo     *MemoryRepository
	activity *flakyLogger
	memLog   *audit.MemoryLogger
	index    *assignment.MemoryIndex
	metrics  *observability.Metrics
	resolver *Resolver
}

// newFixture builds an engine over the default catalog. Without roles the
// repository is seeded with the built-in roles.
func newFixture(t *testing.T, roles ...Role) *fixture {
	t.Helper()

	memLog := audit.NewMemoryLogger()
	f := &fixture{
		repo:     NewMemoryRepository(roles...),
		memLog:   memLog,
		activity: &flakyLogger{Logger: memLog},
		index:    assignment.NewMemoryIndex(),
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
	}

	clock := &fakeClock{now: testEpoch}
	ids := &sequentialIDs{}
	engine, err := NewEngine(context.Background(), catalog.Default(), f.repo, f.activity, f.index,
		WithClock(clock.Now),
		WithIDGenerator(ids.Next),
		WithMetrics(f.metrics),
	)
	require.NoError(t, err)

	f.engine = engine
	f.resolver = engine.Resolver()
	return f
}

// testRole builds a custom role granting ids and their prerequisites
func testRole(t *testing.T, id, name string, ids ...string) Role {
	t.Helper()

	resolver := NewResolver(catalog.Default())
	in := PermissionSet{}
	for _, pid := range ids {
		in[pid] = true
	}
	set, err := resolver.Normalize(in)
	require.NoError(t, err)

	return Role{
		ID:           id,
		Name:         name,
		Permissions:  set,
		Version:      1,
		CreatedAt:    testEpoch,
		LastModified: LastModified{By: "seed", At: testEpoch},
	}
}

func grants(ids ...string) PermissionSet {
	set := PermissionSet{}
	for _, id := range ids {
		set[id] = true
	}
	return set
}
