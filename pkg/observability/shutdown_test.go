package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_Defaults(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	assert.NotNil(t, sm.logger)
	assert.Equal(t, 30*time.Second, sm.timeout)
	assert.NoError(t, sm.Shutdown(context.Background()))
}

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) ShutdownFunc {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}

	sm.Register("database", record("database"))
	sm.Register("activity log", record("activity log"))
	sm.RegisterCloser("redis", func() error { return record("redis")(context.Background()) })
	sm.Register("ignored", nil)

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"redis", "activity log", "database"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)

	ran := false
	sm.Register("database", func(context.Context) error { ran = true; return nil })
	sm.Register("audit", func(context.Context) error { return errors.New("flush failed") })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.EqualError(t, err, "audit: flush failed")
	assert.True(t, ran, "later steps still run after a failure")
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, 20*time.Millisecond)

	sm.Register("after", func(context.Context) error { return nil })
	sm.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "after: shutdown timeout reached")
}

func TestShutdownManager_StopsServer(t *testing.T) {
	ts := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Start()
	defer ts.Close()

	server := ts.Config
	sm := NewShutdownManager(NewNopLogger(), server, time.Second)
	require.NoError(t, sm.Shutdown(context.Background()))

	_, err := http.Get(ts.URL)
	assert.Error(t, err)
}
