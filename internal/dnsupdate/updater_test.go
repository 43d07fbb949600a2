package dnsupdate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/nodehub/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsShortInterval(t *testing.T) {
	testlog.Start(t)
	_, err := New(Config{URL: "http://example.invalid", Interval: 30 * time.Second})
	require.ErrorIs(t, err, ErrInvalidInterval)

	_, err = New(Config{Interval: time.Hour})
	require.Error(t, err)

	u, err := New(Config{URL: "http://example.invalid", Interval: time.Hour})
	require.NoError(t, err)
	require.Equal(t, MinInterval, u.cfg.RetryDelay)
}

func TestUpdateAcceptsOnlyOK(t *testing.T) {
	testlog.Start(t)
	body := "OK"
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	u := newUpdater(Config{URL: srv.URL, Interval: time.Hour})
	require.NoError(t, u.Update(context.Background()))

	body = "OK\n"
	require.NoError(t, u.Update(context.Background()))

	body = "ERROR: bad token"
	require.ErrorIs(t, u.Update(context.Background()), ErrUnexpectedResponse)

	body, status = "OK", http.StatusInternalServerError
	require.ErrorIs(t, u.Update(context.Background()), ErrUnexpectedResponse)
}

func TestRunRetriesThenFollowsInterval(t *testing.T) {
	testlog.Start(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			_, _ = w.Write([]byte("FAIL"))
			return
		}
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	u := newUpdater(Config{
		URL:        srv.URL,
		Interval:   time.Hour,
		RetryDelay: 5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	// The success schedules the next attempt an hour out.
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(3), calls.Load())

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatalf("updater did not stop")
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	testlog.Start(t)
	u := newUpdater(Config{URL: "http://127.0.0.1:1/update", Interval: time.Hour, RetryDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, u.Run(ctx), context.Canceled)
}
