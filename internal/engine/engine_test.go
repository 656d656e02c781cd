// File: internal/engine/engine_test.go
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
)

type fakeSessions struct {
	starts atomic.Int32
	err    error
}

func (f *fakeSessions) StartSession(_ context.Context, sessionID string, _ schemas.SessionConfig) (*schemas.SessionSnapshot, error) {
	f.starts.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &schemas.SessionSnapshot{ID: sessionID}, nil
}

func (f *fakeSessions) Page(string) (schemas.PageHandle, error) {
	return nil, browser.ErrNoActiveSession
}

func (f *fakeSessions) EndSession(context.Context, string) (bool, error) {
	return false, nil
}

func testEngine(cfg config.EngineConfig) (*Engine, *fakeSessions) {
	sessions := &fakeSessions{}
	return New(sessions, cfg, zap.NewNop()), sessions
}

// gauge tracks the peak number of concurrent callers.
type gauge struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (g *gauge) enter() {
	n := g.current.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) exit() {
	g.current.Add(-1)
}

func TestDoReturnsTaskResult(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng, _ := testEngine(config.EngineConfig{})

	out, err := eng.Do(context.Background(), Task{
		Tool: "web_search",
		Run: func(context.Context) (any, error) {
			return "results", nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "results", out)
}

func TestBrowserPoolSerializesCalls(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng, _ := testEngine(config.EngineConfig{BrowserConcurrency: 1})

	var g gauge
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Do(context.Background(), Task{
				Tool:      "web_act",
				SessionID: "s1",
				Browser:   true,
				Run: func(context.Context) (any, error) {
					g.enter()
					time.Sleep(30 * time.Millisecond)
					g.exit()
					return nil, nil
				},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), g.peak.Load(), "browser pool of one must never run tasks concurrently")
}

func TestSameSessionSerializedEvenWithSpareSlots(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng, _ := testEngine(config.EngineConfig{BrowserConcurrency: 4})

	var g gauge
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Do(context.Background(), Task{
				Tool:      "web_observe",
				SessionID: "shared",
				Browser:   true,
				Run: func(context.Context) (any, error) {
					g.enter()
					time.Sleep(30 * time.Millisecond)
					g.exit()
					return nil, nil
				},
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), g.peak.Load(), "calls on one session must be serialized")
}

func TestDifferentSessionsRunConcurrently(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng, _ := testEngine(config.EngineConfig{BrowserConcurrency: 4})

	release := make(chan struct{})
	var g gauge
	var wg sync.WaitGroup
	for _, id := range []string{"s1", "s2"} {
		wg.Add(1)
		go func(sessionID string) {
			defer wg.Done()
			_, err := eng.Do(context.Background(), Task{
				Tool:      "web_observe",
				SessionID: sessionID,
				Browser:   true,
				Run: func(context.Context) (any, error) {
					g.enter()
					<-release
					g.exit()
					return nil, nil
				},
			})
			assert.NoError(t, err)
		}(id)
	}

	require.Eventually(t, func() bool {
		return g.current.Load() == 2
	}, time.Second, 5*time.Millisecond, "distinct sessions should overlap")
	close(release)
	wg.Wait()
}

func TestPerCallTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng, _ := testEngine(config.EngineConfig{ToolTimeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := eng.Do(context.Background(), Task{
		Tool: "web_extract_structured",
		Run: func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), time.Second)
}

func TestCallerCancellationStopsTask(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng, _ := testEngine(config.EngineConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := eng.Do(ctx, Task{
		Tool: "web_search",
		Run: func(ctx context.Context) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestMissingSessionRestartsOnce(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng, sessions := testEngine(config.EngineConfig{})

	var calls atomic.Int32
	out, err := eng.Do(context.Background(), Task{
		Tool:      "web_observe",
		SessionID: "s1",
		Browser:   true,
		Run: func(context.Context) (any, error) {
			if calls.Add(1) == 1 {
				return nil, browser.ErrNoActiveSession
			}
			return "observation", nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "observation", out)
	assert.Equal(t, int32(1), sessions.starts.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestSecondMissingSessionFailurePropagates(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng, sessions := testEngine(config.EngineConfig{})

	_, err := eng.Do(context.Background(), Task{
		Tool:      "web_act",
		SessionID: "s1",
		Browser:   true,
		Run: func(context.Context) (any, error) {
			return nil, browser.ErrNoActiveSession
		},
	})
	require.ErrorIs(t, err, browser.ErrNoActiveSession)
	assert.Equal(t, int32(1), sessions.starts.Load(), "only one restart is attempted")
}

func TestSessionStartNeverRetried(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng, sessions := testEngine(config.EngineConfig{})

	_, err := eng.Do(context.Background(), Task{
		Tool:      "web_session_start",
		SessionID: "s1",
		Browser:   true,
		Run: func(context.Context) (any, error) {
			return nil, browser.ErrNoActiveSession
		},
	})
	require.ErrorIs(t, err, browser.ErrNoActiveSession)
	assert.Equal(t, int32(0), sessions.starts.Load())
}

func TestRestartFailurePropagates(t *testing.T) {
	defer goleak.VerifyNone(t)
	eng, sessions := testEngine(config.EngineConfig{})
	sessions.err = errors.New("backend unavailable")

	_, err := eng.Do(context.Background(), Task{
		Tool:      "web_observe",
		SessionID: "s1",
		Browser:   true,
		Run: func(context.Context) (any, error) {
			return nil, browser.ErrNoActiveSession
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session restart failed")
}

func TestForgetSessionDropsLock(t *testing.T) {
	eng, _ := testEngine(config.EngineConfig{})

	first := eng.sessionLock("s1")
	eng.ForgetSession("s1")
	second := eng.sessionLock("s1")
	assert.NotSame(t, first, second)
}
