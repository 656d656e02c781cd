// File: internal/browser/local.go
package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// localBackend launches an in-process Chrome via chromedp. It is the final
// link in the fallback chain and the only backend that needs no credentials.
type localBackend struct {
	logger *zap.Logger
}

func newLocalBackend(logger *zap.Logger) *localBackend {
	return &localBackend{logger: logger.Named("local_backend")}
}

func (b *localBackend) Kind() schemas.BackendKind { return schemas.BackendLocal }

func (b *localBackend) Open(ctx context.Context, profile sessionProfile) (*conn, error) {
	opts := execOptions(profile)

	// The allocator must outlive the Open call, so it hangs off the
	// background context. Teardown happens through the conn's cancel chain.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	c := &conn{
		kind:       schemas.BackendLocal,
		browserCtx: tabCtx,
		cancels:    []context.CancelFunc{allocCancel, tabCancel},
	}

	// Running an empty task forces the browser process to launch now, so a
	// broken Chrome install fails here instead of on the first action.
	startup := []chromedp.Action{
		emulation.SetDeviceMetricsOverride(int64(profile.Viewport.Width), int64(profile.Viewport.Height), 1, false),
	}
	if profile.Timezone != "" {
		startup = append(startup, emulation.SetTimezoneOverride(profile.Timezone))
	}
	if profile.Locale != "" {
		startup = append(startup, emulation.SetLocaleOverride().WithLocale(profile.Locale))
	}

	if err := runWithContext(ctx, tabCtx, startup...); err != nil {
		c.Close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to launch local browser: %w", err)
	}

	b.logger.Debug("Local browser launched",
		zap.String("profile_id", profile.ProfileID), zap.Bool("headless", profile.Headless))
	return c, nil
}

// execOptions translates a resolved profile into chromedp allocator options.
func execOptions(profile sessionProfile) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(profile.Viewport.Width, profile.Viewport.Height),
	)

	if profile.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if profile.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", profile.Locale))
	}
	if dir := profileDataDir(profile); dir != "" {
		opts = append(opts, chromedp.UserDataDir(dir))
	}

	for _, arg := range profile.Args {
		if !strings.Contains(arg, "=") {
			if !strings.HasPrefix(arg, "--") {
				arg = "--" + arg
			}
			opts = append(opts, chromedp.Flag(strings.TrimPrefix(arg, "--"), true))
			continue
		}
		parts := strings.SplitN(arg, "=", 2)
		key := strings.TrimPrefix(parts[0], "--")
		opts = append(opts, chromedp.Flag(key, parts[1]))
	}
	return opts
}

// profileDataDir maps a profile id to a persistent user-data directory so
// cookies and storage survive restarts. An unwritable state dir degrades to
// a throwaway profile.
func profileDataDir(profile sessionProfile) string {
	if profile.StateDir == "" || profile.ProfileID == "" {
		return ""
	}
	dir := filepath.Join(profile.StateDir, "profiles", profile.ProfileID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ""
	}
	return dir
}

// runWithContext runs chromedp actions on the session's own context while
// still honoring the caller's deadline and cancellation.
func runWithContext(callCtx, sessionCtx context.Context, actions ...chromedp.Action) error {
	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(sessionCtx, actions...)
	}()
	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return callCtx.Err()
	}
}
