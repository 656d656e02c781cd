// File: internal/browser/backend.go
package browser

import (
	"context"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// sessionProfile is the fully resolved launch profile for one session,
// produced by merging the caller's SessionConfig over the configured
// defaults. Every field is concrete by the time a backend sees it.
type sessionProfile struct {
	ProfileID string
	Headless  bool
	Viewport  schemas.Viewport
	Locale    string
	Timezone  string
	StateDir  string
	Args      []string
}

// conn is a live connection to a browser, however it is hosted. The cancel
// chain tears down chromedp contexts; closeRemote, when set, releases the
// hosted session afterwards.
type conn struct {
	kind       schemas.BackendKind
	browserCtx context.Context
	cancels    []context.CancelFunc

	liveViewURL     string
	remoteSessionID string
	remoteContextID string
	closeRemote     func(ctx context.Context) error
}

// Close tears the connection down. Cancels run in reverse acquisition order
// so the tab context closes before its allocator.
func (c *conn) Close(ctx context.Context) error {
	for i := len(c.cancels) - 1; i >= 0; i-- {
		c.cancels[i]()
	}
	if c.closeRemote != nil {
		return c.closeRemote(ctx)
	}
	return nil
}

// backend opens browser connections for one hosting provider.
type backend interface {
	Kind() schemas.BackendKind
	// Open establishes a connection for the given profile. The supplied
	// context bounds only the establishment; the returned conn outlives it.
	Open(ctx context.Context, profile sessionProfile) (*conn, error)
}
