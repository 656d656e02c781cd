// File: internal/perception/perceive.go

// Package perception turns live pages into structured snapshots: bounded
// observations of the interactive surface, and reader-view extractions of
// the main content.
package perception

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

const (
	maxElements    = 60
	maxVisibleText = 8 * 1024
)

// Engine implements schemas.Perceiver.
type Engine struct {
	stateDir string
	logger   *zap.Logger
}

// NewEngine creates a perception engine. Screenshots, when requested, are
// written under stateDir/screenshots.
func NewEngine(stateDir string, logger *zap.Logger) *Engine {
	return &Engine{stateDir: stateDir, logger: logger.Named("perception")}
}

// rawElement matches the objects produced by the observe script.
type rawElement struct {
	Role string        `json:"role"`
	Text string        `json:"text"`
	Path string        `json:"path"`
	BBox *schemas.BBox `json:"bbox"`
}

type domSnapshot struct {
	Text     string       `json:"text"`
	Elements []rawElement `json:"elements"`
}

// observeScript walks the DOM for visible interactive elements and collects
// the page's visible text. Budgets are enforced in the page to keep the
// payload crossing the CDP boundary small.
const observeScript = `(() => {
  const budget = %d;
  const inferRole = (el) => {
    const explicit = el.getAttribute('role');
    if (explicit) return explicit;
    const tag = el.tagName.toLowerCase();
    if (tag === 'a') return 'link';
    if (tag === 'button') return 'button';
    if (tag === 'select') return 'combobox';
    if (tag === 'textarea') return 'textbox';
    if (tag === 'input') {
      const type = (el.getAttribute('type') || 'text').toLowerCase();
      if (type === 'submit' || type === 'button') return 'button';
      if (type === 'checkbox') return 'checkbox';
      if (type === 'radio') return 'radio';
      return 'textbox';
    }
    return 'generic';
  };
  const cssPath = (el) => {
    const parts = [];
    while (el && el.nodeType === Node.ELEMENT_NODE && parts.length < 10) {
      let part = el.tagName.toLowerCase();
      if (el.id) { parts.unshift(part + '#' + CSS.escape(el.id)); break; }
      const siblings = el.parentNode ? Array.from(el.parentNode.children).filter(c => c.tagName === el.tagName) : [];
      if (siblings.length > 1) part += ':nth-of-type(' + (siblings.indexOf(el) + 1) + ')';
      parts.unshift(part);
      el = el.parentNode;
    }
    return parts.join(' > ');
  };
  const visible = (el) => {
    const r = el.getBoundingClientRect();
    if (r.width < 1 || r.height < 1) return null;
    const style = getComputedStyle(el);
    if (style.visibility === 'hidden' || style.display === 'none') return null;
    return r;
  };
  const label = (el) => {
    const text = (el.innerText || el.value || el.getAttribute('aria-label') ||
      el.getAttribute('placeholder') || el.getAttribute('title') || '').trim();
    return text.replace(/\s+/g, ' ').slice(0, 160);
  };
  const nodes = document.querySelectorAll('a[href], button, input, select, textarea, [role], [onclick]');
  const elements = [];
  for (const el of nodes) {
    if (elements.length >= budget) break;
    const rect = visible(el);
    if (!rect) continue;
    elements.push({
      role: inferRole(el),
      text: label(el),
      path: cssPath(el),
      bbox: { x: rect.x, y: rect.y, width: rect.width, height: rect.height },
    });
  }
  const text = (document.body ? document.body.innerText : '').replace(/\n{3,}/g, '\n\n');
  return { text: text, elements: elements };
})()`

// Observe snapshots the page's perceivable state. DOM mode is pure
// JavaScript; dom+vision additionally captures a viewport screenshot for
// coordinate-based fallback.
func (e *Engine) Observe(ctx context.Context, page schemas.PageHandle, opts schemas.ObserveOptions) (*schemas.Observation, error) {
	url, title, err := page.Location(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page location: %w", err)
	}

	var snap domSnapshot
	if err := page.Eval(ctx, fmt.Sprintf(observeScript, maxElements), &snap); err != nil {
		return nil, fmt.Errorf("dom observation failed: %w", err)
	}

	obs := &schemas.Observation{
		URL:         url,
		Title:       title,
		VisibleText: truncate(snap.Text, maxVisibleText),
		Elements:    make([]schemas.Element, 0, len(snap.Elements)),
		Timestamp:   time.Now().UTC(),
	}
	for i, raw := range snap.Elements {
		obs.Elements = append(obs.Elements, schemas.Element{
			ID:      fmt.Sprintf("e%d", i+1),
			Role:    raw.Role,
			Text:    raw.Text,
			CSSPath: raw.Path,
			BBox:    raw.BBox,
		})
	}
	obs.DOMSummary = summarize(title, obs.Elements)

	if opts.Mode == schemas.ObserveDOMVision || opts.IncludeScreenshot {
		path, err := e.captureScreenshot(ctx, page)
		if err != nil {
			// Vision is an enhancement; the DOM snapshot still stands.
			e.logger.Warn("Screenshot capture failed", zap.Error(err))
		} else {
			obs.ScreenshotPath = path
		}
	}

	e.logger.Debug("Page observed",
		zap.String("session_id", page.SessionID()),
		zap.String("url", url),
		zap.Int("elements", len(obs.Elements)))
	return obs, nil
}

func (e *Engine) captureScreenshot(ctx context.Context, page schemas.PageHandle) (string, error) {
	png, err := page.Screenshot(ctx)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(e.stateDir, "screenshots")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.png", page.SessionID(), time.Now().UnixMilli()))
	if err := os.WriteFile(path, png, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// summarize produces a one-line description of the interactive surface.
func summarize(title string, elements []schemas.Element) string {
	counts := make(map[string]int)
	for _, el := range elements {
		counts[el.Role]++
	}

	var parts []string
	for _, role := range []string{"link", "button", "textbox", "combobox", "checkbox", "radio"} {
		if n := counts[role]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %ss", n, role))
		}
	}
	desc := strings.Join(parts, ", ")
	if desc == "" {
		desc = "no interactive elements"
	}
	if title == "" {
		return desc
	}
	return fmt.Sprintf("%q: %s", title, desc)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	// Avoid splitting a multi-byte rune at the boundary.
	for len(cut) > 0 && cut[len(cut)-1]&0xC0 == 0x80 {
		cut = cut[:len(cut)-1]
	}
	return cut
}

var _ schemas.Perceiver = (*Engine)(nil)
