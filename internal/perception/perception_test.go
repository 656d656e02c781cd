// File: internal/perception/perception_test.go
package perception

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// fakePage is a hand-rolled PageHandle for driving the engine without a
// browser.
type fakePage struct {
	url        string
	title      string
	html       string
	evalResult any
	evalErr    error
	screenshot []byte
	shotErr    error
}

func (f *fakePage) SessionID() string { return "test-session" }
func (f *fakePage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	return nil
}
func (f *fakePage) WaitLoad(ctx context.Context, timeout time.Duration) error        { return nil }
func (f *fakePage) ReadyState(ctx context.Context) (string, error)                   { return "complete", nil }
func (f *fakePage) WaitNetworkIdle(ctx context.Context, timeout time.Duration) error { return nil }
func (f *fakePage) Click(ctx context.Context, css string) error                      { return nil }
func (f *fakePage) ClickAt(ctx context.Context, x, y float64) error                  { return nil }
func (f *fakePage) Fill(ctx context.Context, css, value string) error                { return nil }
func (f *fakePage) PressEnter(ctx context.Context) error                             { return nil }
func (f *fakePage) Scroll(ctx context.Context, dx, dy float64) error                 { return nil }

func (f *fakePage) Eval(ctx context.Context, js string, out any) error {
	if f.evalErr != nil {
		return f.evalErr
	}
	data, err := json.Marshal(f.evalResult)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (f *fakePage) HTML(ctx context.Context) (string, error) { return f.html, nil }
func (f *fakePage) Location(ctx context.Context) (string, string, error) {
	return f.url, f.title, nil
}
func (f *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return f.screenshot, f.shotErr
}

func TestObserve_BuildsSnapshot(t *testing.T) {
	page := &fakePage{
		url:   "https://example.com/pricing",
		title: "Pricing",
		evalResult: domSnapshot{
			Text: "Plans start at $10 per month.",
			Elements: []rawElement{
				{Role: "link", Text: "Contact sales", Path: "a#contact", BBox: &schemas.BBox{X: 10, Y: 20, Width: 100, Height: 30}},
				{Role: "button", Text: "Buy now", Path: "body > button"},
			},
		},
	}

	engine := NewEngine(t.TempDir(), zap.NewNop())
	obs, err := engine.Observe(context.Background(), page, schemas.ObserveOptions{Mode: schemas.ObserveDOM})
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/pricing", obs.URL)
	assert.Equal(t, "Pricing", obs.Title)
	assert.Equal(t, "Plans start at $10 per month.", obs.VisibleText)
	require.Len(t, obs.Elements, 2)
	assert.Equal(t, "e1", obs.Elements[0].ID)
	assert.Equal(t, "a#contact", obs.Elements[0].CSSPath)
	assert.NotNil(t, obs.Elements[0].BBox)
	assert.Equal(t, "e2", obs.Elements[1].ID)
	assert.Contains(t, obs.DOMSummary, "1 links")
	assert.Contains(t, obs.DOMSummary, "1 buttons")
	assert.Empty(t, obs.ScreenshotPath, "dom mode must not capture screenshots")
	assert.False(t, obs.Timestamp.IsZero())
}

func TestObserve_VisionModeCapturesScreenshot(t *testing.T) {
	page := &fakePage{
		url:        "https://example.com",
		title:      "Home",
		evalResult: domSnapshot{},
		screenshot: []byte("png-bytes"),
	}

	engine := NewEngine(t.TempDir(), zap.NewNop())
	obs, err := engine.Observe(context.Background(), page, schemas.ObserveOptions{Mode: schemas.ObserveDOMVision})
	require.NoError(t, err)
	assert.NotEmpty(t, obs.ScreenshotPath)
	assert.FileExists(t, obs.ScreenshotPath)
}

func TestObserve_ScreenshotFailureIsNonFatal(t *testing.T) {
	page := &fakePage{
		url:        "https://example.com",
		evalResult: domSnapshot{Text: "content"},
		shotErr:    errors.New("capture failed"),
	}

	engine := NewEngine(t.TempDir(), zap.NewNop())
	obs, err := engine.Observe(context.Background(), page, schemas.ObserveOptions{Mode: schemas.ObserveDOMVision})
	require.NoError(t, err)
	assert.Empty(t, obs.ScreenshotPath)
	assert.Equal(t, "content", obs.VisibleText)
}

func TestObserve_EvalFailure(t *testing.T) {
	page := &fakePage{url: "https://example.com", evalErr: errors.New("script blew up")}
	engine := NewEngine(t.TempDir(), zap.NewNop())

	_, err := engine.Observe(context.Background(), page, schemas.ObserveOptions{})
	assert.ErrorContains(t, err, "dom observation failed")
}

func TestObserve_VisibleTextTruncated(t *testing.T) {
	page := &fakePage{
		url:        "https://example.com",
		evalResult: domSnapshot{Text: strings.Repeat("x", maxVisibleText+500)},
	}

	engine := NewEngine(t.TempDir(), zap.NewNop())
	obs, err := engine.Observe(context.Background(), page, schemas.ObserveOptions{})
	require.NoError(t, err)
	assert.Len(t, obs.VisibleText, maxVisibleText)
}

const articleFixture = `<!DOCTYPE html>
<html><head>
<title>Fallback Title</title>
<meta property="og:title" content="Understanding Widgets">
<meta name="author" content="Jordan Reeves">
<meta property="article:published_time" content="2026-03-14T09:30:00Z">
</head><body>
<header><a href="/home">Home</a> site chrome that should not leak</header>
<nav><a href="/about">About</a></nav>
<article>
<h1>Understanding Widgets</h1>
<p>Widgets are the fundamental unit of the widget economy. This paragraph
carries enough body text to clear the extraction threshold, because the
extractor refuses to settle on containers that hold only navigation chrome
or boilerplate fragments rather than real article content.</p>
<h2>History</h2>
<p>The first widget shipped decades ago.</p>
<a href="/docs/widgets">Widget docs</a>
<a href="https://other.example.org/spec">External spec</a>
<a href="#section">Jump link</a>
</article>
<footer><a href="/privacy">Privacy</a></footer>
</body></html>`

func TestExtractFromHTML_Article(t *testing.T) {
	out, err := ExtractFromHTML(articleFixture, "https://example.com/blog/widgets")
	require.NoError(t, err)

	assert.Equal(t, "Understanding Widgets", out.Title)
	assert.Equal(t, "Jordan Reeves", out.Byline)
	require.NotNil(t, out.PublishedAt)
	assert.Equal(t, time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC), *out.PublishedAt)

	assert.Contains(t, out.MainText, "fundamental unit of the widget economy")
	assert.NotContains(t, out.MainText, "site chrome", "header content must be excluded")

	assert.Equal(t, []string{"Understanding Widgets", "History"}, out.Headings)

	urls := make([]string, 0, len(out.Links))
	for _, l := range out.Links {
		urls = append(urls, l.URL)
	}
	assert.Contains(t, urls, "https://example.com/docs/widgets", "relative links resolve absolute")
	assert.Contains(t, urls, "https://other.example.org/spec")
	assert.NotContains(t, urls, "https://example.com/blog/widgets#section", "fragment-only links dropped")
}

func TestExtractFromHTML_ContainerPriority(t *testing.T) {
	long := strings.Repeat("real content here ", 20)

	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "main wins when substantial",
			html: `<html><body><main>` + long + `</main><article>short</article></body></html>`,
			want: "real content here",
		},
		{
			name: "thin main falls through to article",
			html: `<html><body><main>thin</main><article>` + long + `</article></body></html>`,
			want: "real content here",
		},
		{
			name: "content id honored",
			html: `<html><body><div id="content">` + long + `</div></body></html>`,
			want: "real content here",
		},
		{
			name: "body is the last resort",
			html: `<html><body><p>just a short page</p></body></html>`,
			want: "just a short page",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ExtractFromHTML(tt.html, "https://example.com")
			require.NoError(t, err)
			assert.Contains(t, out.MainText, tt.want)
		})
	}
}

func TestExtractFromHTML_DateFormats(t *testing.T) {
	tests := []struct {
		name string
		head string
		want time.Time
	}{
		{
			name: "rfc3339 meta",
			head: `<meta property="article:published_time" content="2026-01-15T08:00:00Z">`,
			want: time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC),
		},
		{
			name: "bare date meta",
			head: `<meta name="date" content="2025-11-02">`,
			want: time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "datePublished meta",
			head: `<meta name="datePublished" content="2025-09-20T12:00:00Z">`,
			want: time.Date(2025, 9, 20, 12, 0, 0, 0, time.UTC),
		},
		{
			name: "pubdate meta",
			head: `<meta name="pubdate" content="2025-04-08">`,
			want: time.Date(2025, 4, 8, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "datePublished outranks bare date",
			head: `<meta name="date" content="2025-01-01">` +
				`<meta name="datePublished" content="2025-02-02">`,
			want: time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "time element datetime",
			head: ``,
			want: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := "<p>content</p>"
			if tt.head == "" {
				body = `<time datetime="2025-06-01">June 1</time>` + body
			}
			out, err := ExtractFromHTML(`<html><head>`+tt.head+`</head><body>`+body+`</body></html>`, "https://example.com")
			require.NoError(t, err)
			require.NotNil(t, out.PublishedAt)
			assert.Equal(t, tt.want, *out.PublishedAt)
		})
	}
}

func TestExtractFromHTML_NoDate(t *testing.T) {
	out, err := ExtractFromHTML(`<html><body><p>undated page</p></body></html>`, "https://example.com")
	require.NoError(t, err)
	assert.Nil(t, out.PublishedAt)
}
