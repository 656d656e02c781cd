package schemas

import "time"

// -- Perception Schemas --

// Element is one actionable node surfaced by a DOM observation. CSSPath is a
// stable selector usable for later interaction; the bounding box is captured
// at observe time so vision fallback can click by coordinate without
// re-querying the page.
type Element struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Text    string `json:"text"`
	CSSPath string `json:"cssPath"`
	BBox    *BBox  `json:"bbox,omitempty"`
}

// ObserveMode selects how much work an observation does.
type ObserveMode string

const (
	ObserveDOM       ObserveMode = "dom"
	ObserveDOMVision ObserveMode = "dom+vision"
)

// Observation is an immutable snapshot of perceivable page state. Once
// produced it is appended to the session's world model and never mutated.
type Observation struct {
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	DOMSummary     string    `json:"domSummary"`
	VisibleText    string    `json:"visibleText"`
	Elements       []Element `json:"elements"`
	ScreenshotPath string    `json:"screenshotPath,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Link is an outbound link with its anchor text, URL resolved absolute.
type Link struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// StructuredExtraction is the reader-view of a page: main content isolated
// from chrome, with whatever publication metadata the page declares.
type StructuredExtraction struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Byline      string     `json:"byline,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	MainText    string     `json:"mainText"`
	Headings    []string   `json:"headings"`
	Links       []Link     `json:"links"`
}
