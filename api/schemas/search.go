package schemas

import "time"

// -- Search Schemas --

// SearchEngine identifies the provider a result came from. Ordering here is
// the provider-trust ordering used by the reranker.
type SearchEngine string

const (
	EngineDirectAPI  SearchEngine = "direct-api"
	EngineManagedAPI SearchEngine = "managed-api"
	EngineScrape     SearchEngine = "scrape"
	EngineScrapeLite SearchEngine = "scrape-lite"
	EngineBrowser    SearchEngine = "browser"
)

// SearchResult is one ranked hit. URL is always in canonical form
// (scheme+host+path, fragment stripped, trailing slash stripped) and unique
// within a result set.
type SearchResult struct {
	Title       string       `json:"title"`
	URL         string       `json:"url"`
	Snippet     string       `json:"snippet"`
	Rank        int          `json:"rank"`
	Engine      SearchEngine `json:"engine"`
	RetrievedAt time.Time    `json:"retrievedAt"`
	Score       float64      `json:"score"`
}
