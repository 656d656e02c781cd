// File: cmd/search.go
package cmd

import (
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/observability"
)

// newSearchCmd creates the `search` command, which queries the configured
// providers without opening a browser session.
func newSearchCmd() *cobra.Command {
	var (
		limit     int
		timeoutMs int
		asJSON    bool
	)

	searchCmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "Runs a web search across the configured providers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			query := strings.Join(args, " ")

			components := initializeComponents(appCfg, logger)
			defer components.Shutdown(ctx, logger)

			results, err := components.Searcher.Search(ctx, query, schemas.SearchOptions{
				Limit:   limit,
				Timeout: time.Duration(timeoutMs) * time.Millisecond,
			})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			logger.Debug("Search completed", zap.String("query", query), zap.Int("results", len(results)))

			if asJSON {
				out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(results, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			if len(results) == 0 {
				fmt.Println("No results.")
				return nil
			}
			for _, r := range results {
				fmt.Printf("%2d. %s\n    %s\n", r.Rank, r.Title, r.URL)
				if r.Snippet != "" {
					fmt.Printf("    %s\n", r.Snippet)
				}
			}
			return nil
		},
	}

	searchCmd.Flags().IntVar(&limit, "limit", 0, "maximum number of results")
	searchCmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "overall search timeout in milliseconds")
	searchCmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")

	return searchCmd
}
