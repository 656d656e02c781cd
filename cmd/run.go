// File: cmd/run.go
package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/executor"
	"github.com/webpilot-ai/webpilot/internal/observability"
)

// newRunCmd creates and configures the `run` command, which executes one
// autonomous browsing turn for an objective.
func newRunCmd() *cobra.Command {
	var (
		sessionID string
		entities  []string
		sites     []string
		startURL  string
		asJSON    bool
	)

	runCmd := &cobra.Command{
		Use:   "run [objective...]",
		Short: "Runs an autonomous browsing turn for the given objective",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so command-line values override
			// the config file and environment with the right precedence.
			if err := viper.BindPFlag("planner.max_actions", cmd.Flags().Lookup("max-actions")); err != nil {
				return err
			}
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlag("browser.backend_preference", cmd.Flags().Lookup("backend"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg := appCfg
			cfg.Planner.MaxActions = viper.GetInt("planner.max_actions")
			cfg.Browser.Headless = viper.GetBool("browser.headless")
			cfg.Browser.BackendPreference = viper.GetString("browser.backend_preference")

			objective := strings.Join(args, " ")
			if sessionID == "" {
				sessionID = "run-" + uuid.New().String()
			}

			logger.Info("Starting browsing turn",
				zap.String("session_id", sessionID),
				zap.String("objective", objective),
				zap.Int("max_actions", cfg.Planner.MaxActions),
			)

			components := initializeComponents(cfg, logger)
			defer components.Shutdown(ctx, logger)

			if _, err := components.Sessions.StartSession(ctx, sessionID, schemas.SessionConfig{
				StartURL: startURL,
			}); err != nil {
				return fmt.Errorf("starting session: %w", err)
			}

			result, err := components.Planner.RunTurn(ctx, sessionID, schemas.TaskFrame{
				Relation:      schemas.RelationNewTask,
				UserObjective: objective,
				Entities:      entities,
				DomainHints:   sites,
			})
			if err != nil {
				if errors.Is(err, executor.ErrConfirmationRequired) {
					return fmt.Errorf("turn blocked on a high-risk action that needs confirmation: %w", err)
				}
				return fmt.Errorf("browsing turn failed: %w", err)
			}

			if asJSON {
				out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}

			printTurnResult(result)
			return nil
		},
	}

	runCmd.Flags().StringVar(&sessionID, "session", "", "session id to reuse (default: a fresh one per run)")
	runCmd.Flags().StringArrayVar(&entities, "entity", nil, "entity the objective refers to (URL or name, repeatable)")
	runCmd.Flags().StringArrayVar(&sites, "site", nil, "domain hint to seed navigation (repeatable)")
	runCmd.Flags().StringVar(&startURL, "start-url", "", "URL to open when the session starts")
	runCmd.Flags().Int("max-actions", 0, "maximum page visits for this turn")
	runCmd.Flags().Bool("headless", true, "run the browser headless")
	runCmd.Flags().String("backend", "", "browser backend preference (auto|local|browserwire|sessionforge)")
	runCmd.Flags().BoolVar(&asJSON, "json", false, "print the full turn result as JSON")

	return runCmd
}

func printTurnResult(result *schemas.TurnResult) {
	fmt.Printf("Stop reason: %s\n", result.Stop)
	if len(result.Visited) > 0 {
		fmt.Println("\nVisited:")
		for _, u := range result.Visited {
			fmt.Printf("  %s\n", u)
		}
	}
	for _, extraction := range result.Extractions {
		fmt.Printf("\n== %s\n", extraction.URL)
		if extraction.Title != "" {
			fmt.Printf("%s\n", extraction.Title)
		}
		text := extraction.MainText
		if len(text) > 600 {
			text = text[:600] + "..."
		}
		fmt.Println(text)
	}
	for _, note := range result.Notes {
		fmt.Printf("note: %s\n", note)
	}
}
