// File: cmd/tools.go
package cmd

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/webpilot-ai/webpilot/internal/observability"
)

// newToolsCmd creates the `tools` command group for exercising the tool
// registry directly, the same surface an orchestration layer calls.
func newToolsCmd() *cobra.Command {
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and invoke the agent tool surface",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lists the registered tool names",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			components := initializeComponents(appCfg, logger)
			defer components.Shutdown(cmd.Context(), logger)

			for _, name := range components.Registry.Names() {
				fmt.Println(name)
			}
			return nil
		},
	}

	var paramsJSON string
	invokeCmd := &cobra.Command{
		Use:   "invoke [tool]",
		Short: "Invokes one tool with JSON parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			components := initializeComponents(appCfg, logger)
			defer components.Shutdown(ctx, logger)

			result, err := components.Registry.Invoke(ctx, args[0], []byte(paramsJSON))
			if err != nil {
				return err
			}
			out, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(out))
			return nil
		},
	}
	invokeCmd.Flags().StringVar(&paramsJSON, "params", "{}", "JSON object with tool parameters")

	toolsCmd.AddCommand(listCmd)
	toolsCmd.AddCommand(invokeCmd)
	return toolsCmd
}
