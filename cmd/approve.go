// File: cmd/approve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/webpilot-ai/webpilot/internal/policy"
)

// newApproveCmd creates the `approve` command, which signs a time-limited
// approval grant for a blocked high-risk action. The operator passes the
// session id and action digest from the confirmation detail; the grant goes
// back through web_act as approvalGrant.
func newApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <session-id> <action-digest>",
		Short: "Signs an approval grant for a blocked high-risk action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if appCfg.Policy.SigningSecret == "" {
				return fmt.Errorf("policy.signing_secret is not configured, approvals cannot be signed")
			}

			grant, err := policy.NewApprover(appCfg.Policy).Issue(args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to sign approval grant: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), grant)
			return nil
		},
	}
}
