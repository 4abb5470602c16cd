package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"indiistudio/internal/approval"
)

// approvalsCmd manages approvals pending in the fs transport directory
var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List and answer approval requests (fs transport)",
	Long: `Works with the fs approval transport: a running "studio run" writes each
pending request to the approval directory and waits for a decision file.

Examples:
  studio approvals list
  studio approvals resolve 3f2a... approve`,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approval requests",
	Args:  cobra.NoArgs,
	RunE:  listApprovals,
}

var approvalsResolveCmd = &cobra.Command{
	Use:   "resolve [request-id] [approve|deny|cancel]",
	Short: "Answer a pending approval request",
	Args:  cobra.ExactArgs(2),
	RunE:  resolveApproval,
}

func init() {
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsResolveCmd)
}

func listApprovals(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reqs, err := approval.ListRequests(cfg.Approval.Dir)
	if os.IsNotExist(err) || (err == nil && len(reqs) == 0) {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No pending approvals."))
		return nil
	}
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(reqs))
	for _, req := range reqs {
		args, _ := json.Marshal(req.Args)
		rows = append(rows, []string{
			req.ID,
			req.ToolName,
			fmt.Sprintf("%.0f", req.EstimatedCost),
			req.UserID,
			time.Since(req.CreatedAt).Round(time.Second).String(),
			truncateText(string(args), 60),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), table([]string{"ID", "TOOL", "COST", "USER", "AGE", "ARGS"}, rows))
	return nil
}

func resolveApproval(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d, err := approval.ParseDecision(args[1])
	if err != nil {
		return err
	}
	if err := approval.WriteDecision(cfg.Approval.Dir, args[0], d); err != nil {
		return fmt.Errorf("failed to write decision: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("Recorded %s for %s", d, args[0])))
	return nil
}

func truncateText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
