package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"indiistudio/internal/agents"
)

// agentsCmd lists the agent roster
var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agents and the tools each may call",
	RunE:  listAgents,
}

func listAgents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defs, err := agents.LoadDefinitions(cfg.AgentsFile)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(defs))
	for _, def := range defs {
		turns := def.MaxTurns
		if turns == 0 {
			turns = cfg.Agent.MaxTurns
		}
		rows = append(rows, []string{
			def.ID,
			def.Name,
			fmt.Sprintf("%d", turns),
			strings.Join(def.Tools, ", "),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), table([]string{"ID", "NAME", "TURNS", "TOOLS"}, rows))
	return nil
}
