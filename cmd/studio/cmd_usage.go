package main

import (
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"indiistudio/internal/usage"
)

// usageCmd shows quota usage for the current period
var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show quota usage for this period and token totals per agent",
	RunE:  showUsage,
}

func showUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	tier := tierOf(cfg)
	controller := usage.NewController(st.ledger, tiersFrom(cfg))
	if _, err := controller.ExpireStale(cmd.Context(), cfg.GetReservationTTL()); err != nil {
		return err
	}
	rows, err := controller.Usage(cmd.Context(), userID, tier)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Quota for %s (%s tier)", userID, tier)))
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		used := fmt.Sprintf("%d", r.Used)
		if r.Limit > 0 && r.Used+r.Reserved >= r.Limit {
			used = errorStyle.Render(used)
		}
		cells = append(cells, []string{
			string(r.Class),
			r.Period,
			used,
			fmt.Sprintf("%d", r.Reserved),
			fmt.Sprintf("%d", r.Limit),
		})
	}
	fmt.Fprintln(out, table([]string{"CLASS", "PERIOD", "USED", "RESERVED", "LIMIT"}, cells))

	stats := st.tracker.Stats()
	if stats.Total.Calls == 0 {
		return nil
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, titleStyle.Render("Model tokens (all users)"))
	agentRows := make([][]string, 0, len(stats.ByAgent))
	for _, agent := range slices.Sorted(maps.Keys(stats.ByAgent)) {
		c := stats.ByAgent[agent]
		agentRows = append(agentRows, []string{
			agent,
			fmt.Sprintf("%d", c.Calls),
			fmt.Sprintf("%d", c.Input),
			fmt.Sprintf("%d", c.Output),
			fmt.Sprintf("%d", c.Total),
		})
	}
	fmt.Fprintln(out, table([]string{"AGENT", "CALLS", "INPUT", "OUTPUT", "TOTAL"}, agentRows))
	return nil
}
