package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"indiistudio/internal/jobs"
)

// jobsCmd lists generation jobs
var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List your generation jobs, or show one in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE:  showJobs,
}

func showJobs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if len(args) == 1 {
		job, err := st.jobStore.Get(ctx, args[0])
		if err != nil || job.UserID != userID {
			return fmt.Errorf("job %s not found", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderJob(job))
		return nil
	}

	list, err := st.jobStore.List(ctx, userID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("No jobs yet."))
		return nil
	}
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		rows = append(rows, []string{
			job.ID,
			string(job.Kind),
			statusText(job.Status),
			fmt.Sprintf("%d%%", job.Progress),
			fmt.Sprintf("%ds", job.TotalDurationSec),
			job.CreatedAt.Local().Format(time.DateTime),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), table([]string{"ID", "KIND", "STATUS", "PROGRESS", "LENGTH", "CREATED"}, rows))
	return nil
}

func statusText(s jobs.Status) string {
	switch s {
	case jobs.StatusCompleted:
		return okStyle.Render(string(s))
	case jobs.StatusFailed:
		return errorStyle.Render(string(s))
	case jobs.StatusCancelled:
		return warningStyle.Render(string(s))
	}
	return string(s)
}

// renderJob shows a job with its segments.
func renderJob(job *jobs.Job) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s\n", titleStyle.Render("Job "+job.ID), mutedStyle.Render(string(job.Kind)))
	fmt.Fprintf(&sb, "  status:   %s (%d%%)\n", statusText(job.Status), job.Progress)
	fmt.Fprintf(&sb, "  prompt:   %s\n", job.Prompt)
	fmt.Fprintf(&sb, "  length:   %ds\n", job.TotalDurationSec)
	if job.OutputURL != "" {
		fmt.Fprintf(&sb, "  output:   %s\n", job.OutputURL)
	}
	if job.Error != "" {
		fmt.Fprintf(&sb, "  error:    %s\n", errorStyle.Render(job.Error))
	}
	if len(job.Segments) > 1 {
		sb.WriteString("  segments:\n")
		for _, seg := range job.Segments {
			line := fmt.Sprintf("    #%d %-10s %3ds", seg.Index+1, seg.Status, seg.DurationSec)
			if seg.OutputURL != "" {
				line += "  " + seg.OutputURL
			}
			if seg.Error != "" {
				line += "  " + errorStyle.Render(seg.Error)
			}
			sb.WriteString(line + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
