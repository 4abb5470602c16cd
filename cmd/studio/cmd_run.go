package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"indiistudio/internal/jobs"
	"indiistudio/internal/session"
	"indiistudio/internal/types"
	"indiistudio/internal/usage"
)

var (
	runAgent       string
	runProject     string
	runOrg         string
	runHistoryFile string
	runAttachments []string
	runWaitJobs    bool
	runQuiet       bool
)

// runCmd executes one task through an agent
var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Run a task through an agent",
	Long: `Sends a task to an agent and runs its tool-calling loop to completion.

The agent may generate images and video, delegate to other agents and ask
for your approval before any billed video render. Video jobs started during
the run are waited for before the command exits unless --wait-jobs=false.

Example:
  studio run "Design cover art for my single 'Neon Rain'"
  studio run --agent legal --history-file chat.txt "Review the sync clause"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVarP(&runAgent, "agent", "a", "generalist", "Agent id to run")
	runCmd.Flags().StringVarP(&runProject, "project", "p", "", "Project id")
	runCmd.Flags().StringVar(&runOrg, "org", "", "Organization id")
	runCmd.Flags().StringVar(&runHistoryFile, "history-file", "", "File holding prior chat history")
	runCmd.Flags().StringSliceVar(&runAttachments, "attach", nil, "Attachment names to mention to the agent")
	runCmd.Flags().BoolVar(&runWaitJobs, "wait-jobs", true, "Wait for video jobs started by the run")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Hide progress events")
}

func runTask(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var outMu sync.Mutex
	progress := func(ev session.Event) {
		if runQuiet || ev.Kind == session.EventFinal {
			return
		}
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintln(cmd.ErrOrStderr(), renderEvent(ev))
	}

	rt, err := buildRuntime(ctx, cfg, progress)
	if err != nil {
		return err
	}
	defer rt.Close()

	agent, ok := rt.directory.Get(runAgent)
	if !ok {
		return fmt.Errorf("unknown agent %q (known: %s)", runAgent, strings.Join(rt.directory.KnownIDs(), ", "))
	}
	exec, ok := agent.Runner.(*session.Executor)
	if !ok {
		return fmt.Errorf("agent %s has no local runtime", runAgent)
	}

	req := types.ExecutionRequest{
		Task: strings.Join(args, " "),
		Context: types.RequestContext{
			ProjectID:   runProject,
			OrgID:       runOrg,
			Attachments: runAttachments,
		},
	}
	if runHistoryFile != "" {
		data, err := os.ReadFile(runHistoryFile)
		if err != nil {
			return fmt.Errorf("failed to read history: %w", err)
		}
		req.Context.ChatHistory = string(data)
	}
	ec := &types.ExecutionContext{
		UserID:    userID,
		OrgID:     runOrg,
		ProjectID: runProject,
		Tier:      tierOf(cfg),
	}

	started := time.Now().Truncate(time.Second)
	logger.Info("Running task", zap.String("agent", runAgent), zap.String("user", userID), zap.String("tier", ec.Tier))
	res, err := exec.Run(ctx, ec, req)
	switch {
	case errors.Is(err, usage.ErrQuotaExceeded):
		return fmt.Errorf("%s\nUpgrade your plan or wait for the next period", err)
	case errors.Is(err, session.ErrCancelled):
		fmt.Fprintln(cmd.ErrOrStderr(), warningStyle.Render("Cancelled."))
	case err != nil:
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(agent.Name))
	if res.Text != "" {
		fmt.Fprintln(out, renderMarkdown(res.Text))
	}
	if res.StopReason != session.StopFinal && res.StopReason != session.StopCancelled {
		fmt.Fprintln(cmd.ErrOrStderr(), warningStyle.Render(fmt.Sprintf("Stopped early (%s) after %d turn(s).", res.StopReason, res.Turns)))
	}
	fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render(fmt.Sprintf("%d turn(s), %d tokens", res.Turns, res.Usage.Total())))

	if runWaitJobs && ctx.Err() == nil {
		return waitForOpenJobs(ctx, cmd, rt.jobs, started)
	}
	return nil
}

// waitForOpenJobs blocks until the jobs this run started finish, so the
// process does not abandon renders it paid for.
func waitForOpenJobs(ctx context.Context, cmd *cobra.Command, manager *jobs.Manager, since time.Time) error {
	list, err := manager.List(ctx, userID)
	if err != nil {
		return err
	}
	for _, job := range list {
		if job.Status.IsTerminal() || job.CreatedAt.Before(since) {
			continue
		}
		fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render(fmt.Sprintf("Waiting for job %s (%s)...", job.ID, job.Kind)))
		final, err := manager.WaitForJob(ctx, job.ID)
		if err != nil {
			if errors.Is(err, jobs.ErrWaitTimeout) {
				fmt.Fprintln(cmd.ErrOrStderr(), warningStyle.Render(fmt.Sprintf("Job %s still %s at %d%%", job.ID, final.Status, final.Progress)))
				continue
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderJob(final))
	}
	return nil
}
