package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"indiistudio/internal/agents"
	"indiistudio/internal/approval"
	"indiistudio/internal/config"
	"indiistudio/internal/jobs"
	"indiistudio/internal/llm"
	"indiistudio/internal/logging"
	"indiistudio/internal/memory"
	"indiistudio/internal/session"
	"indiistudio/internal/store"
	"indiistudio/internal/tools"
	"indiistudio/internal/tools/studio"
	"indiistudio/internal/usage"
)

// stores are the durable pieces every command reads.
type stores struct {
	db       *sql.DB
	ledger   usage.LedgerStore
	jobStore jobs.Store
	memStore memory.Store
	tracker  *usage.Tracker
}

func openStores(cfg *config.Config) (*stores, error) {
	s := &stores{}
	trackerDir := ""

	if cfg.Store.Driver == "memory" {
		s.ledger = usage.NewMemoryLedger()
		s.jobStore = jobs.NewMemoryStore()
		s.memStore = memory.NewMemoryStore()
	} else {
		db, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		s.db = db
		if s.ledger, err = usage.NewSQLiteLedger(db); err != nil {
			s.Close()
			return nil, err
		}
		if s.jobStore, err = jobs.NewSQLiteStore(db); err != nil {
			s.Close()
			return nil, err
		}
		if s.memStore, err = memory.NewSQLiteStore(db); err != nil {
			s.Close()
			return nil, err
		}
		trackerDir = filepath.Dir(cfg.Store.Path)
	}

	tracker, err := usage.NewTracker(trackerDir)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.tracker = tracker
	return s, nil
}

func (s *stores) Close() {
	if s.tracker != nil {
		if err := s.tracker.Save(); err != nil {
			logging.Get(logging.CategoryUsage).Error("Failed to save token usage: %v", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to close database: %v", err)
		}
	}
}

// tiersFrom converts configured tiers into admission limits.
func tiersFrom(cfg *config.Config) usage.Tiers {
	tiers := make(usage.Tiers, len(cfg.Tiers))
	for name, t := range cfg.Tiers {
		tiers[name] = usage.Limits{
			ChatTokensPerMonth:   t.ChatTokensPerMonth,
			ImagesPerMonth:       t.ImagesPerMonth,
			VideoSecondsPerMonth: t.VideoSecondsPerMonth,
			VideosPerDay:         t.VideosPerDay,
			MaxVideoSeconds:      t.MaxVideoSeconds,
		}
	}
	return tiers
}

// runtime is everything needed to execute agents.
type runtime struct {
	*stores
	cfg       *config.Config
	admission *usage.Controller
	gate      *approval.Gate
	jobs      *jobs.Manager
	directory *agents.Directory

	stopTransport func()
}

// buildRuntime wires the agent runtime. progress receives every agent's
// events, including delegated ones.
func buildRuntime(ctx context.Context, cfg *config.Config, progress session.ProgressFunc) (*runtime, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "buildRuntime")
	defer timer.Stop()

	client, err := llm.NewClient(ctx, cfg.LLM.APIKey)
	if err != nil {
		return nil, err
	}

	st, err := openStores(cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{stores: st, cfg: cfg, stopTransport: func() {}}

	rt.admission = usage.NewController(st.ledger, tiersFrom(cfg))
	if n, err := rt.admission.ExpireStale(ctx, cfg.GetReservationTTL()); err != nil {
		logging.Get(logging.CategoryUsage).Error("Failed to expire stale reservations: %v", err)
	} else if n > 0 {
		logging.Usage("Returned %d abandoned quota hold(s)", n)
	}

	transport, err := rt.approvalTransport()
	if err != nil {
		st.Close()
		return nil, err
	}
	rt.gate = approval.NewGate(transport, cfg.GetApprovalTimeout())
	if dt, ok := transport.(*approval.DirTransport); ok {
		dt.Start(ctx, rt.gate)
		rt.stopTransport = dt.Stop
	}

	assets := llm.AssetDir{Dir: cfg.LLM.AssetDir}
	rt.jobs = jobs.NewManager(
		llm.NewVideoProvider(client, cfg.LLM.VideoModel, assets, nil),
		jobs.Config{
			SegmentMaxSec: cfg.Jobs.SegmentMaxSeconds,
			PollInterval:  cfg.GetPollInterval(),
			WaitTimeout:   cfg.GetWaitTimeout(),
			MaxConcurrent: int64(cfg.Jobs.MaxConcurrent),
		},
		jobs.WithStore(st.jobStore),
	)

	var embedder memory.Embedder
	if cfg.LLM.EmbedModel != "" {
		embedder = llm.NewEmbedder(client, cfg.LLM.EmbedModel)
	}
	mem := memory.NewService(st.memStore, embedder)

	defs, err := agents.LoadDefinitions(cfg.AgentsFile)
	if err != nil {
		rt.Close()
		return nil, err
	}

	model := llm.NewModel(client, cfg.LLM.Model, cfg.GetLLMTimeout())
	registry := tools.NewRegistry()
	registry.SetDefaultTimeout(cfg.GetToolTimeout())

	sessionCfg := session.Config{
		MaxTurns:           cfg.Agent.MaxTurns,
		HistoryBudgetChars: cfg.Agent.HistoryBudgetChars,
		ChatTokenEstimate:  cfg.Agent.ChatTokenEstimate,
		MaxParallelTools:   session.DefaultConfig().MaxParallelTools,
		ModelName:          model.Name(),
	}
	opts := []session.Option{session.WithAdmission(rt.admission), session.WithTracker(st.tracker)}
	if progress != nil {
		opts = append(opts, session.WithProgress(progress))
	}

	var directory *agents.Directory
	factory := session.NewAgentFactory(model, registry, func(def agents.Definition) string {
		return directory.SystemPrompt(def)
	}, sessionCfg, opts...)
	directory, err = agents.NewDirectory(defs, factory)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.directory = directory

	if err := studio.RegisterAll(registry, studio.Deps{
		Images:    llm.NewImageGenerator(client, cfg.LLM.ImageModel, assets),
		Admission: rt.admission,
		Approvals: rt.gate,
		Jobs:      rt.jobs,
		Agents:    directory,
		Memory:    mem,
	}); err != nil {
		rt.Close()
		return nil, err
	}

	// Bind every roster agent now so a bad roster fails at startup.
	for _, def := range defs {
		if _, err := registry.Bind(def.Tools); err != nil {
			rt.Close()
			return nil, fmt.Errorf("agent %s: %w", def.ID, err)
		}
	}

	logging.Boot("Runtime ready: %d agents, %d tools, approvals via %s", len(defs), registry.Count(), cfg.Approval.Transport)
	return rt, nil
}

func (rt *runtime) approvalTransport() (approval.Transport, error) {
	switch rt.cfg.Approval.Transport {
	case "auto":
		return approval.AutoTransport{Threshold: rt.cfg.Approval.AutoApproveBelow}, nil
	case "fs":
		return approval.NewDirTransport(rt.cfg.Approval.Dir)
	case "terminal":
		return approval.NewTerminalTransport(os.Stdin, os.Stderr), nil
	case "channel":
		return nil, fmt.Errorf("approval transport %q needs an embedding host; use terminal, fs or auto from the CLI", rt.cfg.Approval.Transport)
	}
	return nil, fmt.Errorf("unknown approval transport %q", rt.cfg.Approval.Transport)
}

// Close stops the job workers and transport, then closes the stores.
func (rt *runtime) Close() {
	if rt.jobs != nil {
		rt.jobs.Close()
	}
	rt.stopTransport()
	rt.stores.Close()
}
