// File: cmd/components.go
package cmd

import (
	"context"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/engine"
	"github.com/webpilot-ai/webpilot/internal/executor"
	"github.com/webpilot-ai/webpilot/internal/perception"
	"github.com/webpilot-ai/webpilot/internal/planner"
	"github.com/webpilot-ai/webpilot/internal/policy"
	"github.com/webpilot-ai/webpilot/internal/search"
	"github.com/webpilot-ai/webpilot/internal/telemetry"
	"github.com/webpilot-ai/webpilot/internal/tools"
	"github.com/webpilot-ai/webpilot/internal/vision"
	"github.com/webpilot-ai/webpilot/internal/worldmodel"
)

// components wires the full agent stack for a CLI invocation.
type components struct {
	Sessions *browser.Manager
	Searcher *search.Service
	Executor *executor.Executor
	Planner  *planner.Planner
	Registry *tools.Registry
	Recorder *telemetry.Recorder
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) *components {
	recorder := telemetry.NewRecorder(logger)
	sessions := browser.NewManager(cfg.Browser, recorder, logger)
	perceiver := perception.NewEngine(cfg.Browser.StateDir, logger)
	resolver := vision.NewResolver(logger)
	searcher := search.NewService(cfg.Search, sessions, logger)
	policyEngine := policy.NewEngine(cfg.Policy, nil, logger)
	world := worldmodel.NewArena()

	exec := executor.New(sessions, perceiver, resolver, searcher, policyEngine, world, recorder, cfg.Browser, logger)
	frames := planner.NewFrameArena(cfg.Planner.FrameTTL, cfg.Planner.FrameCapacity)
	nav := planner.New(exec, frames, nil, recorder, cfg.Planner, logger)

	eng := engine.New(sessions, cfg.Engine, logger)
	approver := policy.NewApprover(cfg.Policy)
	registry := tools.NewRegistry(eng, sessions, perceiver, exec, searcher, approver, logger)

	return &components{
		Sessions: sessions,
		Searcher: searcher,
		Executor: exec,
		Planner:  nav,
		Registry: registry,
		Recorder: recorder,
	}
}

func (c *components) Shutdown(ctx context.Context, logger *zap.Logger) {
	if err := c.Sessions.Shutdown(ctx); err != nil {
		logger.Warn("Session shutdown reported errors", zap.Error(err))
	}
}
