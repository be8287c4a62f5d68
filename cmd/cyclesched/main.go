/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main implements the cycle scheduler CLI. Each invocation runs
// a single tick (or a scheduled one-shot run) and exits; a cron owns the
// cadence.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"chainguard.dev/cyclescheduler/agentsession"
	"chainguard.dev/cyclescheduler/githost"
	"chainguard.dev/cyclescheduler/gitremote"
	"chainguard.dev/cyclescheduler/personas"
	"chainguard.dev/cyclescheduler/scheduler/branchmanager"
	"chainguard.dev/cyclescheduler/scheduler/cyclemanager"
	"chainguard.dev/cyclescheduler/scheduler/driver"
	"chainguard.dev/cyclescheduler/scheduler/prmanager"
	"chainguard.dev/cyclescheduler/scheduler/reconcilemanager"
	"chainguard.dev/cyclescheduler/scheduler/sessionmanager"
	"chainguard.dev/cyclescheduler/sprints"
	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

type config struct {
	// Repository is the "owner/repo" coordinate the scheduler manages.
	Repository  string `env:"GITHUB_REPOSITORY,required"`
	GitHubToken string `env:"GITHUB_TOKEN,required"`

	AgentAPIURL string `env:"AGENT_API_URL,required"`
	AgentAPIKey string `env:"AGENT_API_KEY,required"`

	IntegrationBranch string `env:"INTEGRATION_BRANCH,default=cycle"`
	TrunkBranch       string `env:"TRUNK_BRANCH,default=main"`
	BranchPrefix      string `env:"BRANCH_PREFIX,default=cycle"`

	CloneDir        string `env:"CLONE_DIR,default=.cyclesched/clone"`
	StateDir        string `env:"STATE_DIR,default=.cyclesched/state"`
	PersonaRegistry string `env:"PERSONA_REGISTRY,default=personas.yaml"`

	// JournalDir optionally holds markdown journal entries folded into
	// every persona prompt.
	JournalDir   string `env:"JOURNAL_DIR"`
	JournalLimit int    `env:"JOURNAL_LIMIT,default=5"`

	SessionTimeout time.Duration `env:"SESSION_TIMEOUT,default=30m"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := clog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx = clog.WithLogger(ctx, logger)

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		clog.FromContext(ctx).Errorf("%v", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "cyclesched",
		Short:         "Round-robin scheduler for autonomous coding-agent sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(tickCommand())
	return root
}

func tickCommand() *cobra.Command {
	var (
		dryRun   bool
		runAll   bool
		promptID string
	)
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler pass and exit",
		Long: `Run one scheduler pass: ensure the integration branch is healthy,
resolve the previous persona session's PR, and start the next persona.
With --run-all or --prompt-id the cycle is bypassed and one-shot
sessions are created instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var cfg config
			if err := envconfig.Process(ctx, &cfg); err != nil {
				return fmt.Errorf("processing config: %w", err)
			}

			d, err := buildDriver(ctx, cfg, dryRun)
			if err != nil {
				return err
			}
			return d.Run(ctx, runAll, promptID)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log mutations instead of performing them")
	cmd.Flags().BoolVar(&runAll, "run-all", false, "start a one-shot session for every persona")
	cmd.Flags().StringVar(&promptID, "prompt-id", "", "start a one-shot session for a single persona")
	return cmd
}

func buildDriver(ctx context.Context, cfg config, dryRun bool) (*driver.Driver, error) {
	owner, repo, ok := strings.Cut(cfg.Repository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("GITHUB_REPOSITORY must be owner/repo, got %q", cfg.Repository)
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHubToken})
	host := githost.New(ctx, ts)

	cloneURL := fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)
	remote, err := gitremote.Open(ctx, cfg.CloneDir, cloneURL, ts)
	if err != nil {
		return nil, err
	}

	var loadOpts []personas.LoadOption
	if cfg.JournalDir != "" {
		loadOpts = append(loadOpts, personas.WithJournals(cfg.JournalDir, cfg.JournalLimit))
	}
	reg, err := personas.Load(cfg.PersonaRegistry, personas.RenderData{
		Owner:  owner,
		Repo:   repo,
		Branch: cfg.IntegrationBranch,
	}, loadOpts...)
	if err != nil {
		return nil, err
	}

	agent := agentsession.NewAPIClient(cfg.AgentAPIURL, cfg.AgentAPIKey)
	sprintStore := sprints.NewFileStore(filepath.Join(cfg.StateDir, "sprint.json"))
	tracker := reconcilemanager.NewFileTracker(filepath.Join(cfg.StateDir, "reconciliations.json"))

	branches := branchmanager.New(remote, host, sprintStore, owner, repo,
		branchmanager.WithBranches(cfg.IntegrationBranch, cfg.TrunkBranch),
		branchmanager.WithPrefix(cfg.BranchPrefix),
		branchmanager.WithDryRun(dryRun))
	prs := prmanager.New(host, remote, owner, repo,
		prmanager.WithBranches(cfg.IntegrationBranch, cfg.TrunkBranch))
	cycle, err := cyclemanager.New(reg.Cycle, owner, repo,
		cyclemanager.WithPrefix(cfg.BranchPrefix))
	if err != nil {
		return nil, err
	}
	orch := sessionmanager.New(agent,
		sessionmanager.WithTimeout(cfg.SessionTimeout),
		sessionmanager.WithDryRun(dryRun))
	recon := reconcilemanager.New(agent, host, tracker, owner, repo,
		reconcilemanager.WithBranch(cfg.IntegrationBranch),
		reconcilemanager.WithDryRun(dryRun))

	return driver.New(driver.Config{
		Owner:  owner,
		Repo:   repo,
		DryRun: dryRun,
	}, driver.Deps{
		Branches:      branches,
		PRs:           prs,
		Cycle:         cycle,
		Sessions:      orch,
		Recon:         recon,
		Sprints:       sprintStore,
		Platform:      agent,
		Host:          host,
		CyclePersonas: reg.Cycle,
		AllPersonas:   reg.All,
	})
}
