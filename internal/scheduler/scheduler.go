// File: internal/scheduler/scheduler.go
// Description: The scheduler feeds campaign entries to SUT workers. Each SUT
// owns an ordered queue of entries consumed front-to-back; a run failure is
// recorded but does not halt the campaign unless configured to.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/config"
	"github.com/gamebench/benchctl/internal/supervisor"
)

// Assigner is the slice of the supervisor the scheduler needs. Satisfied by
// *supervisor.Supervisor.
type Assigner interface {
	Assign(ctx context.Context, sutID string, game *schemas.GameConfig) (SessionWaiter, error)
}

// SessionWaiter exposes the completion of an assigned session.
type SessionWaiter interface {
	Wait(ctx context.Context) (schemas.SessionResult, error)
}

// SupervisorAssigner adapts the supervisor's concrete handle type to the
// Assigner interface.
type SupervisorAssigner struct {
	Supervisor interface {
		Assign(ctx context.Context, sutID string, game *schemas.GameConfig) (*supervisor.SessionHandle, error)
	}
}

func (a SupervisorAssigner) Assign(ctx context.Context, sutID string, game *schemas.GameConfig) (SessionWaiter, error) {
	handle, err := a.Supervisor.Assign(ctx, sutID, game)
	if err != nil {
		return nil, err
	}
	return handle, nil
}

// Scheduler dispatches campaigns to SUT workers, one queue per SUT.
type Scheduler struct {
	assigner Assigner
	cfg      config.SchedulerConfig
	logger   *zap.Logger

	// queues is the only shared structure; the lock guards queue mutation and
	// is never held across an assignment or a wait.
	mu     sync.Mutex
	queues map[string][]*schemas.CampaignEntry
}

// New creates a scheduler on top of the supervisor.
func New(assigner Assigner, cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		assigner: assigner,
		cfg:      cfg,
		logger:   logger.Named("scheduler"),
		queues:   make(map[string][]*schemas.CampaignEntry),
	}
}

// Pending reports how many entries remain queued for a SUT.
func (s *Scheduler) Pending(sutID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[sutID])
}

// RunCampaign executes a campaign on one SUT, blocking until the entry queue
// is drained or the context is cancelled. Individual run failures are
// recorded in the report; only an unassignable SUT or a disabled
// continue-on-failure halts the campaign early.
func (s *Scheduler) RunCampaign(ctx context.Context, sutID string, campaign *schemas.Campaign) (*schemas.CampaignReport, error) {
	logger := s.logger.With(zap.String("sut", sutID), zap.String("campaign", campaign.Name))
	logger.Info("Campaign starting",
		zap.Int("games", len(campaign.Entries)),
		zap.Int("total_runs", campaign.TotalRuns()),
	)

	s.mu.Lock()
	if len(s.queues[sutID]) > 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("sut %q already has a queued campaign", sutID)
	}
	queue := make([]*schemas.CampaignEntry, len(campaign.Entries))
	copy(queue, campaign.Entries)
	s.queues[sutID] = queue
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.queues, sutID)
		s.mu.Unlock()
	}()

	report := &schemas.CampaignReport{Campaign: campaign.Name, SutID: sutID}
	start := time.Now()
	defer func() { report.Elapsed = time.Since(start) }()

	for {
		s.mu.Lock()
		if len(s.queues[sutID]) == 0 {
			s.mu.Unlock()
			break
		}
		entry := s.queues[sutID][0]
		s.mu.Unlock()

		halted, err := s.runEntry(ctx, sutID, entry, campaign, report, logger)
		if err != nil {
			return report, err
		}

		// The entry is consumed: remaining runs hit zero or the campaign
		// skips it. Remove it from the front of the queue.
		s.mu.Lock()
		s.queues[sutID] = s.queues[sutID][1:]
		remaining := len(s.queues[sutID])
		s.mu.Unlock()

		if halted {
			return report, fmt.Errorf("campaign %q halted after failure of %q", campaign.Name, entry.Game.Name)
		}

		if remaining > 0 && campaign.DelayBetweenGames > 0 {
			logger.Info("Waiting before next game", zap.Duration("delay", campaign.DelayBetweenGames))
			if err := sleepCtx(ctx, campaign.DelayBetweenGames); err != nil {
				return report, err
			}
		}
	}

	logger.Info("Campaign complete",
		zap.Int("runs", report.Runs),
		zap.Int("successes", report.Successes),
		zap.Int("failures", len(report.FailedRuns)),
	)
	return report, nil
}

// runEntry executes all remaining runs of one campaign entry. It returns
// halted=true when a failure should end the campaign.
func (s *Scheduler) runEntry(
	ctx context.Context,
	sutID string,
	entry *schemas.CampaignEntry,
	campaign *schemas.Campaign,
	report *schemas.CampaignReport,
	logger *zap.Logger,
) (halted bool, err error) {
	game := entry.Game
	logger.Info("Game starting",
		zap.String("game", game.Name),
		zap.Int("runs", entry.RunCount),
		zap.Duration("run_delay", entry.RunDelay),
	)

	for entry.Remaining > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		runNum := entry.RunCount - entry.Remaining + 1

		handle, err := s.assigner.Assign(ctx, sutID, game)
		if err != nil {
			// SutBusy and friends are assignment-time precondition failures:
			// the caller's responsibility, never retried here.
			return false, fmt.Errorf("failed to assign run %d of %q: %w", runNum, game.Name, err)
		}

		result, err := handle.Wait(ctx)
		if err != nil {
			return false, err
		}

		// Exactly one decrement per completed run, success or failure.
		entry.Remaining--
		report.Runs++

		if result == schemas.ResultSuccess {
			report.Successes++
			logger.Info("Run succeeded", zap.String("game", game.Name), zap.Int("run", runNum))
		} else {
			label := fmt.Sprintf("%s (run %d)", game.Name, runNum)
			report.FailedRuns = append(report.FailedRuns, label)
			logger.Warn("Run failed",
				zap.String("game", game.Name),
				zap.Int("run", runNum),
				zap.String("result", string(result)),
			)
			if !campaign.ContinueOnFailure {
				return true, nil
			}
		}

		if entry.Remaining > 0 && entry.RunDelay > 0 {
			logger.Info("Waiting before next run", zap.Duration("delay", entry.RunDelay))
			if err := sleepCtx(ctx, entry.RunDelay); err != nil {
				return false, err
			}
		}
	}

	logger.Info("Game complete", zap.String("game", game.Name))
	return false, nil
}

// RunAll executes one campaign per SUT concurrently. Sessions on different
// SUTs share no automation state, so the campaigns are fully independent;
// the first hard scheduling error cancels the rest.
func (s *Scheduler) RunAll(ctx context.Context, assignments map[string]*schemas.Campaign) (map[string]*schemas.CampaignReport, error) {
	var mu sync.Mutex
	reports := make(map[string]*schemas.CampaignReport, len(assignments))

	g, gctx := errgroup.WithContext(ctx)
	for sutID, campaign := range assignments {
		sutID, campaign := sutID, campaign
		g.Go(func() error {
			report, err := s.RunCampaign(gctx, sutID, campaign)
			mu.Lock()
			reports[sutID] = report
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	return reports, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
