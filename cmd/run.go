// -- cmd/run.go --
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/gameconfig"
	"github.com/gamebench/benchctl/internal/observability"
	"github.com/gamebench/benchctl/internal/scheduler"
	"github.com/gamebench/benchctl/internal/supervisor"
	"github.com/gamebench/benchctl/internal/vision"
)

func newRunCmd() *cobra.Command {
	var (
		sutSpec  string
		gamePath string
		runCount int
		runDelay time.Duration
	)

	runCmd := &cobra.Command{
		Use:   "run <game-config.yaml>",
		Short: "Runs one game's automation flow repeatedly on a single SUT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			sut, err := parseSutSpec(sutSpec)
			if err != nil {
				return err
			}

			game, err := gameconfig.LoadGame(args[0])
			if err != nil {
				return err
			}
			if gamePath != "" {
				game.Path = gamePath
			}
			if runCount <= 0 {
				runCount = cfg.Scheduler().DefaultRunCount
			}

			visionClient, err := vision.New(cfg.Vision(), logger)
			if err != nil {
				return err
			}

			sup := supervisor.New(cfg, visionClient, logger)
			if err := sup.Register(sut); err != nil {
				return err
			}

			sched := scheduler.New(scheduler.SupervisorAssigner{Supervisor: sup}, cfg.Scheduler(), logger)

			campaign := &schemas.Campaign{
				Name:              game.Name,
				ContinueOnFailure: cfg.Scheduler().ContinueOnFailure,
				Entries: []*schemas.CampaignEntry{{
					Game:      game,
					RunCount:  runCount,
					RunDelay:  runDelay,
					Remaining: runCount,
				}},
			}

			report, err := sched.RunCampaign(ctx, sut.ID, campaign)
			if report != nil {
				printReport(report)
			}
			if err != nil {
				return err
			}
			if report != nil && len(report.FailedRuns) > 0 {
				return fmt.Errorf("%d of %d runs failed", len(report.FailedRuns), report.Runs)
			}
			logger.Info("All runs completed", zap.Int("runs", runCount))
			return nil
		},
	}

	runCmd.Flags().StringVar(&sutSpec, "sut", "", "target SUT as name=address:port (required)")
	runCmd.Flags().StringVar(&gamePath, "game-path", "", "game executable path or store app id, overrides the config")
	runCmd.Flags().IntVar(&runCount, "runs", 0, "number of benchmark runs (default from config)")
	runCmd.Flags().DurationVar(&runDelay, "run-delay", 30*time.Second, "delay between runs")
	_ = runCmd.MarkFlagRequired("sut")

	return runCmd
}

func printReport(report *schemas.CampaignReport) {
	fmt.Printf("campaign %q on %s: %d runs, %d succeeded, %d failed (%s)\n",
		report.Campaign, report.SutID, report.Runs, report.Successes, len(report.FailedRuns), report.Elapsed.Round(time.Second))
	for _, failed := range report.FailedRuns {
		fmt.Printf("  failed: %s\n", failed)
	}
}

func init() {
	rootCmd.AddCommand(newRunCmd())
}
