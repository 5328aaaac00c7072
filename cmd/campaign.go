// -- cmd/campaign.go --
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gamebench/benchctl/api/schemas"
	"github.com/gamebench/benchctl/internal/agentclient"
	"github.com/gamebench/benchctl/internal/gameconfig"
	"github.com/gamebench/benchctl/internal/observability"
	"github.com/gamebench/benchctl/internal/preview"
	"github.com/gamebench/benchctl/internal/scheduler"
	"github.com/gamebench/benchctl/internal/supervisor"
	"github.com/gamebench/benchctl/internal/vision"
)

func newCampaignCmd() *cobra.Command {
	var (
		sutSpecs   []string
		previewDir string
	)

	campaignCmd := &cobra.Command{
		Use:   "campaign <campaign.yaml>",
		Short: "Runs a benchmark campaign across one or more SUTs concurrently",
		Long: `Loads a campaign file describing an ordered list of games with run counts
and plays the whole campaign on every given SUT in parallel. Each SUT works
through its own copy of the queue independently.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			if len(sutSpecs) == 0 {
				return fmt.Errorf("at least one --sut is required")
			}

			campaign, err := gameconfig.LoadCampaign(args[0])
			if err != nil {
				return err
			}

			visionClient, err := vision.New(cfg.Vision(), logger)
			if err != nil {
				return err
			}
			sup := supervisor.New(cfg, visionClient, logger)

			suts := make([]*schemas.SUT, 0, len(sutSpecs))
			for _, spec := range sutSpecs {
				sut, err := parseSutSpec(spec)
				if err != nil {
					return err
				}
				if err := sup.Register(sut); err != nil {
					return err
				}
				suts = append(suts, sut)
			}

			var pollers []*preview.Poller
			if cfg.Preview().Enabled && previewDir != "" {
				if err := os.MkdirAll(previewDir, 0o755); err != nil {
					return fmt.Errorf("failed to create preview dir: %w", err)
				}
				for _, sut := range suts {
					agent := agentclient.New(sut, cfg.Agent(), logger)
					poller := preview.New(sut.ID, agent, cfg.Preview(), savePreviewFrame(previewDir), logger)
					poller.Start(ctx)
					pollers = append(pollers, poller)
				}
				defer func() {
					for _, p := range pollers {
						p.Stop()
					}
				}()
			}

			sched := scheduler.New(scheduler.SupervisorAssigner{Supervisor: sup}, cfg.Scheduler(), logger)

			// Every SUT plays its own copy of the campaign; entries track
			// remaining runs in place and cannot be shared across queues.
			assignments := make(map[string]*schemas.Campaign, len(suts))
			for _, sut := range suts {
				assignments[sut.ID] = cloneCampaign(campaign)
			}

			reports, err := sched.RunAll(ctx, assignments)
			for _, sut := range suts {
				if report := reports[sut.ID]; report != nil {
					printReport(report)
				}
			}
			if err != nil {
				return err
			}

			var failures int
			for _, report := range reports {
				failures += len(report.FailedRuns)
			}
			if failures > 0 {
				return fmt.Errorf("campaign finished with %d failed runs", failures)
			}
			logger.Info("Campaign finished on all SUTs", zap.Int("suts", len(suts)))
			return nil
		},
	}

	campaignCmd.Flags().StringArrayVar(&sutSpecs, "sut", nil, "target SUT as name=address:port (repeatable)")
	campaignCmd.Flags().StringVar(&previewDir, "preview-dir", "", "directory for live screenshot frames (requires preview.enabled)")

	return campaignCmd
}

// cloneCampaign deep-copies the entry list so concurrent queues do not share
// Remaining counters. GameConfig itself is read-only once loaded.
func cloneCampaign(c *schemas.Campaign) *schemas.Campaign {
	clone := &schemas.Campaign{
		Name:              c.Name,
		DelayBetweenGames: c.DelayBetweenGames,
		ContinueOnFailure: c.ContinueOnFailure,
		Entries:           make([]*schemas.CampaignEntry, len(c.Entries)),
	}
	for i, entry := range c.Entries {
		copied := *entry
		clone.Entries[i] = &copied
	}
	return clone
}

// savePreviewFrame writes each polled frame to <dir>/<sut>.png, overwriting
// the previous one. Write errors are logged by the poller's consumer contract
// being best-effort; a failed write only skips the frame.
func savePreviewFrame(dir string) preview.Consumer {
	return func(frame preview.Frame) {
		path := filepath.Join(dir, frame.SutID+".png")
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, frame.Image, 0o644); err != nil {
			return
		}
		_ = os.Rename(tmp, path)
	}
}

func init() {
	rootCmd.AddCommand(newCampaignCmd())
}
