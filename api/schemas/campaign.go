package schemas

import "time"

// CampaignEntry is one game in a campaign queue. Remaining starts at RunCount
// and only ever decreases; the scheduler removes the entry when it hits zero.
type CampaignEntry struct {
	Game      *GameConfig   `json:"game"`
	RunCount  int           `json:"run_count"`
	RunDelay  time.Duration `json:"run_delay"`
	Remaining int           `json:"remaining"`
}

// Campaign is an ordered set of game runs dispatched front-to-back to one
// SUT's worker.
type Campaign struct {
	Name              string           `json:"name"`
	Entries           []*CampaignEntry `json:"entries"`
	DelayBetweenGames time.Duration    `json:"delay_between_games"`
	ContinueOnFailure bool             `json:"continue_on_failure"`
}

// TotalRuns sums the requested run counts across all entries.
func (c *Campaign) TotalRuns() int {
	total := 0
	for _, e := range c.Entries {
		total += e.RunCount
	}
	return total
}

// CampaignReport summarizes a completed campaign for one SUT.
type CampaignReport struct {
	Campaign   string        `json:"campaign"`
	SutID      string        `json:"sut_id"`
	Runs       int           `json:"runs"`
	Successes  int           `json:"successes"`
	FailedRuns []string      `json:"failed_runs,omitempty"` // "game (run N)" labels
	Elapsed    time.Duration `json:"elapsed"`
}
