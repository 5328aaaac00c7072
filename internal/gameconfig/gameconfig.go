// File: internal/gameconfig/gameconfig.go
// Description: Loads and validates externally authored game and campaign
// definitions. A config is either step-based (numbered map of steps) or a
// state machine (named map of states); the shape is detected, validated, and
// converted into the immutable schemas.GameConfig before any session starts.
package gameconfig

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gamebench/benchctl/api/schemas"
)

// ValidationError rejects a configuration before any session starts. Fatal
// for the campaign entry that referenced it.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Path, e.Reason)
}

// -- raw YAML shapes --

type rawMetadata struct {
	GameName          string `yaml:"game_name"`
	GamePath          string `yaml:"game_path"`
	ProcessID         string `yaml:"process_id"`
	StartupWait       int    `yaml:"startup_wait"`       // seconds
	BenchmarkDuration int    `yaml:"benchmark_duration"` // seconds
	SteamUsername     string `yaml:"steam_username"`
	SteamPassword     string `yaml:"steam_password"`
}

type rawStep struct {
	Description   string            `yaml:"description"`
	Find          *schemas.FindSpec `yaml:"find"`
	Action        *schemas.Action   `yaml:"action"`
	Timeout       int               `yaml:"timeout"` // seconds
	Retries       int               `yaml:"retries"`
	RetryInterval int               `yaml:"retry_interval"` // seconds
	Exponential   bool              `yaml:"exponential"`
}

type rawStateFind struct {
	Type      string            `yaml:"type"`
	Text      string            `yaml:"text"`
	TextMatch schemas.MatchMode `yaml:"text_match"`
	Region    *schemas.Region   `yaml:"region"`
	Action    *schemas.Action   `yaml:"action"`
	Next      string            `yaml:"next"`
}

type rawState struct {
	Timeout int            `yaml:"timeout"` // seconds
	Find    []rawStateFind `yaml:"find"`
	Default string         `yaml:"default"`
}

type rawGame struct {
	Metadata     rawMetadata         `yaml:"metadata"`
	Steps        map[int]rawStep     `yaml:"steps"`
	States       map[string]rawState `yaml:"states"`
	InitialState string              `yaml:"initial_state"`
	TargetState  string              `yaml:"target_state"`
}

// LoadGame reads one game definition, detects its shape, validates it, and
// returns the immutable config.
func LoadGame(path string) (*schemas.GameConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read game config: %w", err)
	}
	return parseGame(path, data)
}

func parseGame(path string, data []byte) (*schemas.GameConfig, error) {
	var raw rawGame
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("failed to parse YAML: %v", err)}
	}

	game := &schemas.GameConfig{
		Name:              raw.Metadata.GameName,
		Path:              raw.Metadata.GamePath,
		ProcessMarker:     raw.Metadata.ProcessID,
		StartupWait:       time.Duration(raw.Metadata.StartupWait) * time.Second,
		BenchmarkDuration: time.Duration(raw.Metadata.BenchmarkDuration) * time.Second,
		SteamUsername:     raw.Metadata.SteamUsername,
		SteamPassword:     raw.Metadata.SteamPassword,
	}
	if game.Name == "" {
		game.Name = "Unknown Game"
	}

	switch {
	case len(raw.Steps) > 0:
		steps, err := convertSteps(path, raw.Steps)
		if err != nil {
			return nil, err
		}
		game.Steps = steps
	case len(raw.States) > 0:
		states, err := convertStates(path, raw)
		if err != nil {
			return nil, err
		}
		game.States = states
		game.InitialState = raw.InitialState
		game.TargetState = raw.TargetState
	default:
		return nil, &ValidationError{Path: path, Reason: "config must declare either a steps or a states section"}
	}

	return game, nil
}

func convertSteps(path string, raw map[int]rawStep) ([]schemas.Step, error) {
	ids := make([]int, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	steps := make([]schemas.Step, 0, len(ids))
	for _, id := range ids {
		rs := raw[id]
		if rs.Find == nil {
			return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("step %d has no find block", id)}
		}
		if rs.Action == nil {
			return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("step %d has no action block", id)}
		}
		if err := checkMatchMode(path, rs.Find.TextMatch); err != nil {
			return nil, err
		}
		steps = append(steps, schemas.Step{
			ID:          id,
			Description: rs.Description,
			Find:        *rs.Find,
			Action:      *rs.Action,
			Timeout:     time.Duration(rs.Timeout) * time.Second,
			Retry: schemas.RetryPolicy{
				MaxRetries:  rs.Retries,
				Interval:    time.Duration(rs.RetryInterval) * time.Second,
				Exponential: rs.Exponential,
			},
		})
	}
	return steps, nil
}

func convertStates(path string, raw rawGame) (map[string]schemas.State, error) {
	if raw.InitialState == "" {
		return nil, &ValidationError{Path: path, Reason: "state machine config missing initial_state"}
	}
	if raw.TargetState == "" {
		return nil, &ValidationError{Path: path, Reason: "state machine config missing target_state"}
	}

	states := make(map[string]schemas.State, len(raw.States))
	for id, rs := range raw.States {
		finds := make([]schemas.StateFind, 0, len(rs.Find))
		for i, rf := range rs.Find {
			if rf.Next == "" {
				return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("state %q find %d has no transition target", id, i)}
			}
			if err := checkMatchMode(path, rf.TextMatch); err != nil {
				return nil, err
			}
			finds = append(finds, schemas.StateFind{
				Find: schemas.FindSpec{
					Type:      rf.Type,
					Text:      rf.Text,
					TextMatch: rf.TextMatch,
					Region:    rf.Region,
				},
				Action: rf.Action,
				Next:   rf.Next,
			})
		}
		states[id] = schemas.State{
			ID:      id,
			Finds:   finds,
			Default: rs.Default,
			Timeout: time.Duration(rs.Timeout) * time.Second,
		}
	}

	// Every declared edge must land on a known state; the engine only ever
	// moves along declared edges.
	if _, ok := states[raw.InitialState]; !ok {
		return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("initial_state %q is not defined", raw.InitialState)}
	}
	if _, ok := states[raw.TargetState]; !ok {
		return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("target_state %q is not defined", raw.TargetState)}
	}
	for id, st := range states {
		for _, edge := range st.Edges() {
			if _, ok := states[edge]; !ok {
				return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("state %q transitions to undefined state %q", id, edge)}
			}
		}
	}

	return states, nil
}

func checkMatchMode(path string, mode schemas.MatchMode) error {
	switch mode {
	case schemas.MatchExact, schemas.MatchContains, "":
		return nil
	default:
		return &ValidationError{Path: path, Reason: fmt.Sprintf("unknown text_match mode %q", mode)}
	}
}

// -- campaign files --

type rawCampaignGame struct {
	Name     string `yaml:"name"`
	Config   string `yaml:"config"`
	GamePath string `yaml:"game_path"`
	RunCount int    `yaml:"run_count"`
	RunDelay int    `yaml:"run_delay"` // seconds
}

type rawCampaign struct {
	Name              string            `yaml:"name"`
	DelayBetweenGames int               `yaml:"delay_between_games"` // seconds
	ContinueOnFailure *bool             `yaml:"continue_on_failure"`
	Games             []rawCampaignGame `yaml:"games"`
}

// LoadCampaign reads a campaign definition and loads every referenced game
// config. A single invalid game config fails the whole load: validation
// errors are fatal before any session starts.
func LoadCampaign(path string) (*schemas.Campaign, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign file: %w", err)
	}

	var raw rawCampaign
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("failed to parse YAML: %v", err)}
	}
	if len(raw.Games) == 0 {
		return nil, &ValidationError{Path: path, Reason: "campaign declares no games"}
	}

	campaign := &schemas.Campaign{
		Name:              raw.Name,
		DelayBetweenGames: time.Duration(raw.DelayBetweenGames) * time.Second,
		ContinueOnFailure: true,
	}
	if campaign.Name == "" {
		campaign.Name = "Default"
	}
	if raw.ContinueOnFailure != nil {
		campaign.ContinueOnFailure = *raw.ContinueOnFailure
	}

	for i, rg := range raw.Games {
		if rg.Config == "" {
			return nil, &ValidationError{Path: path, Reason: fmt.Sprintf("campaign game %d has no config path", i)}
		}
		game, err := LoadGame(rg.Config)
		if err != nil {
			return nil, err
		}
		if rg.GamePath != "" {
			game.Path = rg.GamePath
		}
		if rg.Name != "" {
			game.Name = rg.Name
		}
		runCount := rg.RunCount
		if runCount <= 0 {
			runCount = 1
		}
		campaign.Entries = append(campaign.Entries, &schemas.CampaignEntry{
			Game:      game,
			RunCount:  runCount,
			RunDelay:  time.Duration(rg.RunDelay) * time.Second,
			Remaining: runCount,
		})
	}

	return campaign, nil
}
