package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/learnsync/internal/stage"
)

// Scenario defines a sync scenario: actions staged offline, sync passes run
// against a scripted remote, and assertions on the resulting trace and the
// tables left behind.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Site is the account the scenario runs as. Defaults to DefaultSiteID
	// and DefaultUserID.
	Site SiteSpec `yaml:"site,omitempty"`

	// Remote is the initial behaviour of the scripted remote service.
	Remote RemoteSpec `yaml:"remote,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// Default site of a scenario.
const (
	DefaultSiteID = "campus"
	DefaultUserID = 7
)

// SiteSpec names the account a scenario runs as.
type SiteSpec struct {
	ID     string `yaml:"id"`
	UserID int64  `yaml:"user_id"`
}

// RemoteSpec scripts the remote service.
type RemoteSpec struct {
	// Offline makes every call fail as unreachable.
	Offline bool `yaml:"offline"`

	// CurrentRetakes is the retake number the server reports per lesson.
	// Lessons not listed report 0.
	CurrentRetakes map[int64]int64 `yaml:"current_retakes,omitempty"`

	// Reject maps call names (e.g. "lesson.process_page") to the error code
	// the server rejects them with.
	Reject map[string]string `yaml:"reject,omitempty"`
}

// Step is one scenario step. Exactly one of Stage, Sync and Remote is set.
type Step struct {
	// Stage is an action kind (discussion, reply, page, finish, feedback)
	// staged with Args.
	Stage string         `yaml:"stage,omitempty"`
	Args  map[string]any `yaml:"args,omitempty"`
	// User stages as another user of the site.
	User int64 `yaml:"user,omitempty"`

	// Sync runs sync passes.
	Sync *SyncStep `yaml:"sync,omitempty"`

	// Remote replaces the remote's behaviour from this step on.
	Remote *RemoteSpec `yaml:"remote,omitempty"`

	// Expect checks the step's outcome. If nil, the step must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// SyncStep selects what to sync. The zero value syncs the whole site.
type SyncStep struct {
	Component string `yaml:"component,omitempty"`
	Activity  int64  `yaml:"activity,omitempty"`
}

// ExpectClause specifies the expected outcome of a step. For a site-wide
// sync the counts are summed over all passes and still_pending is true if
// any pass left data staged.
type ExpectClause struct {
	// Error is a substring of the expected staging error.
	Error string `yaml:"error,omitempty"`

	Status       string `yaml:"status,omitempty"`
	Passes       *int   `yaml:"passes,omitempty"`
	Submitted    *int   `yaml:"submitted,omitempty"`
	Warnings     *int   `yaml:"warnings,omitempty"`
	Discarded    *int   `yaml:"discarded,omitempty"`
	StillPending *bool  `yaml:"still_pending,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": Check a call appears in trace with args
	// - "trace_order": Check calls appear in order
	// - "trace_count": Check a call appears exactly N times
	// - "final_state": Query table and verify expected values
	Type string `yaml:"type"`

	// Action is the call name (used by trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Args are the expected call arguments (used by trace_contains).
	// Subset match - only specified fields are validated.
	Args map[string]any `yaml:"args,omitempty"`

	// Outcome optionally restricts trace_contains and trace_count to calls
	// with this outcome.
	Outcome string `yaml:"outcome,omitempty"`

	// Table is the table name (used by final_state).
	Table string `yaml:"table,omitempty"`

	// Where specifies row filters (used by final_state).
	// All fields must match exactly; null matches NULL.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected field values of the single matching row
	// (used by final_state). Subset match.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Rows is the expected number of matching rows (used by final_state).
	// When set, Expect may be omitted.
	Rows *int `yaml:"rows,omitempty"`

	// Count is the expected number of occurrences (used by trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected call order (used by trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Site.ID == "" {
		scenario.Site.ID = DefaultSiteID
	}
	if scenario.Site.UserID == 0 {
		scenario.Site.UserID = DefaultUserID
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s *Step) error {
	set := 0
	if s.Stage != "" {
		set++
	}
	if s.Sync != nil {
		set++
	}
	if s.Remote != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of stage, sync and remote is required", index)
	}

	switch {
	case s.Stage != "":
		if !stage.Valid(s.Stage) {
			return fmt.Errorf("steps[%d]: unknown action kind %q", index, s.Stage)
		}
		if s.Args == nil {
			return fmt.Errorf("steps[%d]: args is required", index)
		}
	case s.Sync != nil:
		if (s.Sync.Component == "") != (s.Sync.Activity == 0) {
			return fmt.Errorf("steps[%d]: sync needs both component and activity, or neither", index)
		}
		if s.Expect != nil && s.Expect.Error != "" {
			return fmt.Errorf("steps[%d]: expect.error only applies to stage steps", index)
		}
	default:
		if s.Expect != nil {
			return fmt.Errorf("steps[%d]: remote steps take no expect", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 && a.Rows == nil {
			return fmt.Errorf("assertions[%d]: expect or rows is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
