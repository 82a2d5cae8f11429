package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/learnsync/internal/payload"
)

// snapshot builds the canonical golden form of a trace.
func snapshot(name string, trace []TraceEvent) payload.Object {
	events := make(payload.Array, len(trace))
	for i, event := range trace {
		obj := payload.Object{
			"type":   payload.String(event.Type),
			"action": payload.String(event.Action),
			"args":   payload.NormalizeObject(event.Args),
			"seq":    payload.Int(event.Seq),
		}
		if event.Outcome != "" {
			obj["outcome"] = payload.String(event.Outcome)
		}
		events[i] = obj
	}
	return payload.Object{
		"scenario": payload.String(name),
		"trace":    events,
	}
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass and Errors as well.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	text, err := payload.Encode(snapshot(scenarioName, result.Trace))
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, []byte(text))

	return nil
}
