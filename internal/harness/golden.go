package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/storyflow/internal/ir"
)

// Snapshot captures what a scenario run produced: the engine trace and every
// field's evaluated outcome. It is serialized as canonical JSON.
type Snapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	Fields       map[string]FieldOutcome
}

// toCanonicalMap converts a Snapshot to plain values for ir.MarshalCanonical.
func (s *Snapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		m := map[string]any{
			"type":    event.Type,
			"target":  event.Target,
			"seq":     event.Seq,
			"version": event.Version,
		}
		if event.Client != "" {
			m["client"] = event.Client
			m["client_seq"] = event.ClientSeq
		}
		if event.Outcome != "" {
			m["outcome"] = event.Outcome
		}
		trace[i] = m
	}

	fields := make(map[string]any, len(s.Fields))
	for name, f := range s.Fields {
		if f.Error != "" {
			fields[name] = map[string]any{"error": f.Error}
			continue
		}
		fields[name] = map[string]any{"values": f.Values}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"fields":        fields,
	}
}

// MarshalSnapshot returns the canonical JSON of a run.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	snapshot := Snapshot{ScenarioName: name, Trace: result.Trace, Fields: result.Fields}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
