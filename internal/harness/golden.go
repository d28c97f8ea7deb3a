package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/realm/internal/ir"
)

// TraceSnapshot captures the trace of one scenario run.
// It is serialized as canonical JSON for byte-stable golden files.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Engine       string       `json:"engine,omitempty"`
	Trace        []TraceEvent `json:"trace"`
}

// toValue converts the snapshot into an ir.Value for canonical encoding.
func (s *TraceSnapshot) toValue() (ir.Value, error) {
	trace := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		m := map[string]any{
			"seq":     event.Seq,
			"op":      event.Op,
			"version": event.Version,
		}
		if event.Result != nil {
			m["result"] = event.Result
		}
		if event.Error != "" {
			m["error"] = event.Error
		}
		trace[i] = m
	}

	out := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
	}
	if s.Engine != "" {
		out["engine"] = s.Engine
	}
	return ir.FromGo(out)
}

// MarshalTrace returns the canonical JSON of a scenario's trace.
func MarshalTrace(scenario *Scenario, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		Engine:       scenario.Engine,
		Trace:        result.Trace,
	}
	v, err := snapshot.toValue()
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(v)
}

// RunWithGolden executes a scenario and compares its trace against
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
	if err := AssertGolden(t, scenario, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against the golden
// file without re-running the scenario.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenario, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)
	return nil
}
