package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/treesync/internal/ir"
)

// TraceSnapshot is the content of a golden file.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
}

// toValue converts the snapshot to canonical form.
func (s TraceSnapshot) toValue() ir.Object {
	trace := make(ir.Array, len(s.Trace))
	for i, ev := range s.Trace {
		trace[i] = ev.toValue()
	}
	return ir.Object{
		"scenario": ir.String(s.ScenarioName),
		"trace":    trace,
	}
}

// RunWithGolden runs a scenario and compares its trace against
// testdata/golden/<scenario name>.golden. Regenerate with
// go test ./internal/harness -update.
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

// AssertGolden compares an already computed result's trace against the
// golden file for scenarioName.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}

// Snapshot renders the golden file content for a result.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	return ir.MarshalCanonical(snapshot.toValue())
}
