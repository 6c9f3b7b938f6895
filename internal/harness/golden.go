package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/livesync/internal/model"
)

// TraceSnapshot captures what a scenario did, for golden comparison.
// Hashes and drop details are left out; outcomes and effects carry the
// behavior.
type TraceSnapshot struct {
	ScenarioName string
	Result       *Result
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because model.MarshalCanonical only handles JSON-shaped values.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	r := s.Result

	trace := make([]any, len(r.Trace))
	for i, event := range r.Trace {
		m := map[string]any{
			"seq":     event.Seq,
			"session": event.Session,
			"org_id":  event.OrgID,
			"event":   event.Event,
			"outcome": event.Outcome,
		}
		if event.EntityID != "" {
			m["entity_id"] = event.EntityID
		}
		if len(event.Effects) > 0 {
			m["effects"] = anyStrings(event.Effects)
		}
		trace[i] = m
	}

	notifications := make([]any, len(r.Notifications))
	for i, n := range r.Notifications {
		notifications[i] = map[string]any{"title": n.Title, "body_html": n.BodyHTML}
	}

	fetches := make(map[string]any, len(r.Fetches))
	for path, n := range r.Fetches {
		fetches[path] = n
	}

	messages := make(map[string]any, len(r.State.Messages))
	for channelID, ids := range r.State.Messages {
		messages[channelID] = anyStrings(ids)
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"notifications": notifications,
		"navigations":   anyStrings(r.Navigations),
		"reported":      anyStrings(r.Reported),
		"fetches":       fetches,
		"state": map[string]any{
			"organization": r.State.Organization,
			"channels":     anyStrings(r.State.Channels),
			"messages":     messages,
		},
	}
}

func anyStrings(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Marshal renders the snapshot as canonical JSON.
func (s *TraceSnapshot) Marshal() ([]byte, error) {
	return model.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{ScenarioName: scenarioName, Result: result}
	data, err := snapshot.Marshal()
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
