package harness

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s %v\n", event.Seq, event.Event, event.EntityID, event.Outcome, event.Effects)
		}
	}

	return buf.String()
}

// EntryCounter counts journal entries matching column filters.
// Implemented by *journal.Journal.
type EntryCounter interface {
	CountEntries(ctx context.Context, where map[string]any) (int, error)
}

// matches reports whether event satisfies the assertion's selectors.
func matches(event TraceEvent, a Assertion) bool {
	if a.Event != "" && event.Event != a.Event {
		return false
	}
	if a.Outcome != "" && event.Outcome != a.Outcome {
		return false
	}
	if a.EntityID != "" && event.EntityID != a.EntityID {
		return false
	}
	return true
}

func describe(a Assertion) string {
	parts := []string{}
	if a.Event != "" {
		parts = append(parts, "event "+a.Event)
	}
	if a.EntityID != "" {
		parts = append(parts, "entity "+a.EntityID)
	}
	if a.Outcome != "" {
		parts = append(parts, "outcome "+a.Outcome)
	}
	if len(parts) == 0 {
		return "any event"
	}
	return strings.Join(parts, ", ")
}

// assertTraceContains checks that some entry matches the selectors and,
// if effects are given, carries exactly those effects.
func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if !matches(event, a) {
			continue
		}
		if a.Effects == nil || slices.Equal(event.Effects, a.Effects) {
			return nil
		}
	}

	expected := describe(a)
	if a.Effects != nil {
		expected += fmt.Sprintf(" with effects %v", a.Effects)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that events first appear in the given order.
// Intervening events are allowed.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Event]; !seen {
			positions[event.Event] = i + 1 // 1-indexed for readability
		}
	}

	for _, name := range a.Events {
		if positions[name] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", a.Events),
				Actual:   fmt.Sprintf("missing event: %s", name),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Events); i++ {
		prev, curr := a.Events[i-1], a.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks the number of matching entries.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertNotification(result *Result, a Assertion) error {
	for _, n := range result.Notifications {
		if a.Title != "" && n.Title != a.Title {
			continue
		}
		if a.BodyContains != "" && !strings.Contains(n.BodyHTML, a.BodyContains) {
			continue
		}
		return nil
	}
	return &AssertionError{
		Type:     AssertNotification,
		Expected: fmt.Sprintf("notification title=%q body containing %q", a.Title, a.BodyContains),
		Actual:   fmt.Sprintf("%d notifications: %v", len(result.Notifications), result.Notifications),
	}
}

func assertCount(kind string, what string, got, want int) error {
	if got == want {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%d %s", want, what),
		Actual:   fmt.Sprintf("%d", got),
	}
}

// fetchCount counts requests of path. A path without a query string also
// counts requests of that path with any query.
func fetchCount(fetches map[string]int, path string) int {
	n := 0
	for p, c := range fetches {
		if p == path {
			n += c
			continue
		}
		if !strings.Contains(path, "?") {
			if base, _, _ := strings.Cut(p, "?"); base == path {
				n += c
			}
		}
	}
	return n
}

func assertErrorReported(result *Result, a Assertion) error {
	if slices.Contains(result.Reported, a.Message) {
		return nil
	}
	return &AssertionError{
		Type:     AssertErrorReported,
		Expected: fmt.Sprintf("error %q reported", a.Message),
		Actual:   fmt.Sprintf("reported: %q", result.Reported),
	}
}

// assertFinalState compares cached ids.
func assertFinalState(state State, a Assertion) error {
	var got []string
	switch a.Cache {
	case CacheOrganization:
		if state.Organization != "" {
			got = []string{state.Organization}
		}
	case CacheChannels:
		got = state.Channels
	case CacheMessages:
		ids, fetched := state.Messages[a.Channel]
		if a.Fetched != nil && *a.Fetched != fetched {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("messages of %s fetched=%t", a.Channel, *a.Fetched),
				Actual:   fmt.Sprintf("fetched=%t", fetched),
			}
		}
		got = ids
	}

	if a.IDs == nil && a.Fetched != nil {
		return nil
	}
	if !slices.Equal(got, a.IDs) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s %s ids %v", a.Cache, a.Channel, a.IDs),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. journal may be nil if no journal_count assertion is used.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, journal EntryCounter) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertNotification:
			err = assertNotification(result, a)
		case AssertNotificationCount:
			err = assertCount(a.Type, "notifications", len(result.Notifications), a.Count)
		case AssertNavigationCount:
			err = assertCount(a.Type, "navigations", len(result.Navigations), a.Count)
		case AssertFetchCount:
			err = assertCount(a.Type, "fetches of "+a.Path, fetchCount(result.Fetches, a.Path), a.Count)
		case AssertErrorReported:
			err = assertErrorReported(result, a)
		case AssertFinalState:
			err = assertFinalState(result.State, a)
		case AssertJournalCount:
			if journal == nil {
				err = fmt.Errorf("journal_count needs a journal")
				break
			}
			n, qerr := journal.CountEntries(ctx, a.Where)
			if qerr != nil {
				err = qerr
				break
			}
			err = assertCount(a.Type, fmt.Sprintf("journal entries where %v", a.Where), n, a.Count)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}
