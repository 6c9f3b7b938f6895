package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/livesync/internal/broker"
	"github.com/roach88/livesync/internal/engine"
	"github.com/roach88/livesync/internal/journal"
	"github.com/roach88/livesync/internal/testutil"
)

// DrainTimeout bounds how long a step may take to settle.
const DrainTimeout = 5 * time.Second

// Harness is the test execution engine.
// It drives a real engine against an in-memory broker, a scripted API and
// a recording UI, with a deterministic session sequence.
type Harness struct {
	engine  *engine.Engine
	broker  *broker.Memory
	fetcher *testutil.Fetcher
	ui      *testutil.UI
	journal *journal.Journal
	logger  *slog.Logger

	// org is the last opened organization, the default publish target.
	org string
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory journal for isolation.
//
// Execution flow:
// 1. Create fresh in-memory journal, broker, API script and UI recorder
// 2. Start the engine loop
// 3. Execute steps, draining the engine after each
// 4. Collect trace and state, evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	j, err := journal.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory journal: %w", err)
	}
	defer j.Close()

	h := &Harness{
		broker:  broker.NewMemory(),
		fetcher: testutil.NewFetcher(),
		ui:      testutil.NewUI(),
		journal: j,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	for i, f := range scenario.Fixtures {
		if err := h.script(f); err != nil {
			return nil, fmt.Errorf("fixture %d: %w", i, err)
		}
	}

	opts := []engine.EngineOption{
		engine.WithJournal(j),
		engine.WithSessionIDGenerator(testutil.NewSessionSequence(scenario.SessionPrefix)),
	}
	if scenario.PageSize > 0 {
		opts = append(opts, engine.WithPageSize(scenario.PageSize))
	}
	h.engine = engine.New(scenario.Principal, h.broker, h.fetcher, h.ui, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.kind(), err)
		}
		h.logger.Info("step completed", "step", i, "kind", step.kind())
	}

	result, err := h.collect(ctx)
	if err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(ctx, result, scenario.Assertions, j) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) script(f Fixture) error {
	if f.Error != "" {
		h.fetcher.Fail(f.Path, errors.New(f.Error))
		return nil
	}
	body, err := f.JSON()
	if err != nil {
		return fmt.Errorf("encode body for %s: %w", f.Path, err)
	}
	status := f.Status
	if status == 0 {
		status = 200
	}
	h.fetcher.Respond(f.Path, status, string(body))
	return nil
}

// executeStep submits one step and waits for the engine to settle.
func (h *Harness) executeStep(ctx context.Context, step Step) error {
	switch step.kind() {
	case "open":
		h.org = step.Open
		if err := h.engine.Open(step.Open); err != nil {
			return err
		}
	case "view":
		if err := h.engine.ViewChannel(step.View); err != nil {
			return err
		}
	case "close":
		if err := h.engine.Close(); err != nil {
			return err
		}
	case "publish":
		data, err := step.Publish.Data()
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		org := step.Publish.Org
		if org == "" {
			org = h.org
		}
		n := h.broker.Publish(broker.ChannelName(org), step.Publish.Event, data)
		h.logger.Info("published", "event", step.Publish.Event, "org_id", org, "handlers", n)
	case "respond":
		return h.script(*step.Respond)
	default:
		return fmt.Errorf("invalid step")
	}

	drainCtx, cancel := context.WithTimeout(ctx, DrainTimeout)
	defer cancel()
	if err := h.engine.Drain(drainCtx); err != nil {
		return fmt.Errorf("engine did not settle: %w", err)
	}
	return nil
}

// collect reads the journal, the UI recorder, the API script and the
// caches into a Result.
func (h *Harness) collect(ctx context.Context) (*Result, error) {
	result := NewResult()

	sessions, err := h.journal.Sessions(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		entries, err := h.journal.Entries(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			result.Trace = append(result.Trace, traceEventFromEntry(e))
		}
	}
	sort.SliceStable(result.Trace, func(i, j int) bool {
		return result.Trace[i].Seq < result.Trace[j].Seq
	})

	result.Notifications = append(result.Notifications, h.ui.Notifications()...)
	for _, d := range h.ui.Navigations() {
		result.Navigations = append(result.Navigations, d.String())
	}
	result.Reported = append(result.Reported, h.ui.Errors()...)
	for _, path := range h.fetcher.History() {
		result.Fetches[path]++
	}

	if org := h.engine.Organization().Get(); org != nil {
		result.State.Organization = org.ID
	}
	for _, ch := range h.engine.Channels().Get() {
		result.State.Channels = append(result.State.Channels, ch.ID)
	}
	for channelID, list := range h.engine.Messages().Get() {
		ids := make([]string, len(list))
		for i, m := range list {
			ids[i] = m.ID
		}
		result.State.Messages[channelID] = ids
	}

	return result, nil
}
