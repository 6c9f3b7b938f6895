package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string // optional - show one session's entries
	Hash     string // optional - show every delivery of one envelope
	Outcome  string // optional - filter entries by outcome
}

// SessionSummary is one journaled subscription with its entry counts.
type SessionSummary struct {
	journal.Session
	Entries int `json:"entries"`
	Applied int `json:"applied"`
}

// TraceResult holds the trace output. Sessions is set when listing;
// Entries otherwise.
type TraceResult struct {
	Session  *journal.Session `json:"session,omitempty"`
	Hash     string           `json:"hash,omitempty"`
	Sessions []SessionSummary `json:"sessions,omitempty"`
	Entries  []journal.Entry  `json:"entries,omitempty"`
	Stats    TraceStats       `json:"stats"`
}

// TraceStats holds summary statistics for the listed entries.
type TraceStats struct {
	TotalEntries int            `json:"total_entries"`
	Applied      int            `json:"applied"`
	Dropped      map[string]int `json:"dropped,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect the event journal",
		Long: `Inspect the journal written by run.

Without --session or --hash, lists every session with its entry counts.
With --session, shows that session's entries in delivery order: event,
entity, outcome and the cache operations it caused. With --hash, shows
every delivery of one envelope across sessions, which exposes broker
redelivery.

Examples:
  livesync trace --db ./livesync.db
  livesync trace --db ./livesync.db --session 0192f7c4-...
  livesync trace --db ./livesync.db --session 0192f7c4-... --outcome self_origin
  livesync trace --db ./livesync.db --hash 9c1e... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session to show")
	cmd.Flags().StringVar(&opts.Hash, "hash", "", "envelope hash to show")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "only entries with this outcome")
	cmd.MarkFlagsMutuallyExclusive("session", "hash")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Opening would create an empty journal.
	if _, err := os.Stat(opts.Database); errors.Is(err, fs.ErrNotExist) {
		return NewExitError(ExitCommandError, fmt.Sprintf("%s: journal not found: %s", ErrCodeNotFound, opts.Database))
	}

	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	var result TraceResult
	switch {
	case opts.Session != "":
		session, err := j.ReadSession(ctx, opts.Session)
		if errors.Is(err, journal.ErrSessionNotFound) {
			return WrapExitError(ExitCommandError, ErrCodeSessionAbsent, err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, ErrCodeJournal, err)
		}
		entries, err := j.Entries(ctx, opts.Session)
		if err != nil {
			return WrapExitError(ExitCommandError, ErrCodeJournal, err)
		}
		result.Session = &session
		result.Entries = filterOutcome(entries, opts.Outcome)

	case opts.Hash != "":
		entries, err := j.EntriesByHash(ctx, opts.Hash)
		if err != nil {
			return WrapExitError(ExitCommandError, ErrCodeJournal, err)
		}
		result.Hash = opts.Hash
		result.Entries = filterOutcome(entries, opts.Outcome)

	default:
		sessions, err := summarizeSessions(ctx, j)
		if err != nil {
			return WrapExitError(ExitCommandError, ErrCodeJournal, err)
		}
		result.Sessions = sessions
		for _, s := range sessions {
			result.Stats.TotalEntries += s.Entries
			result.Stats.Applied += s.Applied
		}
	}

	if result.Sessions == nil {
		result.Stats = entryStats(result.Entries)
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

func summarizeSessions(ctx context.Context, j *journal.Journal) ([]SessionSummary, error) {
	sessions, err := j.Sessions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		total, err := j.CountEntries(ctx, map[string]any{"session_id": s.ID})
		if err != nil {
			return nil, err
		}
		applied, err := j.CountEntries(ctx, map[string]any{
			"session_id": s.ID,
			"outcome":    journal.OutcomeApplied,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, SessionSummary{Session: s, Entries: total, Applied: applied})
	}
	return out, nil
}

func filterOutcome(entries []journal.Entry, outcome string) []journal.Entry {
	if outcome == "" {
		return entries
	}
	out := []journal.Entry{}
	for _, e := range entries {
		if e.Outcome == outcome {
			out = append(out, e)
		}
	}
	return out
}

func entryStats(entries []journal.Entry) TraceStats {
	stats := TraceStats{TotalEntries: len(entries)}
	for _, e := range entries {
		if e.Outcome == journal.OutcomeApplied {
			stats.Applied++
			continue
		}
		if stats.Dropped == nil {
			stats.Dropped = map[string]int{}
		}
		stats.Dropped[e.Outcome]++
	}
	return stats
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}
	if result.Session != nil {
		response.Session = result.Session.ID
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	switch {
	case result.Session != nil:
		fmt.Fprintf(w, "Session: %s\n", result.Session.ID)
		fmt.Fprintf(w, "Organization: %s  Principal: %s\n", result.Session.OrgID, result.Session.PrincipalID)
	case result.Hash != "":
		fmt.Fprintf(w, "Envelope: %s\n", result.Hash)
	default:
		fmt.Fprintln(w, "=== Sessions ===")
		if len(result.Sessions) == 0 {
			fmt.Fprintln(w, "  (no sessions)")
		}
		for _, s := range result.Sessions {
			fmt.Fprintf(w, "  %s  org=%s  entries=%d  applied=%d\n", s.ID, s.OrgID, s.Entries, s.Applied)
		}
		return nil
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Entries ===")
	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "  (no entries)")
	}
	for _, e := range result.Entries {
		formatEntry(w, e, result.Hash != "", verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total:   %d\n", result.Stats.TotalEntries)
	fmt.Fprintf(w, "  Applied: %d\n", result.Stats.Applied)
	if len(result.Stats.Dropped) > 0 {
		fmt.Fprintf(w, "  Dropped: %s\n", formatCounts(result.Stats.Dropped))
	}
	return nil
}

// formatEntry formats a single journal entry for text output.
func formatEntry(w io.Writer, e journal.Entry, showSession, verbose bool) {
	prefix := ""
	if showSession {
		prefix = truncateID(e.Session) + " "
	}
	target := e.Event
	if e.EntityID != "" {
		target += " " + e.EntityID
	}
	fmt.Fprintf(w, "  %s[%d] %s -> %s\n", prefix, e.Seq, target, e.Outcome)
	if len(e.Effects) > 0 {
		fmt.Fprintf(w, "       %s\n", strings.Join(e.Effects, ", "))
	}
	if verbose && e.Detail != "" {
		fmt.Fprintf(w, "       Detail: %s\n", e.Detail)
	}
	if verbose && e.Hash != "" {
		fmt.Fprintf(w, "       Hash: %s\n", truncateID(e.Hash))
	}
}

// formatCounts renders counts with sorted keys so output is deterministic.
func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
