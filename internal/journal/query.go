package journal

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// filterColumns are the entries columns CountEntries may filter on.
// Column names are interpolated into SQL, so only these are accepted.
var filterColumns = map[string]bool{
	"session_id": true,
	"seq":        true,
	"org_id":     true,
	"event":      true,
	"entity_id":  true,
	"hash":       true,
	"outcome":    true,
	"detail":     true,
}

// CountEntries returns how many entries match every column = value pair
// in where. An empty where counts all entries.
func (j *Journal) CountEntries(ctx context.Context, where map[string]any) (int, error) {
	clause, args, err := buildWhereClause(where)
	if err != nil {
		return 0, err
	}

	query := "SELECT COUNT(*) FROM entries"
	if clause != "" {
		query += " WHERE " + clause
	}

	var n int
	if err := j.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are
// sorted for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !filterColumns[key] {
			return "", nil, fmt.Errorf("cannot filter entries on %q", key)
		}
		clauses = append(clauses, key+" = ?")
		args = append(args, where[key])
	}
	return strings.Join(clauses, " AND "), args, nil
}
