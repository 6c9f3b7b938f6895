package journal

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/livesync/internal/model"
)

// Outcome value for an event the router applied.
const OutcomeApplied = "applied"

// Session is one broker subscription.
type Session struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	PrincipalID string `json:"principal_id"`
}

// Entry is one processed broker event.
type Entry struct {
	Session  string `json:"session"`
	Seq      int64  `json:"seq"`
	OrgID    string `json:"org_id"`
	Event    string `json:"event"`
	EntityID string `json:"entity_id,omitempty"`
	// Hash is the envelope content hash; empty when the payload could
	// not be decoded.
	Hash string `json:"hash,omitempty"`
	// Outcome is OutcomeApplied or a drop reason.
	Outcome string `json:"outcome"`
	// Detail explains a drop.
	Detail string `json:"detail,omitempty"`
	// Effects lists what the router did, in order.
	Effects []string `json:"effects,omitempty"`
}

// marshalEffects stores effects as canonical JSON so identical runs write
// identical rows.
func marshalEffects(effects []string) (string, error) {
	arr := make([]any, len(effects))
	for i, e := range effects {
		arr[i] = e
	}
	data, err := model.MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("marshal effects: %w", err)
	}
	return string(data), nil
}

func unmarshalEffects(data string) ([]string, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal effects: %w", err)
	}
	return out, nil
}
