package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario: a principal, scripted
// API responses, a sequence of steps driving the engine, and assertions
// on what the engine did.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Principal is the user the engine runs as. Events this user caused
	// are suppressed.
	Principal string `yaml:"principal"`

	// SessionPrefix names the subscriptions: "<prefix>-1", "<prefix>-2", ...
	// Defaults to "test-session".
	SessionPrefix string `yaml:"session_prefix,omitempty"`

	// PageSize overrides how many messages a channel refresh requests.
	PageSize int `yaml:"page_size,omitempty"`

	// Fixtures script API responses before the first step.
	Fixtures []Fixture `yaml:"fixtures,omitempty"`

	// Steps drive the engine. The engine is drained after each one.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Fixture scripts one API path.
type Fixture struct {
	Path string `yaml:"path"`

	// Status defaults to 200.
	Status int `yaml:"status,omitempty"`

	// Body is encoded as JSON.
	Body any `yaml:"body,omitempty"`

	// Error, if set, makes the fetch fail at the transport level.
	Error string `yaml:"error,omitempty"`
}

// JSON returns the fixture body as JSON.
func (f Fixture) JSON() ([]byte, error) {
	if f.Body == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(f.Body)
}

// Step is exactly one of its fields.
type Step struct {
	// Open switches the engine to the named organization.
	Open string `yaml:"open,omitempty"`

	// View loads a channel's messages if not yet cached.
	View string `yaml:"view,omitempty"`

	// Close drops the subscription.
	Close bool `yaml:"close,omitempty"`

	// Publish delivers an event on an organization's channel.
	Publish *PublishStep `yaml:"publish,omitempty"`

	// Respond re-scripts an API path mid-scenario.
	Respond *Fixture `yaml:"respond,omitempty"`
}

// PublishStep is an event delivered by the broker.
type PublishStep struct {
	// Org is the channel's organization. Defaults to the last opened one.
	Org string `yaml:"org,omitempty"`

	Event string `yaml:"event"`

	// Payload is encoded as JSON. Raw, if set, is sent verbatim instead,
	// for malformed payloads.
	Payload any    `yaml:"payload,omitempty"`
	Raw     string `yaml:"raw,omitempty"`
}

// Data returns the bytes to publish.
func (p PublishStep) Data() ([]byte, error) {
	if p.Raw != "" {
		return []byte(p.Raw), nil
	}
	if p.Payload == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Payload)
}

func (s Step) kind() string {
	var kinds []string
	if s.Open != "" {
		kinds = append(kinds, "open")
	}
	if s.View != "" {
		kinds = append(kinds, "view")
	}
	if s.Close {
		kinds = append(kinds, "close")
	}
	if s.Publish != nil {
		kinds = append(kinds, "publish")
	}
	if s.Respond != nil {
		kinds = append(kinds, "respond")
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event, Outcome and EntityID select trace entries (trace_contains,
	// trace_count). Empty fields match anything.
	Event    string `yaml:"event,omitempty"`
	Outcome  string `yaml:"outcome,omitempty"`
	EntityID string `yaml:"entity_id,omitempty"`

	// Effects, if set, must equal the matched entry's effects
	// (trace_contains).
	Effects []string `yaml:"effects,omitempty"`

	// Events is the expected order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of matches (trace_count,
	// notification_count, navigation_count, fetch_count, journal_count).
	Count int `yaml:"count,omitempty"`

	// Title and BodyContains select a notification (notification).
	Title        string `yaml:"title,omitempty"`
	BodyContains string `yaml:"body_contains,omitempty"`

	// Path is the API path (fetch_count).
	Path string `yaml:"path,omitempty"`

	// Message is the expected error text (error_reported).
	Message string `yaml:"message,omitempty"`

	// Cache, Channel and IDs describe cached state (final_state). Cache is
	// "organization", "channels" or "messages"; Channel selects the
	// message list. IDs must match exactly, in order. Fetched, if set,
	// says whether the channel's messages were loaded at all.
	Cache   string   `yaml:"cache,omitempty"`
	Channel string   `yaml:"channel,omitempty"`
	IDs     []string `yaml:"ids,omitempty"`
	Fetched *bool    `yaml:"fetched,omitempty"`

	// Where filters journal entries by column (journal_count).
	Where map[string]any `yaml:"where,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains     = "trace_contains"
	AssertTraceOrder        = "trace_order"
	AssertTraceCount        = "trace_count"
	AssertNotification      = "notification"
	AssertNotificationCount = "notification_count"
	AssertNavigationCount   = "navigation_count"
	AssertFetchCount        = "fetch_count"
	AssertErrorReported     = "error_reported"
	AssertFinalState        = "final_state"
	AssertJournalCount      = "journal_count"
)

// Cache names accepted by final_state.
const (
	CacheOrganization = "organization"
	CacheChannels     = "channels"
	CacheMessages     = "messages"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Principal == "" {
		return fmt.Errorf("principal is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, f := range s.Fixtures {
		if f.Path == "" {
			return fmt.Errorf("fixtures[%d]: path is required", i)
		}
	}

	opened := false
	for i, step := range s.Steps {
		switch step.kind() {
		case "":
			return fmt.Errorf("steps[%d]: exactly one of open, view, close, publish, respond is required", i)
		case "open":
			opened = true
		case "publish":
			if step.Publish.Event == "" {
				return fmt.Errorf("steps[%d].publish: event is required", i)
			}
			if step.Publish.Org == "" && !opened {
				return fmt.Errorf("steps[%d].publish: org is required before the first open", i)
			}
		case "respond":
			if step.Respond.Path == "" {
				return fmt.Errorf("steps[%d].respond: path is required", i)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount, AssertNotificationCount, AssertNavigationCount, AssertJournalCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertNotification:
		if a.Title == "" && a.BodyContains == "" {
			return fmt.Errorf("assertions[%d]: title or body_contains is required for notification", index)
		}
	case AssertFetchCount:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for fetch_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for fetch_count", index)
		}
	case AssertErrorReported:
		if a.Message == "" {
			return fmt.Errorf("assertions[%d]: message is required for error_reported", index)
		}
	case AssertFinalState:
		switch a.Cache {
		case CacheOrganization, CacheChannels:
		case CacheMessages:
			if a.Channel == "" {
				return fmt.Errorf("assertions[%d]: channel is required for final_state of messages", index)
			}
		default:
			return fmt.Errorf("assertions[%d]: cache must be organization, channels or messages, got %q", index, a.Cache)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
