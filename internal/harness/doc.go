// Package harness provides conformance testing for the livesync engine.
//
// A scenario scripts the REST API, drives a real engine through an
// in-memory broker, and asserts on what the engine journaled, what it
// asked the UI to do, what it fetched, and what it cached.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	principal: u1
//	fixtures:
//	  - path: /organisations/o1
//	    body: { id: o1, name: Acme }
//	steps:
//	  - open: o1
//	  - publish:
//	      event: chat-message.insert
//	      payload: { id: m1, doc: { channel_id: c1, owner_id: u2 } }
//	  - view: c1
//	  - respond: { path: /organisations/o1, status: 403, body: { message: Forbidden } }
//	  - close: true
//	assertions:
//	  - type: trace_contains
//	    event: chat-message.insert
//	    outcome: applied
//	    effects: [messages.refresh:c1, notify]
//	  - type: fetch_count
//	    path: /organisations/o1/channels/c1/messages
//	    count: 1
//
// # Assertion Types
//
//   - trace_contains: an entry matches event/outcome/entity_id (and effects)
//   - trace_order: events first appear in the given order
//   - trace_count: exactly N entries match event/outcome/entity_id
//   - notification: a notification matches title and/or body_contains
//   - notification_count, navigation_count: exactly N UI requests
//   - fetch_count: exactly N requests of an API path
//   - error_reported: an API error message reached the UI
//   - final_state: cached organization, channel or message ids
//   - journal_count: exactly N journal rows match column filters
//
// # Deterministic Testing
//
// The engine is drained after every step, so each step's fetches and
// completions have settled before the next begins. Session ids come from
// testutil.SessionSequence and seq from the engine's logical clock, so
// identical scenarios produce identical traces for golden comparison.
package harness
