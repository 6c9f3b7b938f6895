package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Response is a scripted API reply.
type Response struct {
	Status int
	Body   []byte
	Err    error
}

// Fetcher is a scripted API collaborator. Responses are looked up by
// exact path first, then by path with the query string stripped. Unknown
// paths answer 404.
//
// Thread-safety: all methods are safe for concurrent use.
type Fetcher struct {
	mu        sync.Mutex
	responses map[string]Response
	gates     map[string]chan struct{}
	calls     []string
}

// NewFetcher creates a fetcher with no scripted responses.
func NewFetcher() *Fetcher {
	return &Fetcher{
		responses: make(map[string]Response),
		gates:     make(map[string]chan struct{}),
	}
}

// Respond scripts a raw reply for path.
func (f *Fetcher) Respond(path string, status int, body string) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[path] = Response{Status: status, Body: []byte(body)}
	return f
}

// RespondJSON scripts a reply with v encoded as JSON. Panics if v cannot
// be encoded (test misconfiguration).
func (f *Fetcher) RespondJSON(path string, status int, v any) *Fetcher {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: encode response for %s: %v", path, err))
	}
	return f.Respond(path, status, string(data))
}

// Fail scripts a transport error for path.
func (f *Fetcher) Fail(path string, err error) *Fetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[path] = Response{Err: err}
	return f
}

// Hold makes fetches of path block until Release(path) is called.
func (f *Fetcher) Hold(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gates[path] = make(chan struct{})
}

// Release unblocks fetches held by Hold.
func (f *Fetcher) Release(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.gates[path]; ok {
		close(g)
		delete(f.gates, path)
	}
}

// Fetch implements api.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, path string) (int, []byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, path)
	gate := f.gateFor(path)
	resp, ok := f.lookup(path)
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		}
	}

	if !ok {
		return 404, []byte(`{"message":"not found"}`), nil
	}
	if resp.Err != nil {
		return 0, nil, resp.Err
	}
	return resp.Status, resp.Body, nil
}

func (f *Fetcher) gateFor(path string) chan struct{} {
	if g, ok := f.gates[path]; ok {
		return g
	}
	return f.gates[stripQuery(path)]
}

func (f *Fetcher) lookup(path string) (Response, bool) {
	if r, ok := f.responses[path]; ok {
		return r, true
	}
	r, ok := f.responses[stripQuery(path)]
	return r, ok
}

// Calls returns how many times path was fetched. A path without a query
// string also counts fetches of that path with any query.
func (f *Fetcher) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == path || (!strings.Contains(path, "?") && stripQuery(c) == path) {
			n++
		}
	}
	return n
}

// TotalCalls returns the number of fetches of any path.
func (f *Fetcher) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// History returns every fetched path in call order.
func (f *Fetcher) History() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func stripQuery(path string) string {
	p, _, _ := strings.Cut(path, "?")
	return p
}
