// Package config loads the livesync configuration file.
//
// Files may be YAML, JSON or CUE. Whatever the format, the document is
// unified with the embedded CUE schema, which supplies defaults and
// rejects unknown fields, and then decoded into Config.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cueyaml "cuelang.org/go/encoding/yaml"

	"github.com/roach88/livesync/internal/api"
	"github.com/roach88/livesync/internal/broker"
)

//go:embed schema.cue
var schemaSource string

// Config is a validated configuration with defaults applied.
type Config struct {
	PrincipalID    string `json:"principal_id"`
	OrganizationID string `json:"organization_id,omitempty"`

	API           APIConfig           `json:"api"`
	Broker        BrokerConfig        `json:"broker"`
	Messages      MessagesConfig      `json:"messages"`
	Notifications NotificationsConfig `json:"notifications"`
	Journal       JournalConfig       `json:"journal"`
	Log           LogConfig           `json:"log"`
}

// APIConfig locates the REST API.
type APIConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"`
	Timeout string `json:"timeout"`
}

// BrokerConfig locates the Pusher endpoint. Either URL, or Key and
// Cluster, must be set.
type BrokerConfig struct {
	URL              string `json:"url,omitempty"`
	Key              string `json:"key,omitempty"`
	Cluster          string `json:"cluster,omitempty"`
	HandshakeTimeout string `json:"handshake_timeout"`
}

type MessagesConfig struct {
	PageSize int `json:"page_size"`
}

type NotificationsConfig struct {
	PreviewRunes  int    `json:"preview_runes"`
	RedirectDelay string `json:"redirect_delay"`
}

// JournalConfig names the SQLite journal. An empty Path disables it.
type JournalConfig struct {
	Path string `json:"path"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Error is a configuration error, with the file position when known.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse parses data as the format its filename's extension names: .cue
// is CUE, anything else is YAML (which includes JSON).
func Parse(filename string, data []byte) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	var doc cue.Value
	if filepath.Ext(filename) == ".cue" {
		doc = ctx.CompileBytes(data, cue.Filename(filename))
	} else {
		f, err := cueyaml.Extract(filename, data)
		if err != nil {
			return nil, formatCUEError(err)
		}
		doc = ctx.BuildFile(f)
	}
	if err := doc.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, formatCUEError(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the constraints the schema cannot express.
func (c *Config) Validate() error {
	if c.Broker.URL == "" && (c.Broker.Key == "" || c.Broker.Cluster == "") {
		return &Error{Field: "broker", Message: "url, or key and cluster, required"}
	}
	for field, s := range map[string]string{
		"api.timeout":                  c.API.Timeout,
		"broker.handshake_timeout":     c.Broker.HandshakeTimeout,
		"notifications.redirect_delay": c.Notifications.RedirectDelay,
	} {
		if _, err := time.ParseDuration(s); err != nil {
			return &Error{Field: field, Message: err.Error()}
		}
	}
	return nil
}

// HTTP returns the API client configuration.
func (c *Config) HTTP() api.HTTPConfig {
	return api.HTTPConfig{
		BaseURL: c.API.BaseURL,
		Token:   c.API.Token,
		Timeout: mustDuration(c.API.Timeout),
	}
}

// Pusher returns the broker connection configuration.
func (c *Config) Pusher() broker.PusherConfig {
	return broker.PusherConfig{
		URL:              c.Broker.URL,
		Key:              c.Broker.Key,
		Cluster:          c.Broker.Cluster,
		HandshakeTimeout: mustDuration(c.Broker.HandshakeTimeout),
	}
}

// RedirectDelay returns how long to wait before leaving a deleted
// organization.
func (c *Config) RedirectDelay() time.Duration {
	return mustDuration(c.Notifications.RedirectDelay)
}

// mustDuration parses a duration Validate has already accepted.
func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	field := "config"
	if path := first.Path(); len(path) > 0 {
		if path[0] == "#Config" {
			path = path[1:]
		}
		if len(path) > 0 {
			field = strings.Join(path, ".")
		}
	}
	format, args := first.Msg()
	e := &Error{Field: field, Message: fmt.Sprintf(format, args...)}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
