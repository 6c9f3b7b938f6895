package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/livesync/internal/config"
)

// ValidationError is one configuration problem.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// ConfigSummary is what a valid config resolves to. The API token is
// never echoed.
type ConfigSummary struct {
	PrincipalID    string `json:"principal_id"`
	OrganizationID string `json:"organization_id,omitempty"`
	APIBaseURL     string `json:"api_base_url"`
	Authenticated  bool   `json:"authenticated"`
	Broker         string `json:"broker"`
	PageSize       int    `json:"page_size"`
	Journal        string `json:"journal,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Config *ConfigSummary    `json:"config,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a config file without connecting",
		Long: `Validate a livesync config file against the schema.

YAML, JSON and CUE files are accepted. Defaults are applied and the
resolved settings are printed; nothing is dialed or fetched.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return outputValidateError(formatter, ErrCodeNotFound, fmt.Sprintf("config file not found: %s", path))
	}

	formatter.VerboseLog("Loading %s", path)
	cfg, err := config.Load(path)
	if err != nil {
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			return outputValidationErrors(formatter, []ValidationError{toValidationError(cfgErr)})
		}
		return outputValidateError(formatter, ErrCodeGeneric, err.Error())
	}

	return outputValidateSuccess(formatter, summarize(cfg))
}

func toValidationError(e *config.Error) ValidationError {
	v := ValidationError{Field: e.Field, Message: e.Message, Code: ErrCodeConfigInvalid}
	if e.Pos.IsValid() {
		v.Line = e.Pos.Line()
	}
	return v
}

func summarize(cfg *config.Config) *ConfigSummary {
	pusher := cfg.Pusher()
	endpoint := pusher.URL
	if endpoint == "" {
		endpoint = fmt.Sprintf("pusher key=%s cluster=%s", pusher.Key, pusher.Cluster)
	}
	return &ConfigSummary{
		PrincipalID:    cfg.PrincipalID,
		OrganizationID: cfg.OrganizationID,
		APIBaseURL:     cfg.API.BaseURL,
		Authenticated:  cfg.API.Token != "",
		Broker:         endpoint,
		PageSize:       cfg.Messages.PageSize,
		Journal:        cfg.Journal.Path,
	}
}

func outputValidateSuccess(formatter *OutputFormatter, summary *ConfigSummary) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Config: summary})
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✓ Config valid")
	fmt.Fprintf(w, "  principal:    %s\n", summary.PrincipalID)
	if summary.OrganizationID != "" {
		fmt.Fprintf(w, "  organization: %s\n", summary.OrganizationID)
	}
	fmt.Fprintf(w, "  api:          %s\n", summary.APIBaseURL)
	fmt.Fprintf(w, "  broker:       %s\n", summary.Broker)
	fmt.Fprintf(w, "  page size:    %d\n", summary.PageSize)
	if summary.Journal != "" {
		fmt.Fprintf(w, "  journal:      %s\n", summary.Journal)
	}
	return nil
}

// outputValidateError reports a problem reaching the config at all.
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

func outputValidationErrors(formatter *OutputFormatter, errs []ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
