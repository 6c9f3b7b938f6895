package cli

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric       = "E001"
	ErrCodeConfigInvalid = "E002"
	ErrCodeNotFound      = "E005"
	ErrCodeJournal       = "E010"
	ErrCodeSessionAbsent = "E011"
)
