package orchestrators

// Severity classes for user-visible status lines.
const (
	SeveritySuccess = "success"
	SeverityWarning = "warning"
	SeverityDanger  = "danger"
)

// Status is the one-line message shown to whoever stands at the kiosk.
// It is the only failure surface orchestrators expose.
type Status struct {
	Severity string
	Text     string
}

// Failed reports whether the status describes a failure.
func (s Status) Failed() bool {
	return s.Severity == SeverityDanger
}

func success(text string) Status { return Status{Severity: SeveritySuccess, Text: text} }
func warning(text string) Status { return Status{Severity: SeverityWarning, Text: text} }
func danger(text string) Status  { return Status{Severity: SeverityDanger, Text: text} }
