package disttest

type ResultType string

const (
	TypeSuccess ResultType = "success"
	TypeFailure ResultType = "failure"
	TypePanic   ResultType = "panic"
)

type TestResult struct {
	Type       ResultType `json:"type"`
	Name       string     `json:"name"`
	DurationMs int64      `json:"duration_ms"`
	Message    string     `json:"message,omitempty"`
	Panic      string     `json:"panic,omitempty"`
}

type Summary struct {
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Panicked int `json:"panicked"`
}

// Report is the file layout written by Write.
type Report struct {
	Summary Summary      `json:"summary"`
	Results []TestResult `json:"results"`
}
