package model

// Rule is one named linting/formatting/analysis rule and its value.
type Rule struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// SCARules is the body of a bulk analysis request.
type SCARules struct {
	Rules    []Rule `json:"rules"`
	Language string `json:"language"`
}

// FormatRules is the body of a bulk format request.
type FormatRules struct {
	FormatRules  []Rule `json:"formatRules"`
	LintingRules []Rule `json:"lintingRules"`
}

// SCAJob asks an analysis worker to check one snippet.
// Workers answer with a StatusUpdate on the status queue.
type SCAJob struct {
	JobID         string `json:"jobId"`
	SnippetID     int64  `json:"snippetId"`
	Rules         []Rule `json:"rules"`
	Language      string `json:"language"`
	Requester     string `json:"requester"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// FormatJob asks a formatting worker to format and lint one snippet.
type FormatJob struct {
	JobID         string `json:"jobId"`
	SnippetID     int64  `json:"snippetId"`
	FormatRules   []Rule `json:"formatRules"`
	LintingRules  []Rule `json:"lintingRules"`
	Requester     string `json:"requester"`
	CorrelationID string `json:"correlationId,omitempty"`
}
