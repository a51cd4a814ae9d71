package main

import "time"

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command    string `json:"command"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLIDirective is a JSON-friendly directive. Line and Col are 1-based.
type CLIDirective struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	Name     string `json:"name,omitempty"`
	Subject  string `json:"subject"`
	Expr     string `json:"expr"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Col      int    `json:"col"`
	FuncName string `json:"func,omitempty"`
}

// CLIVerdict is one evaluated directive of a check.
type CLIVerdict struct {
	Directive CLIDirective `json:"directive"`
	Status    string       `json:"status"`
	Value     *bool        `json:"value,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// CLIViolation is a failure reported by a rule script.
type CLIViolation struct {
	Rule    string `json:"rule"`
	Package string `json:"package,omitempty"`
	Message string `json:"message"`
}

// CLIRun is a JSON-friendly check run.
type CLIRun struct {
	ID         string     `json:"id"`
	Root       string     `json:"root"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Passed     int        `json:"passed"`
	Failed     int        `json:"failed"`
	Errored    int        `json:"errored"`
}

// CLIHistory is one verdict of a directive in a past run.
type CLIHistory struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Status    string    `json:"status"`
	Value     *bool     `json:"value,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// CLIReport is the result of check.
type CLIReport struct {
	RunID      string         `json:"run_id"`
	OK         bool           `json:"ok"`
	Passed     int            `json:"passed"`
	Failed     int            `json:"failed"`
	Errored    int            `json:"errored"`
	Verdicts   []CLIVerdict   `json:"verdicts"`
	Violations []CLIViolation `json:"violations,omitempty"`
	RuleErrors []string       `json:"rule_errors,omitempty"`
}
