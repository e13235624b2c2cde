package domain

// Inquiry is a client's request for metrics broken down by dimensions.
type Inquiry struct {
	Metrics     []string    `json:"metrics"`
	Dimensions  []string    `json:"dimensions,omitempty"`
	Filters     []string    `json:"filters,omitempty"`
	DryRun      bool        `json:"dry_run,omitempty"`
	StartDate   string      `json:"start_date,omitempty"`
	EndDate     string      `json:"end_date,omitempty"`
	Granularity Granularity `json:"granularity,omitempty"`
	OrderBy     []string    `json:"order_by,omitempty"`
	Limit       *int        `json:"limit,omitempty"` // nil means unlimited
}

// CompiledQuery is the SQL produced for one source, as returned by a dry run.
type CompiledQuery struct {
	Source string `json:"source"`
	SQL    string `json:"sql"`
}
