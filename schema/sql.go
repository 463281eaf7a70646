package schema

import "time"

// Row is one result row keyed by column name.
type Row map[string]any

// QueryRequest is the payload sent to the remote SQL execution service.
type QueryRequest struct {
	Connection ConnectionTarget
	Statement  string
	Limit      int
	Format     OutputFormat
	Admin      bool
}

// QueryResponse is the remote SQL execution service reply.
type QueryResponse struct {
	Results []QueryResult
	Advices []Advice
}

// QueryResult is the outcome of one statement within a response.
type QueryResult struct {
	Statement       string        `json:"statement,omitempty"`
	ColumnNames     []string      `json:"column_names"`
	ColumnTypeNames []string      `json:"column_type_names"`
	Rows            []Row         `json:"rows"`
	Error           string        `json:"error,omitempty"`
	Latency         time.Duration `json:"latency"`
}

// AdviceStatus grades a linter advice returned alongside results.
type AdviceStatus string

const (
	// AdviceSuccess marks a passing check.
	AdviceSuccess AdviceStatus = "SUCCESS"
	// AdviceWarning marks a warning.
	AdviceWarning AdviceStatus = "WARNING"
	// AdviceError marks a failing check.
	AdviceError AdviceStatus = "ERROR"
)

// Advice is a linter finding for the executed statement.
type Advice struct {
	Status  AdviceStatus `json:"status"`
	Code    int          `json:"code,omitempty"`
	Title   string       `json:"title"`
	Content string       `json:"content,omitempty"`
}

// OutputFormat selects the result encoding requested from the server.
type OutputFormat string

const (
	// FormatNative leaves the encoding to the server.
	FormatNative OutputFormat = ""
	// FormatJSON requests JSON encoded values.
	FormatJSON OutputFormat = "json"
	// FormatCSV requests CSV encoded values.
	FormatCSV OutputFormat = "csv"
	// FormatSQL requests SQL insert statements.
	FormatSQL OutputFormat = "sql"
)
