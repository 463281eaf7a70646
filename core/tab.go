package core

import (
	"time"

	"pkt.systems/querydesk/schema"
)

// TabState is one editor tab: a statement, its save state and its last result.
// Values handed out by TabStore are copies.
type TabState struct {
	ID                schema.TabID
	Label             string
	IsSaved           bool
	SavedAt           time.Time
	QueryStatement    string
	SelectedStatement string
	Connection        schema.ConnectionTarget
	QueryResult       *schema.QueryResultSet
	CurrentQueryID    schema.QueryID

	baseline    string
	hasBaseline bool
	latestSeq   uint64
	appliedSeq  uint64
}

// TabInit carries optional initial values for CreateTab.
type TabInit struct {
	Label      string
	Statement  string
	Connection schema.ConnectionTarget
}

// TabPatch lists the fields UpdateTab merges; nil fields are left alone.
type TabPatch struct {
	QueryStatement    *string
	SelectedStatement *string
	Connection        *schema.ConnectionTarget
}

// Running reports whether the latest execution has not written back yet.
func (t TabState) Running() bool {
	return t.latestSeq > t.appliedSeq
}

// Baseline returns the statement the saved flag compares against.
func (t TabState) Baseline() (string, bool) {
	return t.baseline, t.hasBaseline
}

// Snapshot returns a transport-friendly view of the tab.
func (t TabState) Snapshot(active bool) schema.TabSnapshot {
	return schema.TabSnapshot{
		ID:                t.ID,
		Label:             t.Label,
		IsSaved:           t.IsSaved,
		SavedAt:           t.SavedAt,
		QueryStatement:    t.QueryStatement,
		SelectedStatement: t.SelectedStatement,
		Connection:        t.Connection,
		QueryResult:       cloneResultSet(t.QueryResult),
		CurrentQueryID:    t.CurrentQueryID,
		Running:           t.Running(),
		Active:            active,
	}
}

func (t *TabState) setStatement(statement string) {
	t.QueryStatement = statement
	t.recomputeSaved()
}

func (t *TabState) recomputeSaved() {
	if t.hasBaseline {
		t.IsSaved = t.QueryStatement == t.baseline
		return
	}
	t.IsSaved = t.QueryStatement == ""
}

func (t *TabState) markSaved(at time.Time) {
	t.baseline = t.QueryStatement
	t.hasBaseline = true
	t.SavedAt = at
	t.IsSaved = true
}

func cloneResultSet(result *schema.QueryResultSet) *schema.QueryResultSet {
	if result == nil {
		return nil
	}
	out := *result
	out.Results = append([]schema.QueryResult(nil), result.Results...)
	out.Advices = append([]schema.Advice(nil), result.Advices...)
	if out.Results == nil {
		out.Results = []schema.QueryResult{}
	}
	if out.Advices == nil {
		out.Advices = []schema.Advice{}
	}
	return &out
}
