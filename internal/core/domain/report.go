package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type IssueKind string

const (
	IssueCounterMismatch      IssueKind = "counter_mismatch"
	IssueDuplicatePlaceholder IssueKind = "duplicate_placeholder"
	IssueLineUnitMismatch     IssueKind = "line_unit_mismatch"
	IssueReadFailure          IssueKind = "read_failure"
)

// ConsistencyError describes one finding of an audit. It is report data and is
// never returned as an operation error.
type ConsistencyError struct {
	Kind      IssueKind       `json:"kind"`
	ProductID string          `json:"product_id"`
	Location  string          `json:"location,omitempty"`
	LineID    string          `json:"line_id,omitempty"`
	Expected  decimal.Decimal `json:"expected"`
	Actual    decimal.Decimal `json:"actual"`
	Detail    string          `json:"detail"`
}

func (e ConsistencyError) Error() string {
	scope := e.ProductID
	if e.Location != "" {
		scope += "@" + e.Location
	}
	if e.LineID != "" {
		scope += " line " + e.LineID
	}
	return fmt.Sprintf("%s %s: expected %s, got %s (%s)", e.Kind, scope, e.Expected, e.Actual, e.Detail)
}

// ConsistencyReport is the point-in-time output of one audit run.
type ConsistencyReport struct {
	ProductID string             `json:"product_id"`
	Location  string             `json:"location,omitempty"`
	CheckedAt time.Time          `json:"checked_at"`
	Issues    []ConsistencyError `json:"issues"`
}

func (r ConsistencyReport) OK() bool { return len(r.Issues) == 0 }
