package pipeline

import (
	"errors"
	"strings"

	"github.com/finquery/finquery/internal/store"
)

// Verdict is the outcome of a grading stage. The zero value is Unset so a
// stage that never ran is distinguishable from one that said no.
type Verdict int

const (
	VerdictUnset Verdict = iota
	VerdictYes
	VerdictNo
)

func (v Verdict) String() string {
	switch v {
	case VerdictYes:
		return "yes"
	case VerdictNo:
		return "no"
	default:
		return "unset"
	}
}

// ParseVerdict reads a model answer leniently: case-insensitive, surrounding
// whitespace and trailing punctuation ignored. Anything that is not a clear
// yes or no comes back Unset, and callers treat that as no.
func ParseVerdict(raw string) Verdict {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.TrimRight(cleaned, ".!")
	switch cleaned {
	case "yes":
		return VerdictYes
	case "no":
		return VerdictNo
	default:
		return VerdictUnset
	}
}

// State is the shared mutable object every stage reads and extends.
// Question is set once at run start and never changes afterward.
type State struct {
	Question        string
	Subject         Verdict
	UserIntent      Verdict
	Entities        Verdict
	Query           string
	QueryValid      Verdict
	Records         []store.Record
	FinalAnswer     string
	RejectionAnswer string
}

// Result is the caller-visible outcome of a run. For the rejection path only
// TextAnswer is populated.
type Result struct {
	Query      string         `json:"query,omitempty"`
	Data       []store.Record `json:"data,omitempty"`
	TextAnswer string         `json:"text_answer"`
}

const (
	// RejectionMessage is the fixed answer for non-financial questions.
	RejectionMessage = "Sorry, I don't know how to answer that question."
	// NotUnderstoodMessage is returned when no SQL could be extracted from
	// the generation output.
	NotUnderstoodMessage = "Sorry, I couldn't understand that question."
)

var (
	// ErrStoreNotInitialized means a required table is missing, i.e. the
	// startup load never ran against this store.
	ErrStoreNotInitialized = errors.New("analytical store is not initialized")
	// ErrEmptyQuery means generation produced no usable SQL.
	ErrEmptyQuery = errors.New("no sql query could be extracted")
	// ErrQueryRejected means the generated statement failed the read-only
	// allow-list.
	ErrQueryRejected = errors.New("generated query is not an allowed read-only statement")
	// ErrQueryFailed wraps store errors from executing the generated query.
	// The wrapped detail is for logs only, never for end users.
	ErrQueryFailed = errors.New("query execution failed")
)
