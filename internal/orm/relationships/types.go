// Package relationships resolves populations: it fetches the records an association
// points to and attaches them to a result set, issuing one batched fetch per
// association no matter how many primary records there are.
package relationships

import (
	"context"
	"sync"

	"github.com/conduit-lang/waterline/internal/orm/query"
)

// Fetcher runs a find against the adapter bound to a collection
type Fetcher interface {
	Fetch(ctx context.Context, identity string, criteria *query.Criteria) ([]map[string]interface{}, error)
}

// FetcherFunc adapts a function to the Fetcher interface
type FetcherFunc func(ctx context.Context, identity string, criteria *query.Criteria) ([]map[string]interface{}, error)

// Fetch calls f
func (f FetcherFunc) Fetch(ctx context.Context, identity string, criteria *query.Criteria) ([]map[string]interface{}, error) {
	return f(ctx, identity, criteria)
}

// State is the phase of one find operation
type State int

const (
	Pending State = iota
	FetchingPrimary
	FetchingAssociations
	Attached
	Failed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case FetchingPrimary:
		return "fetching-primary"
	case FetchingAssociations:
		return "fetching-associations"
	case Attached:
		return "attached"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// FetchRecord describes one fetch issued during an operation
type FetchRecord struct {
	Identity    string
	Association string // empty for the primary fetch
	Criteria    string
	Rows        int
}

// Operation traces the state of one find and the fetches it issued. Association
// fetches record concurrently, so access is synchronized.
type Operation struct {
	mu          sync.Mutex
	transitions []State
	fetches     []FetchRecord
}

// NewOperation returns an operation in the Pending state
func NewOperation() *Operation {
	return &Operation{transitions: []State{Pending}}
}

// State returns the current state
func (o *Operation) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transitions[len(o.transitions)-1]
}

// Transitions returns every state the operation has been in, in order
func (o *Operation) Transitions() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.transitions...)
}

// Fetches returns the fetches issued so far
func (o *Operation) Fetches() []FetchRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]FetchRecord(nil), o.fetches...)
}

func (o *Operation) transition(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.transitions[len(o.transitions)-1] != s {
		o.transitions = append(o.transitions, s)
	}
}

func (o *Operation) recordFetch(f FetchRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fetches = append(o.fetches, f)
}
