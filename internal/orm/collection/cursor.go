package collection

import (
	"github.com/conduit-lang/waterline/internal/orm/record"
)

// Cursor is the one-shot result of a find. It yields each record once; reading it
// again requires a new find.
type Cursor struct {
	records []*record.Record
	pos     int
	current *record.Record
	started bool
	done    bool
	err     error
}

func newCursor(records []*record.Record) *Cursor {
	return &Cursor{records: records}
}

// Next advances to the next record. Calling Next again after it returned false
// records ErrCursorConsumed.
func (c *Cursor) Next() bool {
	c.started = true
	if c.done {
		c.err = ErrCursorConsumed
		return false
	}
	if c.pos >= len(c.records) {
		c.current = nil
		c.records = nil
		c.done = true
		return false
	}
	c.current = c.records[c.pos]
	c.records[c.pos] = nil
	c.pos++
	return true
}

// Record returns the record Next advanced to
func (c *Cursor) Record() *record.Record {
	return c.current
}

// All drains the cursor. It fails with ErrCursorConsumed once iteration has begun.
func (c *Cursor) All() ([]*record.Record, error) {
	if c.started {
		c.err = ErrCursorConsumed
		return nil, ErrCursorConsumed
	}
	out := make([]*record.Record, 0, len(c.records))
	for c.Next() {
		out = append(out, c.current)
	}
	return out, nil
}

// Err returns ErrCursorConsumed if the cursor was read past its end
func (c *Cursor) Err() error {
	return c.err
}
