package collection

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/conduit-lang/waterline/internal/orm/adapter"
	"github.com/conduit-lang/waterline/internal/orm/query"
	"github.com/conduit-lang/waterline/internal/orm/record"
	"github.com/conduit-lang/waterline/internal/orm/schema"
	"github.com/conduit-lang/waterline/internal/orm/tracking"
)

// Save writes the in-memory changes of a persisted record. Only attributes that
// differ from the last persisted snapshot are sent to the adapter. Membership set
// with SetCollection is applied to the associated collection afterward: listed
// targets are pointed at this record and targets no longer listed are detached.
//
// Save fails with StaleRecordError when the record's primary key no longer exists.
// There is no locking; a concurrent writer's changes to other attributes are kept.
func (c *Collection) Save(ctx context.Context, rec *record.Record) error {
	if rec.Model() != c.model {
		return fmt.Errorf("cannot save a %s record with the %s collection", rec.Identity(), c.model.Identity)
	}
	if !rec.IsPersisted() {
		return ErrNotPersisted
	}

	id := rec.ID()
	byID := query.Eq(c.model.PrimaryKey, id)
	pending := rec.PendingCollections()

	plans, err := c.planMembers(ctx, id, pending)
	if err != nil {
		return err
	}

	changes := normalize(rec.Changes().ChangedData())
	if len(changes) > 0 {
		if err := c.checkChanges(changes); err != nil {
			return err
		}
		if err := c.runHooks(ctx, schema.BeforeUpdate, changes); err != nil {
			return err
		}
		if err := c.checkChanges(changes); err != nil {
			return err
		}
	}

	var current map[string]interface{}
	if len(changes) > 0 {
		rows, err := c.adapter.Update(ctx, c.model.Identity, byID, changes)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			c.logger.Warn("save of stale record", zap.Any("id", id))
			return &StaleRecordError{Identity: c.model.Identity, ID: id}
		}
		current = rows[0]
	} else {
		rows, err := c.adapter.Find(ctx, c.model.Identity, byID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return &StaleRecordError{Identity: c.model.Identity, ID: id}
		}
		current = rows[0]
	}

	for _, plan := range plans {
		if err := plan.apply(ctx); err != nil {
			return err
		}
	}

	if len(changes) > 0 {
		if err := c.runHooks(ctx, schema.AfterUpdate, tracking.CopyMap(current)); err != nil {
			return err
		}
	}

	rec.MarkPersisted(current)
	return nil
}

// memberPlan replaces the membership of one collection association
type memberPlan struct {
	owner   *Collection
	attr    *schema.Attribute
	target  *Collection
	id      interface{}
	members []interface{}
	detach  *query.Criteria
}

// planMembers resolves every pending membership change before anything is written.
// Detaching sets the back-reference to null, so it is refused when the target
// requires that attribute.
func (c *Collection) planMembers(ctx context.Context, id interface{}, pending map[string][]interface{}) ([]*memberPlan, error) {
	var plans []*memberPlan
	for _, attr := range c.model.Associations() {
		members, ok := pending[attr.Name]
		if !ok {
			continue
		}
		if c.peers == nil {
			return nil, fmt.Errorf("cannot save %s.%s: associated collections are not available", c.model.Identity, attr.Name)
		}
		target, err := c.peers.Collection(attr.Target)
		if err != nil {
			return nil, err
		}

		plan := &memberPlan{owner: c, attr: attr, target: target, id: id, members: members}
		detach := query.Eq(attr.Via, id)
		if len(members) > 0 {
			detach = detach.And(target.model.PrimaryKey, query.OpNotIn, members)
		}

		if via := target.model.Attributes[attr.Via]; via != nil && via.Required {
			rows, err := target.adapter.Find(ctx, target.model.Identity, detach)
			if err != nil {
				return nil, err
			}
			if len(rows) > 0 {
				ve := &ValidationError{Identity: target.model.Identity}
				ve.add(attr.Via, fmt.Sprintf("is required; cannot detach %d %s from %s.%s",
					len(rows), target.model.Identity, c.model.Identity, attr.Name))
				return nil, ve
			}
		} else {
			plan.detach = detach
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

// apply makes members the exact set of target records whose back-reference points
// at the owner. Both writes go through the target collection's validation and
// update callbacks.
func (p *memberPlan) apply(ctx context.Context) error {
	target := p.target
	pk := target.model.PrimaryKey

	if p.detach != nil {
		if _, err := target.updateWhere(ctx, p.detach, map[string]interface{}{p.attr.Via: nil}); err != nil {
			return err
		}
	}

	if len(p.members) == 0 {
		return nil
	}

	attached, err := target.updateWhere(ctx, query.In(pk, p.members), map[string]interface{}{p.attr.Via: p.id})
	if err != nil {
		return err
	}

	found := make(map[string]bool, len(attached))
	for _, row := range attached {
		found[adapter.IndexKey(row[pk])] = true
	}
	var missing []interface{}
	for _, m := range p.members {
		if !found[adapter.IndexKey(m)] {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s %v (saving %s.%s)", ErrNotFound, target.model.Identity, missing, p.owner.model.Identity, p.attr.Name)
	}
	return nil
}
