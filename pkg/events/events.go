package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	AllocationCreated Type = "allocation.created"
	AllocationUpdated Type = "allocation.updated"
	AllocationVoided  Type = "allocation.voided"
	AllocationDeleted Type = "allocation.deleted"
)

// Event describes a committed allocation change. Field values are never included.
type Event struct {
	ID           string    `json:"id"`
	Type         Type      `json:"type"`
	AllocationID int64     `json:"allocation_id"`
	BudgetID     int64     `json:"budget_id"`
	ActorUserID  int64     `json:"actor_user_id"`
	Fields       []string  `json:"fields,omitempty"`
	At           time.Time `json:"at"`
}

func New(t Type, allocationID, budgetID, actorUserID int64, fields []string) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         t,
		AllocationID: allocationID,
		BudgetID:     budgetID,
		ActorUserID:  actorUserID,
		Fields:       fields,
		At:           time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
