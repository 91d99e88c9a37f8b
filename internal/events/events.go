// Package events carries ledger notifications to external observers. The
// ledger engine emits only after a transaction commits and never lets an
// emitter failure affect the posting.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind names an event type.
type Kind string

const (
	KindEntryPosted    Kind = "journal_entry_posted"
	KindBalanceUpdated Kind = "balance_updated"
)

// Event is a domain notification. EntryID is set for both kinds; the
// account and balance fields only for balance_updated.
type Event struct {
	Kind        Kind            `json:"kind"`
	EntryID     string          `json:"entry_id,omitempty"`
	EntryNumber string          `json:"entry_number,omitempty"`
	AccountID   string          `json:"account_id,omitempty"`
	OldBalance  decimal.Decimal `json:"old_balance"`
	NewBalance  decimal.Decimal `json:"new_balance"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Key returns the partitioning key: the account for balance updates, the
// entry otherwise.
func (e Event) Key() string {
	if e.Kind == KindBalanceUpdated && e.AccountID != "" {
		return e.AccountID
	}
	return e.EntryID
}

// Emitter delivers events.
type Emitter interface {
	Emit(ctx context.Context, e Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, e Event) error

func (f EmitterFunc) Emit(ctx context.Context, e Event) error { return f(ctx, e) }

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }

type multi []Emitter

// Multi fans an event out to every emitter. All emitters are called even
// when one fails; the errors are joined.
func Multi(emitters ...Emitter) Emitter {
	var m multi
	for _, e := range emitters {
		if e != nil {
			m = append(m, e)
		}
	}
	return m
}

func (m multi) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, em := range m {
		if err := em.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Encode returns the JSON wire form shared by the Redis and Kafka publishers.
func Encode(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", e.Kind, err)
	}
	return b, nil
}

// Decode parses the JSON wire form.
func Decode(b []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return Event{}, fmt.Errorf("events: decode: %w", err)
	}
	return e, nil
}
