package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	v1 "github.com/rentpulse-lab/project-rentpulse/internal/api/v1"
	"github.com/rentpulse-lab/project-rentpulse/internal/core/storage"
	"github.com/shopspring/decimal"
)

// eventPayload is the JSON detail column of the events table: everything
// that is not an identity dimension or timestamp.
type eventPayload struct {
	FilterKeys []string         `json:"filter_keys,omitempty"`
	Amenities  []string         `json:"amenities,omitempty"`
	MinPrice   *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice   *decimal.Decimal `json:"max_price,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
}

// marshalEventPayload serializes the non-identity event fields.
// A fully empty payload produces nil (SQL NULL) rather than "{}".
func marshalEventPayload(event *v1.Event) ([]byte, error) {
	p := eventPayload{
		FilterKeys: event.FilterKeys,
		Amenities:  event.Amenities,
		MinPrice:   event.MinPrice,
		MaxPrice:   event.MaxPrice,
		Price:      event.Price,
	}
	if len(p.FilterKeys) == 0 && len(p.Amenities) == 0 &&
		p.MinPrice == nil && p.MaxPrice == nil && p.Price == nil {
		return nil, nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return data, nil
}

// nullString maps "" to SQL NULL so optional identity columns stay NULL
// instead of storing empty strings.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// classifyTxError maps retryable PostgreSQL failures onto
// storage.ErrTxConflict. Serialization failures and deadlocks come from the
// isolation level; unique violations come from two transactions racing to
// create the same dedup marker under weaker snapshots. All three mean "the
// whole transaction is safe to retry".
func classifyTxError(op string, err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%s: %w: %v", op, storage.ErrTxConflict, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// nullableTime converts a scanned sql.NullTime to the *time.Time shape used
// by the row types.
func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
