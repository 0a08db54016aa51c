// Package eventlog appends immutable facts to the per-organization event log.
// There is no update or delete path.
package eventlog

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainlog "tenantflow/internal/domain/eventlog"
	"tenantflow/internal/events"
	"tenantflow/internal/repository"
	tenantflow_errors "tenantflow/pkg/errors"

	"github.com/google/uuid"
)

// NewEntry describes a fact to append. Tenant and actor are always explicit.
type NewEntry struct {
	OrganizationID uuid.UUID
	ActorUserID    uuid.NullUUID
	Payload        events.Payload
	IdempotencyKey string
	CorrelationID  string
	CausationID    string
	CreatedAt      time.Time
}

func (n NewEntry) validate() error {
	if n.OrganizationID == uuid.Nil {
		return &tenantflow_errors.ValidationError{Code: "INVALID_REQUEST", Detail: "organization id is required"}
	}
	if n.IdempotencyKey == "" {
		return &tenantflow_errors.ValidationError{Code: "INVALID_REQUEST", Detail: "idempotency key is required"}
	}
	if n.Payload == nil {
		return &tenantflow_errors.ValidationError{Code: "INVALID_REQUEST", Detail: "payload is required"}
	}
	if n.Payload.Organization() != n.OrganizationID {
		return &tenantflow_errors.ValidationError{Code: "INVALID_REQUEST", Detail: "payload organization does not match entry"}
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Append inserts the entry through repo, which must belong to the caller's
// transaction. Re-appending an existing key with the same content returns the
// stored entry and duplicate=true. A different content yields *ConflictError.
func Append(ctx context.Context, repo repository.EventLogRepository, in NewEntry) (entry domainlog.Entry, duplicate bool, err error) {
	if err := in.validate(); err != nil {
		return domainlog.Entry{}, false, err
	}
	raw, err := events.Encode(in.Payload)
	if err != nil {
		return domainlog.Entry{}, false, &tenantflow_errors.ValidationError{Code: "INVALID_PAYLOAD", Detail: err.Error()}
	}

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	entry = domainlog.Entry{
		ID:             uuid.New(),
		OrganizationID: in.OrganizationID,
		EventType:      in.Payload.EventType(),
		Payload:        string(raw),
		IdempotencyKey: in.IdempotencyKey,
		ActorUserID:    in.ActorUserID,
		CorrelationID:  nullString(in.CorrelationID),
		CausationID:    nullString(in.CausationID),
		CreatedAt:      createdAt,
	}

	inserted, err := repo.InsertIfAbsent(ctx, &entry)
	if err != nil {
		return domainlog.Entry{}, false, fmt.Errorf("append event log %s: %w", in.IdempotencyKey, err)
	}
	if inserted {
		return entry, false, nil
	}

	existing, err := repo.GetByIdempotencyKey(ctx, in.IdempotencyKey)
	if err != nil {
		return domainlog.Entry{}, false, fmt.Errorf("load event log %s: %w", in.IdempotencyKey, err)
	}
	if reason := diff(existing, entry); reason != "" {
		return domainlog.Entry{}, false, &tenantflow_errors.ConflictError{Key: in.IdempotencyKey, Reason: reason}
	}
	return existing, true, nil
}

func diff(existing, candidate domainlog.Entry) string {
	if existing.OrganizationID != candidate.OrganizationID {
		return "organization differs"
	}
	if existing.EventType != candidate.EventType {
		return "event type differs"
	}
	same, err := SameJSON(existing.Payload, candidate.Payload)
	if err != nil {
		return "stored payload is not valid JSON"
	}
	if !same {
		return "payload differs"
	}
	return ""
}

// SameJSON compares two JSON documents ignoring key order and whitespace.
func SameJSON(a, b string) (bool, error) {
	ca, err := canonical(a)
	if err != nil {
		return false, err
	}
	cb, err := canonical(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ca, cb), nil
}

func canonical(doc string) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(doc)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON document")
	}
	// encoding/json sorts map keys.
	return json.Marshal(v)
}
