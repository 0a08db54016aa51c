package consumers

import (
	"context"
	"database/sql"
	"errors"

	"tenantflow/internal/domain/projection"
	"tenantflow/internal/events"
	"tenantflow/internal/repository"
	tenantflow_errors "tenantflow/pkg/errors"
)

// SearchIndexConsumer maintains search_index_items from catalog events.
// Removal keeps a tombstone row so an older upsert cannot resurrect the item.
type SearchIndexConsumer struct {
	store repository.Store
}

func NewSearchIndexConsumer(store repository.Store) *SearchIndexConsumer {
	return &SearchIndexConsumer{store: store}
}

func (c *SearchIndexConsumer) Name() string { return "search_index" }

func (c *SearchIndexConsumer) EventTypes() []string {
	return []string{events.EventTypeCatalogItemUpserted, events.EventTypeCatalogItemRemoved}
}

func (c *SearchIndexConsumer) Apply(ctx context.Context, ev Event) (Result, error) {
	var next projection.SearchIndexItem
	switch p := ev.Payload.(type) {
	case *events.CatalogItemUpserted:
		next = projection.SearchIndexItem{
			OrganizationID: p.OrganizationID,
			SourceType:     p.SourceType,
			SourceID:       p.SourceID,
			Title:          p.Title,
			Status:         p.Status,
		}
		if p.StartsAt != nil {
			next.StartsAt = sql.NullTime{Time: p.StartsAt.UTC(), Valid: true}
		}
	case *events.CatalogItemRemoved:
		next = projection.SearchIndexItem{
			OrganizationID: p.OrganizationID,
			SourceType:     p.SourceType,
			SourceID:       p.SourceID,
			Removed:        true,
		}
	default:
		return Deduped(), nil
	}
	next.LastEventID = ev.ID
	next.LastEventAt = ev.OccurredAt
	next.UpdatedAt = ev.OccurredAt

	var res Result
	err := c.store.WithTx(ctx, func(tx repository.Store) error {
		current, err := tx.Projections().GetSearchItem(ctx, next.OrganizationID, next.SourceType, next.SourceID)
		switch {
		case err == nil:
			if r, done := markerState(current.LastEventID, current.LastEventAt, ev); done {
				res = r
				return nil
			}
			if next.Removed {
				// keep the last known display fields on the tombstone
				next.Title = current.Title
				next.Status = current.Status
				next.StartsAt = current.StartsAt
			}
		case !errors.Is(err, tenantflow_errors.ErrNotFound):
			return err
		}

		saved, err := tx.Projections().SaveSearchItem(ctx, &next)
		if err != nil {
			return err
		}
		if !saved {
			res = Stale()
			return nil
		}
		res = Applied()
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
