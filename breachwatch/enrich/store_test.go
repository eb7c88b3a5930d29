package enrich

import (
	"context"

	"github.com/SiriusScan/breachwatch/breachwatch/postgres"
	"github.com/SiriusScan/breachwatch/breachwatch/postgres/models"
)

// countingStore counts upsert calls on top of a real store.
type countingStore struct {
	*postgres.Store
	upserts     int
	afterUpsert func()
}

func (s *countingStore) UpsertEnriched(ctx context.Context, records ...models.EnrichedVulnerability) (int, error) {
	n, err := s.Store.UpsertEnriched(ctx, records...)
	s.upserts++
	if s.afterUpsert != nil {
		s.afterUpsert()
	}
	return n, err
}
