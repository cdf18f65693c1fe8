package cache

import (
	"context"
	"time"

	"fabricbill/backend/internal/domain"
)

// StatementCache holds rendered customer statements keyed by customer key.
// Entries are dropped whenever the customer's ledger changes.
type StatementCache interface {
	Get(ctx context.Context, customerKey string) (*domain.CustomerStatement, bool, error)
	Set(ctx context.Context, customerKey string, value *domain.CustomerStatement, ttl time.Duration) error
	Delete(ctx context.Context, customerKeys ...string) error
}

type NoopStatementCache struct{}

func (NoopStatementCache) Get(_ context.Context, _ string) (*domain.CustomerStatement, bool, error) {
	return nil, false, nil
}

func (NoopStatementCache) Set(_ context.Context, _ string, _ *domain.CustomerStatement, _ time.Duration) error {
	return nil
}

func (NoopStatementCache) Delete(_ context.Context, _ ...string) error {
	return nil
}
