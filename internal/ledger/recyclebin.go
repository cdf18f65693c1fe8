package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fabricbill/backend/internal/domain"
	"fabricbill/backend/internal/store"
)

// DeleteInvoice moves invoiceNo with its payments and returns into the
// recycle bin and recalculates the invoices that followed it.
func (e *Engine) DeleteInvoice(ctx context.Context, invoiceNo string) (*domain.RecycleBinEntry, domain.CascadeReport, error) {
	var (
		entry  *domain.RecycleBinEntry
		report domain.CascadeReport
	)
	err := e.withInvoice(ctx, invoiceNo, func(ctx context.Context, inv *domain.Invoice) error {
		chain, err := e.chain(ctx, inv.CustomerKey)
		if err != nil {
			return err
		}
		former := indexOf(chain, invoiceNo)

		entry, err = e.moveToRecycleBin(ctx, invoiceNo)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &NotFoundError{Kind: "invoice", ID: invoiceNo}
			}
			return fmt.Errorf("move invoice %s to recycle bin: %w", invoiceNo, err)
		}
		e.log.Info().
			Str("invoice_no", invoiceNo).
			Str("customer_key", inv.CustomerKey).
			Str("entry_id", entry.ID).
			Msg("invoice moved to recycle bin")

		report, err = e.cascadeFrom(ctx, inv.CustomerKey, former)
		return err
	})
	return entry, report, err
}

// binIDAttempts bounds how often a delete steps its timestamp forward when
// the entry id for that millisecond is already taken.
const binIDAttempts = 5

// moveToRecycleBin stamps the entry with the current time, moving it one
// millisecond on when an entry of the same invoice number holds that id.
func (e *Engine) moveToRecycleBin(ctx context.Context, invoiceNo string) (*domain.RecycleBinEntry, error) {
	deletedAt := e.now()
	for attempt := 1; ; attempt++ {
		entry, err := e.store.MoveToRecycleBin(ctx, invoiceNo, deletedAt)
		if !errors.Is(err, store.ErrConflict) || attempt == binIDAttempts {
			return entry, err
		}
		deletedAt = deletedAt.Add(time.Millisecond)
	}
}

// RestoreInvoice puts a recycled invoice back with its payments and returns
// and recalculates the chain from the restored invoice on.
func (e *Engine) RestoreInvoice(ctx context.Context, entryID string) (Result, error) {
	entry, err := e.findRecycled(ctx, entryID)
	if err != nil {
		return Result{}, err
	}

	var res Result
	err = e.withCustomers(ctx, []string{entry.CustomerKey}, func(ctx context.Context) error {
		restored, err := e.store.RestoreFromRecycleBin(ctx, entryID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &NotFoundError{Kind: "recycle bin entry", ID: entryID}
			}
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("invoice %s already exists: %w", entry.OriginalID, store.ErrConflict)
			}
			return fmt.Errorf("restore %s: %w", entryID, err)
		}

		chain, err := e.chain(ctx, restored.CustomerKey)
		if err != nil {
			return err
		}
		idx := indexOf(chain, restored.OriginalID)
		if idx < 0 {
			return &NotFoundError{Kind: "invoice", ID: restored.OriginalID}
		}
		res.Count = 1
		res.Cascade, err = e.walk(ctx, restored.CustomerKey, chain, idx)
		res.Invoice = chain[idx]
		return err
	})
	return res, err
}

func (e *Engine) findRecycled(ctx context.Context, entryID string) (*domain.RecycleBinEntry, error) {
	entries, err := e.store.ListRecycleBin(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recycle bin: %w", err)
	}
	for i := range entries {
		if entries[i].ID == entryID {
			return &entries[i], nil
		}
	}
	return nil, &NotFoundError{Kind: "recycle bin entry", ID: entryID}
}

// ListRecycleBin returns recycled invoices, most recently deleted first.
func (e *Engine) ListRecycleBin(ctx context.Context) ([]domain.RecycleBinEntry, error) {
	entries, err := e.store.ListRecycleBin(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recycle bin: %w", err)
	}
	return entries, nil
}

// PurgeRecycleBinEntry permanently drops one entry. The live ledger is not
// touched.
func (e *Engine) PurgeRecycleBinEntry(ctx context.Context, entryID string) error {
	if err := e.store.PurgeRecycleBinEntry(ctx, entryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Kind: "recycle bin entry", ID: entryID}
		}
		return fmt.Errorf("purge %s: %w", entryID, err)
	}
	e.log.Info().Str("entry_id", entryID).Msg("recycle bin entry purged")
	return nil
}

// EmptyRecycleBin purges every entry and returns how many were dropped.
func (e *Engine) EmptyRecycleBin(ctx context.Context) (int, error) {
	n, err := e.store.EmptyRecycleBin(ctx)
	if err != nil {
		return 0, fmt.Errorf("empty recycle bin: %w", err)
	}
	e.log.Info().Int("purged", n).Msg("recycle bin emptied")
	return n, nil
}
