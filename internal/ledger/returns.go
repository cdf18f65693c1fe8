package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fabricbill/backend/internal/domain"
	"fabricbill/backend/internal/store"
	"fabricbill/backend/internal/xid"
)

type ReturnLine struct {
	Description string
	Qty         decimal.Decimal
	Rate        decimal.Decimal
	Reason      string
	ReturnDate  time.Time
}

func validateReturnLines(lines []ReturnLine) error {
	if len(lines) == 0 {
		return invalid("lines", "at least one return line is required")
	}
	for i, line := range lines {
		field := fmt.Sprintf("lines[%d]", i)
		if strings.TrimSpace(line.Description) == "" {
			return invalid(field+".description", "is required")
		}
		if !line.Qty.IsPositive() {
			return invalid(field+".qty", "must be greater than zero")
		}
		if !line.Rate.IsPositive() {
			return invalid(field+".rate", "must be greater than zero")
		}
		if line.ReturnDate.IsZero() {
			return invalid(field+".return_date", "is required")
		}
	}
	return nil
}

// checkReturnable rejects the batch when a product would be returned beyond
// its ordered qty or the batch would exceed the invoice's adjusted balance.
// Qty is checked cumulatively: stored returns first, then earlier lines of
// the same batch.
func checkReturnable(inv domain.Invoice, existing []domain.Return, lines []ReturnLine) error {
	ordered := map[string]decimal.Decimal{}
	for _, p := range inv.Products {
		desc := strings.TrimSpace(p.Description)
		ordered[desc] = ordered[desc].Add(p.Qty)
	}
	returned := map[string]decimal.Decimal{}
	existingTotal := decimal.Zero
	for _, r := range existing {
		desc := strings.TrimSpace(r.Description)
		returned[desc] = returned[desc].Add(r.Qty)
		existingTotal = existingTotal.Add(r.ReturnAmount)
	}

	batchTotal := decimal.Zero
	for _, line := range lines {
		desc := strings.TrimSpace(line.Description)
		if limit, ok := ordered[desc]; ok {
			already := returned[desc]
			if already.Add(line.Qty).GreaterThan(limit) {
				return &OverdraftError{
					Kind:        OverdraftQty,
					InvoiceNo:   inv.InvoiceNo,
					Description: desc,
					Requested:   line.Qty,
					Available:   floorZero(limit.Sub(already)),
				}
			}
			returned[desc] = already.Add(line.Qty)
		}
		batchTotal = batchTotal.Add(LineAmount(line.Qty, line.Rate))
	}

	balanceDue := inv.GrandTotal.Sub(effectiveBreakdown(inv).Total())
	available := balanceDue.Sub(existingTotal)
	if batchTotal.GreaterThan(available) {
		return &OverdraftError{
			Kind:      OverdraftAmount,
			InvoiceNo: inv.InvoiceNo,
			Requested: batchTotal,
			Available: floorZero(available),
		}
	}
	return nil
}

// AddReturns validates the whole batch, stores one return record per line
// and cascades. A rejected batch leaves no record behind.
func (e *Engine) AddReturns(ctx context.Context, invoiceNo string, lines []ReturnLine) (Result, error) {
	if err := validateReturnLines(lines); err != nil {
		return Result{}, err
	}

	var res Result
	err := e.withInvoice(ctx, invoiceNo, func(ctx context.Context, inv *domain.Invoice) error {
		_, existing, err := e.liveReturns(ctx, invoiceNo)
		if err != nil {
			return err
		}
		if err := checkReturnable(*inv, existing, lines); err != nil {
			return err
		}

		saved := make([]string, 0, len(lines))
		for _, line := range lines {
			id, err := e.store.SaveReturn(ctx, domain.Return{
				ID:           xid.Return(),
				InvoiceNo:    inv.InvoiceNo,
				CustomerKey:  inv.CustomerKey,
				CustomerName: inv.CustomerName,
				Description:  strings.TrimSpace(line.Description),
				Qty:          line.Qty,
				Rate:         line.Rate,
				ReturnAmount: LineAmount(line.Qty, line.Rate),
				Reason:       strings.TrimSpace(line.Reason),
				ReturnDate:   line.ReturnDate,
				CreatedAt:    e.now(),
			})
			if err != nil {
				e.deleteReturns(ctx, saved)
				return fmt.Errorf("save return for %s: %w", inv.InvoiceNo, err)
			}
			saved = append(saved, id)
		}

		if err := e.persistReconciled(ctx, inv, effectiveBreakdown(*inv)); err != nil {
			e.deleteReturns(ctx, saved)
			return err
		}

		res.Invoice = *inv
		res.Count = len(saved)
		res.Cascade, err = e.cascadeAfter(ctx, inv.CustomerKey, inv.InvoiceNo)
		return err
	})
	return res, err
}

func (e *Engine) deleteReturns(ctx context.Context, ids []string) {
	for _, id := range ids {
		if err := e.store.DeleteReturn(context.WithoutCancel(ctx), id); err != nil {
			e.log.Warn().Err(err).Str("return_id", id).Msg("compensating return delete failed")
		}
	}
}

func (e *Engine) resaveReturns(ctx context.Context, returns []domain.Return) {
	for _, r := range returns {
		if _, err := e.store.SaveReturn(context.WithoutCancel(ctx), r); err != nil {
			e.log.Warn().Err(err).Str("return_id", r.ID).Msg("compensating return restore failed")
		}
	}
}

// UndoReturn deletes one return record of invoiceNo.
func (e *Engine) UndoReturn(ctx context.Context, invoiceNo, returnID string) (Result, error) {
	if strings.TrimSpace(returnID) == "" {
		return Result{}, invalid("return_id", "is required")
	}

	var res Result
	err := e.withInvoice(ctx, invoiceNo, func(ctx context.Context, inv *domain.Invoice) error {
		_, existing, err := e.liveReturns(ctx, invoiceNo)
		if err != nil {
			return err
		}
		idx := slices.IndexFunc(existing, func(r domain.Return) bool { return r.ID == returnID })
		if idx < 0 {
			return &NotFoundError{Kind: "return", ID: returnID}
		}
		ret := existing[idx]
		if err := e.store.DeleteReturn(ctx, returnID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &NotFoundError{Kind: "return", ID: returnID}
			}
			return fmt.Errorf("delete return %s: %w", returnID, err)
		}

		if err := e.persistReconciled(ctx, inv, effectiveBreakdown(*inv)); err != nil {
			e.resaveReturns(ctx, []domain.Return{ret})
			return err
		}

		res.Invoice = *inv
		res.Count = 1
		res.Cascade, err = e.cascadeAfter(ctx, inv.CustomerKey, inv.InvoiceNo)
		return err
	})
	return res, err
}

// UndoAllReturns deletes every return record of invoiceNo.
func (e *Engine) UndoAllReturns(ctx context.Context, invoiceNo string) (Result, error) {
	var res Result
	err := e.withInvoice(ctx, invoiceNo, func(ctx context.Context, inv *domain.Invoice) error {
		_, existing, err := e.liveReturns(ctx, invoiceNo)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return &NotFoundError{Kind: "returns for invoice", ID: invoiceNo}
		}
		deleted := make([]domain.Return, 0, len(existing))
		for _, r := range existing {
			if err := e.store.DeleteReturn(ctx, r.ID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					continue
				}
				e.resaveReturns(ctx, deleted)
				return fmt.Errorf("delete return %s: %w", r.ID, err)
			}
			deleted = append(deleted, r)
		}

		if err := e.persistReconciled(ctx, inv, effectiveBreakdown(*inv)); err != nil {
			e.resaveReturns(ctx, deleted)
			return err
		}

		res.Invoice = *inv
		res.Count = len(existing)
		res.Cascade, err = e.cascadeAfter(ctx, inv.CustomerKey, inv.InvoiceNo)
		return err
	})
	return res, err
}

// ListReturns returns the return records of invoiceNo.
func (e *Engine) ListReturns(ctx context.Context, invoiceNo string) ([]domain.Return, error) {
	if _, err := e.getInvoice(ctx, invoiceNo); err != nil {
		return nil, err
	}
	_, returns, err := e.liveReturns(ctx, invoiceNo)
	return returns, err
}
