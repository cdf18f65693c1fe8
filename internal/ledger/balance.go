package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"fabricbill/backend/internal/domain"
)

// ComputeCarriedBalance returns the balance carried into invoiceNo for the
// customer. An empty invoiceNo is the next new invoice, which carries the
// adjusted balance of the last invoice in the chain. An unknown invoiceNo
// carries from the invoice it would follow once created, matching what
// SaveInvoice stores. The first invoice of a chain carries zero.
func (e *Engine) ComputeCarriedBalance(ctx context.Context, customerKey, invoiceNo string) (domain.CarriedBalance, error) {
	result := domain.CarriedBalance{CustomerKey: customerKey}
	if strings.TrimSpace(customerKey) == "" {
		return result, invalid("customer_key", "is required")
	}

	chain, err := e.chain(ctx, customerKey)
	if err != nil {
		return result, err
	}

	predecessors := len(chain)
	if invoiceNo != "" {
		if idx := indexOf(chain, invoiceNo); idx >= 0 {
			predecessors = idx
		} else {
			predecessors = insertionIndex(chain, invoiceNo)
		}
	}
	if predecessors == 0 {
		result.BalanceCarriedForward = decimal.Zero
		result.TotalPreviousBills = decimal.Zero
		return result, nil
	}

	carried, err := e.carriedInto(ctx, chain, predecessors)
	if err != nil {
		return result, err
	}
	total := decimal.Zero
	for _, inv := range chain[:predecessors] {
		total = total.Add(inv.GrandTotal)
	}
	result.TotalPreviousBills = total
	result.BalanceCarriedForward = carried
	result.InvoiceCount = predecessors
	result.LastInvoiceNo = chain[predecessors-1].InvoiceNo
	return result, nil
}

// carriedInto is the balance carried into position idx of chain: the
// adjusted balance of its predecessor, with returns read live.
func (e *Engine) carriedInto(ctx context.Context, chain []domain.Invoice, idx int) (decimal.Decimal, error) {
	if idx <= 0 {
		return decimal.Zero, nil
	}
	prev := chain[idx-1]
	returns, _, err := e.liveReturns(ctx, prev.InvoiceNo)
	if err != nil {
		return decimal.Zero, err
	}
	return adjustedOf(prev, returns), nil
}

// ComputeTotalReturns sums the live return records of invoiceNo.
func (e *Engine) ComputeTotalReturns(ctx context.Context, invoiceNo string) (decimal.Decimal, error) {
	total, _, err := e.liveReturns(ctx, invoiceNo)
	return total, err
}

// CustomerBalance is the customer's outstanding balance: the adjusted
// balance of their latest invoice, ignoring excludeInvoiceNo.
func (e *Engine) CustomerBalance(ctx context.Context, customerKey, excludeInvoiceNo string) (decimal.Decimal, error) {
	chain, err := e.chain(ctx, customerKey)
	if err != nil {
		return decimal.Zero, err
	}
	if excludeInvoiceNo != "" {
		if idx := indexOf(chain, excludeInvoiceNo); idx >= 0 {
			chain = append(chain[:idx], chain[idx+1:]...)
		}
	}
	return e.carriedInto(ctx, chain, len(chain))
}
