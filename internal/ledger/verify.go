package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"fabricbill/backend/internal/domain"
)

// Rule names reported by Verify.
const (
	RulePreviousBalance    = "previous_balance"
	RuleGrandTotal         = "grand_total"
	RuleAmountPaid         = "amount_paid"
	RuleBalanceDue         = "balance_due"
	RuleTotalReturns       = "total_returns"
	RuleAdjustedBalanceDue = "adjusted_balance_due"
	RuleReturnedQty        = "returned_qty"
)

// Verify checks the stored chain of customerKey against the ledger
// invariants without changing anything. An empty result means the chain is
// consistent.
func (e *Engine) Verify(ctx context.Context, customerKey string) ([]domain.Violation, error) {
	chain, err := e.chain(ctx, customerKey)
	if err != nil {
		return nil, err
	}

	violations := make([]domain.Violation, 0)
	check := func(invoiceNo, rule string, expected, actual decimal.Decimal) {
		if !expected.Equal(actual) {
			violations = append(violations, domain.Violation{
				InvoiceNo: invoiceNo,
				Rule:      rule,
				Expected:  expected,
				Actual:    actual,
			})
		}
	}

	prevAdjusted := decimal.Zero
	for i, inv := range chain {
		returnsTotal, returns, err := e.liveReturns(ctx, inv.InvoiceNo)
		if err != nil {
			return nil, err
		}

		if i == 0 {
			check(inv.InvoiceNo, RulePreviousBalance, decimal.Zero, inv.PreviousBalance)
		} else {
			check(inv.InvoiceNo, RulePreviousBalance, prevAdjusted, inv.PreviousBalance)
		}
		check(inv.InvoiceNo, RuleGrandTotal, subtotalOf(inv.Products).Add(inv.PreviousBalance), inv.GrandTotal)
		check(inv.InvoiceNo, RuleAmountPaid, inv.PaymentBreakdown.Total(), inv.AmountPaid)
		check(inv.InvoiceNo, RuleBalanceDue, inv.GrandTotal.Sub(inv.AmountPaid), inv.BalanceDue)
		check(inv.InvoiceNo, RuleTotalReturns, returnsTotal, inv.TotalReturns)
		check(inv.InvoiceNo, RuleAdjustedBalanceDue, inv.BalanceDue.Sub(returnsTotal), inv.AdjustedBalanceDue)

		ordered := map[string]decimal.Decimal{}
		for _, p := range inv.Products {
			desc := strings.TrimSpace(p.Description)
			ordered[desc] = ordered[desc].Add(p.Qty)
		}
		returned := map[string]decimal.Decimal{}
		for _, r := range returns {
			desc := strings.TrimSpace(r.Description)
			returned[desc] = returned[desc].Add(r.Qty)
		}
		for desc, qty := range returned {
			if limit, ok := ordered[desc]; ok && qty.GreaterThan(limit) {
				violations = append(violations, domain.Violation{
					InvoiceNo: inv.InvoiceNo,
					Rule:      RuleReturnedQty + ":" + desc,
					Expected:  limit,
					Actual:    qty,
				})
			}
		}

		prevAdjusted = inv.GrandTotal.Sub(inv.AmountPaid).Sub(returnsTotal)
	}

	if len(violations) > 0 {
		e.log.Warn().
			Str("customer_key", customerKey).
			Int("violations", len(violations)).
			Msg("ledger chain inconsistent")
	}
	return violations, nil
}
