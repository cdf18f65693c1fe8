package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	"fabricbill/backend/internal/domain"
)

// LineAmount is qty * rate rounded half away from zero to paise.
func LineAmount(qty, rate decimal.Decimal) decimal.Decimal {
	return qty.Mul(rate).Round(2)
}

func subtotalOf(products []domain.ProductLine) decimal.Decimal {
	total := decimal.Zero
	for _, p := range products {
		total = total.Add(LineAmount(p.Qty, p.Rate))
	}
	return total
}

// NormalizePaymentMethod maps stored and legacy spellings onto the three
// breakdown buckets.
func NormalizePaymentMethod(method string) string {
	switch strings.ToLower(strings.TrimSpace(method)) {
	case domain.PaymentMethodUPI, "gpay", "googlepay", "google pay":
		return domain.PaymentMethodUPI
	case domain.PaymentMethodAccount, "bank":
		return domain.PaymentMethodAccount
	default:
		return domain.PaymentMethodCash
	}
}

// effectiveBreakdown reads invoices saved before the breakdown existed as
// paid fully in cash.
func effectiveBreakdown(inv domain.Invoice) domain.PaymentBreakdown {
	if inv.PaymentBreakdown.IsZero() && inv.AmountPaid.IsPositive() {
		return domain.PaymentBreakdown{Cash: inv.AmountPaid}
	}
	return inv.PaymentBreakdown
}

// reconcile recomputes the derived money fields of inv from its breakdown
// and the live sum of its returns.
func reconcile(inv *domain.Invoice, totalReturns decimal.Decimal) {
	inv.PaymentBreakdown = effectiveBreakdown(*inv)
	inv.AmountPaid = inv.PaymentBreakdown.Total()
	inv.BalanceDue = inv.GrandTotal.Sub(inv.AmountPaid)
	inv.TotalReturns = totalReturns
	inv.AdjustedBalanceDue = inv.BalanceDue.Sub(totalReturns)
}

// adjustedOf is what inv carries forward to its successor.
func adjustedOf(inv domain.Invoice, totalReturns decimal.Decimal) decimal.Decimal {
	return inv.GrandTotal.Sub(effectiveBreakdown(inv).Total()).Sub(totalReturns)
}

// sameMoney reports whether a and b agree on every derived money field.
func sameMoney(a, b domain.Invoice) bool {
	if len(a.Products) != len(b.Products) {
		return false
	}
	for i := range a.Products {
		if !a.Products[i].Amount.Equal(b.Products[i].Amount) {
			return false
		}
	}
	pairs := [][2]decimal.Decimal{
		{a.Subtotal, b.Subtotal},
		{a.PreviousBalance, b.PreviousBalance},
		{a.GrandTotal, b.GrandTotal},
		{a.AmountPaid, b.AmountPaid},
		{a.BalanceDue, b.BalanceDue},
		{a.TotalReturns, b.TotalReturns},
		{a.AdjustedBalanceDue, b.AdjustedBalanceDue},
		{a.PaymentBreakdown.Cash, b.PaymentBreakdown.Cash},
		{a.PaymentBreakdown.UPI, b.PaymentBreakdown.UPI},
		{a.PaymentBreakdown.Account, b.PaymentBreakdown.Account},
	}
	for _, p := range pairs {
		if !p[0].Equal(p[1]) {
			return false
		}
	}
	return true
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
