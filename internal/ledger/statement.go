package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"fabricbill/backend/internal/domain"
)

// Statement lists the customer's invoices newest first with live returns
// and the customer's totals.
func (e *Engine) Statement(ctx context.Context, customerKey string) (domain.CustomerStatement, error) {
	stmt := domain.CustomerStatement{CustomerKey: customerKey}
	if strings.TrimSpace(customerKey) == "" {
		return stmt, invalid("customer_key", "is required")
	}
	chain, err := e.chain(ctx, customerKey)
	if err != nil {
		return stmt, err
	}
	if len(chain) == 0 {
		return stmt, &NotFoundError{Kind: "customer ledger", ID: customerKey}
	}

	stmt.TotalInvoices = len(chain)
	stmt.TotalCurrentBills = decimal.Zero
	stmt.TotalPaid = decimal.Zero
	stmt.TotalReturns = decimal.Zero
	stmt.Invoices = make([]domain.StatementLine, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		inv := chain[i]
		returns, _, err := e.liveReturns(ctx, inv.InvoiceNo)
		if err != nil {
			return stmt, err
		}
		paid := effectiveBreakdown(inv).Total()
		balanceDue := inv.GrandTotal.Sub(paid)
		line := domain.StatementLine{
			InvoiceNo:          inv.InvoiceNo,
			InvoiceDate:        inv.InvoiceDate,
			Subtotal:           inv.Subtotal,
			PreviousBalance:    inv.PreviousBalance,
			GrandTotal:         inv.GrandTotal,
			AmountPaid:         paid,
			TotalReturns:       returns,
			BalanceDue:         balanceDue,
			AdjustedBalanceDue: balanceDue.Sub(returns),
		}
		if i == len(chain)-1 {
			stmt.CustomerName = inv.CustomerName
			stmt.BalanceDue = line.AdjustedBalanceDue
		}
		stmt.TotalCurrentBills = stmt.TotalCurrentBills.Add(inv.Subtotal)
		stmt.TotalPaid = stmt.TotalPaid.Add(paid)
		stmt.TotalReturns = stmt.TotalReturns.Add(returns)
		stmt.Invoices = append(stmt.Invoices, line)
	}
	stmt.GeneratedAt = e.now()
	return stmt, nil
}
