package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fabricbill/backend/internal/domain"
	"fabricbill/backend/internal/lock"
	"fabricbill/backend/internal/store"
	"fabricbill/backend/internal/store/memory"
	"fabricbill/backend/internal/xid"
)

const (
	ravi  = "+919820012345"
	meena = "+919830012345"
)

var billDate = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDec(t *testing.T, want string, got decimal.Decimal, label string) {
	t.Helper()
	if !dec(want).Equal(got) {
		t.Fatalf("%s: expected %s, got %s", label, want, got.String())
	}
}

func newTestEngine(t *testing.T) (*Engine, *memory.Store) {
	t.Helper()
	st := memory.New()
	return New(st, Options{}), st
}

func bill(no, customerKey string, lines ...domain.ProductLine) InvoiceInput {
	return InvoiceInput{
		InvoiceNo:    no,
		CustomerKey:  customerKey,
		CustomerName: "Ravi Textiles",
		InvoiceDate:  billDate,
		Products:     lines,
	}
}

func line(desc, qty, rate string) domain.ProductLine {
	return domain.ProductLine{Description: desc, Qty: dec(qty), Rate: dec(rate)}
}

func create(t *testing.T, e *Engine, in InvoiceInput) domain.Invoice {
	t.Helper()
	res, err := e.SaveInvoice(context.Background(), in, CreateInvoice)
	require.NoError(t, err)
	return res.Invoice
}

func mustGet(t *testing.T, e *Engine, no string) domain.Invoice {
	t.Helper()
	inv, err := e.GetInvoice(context.Background(), no)
	require.NoError(t, err)
	return *inv
}

func requireConsistent(t *testing.T, e *Engine, customerKey string) {
	t.Helper()
	violations, err := e.Verify(context.Background(), customerKey)
	require.NoError(t, err)
	require.Empty(t, violations)
}

type moneyView struct {
	Subtotal, Previous, Grand, Paid, Balance, Returns, Adjusted string
	Cash, UPI, Account                                          string
}

func viewOf(inv domain.Invoice) moneyView {
	return moneyView{
		Subtotal: inv.Subtotal.StringFixed(2),
		Previous: inv.PreviousBalance.StringFixed(2),
		Grand:    inv.GrandTotal.StringFixed(2),
		Paid:     inv.AmountPaid.StringFixed(2),
		Balance:  inv.BalanceDue.StringFixed(2),
		Returns:  inv.TotalReturns.StringFixed(2),
		Adjusted: inv.AdjustedBalanceDue.StringFixed(2),
		Cash:     inv.PaymentBreakdown.Cash.StringFixed(2),
		UPI:      inv.PaymentBreakdown.UPI.StringFixed(2),
		Account:  inv.PaymentBreakdown.Account.StringFixed(2),
	}
}

func chainViews(t *testing.T, e *Engine, customerKey string) map[string]moneyView {
	t.Helper()
	chain, err := e.chain(context.Background(), customerKey)
	require.NoError(t, err)
	out := make(map[string]moneyView, len(chain))
	for _, inv := range chain {
		out[inv.InvoiceNo] = viewOf(inv)
	}
	return out
}

// twoBills sets up #001 (grand total 1000, paid 400 cash) and #002
// (subtotal 500) for one customer.
func twoBills(t *testing.T, e *Engine) {
	t.Helper()
	first := bill("001", ravi, line("Cotton", "10", "100"))
	first.Payment = domain.PaymentBreakdown{Cash: dec("400")}
	create(t, e, first)
	create(t, e, bill("002", ravi, line("Silk", "1", "500")))
}

func TestCarriedBalanceFlowsIntoNextInvoice(t *testing.T) {
	e, _ := newTestEngine(t)
	twoBills(t, e)

	second := mustGet(t, e, "002")
	requireDec(t, "600", second.PreviousBalance, "previous balance")
	requireDec(t, "1100", second.GrandTotal, "grand total")

	carried, err := e.ComputeCarriedBalance(context.Background(), ravi, "")
	require.NoError(t, err)
	requireDec(t, "1100", carried.BalanceCarriedForward, "carried into next")
	requireDec(t, "2100", carried.TotalPreviousBills, "total previous bills")
	require.Equal(t, 2, carried.InvoiceCount)
	require.Equal(t, "002", carried.LastInvoiceNo)

	carried, err = e.ComputeCarriedBalance(context.Background(), ravi, "001")
	require.NoError(t, err)
	requireDec(t, "0", carried.BalanceCarriedForward, "first invoice")
	requireConsistent(t, e, ravi)
}

func TestReturnOnEarlierInvoiceCascades(t *testing.T) {
	e, _ := newTestEngine(t)
	twoBills(t, e)

	res, err := e.AddReturns(context.Background(), "001", []ReturnLine{
		{Description: "Cotton", Qty: dec("2"), Rate: dec("100"), Reason: "torn", ReturnDate: billDate},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"002"}, res.Cascade.Updated)
	requireDec(t, "400", res.Invoice.AdjustedBalanceDue, "adjusted balance")

	first := mustGet(t, e, "001")
	requireDec(t, "600", first.BalanceDue, "balance due excludes returns")
	requireDec(t, "200", first.TotalReturns, "total returns")
	requireDec(t, "400", first.AdjustedBalanceDue, "adjusted balance due")

	second := mustGet(t, e, "002")
	requireDec(t, "400", second.PreviousBalance, "previous balance")
	requireDec(t, "900", second.GrandTotal, "grand total")
	requireConsistent(t, e, ravi)
}

func TestUndoAllPaymentsCascades(t *testing.T) {
	e, _ := newTestEngine(t)
	twoBills(t, e)

	res, err := e.UndoAllPayments(context.Background(), "001")
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)

	first := mustGet(t, e, "001")
	requireDec(t, "0", first.AmountPaid, "amount paid")
	requireDec(t, "1000", first.BalanceDue, "balance due")
	require.True(t, first.PaymentBreakdown.IsZero())

	second := mustGet(t, e, "002")
	requireDec(t, "1000", second.PreviousBalance, "previous balance")
	requireDec(t, "1500", second.GrandTotal, "grand total")

	_, err = e.UndoAllPayments(context.Background(), "001")
	require.True(t, errors.Is(err, store.ErrNotFound))
	requireConsistent(t, e, ravi)
}

func TestReturnQtyCeilingRejectsWholeBatch(t *testing.T) {
	e, _ := newTestEngine(t)
	create(t, e, bill("001", ravi, line("Chiffon", "3", "100"), line("Linen", "2", "50")))
	before := mustGet(t, e, "001")

	_, err := e.AddReturns(context.Background(), "001", []ReturnLine{
		{Description: "Linen", Qty: dec("1"), Rate: dec("50"), ReturnDate: billDate},
		{Description: "Chiffon", Qty: dec("5"), Rate: dec("100"), ReturnDate: billDate},
	})
	require.True(t, errors.Is(err, ErrOverdraft))
	var od *OverdraftError
	require.True(t, errors.As(err, &od))
	require.Equal(t, OverdraftQty, od.Kind)
	requireDec(t, "3", od.Available, "returnable qty")

	returns, err := e.ListReturns(context.Background(), "001")
	require.NoError(t, err)
	require.Empty(t, returns)
	require.Equal(t, viewOf(before), viewOf(mustGet(t, e, "001")))
}

func TestReturnQtyCeilingCountsEarlierReturnsAndBatch(t *testing.T) {
	e, _ := newTestEngine(t)
	create(t, e, bill("001", ravi, line("Chiffon", "2", "100"), line("Chiffon", "1", "100")))

	_, err := e.AddReturns(context.Background(), "001", []ReturnLine{
		{Description: "Chiffon", Qty: dec("2"), Rate: dec("100"), ReturnDate: billDate},
	})
	require.NoError(t, err)

	_, err = e.AddReturns(context.Background(), "001", []ReturnLine{
		{Description: "Chiffon", Qty: dec("0.5"), Rate: dec("100"), ReturnDate: billDate},
		{Description: "Chiffon", Qty: dec("0.75"), Rate: dec("100"), ReturnDate: billDate},
	})
	require.True(t, errors.Is(err, ErrOverdraft))

	res, err := e.AddReturns(context.Background(), "001", []ReturnLine{
		{Description: "Chiffon", Qty: dec("0.5"), Rate: dec("100"), ReturnDate: billDate},
		{Description: "Chiffon", Qty: dec("0.5"), Rate: dec("100"), ReturnDate: billDate},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)
	requireDec(t, "300", res.Invoice.TotalReturns, "total returns")
	requireDec(t, "0", res.Invoice.AdjustedBalanceDue, "adjusted balance")
}

func TestReturnAmountCeiling(t *testing.T) {
	e, _ := newTestEngine(t)
	twoBills(t, e)
	before := chainViews(t, e, ravi)

	_, err := e.AddReturns(context.Background(), "001", []ReturnLine{
		{Description: "Cotton", Qty: dec("7"), Rate: dec("100"), ReturnDate: billDate},
	})
	var od *OverdraftError
	require.True(t, errors.As(err, &od))
	require.Equal(t, OverdraftAmount, od.Kind)
	requireDec(t, "600", od.Available, "available")
	require.Equal(t, before, chainViews(t, e, ravi))

	_, err = e.AddReturns(context.Background(), "001", []ReturnLine{
		{Description: "Cotton", Qty: dec("6"), Rate: dec("100"), ReturnDate: billDate},
	})
	require.NoError(t, err)
}

func TestReturnValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	create(t, e, bill("001", ravi, line("Cotton", "1", "100")))

	cases := []ReturnLine{
		{Description: " ", Qty: dec("1"), Rate: dec("10"), ReturnDate: billDate},
		{Description: "Cotton", Qty: dec("0"), Rate: dec("10"), ReturnDate: billDate},
		{Description: "Cotton", Qty: dec("1"), Rate: dec("-1"), ReturnDate: billDate},
		{Description: "Cotton", Qty: dec("1"), Rate: dec("10")},
	}
	for _, c := range cases {
		_, err := e.AddReturns(context.Background(), "001", []ReturnLine{c})
		require.True(t, errors.Is(err, ErrValidation), "line %+v", c)
	}
	_, err := e.AddReturns(context.Background(), "001", nil)
	require.True(t, errors.Is(err, ErrValidation))
}

func TestUndoReturnRestoresBalances(t *testing.T) {
	e, _ := newTestEngine(t)
	twoBills(t, e)
	before := chainViews(t, e, ravi)

	res, err := e.AddReturns(context.Background(), "001", []ReturnLine{
		{Description: "Cotton", Qty: dec("1"), Rate: dec("100"), ReturnDate: billDate},
		{Description: "Cotton", Qty: dec("1"), Rate: dec("100"), ReturnDate: billDate},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)

	returns, err := e.ListReturns(context.Background(), "001")
	require.NoError(t, err)
	require.Len(t, returns, 2)

	_, err = e.UndoReturn(context.Background(), "001", returns[0].ID)
	require.NoError(t, err)
	requireDec(t, "100", mustGet(t, e, "001").TotalReturns, "after one undo")
	requireConsistent(t, e, ravi)

	_, err = e.UndoReturn(context.Background(), "001", "return_missing")
	require.True(t, errors.Is(err, store.ErrNotFound))

	_, err = e.UndoAllReturns(context.Background(), "001")
	require.NoError(t, err)
	require.Equal(t, before, chainViews(t, e, ravi))

	_, err = e.UndoAllReturns(context.Background(), "001")
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func TestPaymentUndoIsExact(t *testing.T) {
	e, _ := newTestEngine(t)
	twoBills(t, e)

	for _, amounts := range []domain.PaymentBreakdown{
		{UPI: dec("123.45")},
		{Cash: dec("0.01"), Account: dec("99.99")},
		{Cash: dec("1000000.07")},
	} {
		before := chainViews(t, e, ravi)
		res, err := e.AddPayment(context.Background(), "001", PaymentInput{Amounts: amounts, Date: billDate})
		require.NoError(t, err)

		payments, err := e.ListPayments(context.Background(), "001")
		require.NoError(t, err)
		for _, p := range payments {
			if p.PaymentType != domain.PaymentTypeAdditional {
				continue
			}
			_, err := e.UndoPayment(context.Background(), "001", p.ID)
			require.NoError(t, err)
		}
		require.Equal(t, res.Count, countAdditional(t, payments))
		require.Equal(t, before, chainViews(t, e, ravi))
	}
	requireConsistent(t, e, ravi)
}

func countAdditional(t *testing.T, payments []domain.Payment) int {
	t.Helper()
	n := 0
	for _, p := range payments {
		if p.PaymentType == domain.PaymentTypeAdditional {
			n++
		}
	}
	return n
}

func TestUndoPaymentAcceptsLegacyIDs(t *testing.T) {
	e, st := newTestEngine(t)
	twoBills(t, e)

	_, err := st.SavePayment(context.Background(), domain.Payment{
		ID:            "1712345678901",
		InvoiceNo:     "001",
		CustomerKey:   ravi,
		PaymentDate:   billDate,
		Amount:        dec("50"),
		PaymentMethod: "gpay",
		PaymentType:   domain.PaymentTypeAdditional,
	})
	require.NoError(t, err)
	legacy := mustGet(t, e, "001")
	legacy.PaymentBreakdown.UPI = dec("50")
	legacy.AmountPaid = dec("450")
	legacy.BalanceDue = dec("550")
	legacy.AdjustedBalanceDue = dec("550")
	require.NoError(t, st.SaveInvoice(context.Background(), legacy))

	_, err = e.UndoPayment(context.Background(), "001", "payment_1712345678901")
	require.NoError(t, err)
	first := mustGet(t, e, "001")
	requireDec(t, "0", first.PaymentBreakdown.UPI, "upi bucket after undo")
	requireDec(t, "400", first.AmountPaid, "amount paid")

	payments, err := e.ListPayments(context.Background(), "001")
	require.NoError(t, err)
	var initialID string
	for _, p := range payments {
		if p.PaymentType == domain.PaymentTypeInitial {
			initialID = p.ID
		}
	}
	require.NotEmpty(t, initialID)
	_, err = e.UndoPayment(context.Background(), "001", initialID[len(xid.PaymentPrefix)+1:])
	require.NoError(t, err)
	requireDec(t, "0", mustGet(t, e, "001").PaymentBreakdown.Cash, "cash bucket")

	_, err = e.UndoPayment(context.Background(), "001", "payment_nope")
	require.True(t, errors.Is(err, store.ErrNotFound))
	requireConsistent(t, e, ravi)
}

func TestAddPaymentValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	twoBills(t, e)
	before := chainViews(t, e, ravi)

	_, err := e.AddPayment(context.Background(), "001", PaymentInput{Date: billDate})
	require.True(t, errors.Is(err, ErrValidation))
	_, err = e.AddPayment(context.Background(), "001", PaymentInput{Amounts: domain.PaymentBreakdown{Cash: dec("10")}})
	require.True(t, errors.Is(err, ErrValidation))
	_, err = e.AddPayment(context.Background(), "001", PaymentInput{Amounts: domain.PaymentBreakdown{Cash: dec("10"), UPI: dec("-5")}, Date: billDate})
	require.True(t, errors.Is(err, ErrValidation))
	_, err = e.AddPayment(context.Background(), "404", PaymentInput{Amounts: domain.PaymentBreakdown{Cash: dec("10")}, Date: billDate})
	require.True(t, errors.Is(err, store.ErrNotFound))
	require.Equal(t, before, chainViews(t, e, ravi))
}

func TestDeleteAndRestoreRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	twoBills(t, e)
	third := bill("003", ravi, line("Wool", "2", "250"))
	third.Payment = domain.PaymentBreakdown{UPI: dec("300")}
	create(t, e, third)
	_, err := e.AddReturns(context.Background(), "001", []ReturnLine{
		{Description: "Cotton", Qty: dec("1"), Rate: dec("100"), ReturnDate: billDate},
	})
	require.NoError(t, err)
	before := chainViews(t, e, ravi)

	entry, report, err := e.DeleteInvoice(context.Background(), "001")
	require.NoError(t, err)
	require.Equal(t, []string{"002", "003"}, report.Updated)
	require.Equal(t, "001", entry.OriginalID)
	require.Len(t, entry.Payments, 1)
	require.Len(t, entry.Returns, 1)
	requireDec(t, "0", mustGet(t, e, "002").PreviousBalance, "002 after delete")
	requireConsistent(t, e, ravi)

	_, err = e.GetInvoice(context.Background(), "001")
	require.True(t, errors.Is(err, store.ErrNotFound))

	bin, err := e.ListRecycleBin(context.Background())
	require.NoError(t, err)
	require.Len(t, bin, 1)

	res, err := e.RestoreInvoice(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Equal(t, "001", res.Invoice.InvoiceNo)
	require.Equal(t, []string{"001"}, res.Cascade.Unchanged)
	require.Equal(t, []string{"002", "003"}, res.Cascade.Updated)
	require.Equal(t, before, chainViews(t, e, ravi))
	requireConsistent(t, e, ravi)

	bin, err = e.ListRecycleBin(context.Background())
	require.NoError(t, err)
	require.Empty(t, bin)
}

func TestRestoreConflictsWithReusedNumber(t *testing.T) {
	e, _ := newTestEngine(t)
	create(t, e, bill("001", ravi, line("Cotton", "1", "100")))
	entry, _, err := e.DeleteInvoice(context.Background(), "001")
	require.NoError(t, err)

	create(t, e, bill("001", meena, line("Silk", "1", "900")))
	_, err = e.RestoreInvoice(context.Background(), entry.ID)
	require.True(t, errors.Is(err, store.ErrConflict))

	require.NoError(t, e.PurgeRecycleBinEntry(context.Background(), entry.ID))
	err = e.PurgeRecycleBinEntry(context.Background(), entry.ID)
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func TestEmptyRecycleBin(t *testing.T) {
	e, _ := newTestEngine(t)
	create(t, e, bill("001", ravi, line("Cotton", "1", "100")))
	create(t, e, bill("002", meena, line("Silk", "1", "100")))
	_, _, err := e.DeleteInvoice(context.Background(), "001")
	require.NoError(t, err)
	_, _, err = e.DeleteInvoice(context.Background(), "002")
	require.NoError(t, err)

	n, err := e.EmptyRecycleBin(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func fourBills(t *testing.T, e *Engine) {
	t.Helper()
	for _, no := range []string{"001", "002", "003", "004"} {
		in := bill(no, ravi, line("Cotton", "4", "125"))
		in.Payment = domain.PaymentBreakdown{Cash: dec("100")}
		create(t, e, in)
	}
}

func TestCascadeScope(t *testing.T) {
	e, _ := newTestEngine(t)
	fourBills(t, e)
	first := mustGet(t, e, "001")
	second := mustGet(t, e, "002")

	res, err := e.AddPayment(context.Background(), "002", PaymentInput{Amounts: domain.PaymentBreakdown{Account: dec("250")}, Date: billDate})
	require.NoError(t, err)
	require.Equal(t, []string{"003", "004"}, res.Cascade.Updated)
	require.Equal(t, first, mustGet(t, e, "001"))
	require.NotEqual(t, viewOf(second), viewOf(mustGet(t, e, "002")))
	requireConsistent(t, e, ravi)

	before := mustGet(t, e, "003")
	res, err = e.AddPayment(context.Background(), "004", PaymentInput{Amounts: domain.PaymentBreakdown{Cash: dec("1")}, Date: billDate})
	require.NoError(t, err)
	require.Empty(t, res.Cascade.Updated)
	require.Equal(t, before, mustGet(t, e, "003"))
}

func TestRecalculateIsIdempotent(t *testing.T) {
	e, st := newTestEngine(t)
	fourBills(t, e)
	_, err := e.AddReturns(context.Background(), "002", []ReturnLine{
		{Description: "Cotton", Qty: dec("1.5"), Rate: dec("125"), ReturnDate: billDate},
	})
	require.NoError(t, err)

	stale := mustGet(t, e, "003")
	stale.PreviousBalance = decimal.Zero
	stale.GrandTotal = stale.Subtotal
	require.NoError(t, st.SaveInvoice(context.Background(), stale))

	first, err := e.Recalculate(context.Background(), ravi, "")
	require.NoError(t, err)
	require.Equal(t, []string{"003"}, first.Updated)
	require.Equal(t, []string{"001", "002", "004"}, first.Unchanged)
	requireConsistent(t, e, ravi)
	once, err := e.chain(context.Background(), ravi)
	require.NoError(t, err)

	second, err := e.Recalculate(context.Background(), ravi, "")
	require.NoError(t, err)
	require.NotEqual(t, first.RunID, second.RunID)
	require.Empty(t, second.Updated)
	require.Len(t, second.Unchanged, 4)
	again, err := e.chain(context.Background(), ravi)
	require.NoError(t, err)
	require.Equal(t, once, again)

	report, err := e.Recalculate(context.Background(), ravi, "003")
	require.NoError(t, err)
	require.Empty(t, report.Updated)
	require.Equal(t, []string{"004"}, report.Unchanged)

	_, err = e.Recalculate(context.Background(), ravi, "999")
	require.True(t, errors.Is(err, store.ErrNotFound))
}

type flakyStore struct {
	store.LedgerStore
	mu     sync.Mutex
	failOn string
}

func (f *flakyStore) SaveInvoice(ctx context.Context, inv domain.Invoice) error {
	f.mu.Lock()
	fail := inv.InvoiceNo == f.failOn
	f.mu.Unlock()
	if fail {
		return errors.New("write quota exceeded")
	}
	return f.LedgerStore.SaveInvoice(ctx, inv)
}

func (f *flakyStore) setFailOn(no string) {
	f.mu.Lock()
	f.failOn = no
	f.mu.Unlock()
}

func TestPartialCascadeReportsAndResumes(t *testing.T) {
	flaky := &flakyStore{LedgerStore: memory.New()}
	e := New(flaky, Options{})
	fourBills(t, e)

	flaky.setFailOn("003")
	_, err := e.AddPayment(context.Background(), "001", PaymentInput{Amounts: domain.PaymentBreakdown{Cash: dec("40")}, Date: billDate})
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrPartialCascade))
	require.True(t, IsRetryable(err))

	var partial *PartialCascadeError
	require.True(t, errors.As(err, &partial))
	require.Equal(t, ravi, partial.CustomerKey)
	require.Equal(t, []string{"002"}, partial.Updated)
	require.Equal(t, "003", partial.FailedInvoiceNo)
	require.Equal(t, "002", partial.ResumeAfter)
	require.NotEmpty(t, partial.RunID)

	violations, err := e.Verify(context.Background(), ravi)
	require.NoError(t, err)
	require.NotEmpty(t, violations)

	flaky.setFailOn("")
	_, err = e.Recalculate(context.Background(), ravi, partial.ResumeAfter)
	require.NoError(t, err)
	requireConsistent(t, e, ravi)
}

func TestEditKeepsPaymentsAndReturns(t *testing.T) {
	e, _ := newTestEngine(t)
	twoBills(t, e)
	_, err := e.AddReturns(context.Background(), "001", []ReturnLine{
		{Description: "Cotton", Qty: dec("1"), Rate: dec("100"), ReturnDate: billDate},
	})
	require.NoError(t, err)

	edit := bill("001", ravi, line("Cotton", "12", "100"))
	edit.Payment = domain.PaymentBreakdown{Cash: dec("999")}
	res, err := e.SaveInvoice(context.Background(), edit, EditInvoice)
	require.NoError(t, err)
	require.Equal(t, []string{"002"}, res.Cascade.Updated)

	first := mustGet(t, e, "001")
	requireDec(t, "1200", first.GrandTotal, "grand total")
	requireDec(t, "400", first.AmountPaid, "amount paid kept")
	requireDec(t, "800", first.BalanceDue, "balance due")
	requireDec(t, "700", first.AdjustedBalanceDue, "adjusted")
	requireDec(t, "700", mustGet(t, e, "002").PreviousBalance, "carried")
	requireConsistent(t, e, ravi)

	_, err = e.SaveInvoice(context.Background(), bill("404", ravi, line("x", "1", "1")), EditInvoice)
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func TestEditMovingCustomerRecalculatesBothChains(t *testing.T) {
	e, _ := newTestEngine(t)
	twoBills(t, e)
	create(t, e, bill("010", meena, line("Silk", "1", "300")))

	moved := bill("001", meena, line("Cotton", "10", "100"))
	res, err := e.SaveInvoice(context.Background(), moved, EditInvoice)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"010", "002"}, res.Cascade.Updated)

	requireDec(t, "0", mustGet(t, e, "002").PreviousBalance, "old chain")
	requireDec(t, "600", mustGet(t, e, "010").PreviousBalance, "new chain")

	payments, err := e.ListPayments(context.Background(), "001")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.Equal(t, meena, payments[0].CustomerKey)
	requireConsistent(t, e, ravi)
	requireConsistent(t, e, meena)
}

func TestCreateRejectsDuplicateNumber(t *testing.T) {
	e, _ := newTestEngine(t)
	create(t, e, bill("001", ravi, line("Cotton", "1", "100")))

	_, err := e.SaveInvoice(context.Background(), bill("001", meena, line("Silk", "1", "100")), CreateInvoice)
	require.True(t, errors.Is(err, ErrValidation))

	ok, err := e.IsInvoiceNumberAvailable(context.Background(), "002")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSaveInvoiceValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	cases := []InvoiceInput{
		bill("", ravi, line("Cotton", "1", "1")),
		bill("001", "", line("Cotton", "1", "1")),
		bill("001", ravi),
		bill("001", ravi, line("", "1", "1")),
		bill("001", ravi, line("Cotton", "0", "1")),
		bill("001", ravi, line("Cotton", "1", "-1")),
	}
	for _, c := range cases {
		_, err := e.SaveInvoice(context.Background(), c, CreateInvoice)
		require.True(t, errors.Is(err, ErrValidation), "input %+v", c)
	}
}

func TestCreateInMiddleOfChainCarriesFromPredecessor(t *testing.T) {
	e, _ := newTestEngine(t)
	create(t, e, bill("001", ravi, line("Cotton", "1", "100")))
	create(t, e, bill("003", ravi, line("Cotton", "1", "300")))

	res, err := e.SaveInvoice(context.Background(), bill("002", ravi, line("Cotton", "1", "200")), CreateInvoice)
	require.NoError(t, err)
	requireDec(t, "100", res.Invoice.PreviousBalance, "carried from 001")
	require.Equal(t, []string{"003"}, res.Cascade.Updated)
	requireDec(t, "300", mustGet(t, e, "003").PreviousBalance, "003 carried")
	requireConsistent(t, e, ravi)
}

func TestLegacyInvoiceWithoutBreakdownReadsAsCash(t *testing.T) {
	e, st := newTestEngine(t)
	require.NoError(t, st.SaveInvoice(context.Background(), domain.Invoice{
		InvoiceNo:   "001",
		CustomerKey: "name:Old Customer",
		InvoiceDate: billDate,
		Products:    []domain.ProductLine{line("Cotton", "5", "100")},
		Subtotal:    dec("500"),
		GrandTotal:  dec("500"),
		AmountPaid:  dec("200"),
		BalanceDue:  dec("300"),
	}))

	res, err := e.AddPayment(context.Background(), "001", PaymentInput{Amounts: domain.PaymentBreakdown{UPI: dec("50")}, Date: billDate})
	require.NoError(t, err)
	requireDec(t, "200", res.Invoice.PaymentBreakdown.Cash, "cash")
	requireDec(t, "250", res.Invoice.AmountPaid, "amount paid")
	requireDec(t, "250", res.Invoice.BalanceDue, "balance due")
	requireConsistent(t, e, "name:Old Customer")
}

func TestStatementNewestFirst(t *testing.T) {
	e, _ := newTestEngine(t)
	twoBills(t, e)
	_, err := e.AddReturns(context.Background(), "001", []ReturnLine{
		{Description: "Cotton", Qty: dec("1"), Rate: dec("100"), ReturnDate: billDate},
	})
	require.NoError(t, err)

	stmt, err := e.Statement(context.Background(), ravi)
	require.NoError(t, err)
	require.Equal(t, 2, stmt.TotalInvoices)
	require.Equal(t, "002", stmt.Invoices[0].InvoiceNo)
	requireDec(t, "1500", stmt.TotalCurrentBills, "current bills")
	requireDec(t, "400", stmt.TotalPaid, "paid")
	requireDec(t, "100", stmt.TotalReturns, "returns")
	requireDec(t, "1000", stmt.BalanceDue, "balance due")

	balance, err := e.CustomerBalance(context.Background(), ravi, "")
	require.NoError(t, err)
	requireDec(t, "1000", balance, "customer balance")
	balance, err = e.CustomerBalance(context.Background(), ravi, "002")
	require.NoError(t, err)
	requireDec(t, "500", balance, "excluding 002")

	_, err = e.Statement(context.Background(), meena)
	require.True(t, errors.Is(err, store.ErrNotFound))
}

func TestInvariantsHoldAcrossMixedOperations(t *testing.T) {
	e, _ := newTestEngine(t)
	fourBills(t, e)
	ctx := context.Background()

	_, err := e.AddPayment(ctx, "003", PaymentInput{Amounts: domain.PaymentBreakdown{UPI: dec("10.10")}, Date: billDate})
	require.NoError(t, err)
	_, err = e.AddReturns(ctx, "002", []ReturnLine{{Description: "Cotton", Qty: dec("0.25"), Rate: dec("125"), ReturnDate: billDate}})
	require.NoError(t, err)
	_, err = e.UndoAllPayments(ctx, "001")
	require.NoError(t, err)
	_, err = e.AddReturns(ctx, "004", []ReturnLine{{Description: "Remnant", Qty: dec("1"), Rate: dec("33.33"), ReturnDate: billDate}})
	require.NoError(t, err)
	_, err = e.UndoAllReturns(ctx, "002")
	require.NoError(t, err)
	entry, _, err := e.DeleteInvoice(ctx, "003")
	require.NoError(t, err)
	requireConsistent(t, e, ravi)
	_, err = e.RestoreInvoice(ctx, entry.ID)
	require.NoError(t, err)
	requireConsistent(t, e, ravi)
}

func TestLockTimeoutSurfaces(t *testing.T) {
	km := lock.NewKeyedMutex()
	e := New(memory.New(), Options{Locker: km, Timeout: 30 * time.Millisecond})
	create(t, e, bill("001", ravi, line("Cotton", "1", "100")))

	release, err := km.Acquire(context.Background(), ravi)
	require.NoError(t, err)
	defer release()

	_, err = e.AddPayment(context.Background(), "001", PaymentInput{Amounts: domain.PaymentBreakdown{Cash: dec("1")}, Date: billDate})
	require.True(t, errors.Is(err, ErrLockTimeout))
	require.True(t, IsRetryable(err))
	require.False(t, IsClientError(err))
}

func TestOnChangeReceivesTouchedCustomers(t *testing.T) {
	var (
		mu      sync.Mutex
		touched []string
	)
	e := New(memory.New(), Options{OnChange: func(_ context.Context, keys ...string) {
		mu.Lock()
		touched = append(touched, keys...)
		mu.Unlock()
	}})
	create(t, e, bill("001", ravi, line("Cotton", "1", "100")))

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, touched, ravi)
}

func TestUndoPaymentKeepsRecordWhenInvoiceSaveFails(t *testing.T) {
	flaky := &flakyStore{LedgerStore: memory.New()}
	e := New(flaky, Options{})
	twoBills(t, e)
	before := chainViews(t, e, ravi)
	payments, err := e.ListPayments(context.Background(), "001")
	require.NoError(t, err)
	require.Len(t, payments, 1)

	flaky.setFailOn("001")
	_, err = e.UndoPayment(context.Background(), "001", payments[0].ID)
	require.ErrorContains(t, err, "write quota exceeded")
	require.Equal(t, before, chainViews(t, e, ravi))
	left, err := e.ListPayments(context.Background(), "001")
	require.NoError(t, err)
	require.Equal(t, payments, left)

	flaky.setFailOn("")
	_, err = e.UndoPayment(context.Background(), "001", payments[0].ID)
	require.NoError(t, err)
	requireDec(t, "0", mustGet(t, e, "001").AmountPaid, "amount paid after retry")
	requireConsistent(t, e, ravi)
}

func TestUndoAllPaymentsKeepsRecordsWhenInvoiceSaveFails(t *testing.T) {
	flaky := &flakyStore{LedgerStore: memory.New()}
	e := New(flaky, Options{})
	twoBills(t, e)
	_, err := e.AddPayment(context.Background(), "001", PaymentInput{Amounts: domain.PaymentBreakdown{UPI: dec("50")}, Date: billDate})
	require.NoError(t, err)
	before := chainViews(t, e, ravi)

	flaky.setFailOn("001")
	_, err = e.UndoAllPayments(context.Background(), "001")
	require.ErrorContains(t, err, "write quota exceeded")
	require.Equal(t, before, chainViews(t, e, ravi))
	left, err := e.ListPayments(context.Background(), "001")
	require.NoError(t, err)
	require.Len(t, left, 2)

	flaky.setFailOn("")
	res, err := e.UndoAllPayments(context.Background(), "001")
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)
	requireConsistent(t, e, ravi)
}

func TestUndoReturnKeepsRecordWhenInvoiceSaveFails(t *testing.T) {
	flaky := &flakyStore{LedgerStore: memory.New()}
	e := New(flaky, Options{})
	twoBills(t, e)
	_, err := e.AddReturns(context.Background(), "001", []ReturnLine{
		{Description: "Cotton", Qty: dec("1"), Rate: dec("100"), ReturnDate: billDate},
	})
	require.NoError(t, err)
	before := chainViews(t, e, ravi)
	returns, err := e.ListReturns(context.Background(), "001")
	require.NoError(t, err)
	require.Len(t, returns, 1)

	flaky.setFailOn("001")
	_, err = e.UndoReturn(context.Background(), "001", returns[0].ID)
	require.ErrorContains(t, err, "write quota exceeded")
	require.Equal(t, before, chainViews(t, e, ravi))
	left, err := e.ListReturns(context.Background(), "001")
	require.NoError(t, err)
	require.Equal(t, returns, left)

	flaky.setFailOn("")
	_, err = e.UndoReturn(context.Background(), "001", returns[0].ID)
	require.NoError(t, err)
	requireDec(t, "0", mustGet(t, e, "001").TotalReturns, "returns after retry")
	requireConsistent(t, e, ravi)
}

func TestUndoAllReturnsKeepsRecordsWhenInvoiceSaveFails(t *testing.T) {
	flaky := &flakyStore{LedgerStore: memory.New()}
	e := New(flaky, Options{})
	twoBills(t, e)
	_, err := e.AddReturns(context.Background(), "001", []ReturnLine{
		{Description: "Cotton", Qty: dec("1"), Rate: dec("100"), ReturnDate: billDate},
		{Description: "Cotton", Qty: dec("2"), Rate: dec("100"), ReturnDate: billDate},
	})
	require.NoError(t, err)
	before := chainViews(t, e, ravi)

	flaky.setFailOn("001")
	_, err = e.UndoAllReturns(context.Background(), "001")
	require.ErrorContains(t, err, "write quota exceeded")
	require.Equal(t, before, chainViews(t, e, ravi))
	left, err := e.ListReturns(context.Background(), "001")
	require.NoError(t, err)
	require.Len(t, left, 2)
	requireConsistent(t, e, ravi)

	flaky.setFailOn("")
	res, err := e.UndoAllReturns(context.Background(), "001")
	require.NoError(t, err)
	require.Equal(t, 2, res.Count)
	requireConsistent(t, e, ravi)
}

func TestCarriedBalancePreviewMatchesCreate(t *testing.T) {
	e, _ := newTestEngine(t)
	first := bill("001", ravi, line("Cotton", "10", "100"))
	first.Payment = domain.PaymentBreakdown{Cash: dec("400")}
	create(t, e, first)
	create(t, e, bill("003", ravi, line("Silk", "1", "500")))

	for _, no := range []string{"002", "INV9", "004"} {
		preview, err := e.ComputeCarriedBalance(context.Background(), ravi, no)
		require.NoError(t, err)
		res, err := e.SaveInvoice(context.Background(), bill(no, ravi, line("Linen", "1", "50")), CreateInvoice)
		require.NoError(t, err)
		requireDec(t, preview.BalanceCarriedForward.String(), res.Invoice.PreviousBalance, "carried into "+no)
		requireConsistent(t, e, ravi)
	}

	preview, err := e.ComputeCarriedBalance(context.Background(), ravi, "INV10")
	require.NoError(t, err)
	requireDec(t, "0", preview.BalanceCarriedForward, "sorts before 001")
	require.Equal(t, 0, preview.InvoiceCount)
}

func TestDeleteInSameMillisecondGetsDistinctBinEntries(t *testing.T) {
	frozen := time.UnixMilli(1700000000000).UTC()
	e := New(memory.New(), Options{Now: func() time.Time { return frozen }})

	create(t, e, bill("001", ravi, line("Cotton", "1", "100")))
	first, _, err := e.DeleteInvoice(context.Background(), "001")
	require.NoError(t, err)
	require.Equal(t, xid.RecycleBin("001", frozen), first.ID)

	create(t, e, bill("001", meena, line("Silk", "1", "900")))
	second, _, err := e.DeleteInvoice(context.Background(), "001")
	require.NoError(t, err)
	require.Equal(t, xid.RecycleBin("001", frozen.Add(time.Millisecond)), second.ID)

	bin, err := e.ListRecycleBin(context.Background())
	require.NoError(t, err)
	require.Len(t, bin, 2)
	require.Equal(t, second.ID, bin[0].ID)

	res, err := e.RestoreInvoice(context.Background(), first.ID)
	require.NoError(t, err)
	require.Equal(t, ravi, res.Invoice.CustomerKey)
}
