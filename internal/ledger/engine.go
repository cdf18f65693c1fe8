package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fabricbill/backend/internal/domain"
	"fabricbill/backend/internal/lock"
	"fabricbill/backend/internal/store"
)

const defaultTimeout = 15 * time.Second

type Options struct {
	// Locker serialises mutations per customer key. Defaults to an
	// in-process keyed mutex.
	Locker lock.Locker
	// Timeout bounds one mutation including its cascade.
	Timeout time.Duration
	Logger  zerolog.Logger
	// OnChange is called with the customer keys touched by a mutation,
	// after the customer locks are released.
	OnChange func(ctx context.Context, customerKeys ...string)
	Now      func() time.Time
}

// Engine is the customer ledger: balance derivation, cascading
// recalculation and payment/return reconciliation over a LedgerStore.
type Engine struct {
	store    store.LedgerStore
	locker   lock.Locker
	timeout  time.Duration
	log      zerolog.Logger
	onChange func(ctx context.Context, customerKeys ...string)
	now      func() time.Time
}

func New(st store.LedgerStore, opts Options) *Engine {
	e := &Engine{
		store:    st,
		locker:   opts.Locker,
		timeout:  opts.Timeout,
		log:      opts.Logger,
		onChange: opts.OnChange,
		now:      opts.Now,
	}
	if e.locker == nil {
		e.locker = lock.NewKeyedMutex()
	}
	if e.timeout <= 0 {
		e.timeout = defaultTimeout
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// withCustomers runs fn holding the locks of every key, acquired in sorted
// order, under the engine's per-operation timeout.
func (e *Engine) withCustomers(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	err := e.locked(ctx, keys, fn)
	if e.onChange != nil && !errors.Is(err, ErrLockTimeout) {
		e.onChange(context.WithoutCancel(ctx), keys...)
	}
	return err
}

func (e *Engine) locked(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	releases := make([]func(), 0, len(keys))
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()
	for _, key := range keys {
		release, err := e.locker.Acquire(ctx, key)
		if err != nil {
			if errors.Is(err, lock.ErrNotAcquired) {
				return fmt.Errorf("%w: %s: %w", ErrLockTimeout, key, err)
			}
			return err
		}
		releases = append(releases, release)
	}
	return fn(ctx)
}

// withInvoice locks the customer owning invoiceNo and hands fn a fresh copy
// read under that lock. The owner is re-checked since an edit may have moved
// the invoice between the unlocked read and the lock.
func (e *Engine) withInvoice(ctx context.Context, invoiceNo string, fn func(ctx context.Context, inv *domain.Invoice) error) error {
	const attempts = 3
	for i := 0; i < attempts; i++ {
		inv, err := e.getInvoice(ctx, invoiceNo)
		if err != nil {
			return err
		}
		moved := false
		err = e.withCustomers(ctx, []string{inv.CustomerKey}, func(ctx context.Context) error {
			fresh, err := e.getInvoice(ctx, invoiceNo)
			if err != nil {
				return err
			}
			if fresh.CustomerKey != inv.CustomerKey {
				moved = true
				return nil
			}
			return fn(ctx, fresh)
		})
		if !moved {
			return err
		}
	}
	return fmt.Errorf("%w: invoice %s keeps changing owner", ErrLockTimeout, invoiceNo)
}

func (e *Engine) getInvoice(ctx context.Context, invoiceNo string) (*domain.Invoice, error) {
	inv, err := e.store.GetInvoice(ctx, invoiceNo)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Kind: "invoice", ID: invoiceNo}
		}
		return nil, fmt.Errorf("get invoice %s: %w", invoiceNo, err)
	}
	return inv, nil
}

// GetInvoice returns the stored invoice.
func (e *Engine) GetInvoice(ctx context.Context, invoiceNo string) (*domain.Invoice, error) {
	return e.getInvoice(ctx, invoiceNo)
}

// chain returns the customer's invoices in ledger order.
func (e *Engine) chain(ctx context.Context, customerKey string) ([]domain.Invoice, error) {
	invoices, err := e.store.ListInvoicesByCustomer(ctx, customerKey)
	if err != nil {
		return nil, fmt.Errorf("list invoices of %s: %w", customerKey, err)
	}
	sortChain(invoices)
	return invoices, nil
}

// liveReturns sums the stored return records of invoiceNo. A lookup failure
// is an error, never an empty sum.
func (e *Engine) liveReturns(ctx context.Context, invoiceNo string) (decimal.Decimal, []domain.Return, error) {
	returns, err := e.store.ListReturnsByInvoice(ctx, invoiceNo)
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("list returns of %s: %w", invoiceNo, err)
	}
	total := decimal.Zero
	for _, r := range returns {
		total = total.Add(r.ReturnAmount)
	}
	return total, returns, nil
}
