package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fabricbill/backend/internal/cache"
	"fabricbill/backend/internal/customer"
	"fabricbill/backend/internal/domain"
	"fabricbill/backend/internal/ledger"
	"fabricbill/backend/internal/store"
	"fabricbill/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// DefaultRegion is the libphonenumber region for phones written without
	// a country code.
	DefaultRegion string
	StatementTTL  time.Duration
	Statements    cache.StatementCache
	Logger        zerolog.Logger
	// Ledger configures the engine. Its OnChange is wrapped so statements of
	// touched customers are dropped from the cache first.
	Ledger ledger.Options
}

type Service struct {
	repo         store.Repository
	ledger       *ledger.Engine
	statements   cache.StatementCache
	validate     *validator.Validate
	region       string
	statementTTL time.Duration
	log          zerolog.Logger

	// generations counts statement invalidations per customer key.
	genMu       sync.Mutex
	generations map[string]uint64
}

func New(repo store.Repository, opts Options) *Service {
	s := &Service{
		repo:         repo,
		statements:   opts.Statements,
		validate:     newValidator(),
		region:       strings.ToUpper(strings.TrimSpace(opts.DefaultRegion)),
		statementTTL: opts.StatementTTL,
		log:          opts.Logger,
		generations:  map[string]uint64{},
	}
	if s.statements == nil {
		s.statements = cache.NoopStatementCache{}
	}
	if s.region == "" {
		s.region = customer.DefaultRegion
	}
	if s.statementTTL <= 0 {
		s.statementTTL = time.Minute
	}

	ledgerOpts := opts.Ledger
	next := ledgerOpts.OnChange
	ledgerOpts.OnChange = func(ctx context.Context, customerKeys ...string) {
		s.invalidateStatements(ctx, customerKeys...)
		if next != nil {
			next(ctx, customerKeys...)
		}
	}
	s.ledger = ledger.New(repo, ledgerOpts)
	return s
}

// Ledger exposes the engine for operator tooling.
func (s *Service) Ledger() *ledger.Engine {
	return s.ledger
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// check runs struct validation and reports the first failing field as a
// ledger validation error.
func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ledger.ValidationError{Message: err.Error()}
	}
	fe := fieldErrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	return &ledger.ValidationError{Field: field, Message: describeTag(fe)}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must not be less than " + fe.Param()
	case "min":
		return "needs at least " + fe.Param() + " entries"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "datetime":
		return "must be a date formatted as YYYY-MM-DD"
	}
	return "failed " + fe.Tag() + " check"
}

func parseDate(field, value string) (time.Time, error) {
	parsed, err := time.Parse(domain.DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, &ledger.ValidationError{Field: field, Message: "must be a date formatted as YYYY-MM-DD"}
	}
	return parsed.UTC(), nil
}

func toBreakdown(p domain.PaymentAmounts) domain.PaymentBreakdown {
	return domain.PaymentBreakdown{Cash: p.Cash, UPI: p.UPI, Account: p.Account}
}

func (s *Service) customerKey(phone, name string) (string, error) {
	key, err := customer.Key(phone, name, s.region)
	switch {
	case errors.Is(err, customer.ErrInvalidPhone):
		return "", &ledger.ValidationError{Field: "customer_phone", Message: "is not a valid phone number"}
	case errors.Is(err, customer.ErrNameRequired):
		return "", &ledger.ValidationError{Field: "customer_name", Message: "is required"}
	case err != nil:
		return "", err
	}
	return key, nil
}

// SaveInvoice creates a bill or edits the one named by req.InvoiceNo. The
// customer record is refreshed from the bill's customer fields.
func (s *Service) SaveInvoice(ctx context.Context, req domain.InvoiceSaveRequest, mode ledger.SaveMode) (domain.InvoiceSaveResponse, error) {
	if err := s.check(req); err != nil {
		return domain.InvoiceSaveResponse{}, err
	}
	invoiceDate, err := parseDate("invoice_date", req.InvoiceDate)
	if err != nil {
		return domain.InvoiceSaveResponse{}, err
	}
	key, err := s.customerKey(req.CustomerPhone, req.CustomerName)
	if err != nil {
		return domain.InvoiceSaveResponse{}, err
	}

	phone := strings.TrimSpace(req.CustomerPhone)
	if !customer.IsNameKey(key) {
		phone = key
	}
	products := make([]domain.ProductLine, 0, len(req.Products))
	for _, p := range req.Products {
		products = append(products, domain.ProductLine{Description: p.Description, Qty: p.Qty, Rate: p.Rate})
	}

	res, err := s.ledger.SaveInvoice(ctx, ledger.InvoiceInput{
		InvoiceNo:       req.InvoiceNo,
		CustomerKey:     key,
		CustomerName:    req.CustomerName,
		CustomerPhone:   phone,
		CustomerAddress: req.CustomerAddress,
		InvoiceDate:     invoiceDate,
		Products:        products,
		Payment:         toBreakdown(req.Payment),
	}, mode)
	if err != nil {
		return domain.InvoiceSaveResponse{Invoice: res.Invoice, Cascade: res.Cascade}, err
	}

	if err := s.repo.SaveCustomer(ctx, domain.Customer{
		Key:         key,
		Phone:       res.Invoice.CustomerPhone,
		Name:        res.Invoice.CustomerName,
		Address:     res.Invoice.CustomerAddress,
		LastUpdated: time.Now().UTC(),
	}); err != nil {
		s.log.Warn().Err(err).Str("customer_key", key).Msg("failed to refresh customer record")
	}

	s.logAudit(ctx, "invoice."+mode.String(), "invoice", res.Invoice.InvoiceNo,
		fmt.Sprintf("customer=%s grand_total=%s", key, res.Invoice.GrandTotal.StringFixed(2)))
	return domain.InvoiceSaveResponse{Invoice: res.Invoice, Cascade: res.Cascade}, nil
}

func (s *Service) GetInvoice(ctx context.Context, invoiceNo string) (domain.Invoice, error) {
	inv, err := s.ledger.GetInvoice(ctx, invoiceNo)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *inv, nil
}

func (s *Service) IsInvoiceNumberAvailable(ctx context.Context, invoiceNo string) (bool, error) {
	return s.ledger.IsInvoiceNumberAvailable(ctx, invoiceNo)
}

func (s *Service) SuggestNextInvoiceNo(ctx context.Context) (domain.InvoiceNumberSuggestion, error) {
	return s.ledger.SuggestNextInvoiceNo(ctx)
}

func mutation(res ledger.Result) domain.LedgerMutationResponse {
	return domain.LedgerMutationResponse{Invoice: res.Invoice, Cascade: res.Cascade, Count: res.Count}
}

func (s *Service) AddPayment(ctx context.Context, invoiceNo string, req domain.PaymentRequest) (domain.LedgerMutationResponse, error) {
	if err := s.check(req); err != nil {
		return domain.LedgerMutationResponse{}, err
	}
	date, err := parseDate("payment_date", req.PaymentDate)
	if err != nil {
		return domain.LedgerMutationResponse{}, err
	}
	amounts := toBreakdown(req.PaymentAmounts)
	res, err := s.ledger.AddPayment(ctx, invoiceNo, ledger.PaymentInput{Amounts: amounts, Date: date})
	if err != nil {
		return mutation(res), err
	}
	s.logAudit(ctx, "payment.add", "invoice", invoiceNo, "amount="+amounts.Total().StringFixed(2))
	return mutation(res), nil
}

func (s *Service) UndoPayment(ctx context.Context, invoiceNo, paymentID string) (domain.LedgerMutationResponse, error) {
	res, err := s.ledger.UndoPayment(ctx, invoiceNo, paymentID)
	if err != nil {
		return mutation(res), err
	}
	s.logAudit(ctx, "payment.undo", "invoice", invoiceNo, "payment="+paymentID)
	return mutation(res), nil
}

func (s *Service) UndoAllPayments(ctx context.Context, invoiceNo string) (domain.LedgerMutationResponse, error) {
	res, err := s.ledger.UndoAllPayments(ctx, invoiceNo)
	if err != nil {
		return mutation(res), err
	}
	s.logAudit(ctx, "payment.undo_all", "invoice", invoiceNo, fmt.Sprintf("removed=%d", res.Count))
	return mutation(res), nil
}

func (s *Service) ListPayments(ctx context.Context, invoiceNo string) ([]domain.Payment, error) {
	return s.ledger.ListPayments(ctx, invoiceNo)
}

func (s *Service) AddReturns(ctx context.Context, invoiceNo string, req domain.ReturnRequest) (domain.LedgerMutationResponse, error) {
	if err := s.check(req); err != nil {
		return domain.LedgerMutationResponse{}, err
	}
	lines := make([]ledger.ReturnLine, 0, len(req.Lines))
	for i, l := range req.Lines {
		date, err := parseDate(fmt.Sprintf("lines[%d].return_date", i), l.ReturnDate)
		if err != nil {
			return domain.LedgerMutationResponse{}, err
		}
		lines = append(lines, ledger.ReturnLine{
			Description: l.Description,
			Qty:         l.Qty,
			Rate:        l.Rate,
			Reason:      l.Reason,
			ReturnDate:  date,
		})
	}
	res, err := s.ledger.AddReturns(ctx, invoiceNo, lines)
	if err != nil {
		return mutation(res), err
	}
	s.logAudit(ctx, "return.add", "invoice", invoiceNo, fmt.Sprintf("lines=%d", res.Count))
	return mutation(res), nil
}

func (s *Service) UndoReturn(ctx context.Context, invoiceNo, returnID string) (domain.LedgerMutationResponse, error) {
	res, err := s.ledger.UndoReturn(ctx, invoiceNo, returnID)
	if err != nil {
		return mutation(res), err
	}
	s.logAudit(ctx, "return.undo", "invoice", invoiceNo, "return="+returnID)
	return mutation(res), nil
}

func (s *Service) UndoAllReturns(ctx context.Context, invoiceNo string) (domain.LedgerMutationResponse, error) {
	res, err := s.ledger.UndoAllReturns(ctx, invoiceNo)
	if err != nil {
		return mutation(res), err
	}
	s.logAudit(ctx, "return.undo_all", "invoice", invoiceNo, fmt.Sprintf("removed=%d", res.Count))
	return mutation(res), nil
}

func (s *Service) ListReturns(ctx context.Context, invoiceNo string) ([]domain.Return, error) {
	return s.ledger.ListReturns(ctx, invoiceNo)
}

func (s *Service) DeleteInvoice(ctx context.Context, invoiceNo string) (domain.DeleteInvoiceResponse, error) {
	entry, report, err := s.ledger.DeleteInvoice(ctx, invoiceNo)
	var resp domain.DeleteInvoiceResponse
	if entry != nil {
		resp.Entry = *entry
	}
	resp.Cascade = report
	if err != nil {
		return resp, err
	}
	s.logAudit(ctx, "invoice.delete", "invoice", invoiceNo, "entry="+entry.ID)
	return resp, nil
}

func (s *Service) RestoreInvoice(ctx context.Context, entryID string) (domain.LedgerMutationResponse, error) {
	res, err := s.ledger.RestoreInvoice(ctx, entryID)
	if err != nil {
		return mutation(res), err
	}
	s.logAudit(ctx, "invoice.restore", "invoice", res.Invoice.InvoiceNo, "entry="+entryID)
	return mutation(res), nil
}

func (s *Service) ListRecycleBin(ctx context.Context) ([]domain.RecycleBinEntry, error) {
	return s.ledger.ListRecycleBin(ctx)
}

func (s *Service) PurgeRecycleBinEntry(ctx context.Context, entryID string) error {
	if err := s.ledger.PurgeRecycleBinEntry(ctx, entryID); err != nil {
		return err
	}
	s.logAudit(ctx, "recycle_bin.purge", "recycle_bin", entryID, "")
	return nil
}

func (s *Service) EmptyRecycleBin(ctx context.Context) (domain.EmptyRecycleBinResponse, error) {
	n, err := s.ledger.EmptyRecycleBin(ctx)
	if err != nil {
		return domain.EmptyRecycleBinResponse{}, err
	}
	s.logAudit(ctx, "recycle_bin.empty", "recycle_bin", "*", fmt.Sprintf("purged=%d", n))
	return domain.EmptyRecycleBinResponse{Purged: n}, nil
}

func (s *Service) CarriedBalance(ctx context.Context, customerKey, invoiceNo string) (domain.CarriedBalance, error) {
	return s.ledger.ComputeCarriedBalance(ctx, customerKey, strings.TrimSpace(invoiceNo))
}

// Statement serves the customer statement from the cache when present. A
// failing cache is logged and bypassed. A statement computed while the
// customer's ledger changed is returned but not cached.
func (s *Service) Statement(ctx context.Context, customerKey string) (domain.CustomerStatement, error) {
	cached, ok, err := s.statements.Get(ctx, customerKey)
	if err != nil {
		s.log.Warn().Err(err).Str("customer_key", customerKey).Msg("statement cache read failed")
	} else if ok && cached != nil {
		return *cached, nil
	}

	gen := s.statementGeneration(customerKey)
	stmt, err := s.ledger.Statement(ctx, customerKey)
	if err != nil {
		return stmt, err
	}
	if s.statementGeneration(customerKey) != gen {
		return stmt, nil
	}
	if err := s.statements.Set(ctx, customerKey, &stmt, s.statementTTL); err != nil {
		s.log.Warn().Err(err).Str("customer_key", customerKey).Msg("statement cache write failed")
		return stmt, nil
	}
	// An invalidation that landed between the check and Set may have
	// deleted before our write.
	if s.statementGeneration(customerKey) != gen {
		s.dropStatements(ctx, customerKey)
	}
	return stmt, nil
}

func (s *Service) statementGeneration(customerKey string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[customerKey]
}

func (s *Service) invalidateStatements(ctx context.Context, customerKeys ...string) {
	s.genMu.Lock()
	for _, key := range customerKeys {
		s.generations[key]++
	}
	s.genMu.Unlock()
	s.dropStatements(ctx, customerKeys...)
}

func (s *Service) dropStatements(ctx context.Context, customerKeys ...string) {
	if err := s.statements.Delete(ctx, customerKeys...); err != nil {
		s.log.Warn().Err(err).Strs("customer_keys", customerKeys).Msg("statement cache invalidation failed")
	}
}

func (s *Service) Recalculate(ctx context.Context, customerKey, afterInvoiceNo string) (domain.CascadeReport, error) {
	report, err := s.ledger.Recalculate(ctx, customerKey, strings.TrimSpace(afterInvoiceNo))
	if err != nil {
		return report, err
	}
	s.logAudit(ctx, "ledger.recalculate", "customer", customerKey,
		fmt.Sprintf("run=%s updated=%d", report.RunID, len(report.Updated)))
	return report, nil
}

func (s *Service) Verify(ctx context.Context, customerKey string) ([]domain.Violation, error) {
	return s.ledger.Verify(ctx, customerKey)
}

// SaveCustomer upserts the customer keyed by its normalised phone, or by
// name when no phone is given.
func (s *Service) SaveCustomer(ctx context.Context, req domain.CustomerRequest) (domain.Customer, error) {
	if err := s.check(req); err != nil {
		return domain.Customer{}, err
	}
	key, err := s.customerKey(req.Phone, req.Name)
	if err != nil {
		return domain.Customer{}, err
	}
	c := domain.Customer{
		Key:         key,
		Name:        strings.TrimSpace(req.Name),
		Address:     strings.TrimSpace(req.Address),
		LastUpdated: time.Now().UTC(),
	}
	if !customer.IsNameKey(key) {
		c.Phone = key
	}
	if err := s.repo.SaveCustomer(ctx, c); err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer.save", "customer", key, c.Name)
	return c, nil
}

func (s *Service) GetCustomer(ctx context.Context, key string) (domain.Customer, error) {
	c, err := s.repo.GetCustomer(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Customer{}, &ledger.NotFoundError{Kind: "customer", ID: key}
		}
		return domain.Customer{}, err
	}
	return *c, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

// DeleteCustomer moves every invoice of the customer to the recycle bin and
// then removes the customer record. Invoices are recycled newest first so
// each delete leaves nothing after it to recalculate.
func (s *Service) DeleteCustomer(ctx context.Context, key string) (domain.DeleteCustomerResponse, error) {
	resp := domain.DeleteCustomerResponse{CustomerKey: key, RecycledInvoices: []string{}}
	if _, err := s.GetCustomer(ctx, key); err != nil {
		return resp, err
	}

	invoices, err := s.repo.ListInvoicesByCustomer(ctx, key)
	if err != nil {
		return resp, err
	}
	numbers := make([]string, 0, len(invoices))
	for _, inv := range invoices {
		numbers = append(numbers, inv.InvoiceNo)
	}
	slices.SortFunc(numbers, func(a, b string) int { return ledger.CompareInvoiceNo(b, a) })

	for _, no := range numbers {
		if _, _, err := s.ledger.DeleteInvoice(ctx, no); err != nil {
			return resp, fmt.Errorf("recycle invoice %s of customer %s: %w", no, key, err)
		}
		resp.RecycledInvoices = append(resp.RecycledInvoices, no)
	}
	if err := s.repo.DeleteCustomer(ctx, key); err != nil {
		return resp, err
	}
	s.logAudit(ctx, "customer.delete", "customer", key, fmt.Sprintf("recycled=%d", len(numbers)))
	return resp, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := parseDate("date", date)
		if err != nil {
			return nil, err
		}
		from = parsed
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.Audit(),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.log.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}
