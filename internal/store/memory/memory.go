package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"fabricbill/backend/internal/domain"
	"fabricbill/backend/internal/logger"
	"fabricbill/backend/internal/store"
	"fabricbill/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	invoices        map[string]domain.Invoice
	payments        map[string]domain.Payment
	returns         map[string]domain.Return
	recycleBin      map[string]domain.RecycleBinEntry
	customers       map[string]domain.Customer
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// New returns an empty store without user accounts.
func New() *Store {
	return &Store{
		invoices:        make(map[string]domain.Invoice),
		payments:        make(map[string]domain.Payment),
		returns:         make(map[string]domain.Return),
		recycleBin:      make(map[string]domain.RecycleBinEntry),
		customers:       make(map[string]domain.Customer),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns an empty ledger with the dev/demo user accounts.
// Passwords come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; unset
// values fall back to dev defaults with a warning.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers(logger.WithComponent("memory-store"))
	return s
}

func seedUsers(log zerolog.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Warn().Msg("using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) ListInvoicesByCustomer(_ context.Context, customerKey string) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Invoice, 0, 16)
	for _, inv := range s.invoices {
		if inv.CustomerKey != customerKey {
			continue
		}
		result = append(result, cloneInvoice(inv))
	}
	slices.SortFunc(result, func(a, b domain.Invoice) int {
		return cmpString(a.InvoiceNo, b.InvoiceNo)
	})
	return result, nil
}

func (s *Store) ListInvoiceNumbers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	numbers := make([]string, 0, len(s.invoices))
	for no := range s.invoices {
		numbers = append(numbers, no)
	}
	slices.Sort(numbers)
	return numbers, nil
}

func (s *Store) GetInvoice(_ context.Context, invoiceNo string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[invoiceNo]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneInvoice(inv)
	return &out, nil
}

func (s *Store) SaveInvoice(_ context.Context, invoice domain.Invoice) error {
	if strings.TrimSpace(invoice.InvoiceNo) == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := s.invoices[invoice.InvoiceNo]; ok && invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = existing.CreatedAt
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = now
	s.invoices[invoice.InvoiceNo] = cloneInvoice(invoice)
	return nil
}

func (s *Store) DeleteInvoice(_ context.Context, invoiceNo string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[invoiceNo]; !ok {
		return store.ErrNotFound
	}
	delete(s.invoices, invoiceNo)
	return nil
}

func (s *Store) ListPaymentsByInvoice(_ context.Context, invoiceNo string) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.paymentsFor(invoiceNo), nil
}

func (s *Store) SavePayment(_ context.Context, payment domain.Payment) (string, error) {
	if payment.InvoiceNo == "" || !payment.Amount.IsPositive() {
		return "", store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.ID == "" {
		payment.ID = xid.Payment()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	s.payments[payment.ID] = payment
	return payment.ID, nil
}

func (s *Store) DeletePayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.payments, id)
	return nil
}

func (s *Store) ListReturnsByInvoice(_ context.Context, invoiceNo string) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.returnsFor(invoiceNo), nil
}

func (s *Store) SaveReturn(_ context.Context, ret domain.Return) (string, error) {
	if ret.InvoiceNo == "" {
		return "", store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ret.ID == "" {
		ret.ID = xid.Return()
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}
	s.returns[ret.ID] = ret
	return ret.ID, nil
}

func (s *Store) DeleteReturn(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.returns[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.returns, id)
	return nil
}

func (s *Store) MoveToRecycleBin(_ context.Context, invoiceNo string, deletedAt time.Time) (*domain.RecycleBinEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceNo]
	if !ok {
		return nil, store.ErrNotFound
	}

	payments := s.paymentsFor(invoiceNo)
	returns := s.returnsFor(invoiceNo)
	entry := domain.RecycleBinEntry{
		ID:            xid.RecycleBin(invoiceNo, deletedAt),
		Type:          domain.RecycleBinTypeInvoice,
		OriginalID:    invoiceNo,
		Data:          cloneInvoice(inv),
		Payments:      payments,
		Returns:       returns,
		DeletedAt:     deletedAt.UTC(),
		CustomerKey:   inv.CustomerKey,
		CustomerName:  inv.CustomerName,
		CustomerPhone: inv.CustomerPhone,
		InvoiceDate:   inv.InvoiceDate,
		GrandTotal:    inv.GrandTotal,
	}
	if _, exists := s.recycleBin[entry.ID]; exists {
		return nil, store.ErrConflict
	}

	s.recycleBin[entry.ID] = entry
	for _, p := range payments {
		delete(s.payments, p.ID)
	}
	for _, r := range returns {
		delete(s.returns, r.ID)
	}
	delete(s.invoices, invoiceNo)

	out := cloneEntry(entry)
	return &out, nil
}

func (s *Store) RestoreFromRecycleBin(_ context.Context, entryID string) (*domain.RecycleBinEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.recycleBin[entryID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, taken := s.invoices[entry.OriginalID]; taken {
		return nil, store.ErrConflict
	}

	s.invoices[entry.OriginalID] = cloneInvoice(entry.Data)
	for _, p := range entry.Payments {
		s.payments[p.ID] = p
	}
	for _, r := range entry.Returns {
		s.returns[r.ID] = r
	}
	delete(s.recycleBin, entryID)

	out := cloneEntry(entry)
	return &out, nil
}

func (s *Store) PurgeRecycleBinEntry(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recycleBin[entryID]; !ok {
		return store.ErrNotFound
	}
	delete(s.recycleBin, entryID)
	return nil
}

func (s *Store) EmptyRecycleBin(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.recycleBin)
	s.recycleBin = make(map[string]domain.RecycleBinEntry)
	return n, nil
}

func (s *Store) ListRecycleBin(_ context.Context) ([]domain.RecycleBinEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.RecycleBinEntry, 0, len(s.recycleBin))
	for _, entry := range s.recycleBin {
		result = append(result, cloneEntry(entry))
	}
	slices.SortFunc(result, func(a, b domain.RecycleBinEntry) int {
		if a.DeletedAt.Equal(b.DeletedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.DeletedAt.After(b.DeletedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) SaveCustomer(_ context.Context, customer domain.Customer) error {
	if strings.TrimSpace(customer.Key) == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.LastUpdated.IsZero() {
		customer.LastUpdated = time.Now().UTC()
	}
	s.customers[customer.Key] = customer
	return nil
}

func (s *Store) GetCustomer(_ context.Context, key string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		if a.Name == b.Name {
			return cmpString(a.Key, b.Key)
		}
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) DeleteCustomer(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.customers, key)
	return nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.Audit()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

// paymentsFor expects s.mu to be held.
func (s *Store) paymentsFor(invoiceNo string) []domain.Payment {
	result := make([]domain.Payment, 0, 4)
	for _, p := range s.payments {
		if p.InvoiceNo == invoiceNo {
			result = append(result, p)
		}
	}
	slices.SortFunc(result, func(a, b domain.Payment) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result
}

// returnsFor expects s.mu to be held.
func (s *Store) returnsFor(invoiceNo string) []domain.Return {
	result := make([]domain.Return, 0, 4)
	for _, r := range s.returns {
		if r.InvoiceNo == invoiceNo {
			result = append(result, r)
		}
	}
	slices.SortFunc(result, func(a, b domain.Return) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return result
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	out := src
	out.Products = slices.Clone(src.Products)
	return out
}

func cloneEntry(src domain.RecycleBinEntry) domain.RecycleBinEntry {
	out := src
	out.Data = cloneInvoice(src.Data)
	out.Payments = slices.Clone(src.Payments)
	out.Returns = slices.Clone(src.Returns)
	return out
}
