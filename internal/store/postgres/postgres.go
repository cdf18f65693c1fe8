package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fabricbill/backend/internal/domain"
	"fabricbill/backend/internal/store"
	"fabricbill/backend/internal/xid"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates the ledger tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

const invoiceColumns = `
	invoice_no, customer_key, customer_name, customer_phone, customer_address,
	invoice_date, products, subtotal, previous_balance, grand_total,
	paid_cash, paid_upi, paid_account, amount_paid, balance_due,
	total_returns, adjusted_balance_due, created_at, updated_at`

func (s *Store) ListInvoicesByCustomer(ctx context.Context, customerKey string) ([]domain.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE customer_key = $1
		ORDER BY invoice_no COLLATE "C"
	`, customerKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 16)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) ListInvoiceNumbers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT invoice_no FROM invoices ORDER BY invoice_no COLLATE "C"`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	numbers := make([]string, 0, 128)
	for rows.Next() {
		var no string
		if err := rows.Scan(&no); err != nil {
			return nil, err
		}
		numbers = append(numbers, no)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return numbers, nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceNo string) (*domain.Invoice, error) {
	return getInvoice(ctx, s.db, invoiceNo, false)
}

func getInvoice(ctx context.Context, q querier, invoiceNo string, forUpdate bool) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE invoice_no = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRowContext(ctx, query, invoiceNo))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

// SaveInvoice upserts by invoice number and keeps the original created_at.
func (s *Store) SaveInvoice(ctx context.Context, invoice domain.Invoice) error {
	if strings.TrimSpace(invoice.InvoiceNo) == "" {
		return store.ErrInvalidInput
	}
	return insertInvoice(ctx, s.db, invoice, true)
}

func insertInvoice(ctx context.Context, q querier, inv domain.Invoice, upsert bool) error {
	products, err := json.Marshal(inv.Products)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	if inv.UpdatedAt.IsZero() || upsert {
		inv.UpdatedAt = now
	}

	query := `
		INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`
	if upsert {
		query += `
		ON CONFLICT (invoice_no) DO UPDATE SET
			customer_key = EXCLUDED.customer_key,
			customer_name = EXCLUDED.customer_name,
			customer_phone = EXCLUDED.customer_phone,
			customer_address = EXCLUDED.customer_address,
			invoice_date = EXCLUDED.invoice_date,
			products = EXCLUDED.products,
			subtotal = EXCLUDED.subtotal,
			previous_balance = EXCLUDED.previous_balance,
			grand_total = EXCLUDED.grand_total,
			paid_cash = EXCLUDED.paid_cash,
			paid_upi = EXCLUDED.paid_upi,
			paid_account = EXCLUDED.paid_account,
			amount_paid = EXCLUDED.amount_paid,
			balance_due = EXCLUDED.balance_due,
			total_returns = EXCLUDED.total_returns,
			adjusted_balance_due = EXCLUDED.adjusted_balance_due,
			updated_at = EXCLUDED.updated_at`
	}

	_, err = q.ExecContext(ctx, query,
		inv.InvoiceNo, inv.CustomerKey, inv.CustomerName, nullIfEmpty(inv.CustomerPhone), nullIfEmpty(inv.CustomerAddress),
		dateUTC(inv.InvoiceDate), string(products), inv.Subtotal, inv.PreviousBalance, inv.GrandTotal,
		inv.PaymentBreakdown.Cash, inv.PaymentBreakdown.UPI, inv.PaymentBreakdown.Account, inv.AmountPaid, inv.BalanceDue,
		inv.TotalReturns, inv.AdjustedBalanceDue, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil && isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) DeleteInvoice(ctx context.Context, invoiceNo string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM invoices WHERE invoice_no = $1`, invoiceNo)
	return requireAffected(res, err)
}

func (s *Store) ListPaymentsByInvoice(ctx context.Context, invoiceNo string) ([]domain.Payment, error) {
	return listPayments(ctx, s.db, invoiceNo)
}

func listPayments(ctx context.Context, q querier, invoiceNo string) ([]domain.Payment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, invoice_no, customer_key, payment_date, amount, payment_method, payment_type, created_at
		FROM payments
		WHERE invoice_no = $1
		ORDER BY created_at ASC, id ASC
	`, invoiceNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 4)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.InvoiceNo, &p.CustomerKey, &p.PaymentDate, &p.Amount, &p.PaymentMethod, &p.PaymentType, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.PaymentDate = dateUTC(p.PaymentDate)
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) SavePayment(ctx context.Context, payment domain.Payment) (string, error) {
	if payment.InvoiceNo == "" || !payment.Amount.IsPositive() {
		return "", store.ErrInvalidInput
	}
	if payment.ID == "" {
		payment.ID = xid.Payment()
	}
	if err := insertPayment(ctx, s.db, payment); err != nil {
		return "", err
	}
	return payment.ID, nil
}

func insertPayment(ctx context.Context, q querier, p domain.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO payments (id, invoice_no, customer_key, payment_date, amount, payment_method, payment_type, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			invoice_no = EXCLUDED.invoice_no,
			customer_key = EXCLUDED.customer_key,
			payment_date = EXCLUDED.payment_date,
			amount = EXCLUDED.amount,
			payment_method = EXCLUDED.payment_method,
			payment_type = EXCLUDED.payment_type
	`, p.ID, p.InvoiceNo, p.CustomerKey, dateUTC(p.PaymentDate), p.Amount, p.PaymentMethod, p.PaymentType, p.CreatedAt)
	return err
}

func (s *Store) DeletePayment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM payments WHERE id = $1`, id)
	return requireAffected(res, err)
}

func (s *Store) ListReturnsByInvoice(ctx context.Context, invoiceNo string) ([]domain.Return, error) {
	return listReturns(ctx, s.db, invoiceNo)
}

func listReturns(ctx context.Context, q querier, invoiceNo string) ([]domain.Return, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, invoice_no, customer_key, customer_name, description, qty, rate, return_amount, reason, return_date, created_at
		FROM returns
		WHERE invoice_no = $1
		ORDER BY created_at ASC, id ASC
	`, invoiceNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	returns := make([]domain.Return, 0, 4)
	for rows.Next() {
		var (
			r      domain.Return
			reason sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.InvoiceNo, &r.CustomerKey, &r.CustomerName, &r.Description, &r.Qty, &r.Rate, &r.ReturnAmount, &reason, &r.ReturnDate, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Reason = reason.String
		r.ReturnDate = dateUTC(r.ReturnDate)
		r.CreatedAt = r.CreatedAt.UTC()
		returns = append(returns, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return returns, nil
}

func (s *Store) SaveReturn(ctx context.Context, ret domain.Return) (string, error) {
	if ret.InvoiceNo == "" {
		return "", store.ErrInvalidInput
	}
	if ret.ID == "" {
		ret.ID = xid.Return()
	}
	if err := insertReturn(ctx, s.db, ret); err != nil {
		return "", err
	}
	return ret.ID, nil
}

func insertReturn(ctx context.Context, q querier, r domain.Return) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO returns (id, invoice_no, customer_key, customer_name, description, qty, rate, return_amount, reason, return_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			invoice_no = EXCLUDED.invoice_no,
			customer_key = EXCLUDED.customer_key,
			customer_name = EXCLUDED.customer_name,
			description = EXCLUDED.description,
			qty = EXCLUDED.qty,
			rate = EXCLUDED.rate,
			return_amount = EXCLUDED.return_amount,
			reason = EXCLUDED.reason,
			return_date = EXCLUDED.return_date
	`, r.ID, r.InvoiceNo, r.CustomerKey, r.CustomerName, r.Description, r.Qty, r.Rate, r.ReturnAmount, nullIfEmpty(r.Reason), dateUTC(r.ReturnDate), r.CreatedAt)
	return err
}

func (s *Store) DeleteReturn(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM returns WHERE id = $1`, id)
	return requireAffected(res, err)
}

func (s *Store) MoveToRecycleBin(ctx context.Context, invoiceNo string, deletedAt time.Time) (*domain.RecycleBinEntry, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	inv, err := getInvoice(ctx, pgTx, invoiceNo, true)
	if err != nil {
		return nil, err
	}
	payments, err := listPayments(ctx, pgTx, invoiceNo)
	if err != nil {
		return nil, err
	}
	returns, err := listReturns(ctx, pgTx, invoiceNo)
	if err != nil {
		return nil, err
	}

	entry := domain.RecycleBinEntry{
		ID:            xid.RecycleBin(invoiceNo, deletedAt),
		Type:          domain.RecycleBinTypeInvoice,
		OriginalID:    invoiceNo,
		Data:          *inv,
		Payments:      payments,
		Returns:       returns,
		DeletedAt:     deletedAt.UTC(),
		CustomerKey:   inv.CustomerKey,
		CustomerName:  inv.CustomerName,
		CustomerPhone: inv.CustomerPhone,
		InvoiceDate:   inv.InvoiceDate,
		GrandTotal:    inv.GrandTotal,
	}
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return nil, err
	}
	paymentsJSON, err := json.Marshal(entry.Payments)
	if err != nil {
		return nil, err
	}
	returnsJSON, err := json.Marshal(entry.Returns)
	if err != nil {
		return nil, err
	}

	res, err := pgTx.ExecContext(ctx, `
		INSERT INTO recycle_bin (
			id, type, original_id, data, payments, returns, deleted_at,
			customer_key, customer_name, customer_phone, invoice_date, grand_total
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.Type, entry.OriginalID, string(data), string(paymentsJSON), string(returnsJSON), entry.DeletedAt,
		entry.CustomerKey, entry.CustomerName, nullIfEmpty(entry.CustomerPhone), dateUTC(entry.InvoiceDate), entry.GrandTotal)
	if err != nil {
		return nil, err
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if affected == 0 {
		return nil, store.ErrConflict
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM payments WHERE invoice_no = $1`, invoiceNo); err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM returns WHERE invoice_no = $1`, invoiceNo); err != nil {
		return nil, err
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM invoices WHERE invoice_no = $1`, invoiceNo); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) RestoreFromRecycleBin(ctx context.Context, entryID string) (*domain.RecycleBinEntry, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	entry, err := scanEntry(pgTx.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM recycle_bin
		WHERE id = $1
		FOR UPDATE
	`, entryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	var taken bool
	if err := pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM invoices WHERE invoice_no = $1)
	`, entry.OriginalID).Scan(&taken); err != nil {
		return nil, err
	}
	if taken {
		return nil, store.ErrConflict
	}

	if err := insertInvoice(ctx, pgTx, entry.Data, false); err != nil {
		return nil, err
	}
	for _, p := range entry.Payments {
		if err := insertPayment(ctx, pgTx, p); err != nil {
			return nil, err
		}
	}
	for _, r := range entry.Returns {
		if err := insertReturn(ctx, pgTx, r); err != nil {
			return nil, err
		}
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM recycle_bin WHERE id = $1`, entryID); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) PurgeRecycleBinEntry(ctx context.Context, entryID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recycle_bin WHERE id = $1`, entryID)
	return requireAffected(res, err)
}

func (s *Store) EmptyRecycleBin(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recycle_bin`)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

const entryColumns = `
	id, type, original_id, data, payments, returns, deleted_at,
	customer_key, customer_name, customer_phone, invoice_date, grand_total`

func (s *Store) ListRecycleBin(ctx context.Context) ([]domain.RecycleBinEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM recycle_bin
		ORDER BY deleted_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.RecycleBinEntry, 0, 16)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) SaveCustomer(ctx context.Context, customer domain.Customer) error {
	if strings.TrimSpace(customer.Key) == "" {
		return store.ErrInvalidInput
	}
	if customer.LastUpdated.IsZero() {
		customer.LastUpdated = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (key, phone, name, address, last_updated)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (key) DO UPDATE SET
			phone = EXCLUDED.phone,
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			last_updated = EXCLUDED.last_updated
	`, customer.Key, nullIfEmpty(customer.Phone), customer.Name, nullIfEmpty(customer.Address), customer.LastUpdated)
	return err
}

func (s *Store) GetCustomer(ctx context.Context, key string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `
		SELECT key, phone, name, address, last_updated
		FROM customers
		WHERE key = $1
	`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, phone, name, address, last_updated
		FROM customers
		ORDER BY name COLLATE "C", key COLLATE "C"
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM customers WHERE key = $1`, key)
	return requireAffected(res, err)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.Audit()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleStaff
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	return requireAffected(res, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (domain.Invoice, error) {
	var (
		inv      domain.Invoice
		phone    sql.NullString
		address  sql.NullString
		products []byte
	)
	err := row.Scan(
		&inv.InvoiceNo, &inv.CustomerKey, &inv.CustomerName, &phone, &address,
		&inv.InvoiceDate, &products, &inv.Subtotal, &inv.PreviousBalance, &inv.GrandTotal,
		&inv.PaymentBreakdown.Cash, &inv.PaymentBreakdown.UPI, &inv.PaymentBreakdown.Account, &inv.AmountPaid, &inv.BalanceDue,
		&inv.TotalReturns, &inv.AdjustedBalanceDue, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv.CustomerPhone = phone.String
	inv.CustomerAddress = address.String
	inv.InvoiceDate = dateUTC(inv.InvoiceDate)
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	if err := json.Unmarshal(products, &inv.Products); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

func scanEntry(row rowScanner) (domain.RecycleBinEntry, error) {
	var (
		entry    domain.RecycleBinEntry
		data     []byte
		payments []byte
		rets     []byte
		phone    sql.NullString
	)
	err := row.Scan(
		&entry.ID, &entry.Type, &entry.OriginalID, &data, &payments, &rets, &entry.DeletedAt,
		&entry.CustomerKey, &entry.CustomerName, &phone, &entry.InvoiceDate, &entry.GrandTotal,
	)
	if err != nil {
		return domain.RecycleBinEntry{}, err
	}
	entry.CustomerPhone = phone.String
	entry.DeletedAt = entry.DeletedAt.UTC()
	entry.InvoiceDate = dateUTC(entry.InvoiceDate)
	if err := json.Unmarshal(data, &entry.Data); err != nil {
		return domain.RecycleBinEntry{}, err
	}
	if err := json.Unmarshal(payments, &entry.Payments); err != nil {
		return domain.RecycleBinEntry{}, err
	}
	if err := json.Unmarshal(rets, &entry.Returns); err != nil {
		return domain.RecycleBinEntry{}, err
	}
	return entry, nil
}

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var (
		c       domain.Customer
		phone   sql.NullString
		address sql.NullString
	)
	if err := row.Scan(&c.Key, &phone, &c.Name, &address, &c.LastUpdated); err != nil {
		return domain.Customer{}, err
	}
	c.Phone = phone.String
	c.Address = address.String
	c.LastUpdated = c.LastUpdated.UTC()
	return c, nil
}

func requireAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
