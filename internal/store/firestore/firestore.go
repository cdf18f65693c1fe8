package firestore

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	fs "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"fabricbill/backend/internal/domain"
	"fabricbill/backend/internal/store"
	"fabricbill/backend/internal/xid"
)

const (
	colInvoices   = "invoices"
	colPayments   = "payments"
	colReturns    = "returns"
	colRecycleBin = "recycleBin"
	colCustomers  = "customers"
	colAuditLogs  = "auditLogs"
	colUsers      = "users"
)

type Store struct {
	client *fs.Client
}

// New connects to projectID. An empty credentialsFile falls back to
// application default credentials, or to FIRESTORE_EMULATOR_HOST when set.
func New(ctx context.Context, projectID string, credentialsFile string) (*Store, error) {
	opts := make([]option.ClientOption, 0, 1)
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := fs.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, err
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) invoiceRef(invoiceNo string) *fs.DocumentRef {
	return s.client.Collection(colInvoices).Doc(docID(invoiceNo))
}

func (s *Store) binRef(entryID string) *fs.DocumentRef {
	return s.client.Collection(colRecycleBin).Doc(docID(entryID))
}

func (s *Store) ListInvoicesByCustomer(ctx context.Context, customerKey string) ([]domain.Invoice, error) {
	iter := s.client.Collection(colInvoices).Where("customerKey", "==", customerKey).Documents(ctx)
	defer iter.Stop()

	invoices := make([]domain.Invoice, 0, 16)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		inv, err := decodeInvoice(snap)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	slices.SortFunc(invoices, func(a, b domain.Invoice) int {
		return strings.Compare(a.InvoiceNo, b.InvoiceNo)
	})
	return invoices, nil
}

func (s *Store) ListInvoiceNumbers(ctx context.Context) ([]string, error) {
	iter := s.client.Collection(colInvoices).Select("invoiceNo").Documents(ctx)
	defer iter.Stop()

	numbers := make([]string, 0, 128)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		var doc struct {
			InvoiceNo string `firestore:"invoiceNo"`
		}
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		numbers = append(numbers, doc.InvoiceNo)
	}
	slices.Sort(numbers)
	return numbers, nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceNo string) (*domain.Invoice, error) {
	snap, err := s.invoiceRef(invoiceNo).Get(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	inv, err := decodeInvoice(snap)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *Store) SaveInvoice(ctx context.Context, invoice domain.Invoice) error {
	if strings.TrimSpace(invoice.InvoiceNo) == "" {
		return store.ErrInvalidInput
	}

	ref := s.invoiceRef(invoice.InvoiceNo)
	now := time.Now().UTC()
	if invoice.CreatedAt.IsZero() {
		existing, err := ref.Get(ctx)
		switch {
		case err == nil:
			var doc invoiceDoc
			if err := existing.DataTo(&doc); err != nil {
				return err
			}
			invoice.CreatedAt = doc.CreatedAt
		case status.Code(err) != codes.NotFound:
			return err
		}
	}
	if invoice.CreatedAt.IsZero() {
		invoice.CreatedAt = now
	}
	invoice.UpdatedAt = now

	_, err := ref.Set(ctx, fromInvoice(invoice))
	return err
}

func (s *Store) DeleteInvoice(ctx context.Context, invoiceNo string) error {
	_, err := s.invoiceRef(invoiceNo).Delete(ctx, fs.Exists)
	return mapErr(err)
}

func (s *Store) ListPaymentsByInvoice(ctx context.Context, invoiceNo string) ([]domain.Payment, error) {
	snaps, err := s.client.Collection(colPayments).Where("invoiceNo", "==", invoiceNo).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return decodePayments(snaps)
}

func (s *Store) SavePayment(ctx context.Context, payment domain.Payment) (string, error) {
	if payment.InvoiceNo == "" || !payment.Amount.IsPositive() {
		return "", store.ErrInvalidInput
	}
	if payment.ID == "" {
		payment.ID = xid.Payment()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	if _, err := s.client.Collection(colPayments).Doc(payment.ID).Set(ctx, fromPayment(payment)); err != nil {
		return "", err
	}
	return payment.ID, nil
}

func (s *Store) DeletePayment(ctx context.Context, id string) error {
	_, err := s.client.Collection(colPayments).Doc(id).Delete(ctx, fs.Exists)
	return mapErr(err)
}

func (s *Store) ListReturnsByInvoice(ctx context.Context, invoiceNo string) ([]domain.Return, error) {
	snaps, err := s.client.Collection(colReturns).Where("invoiceNo", "==", invoiceNo).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	return decodeReturns(snaps)
}

func (s *Store) SaveReturn(ctx context.Context, ret domain.Return) (string, error) {
	if ret.InvoiceNo == "" {
		return "", store.ErrInvalidInput
	}
	if ret.ID == "" {
		ret.ID = xid.Return()
	}
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = time.Now().UTC()
	}
	if _, err := s.client.Collection(colReturns).Doc(ret.ID).Set(ctx, fromReturn(ret)); err != nil {
		return "", err
	}
	return ret.ID, nil
}

func (s *Store) DeleteReturn(ctx context.Context, id string) error {
	_, err := s.client.Collection(colReturns).Doc(id).Delete(ctx, fs.Exists)
	return mapErr(err)
}

// MoveToRecycleBin runs as one Firestore transaction; every read happens
// before the first write, as transactions require.
func (s *Store) MoveToRecycleBin(ctx context.Context, invoiceNo string, deletedAt time.Time) (*domain.RecycleBinEntry, error) {
	var entry domain.RecycleBinEntry
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		invRef := s.invoiceRef(invoiceNo)
		invSnap, err := tx.Get(invRef)
		if err != nil {
			return mapErr(err)
		}
		inv, err := decodeInvoice(invSnap)
		if err != nil {
			return err
		}
		paySnaps, err := tx.Documents(s.client.Collection(colPayments).Where("invoiceNo", "==", invoiceNo)).GetAll()
		if err != nil {
			return err
		}
		payments, err := decodePayments(paySnaps)
		if err != nil {
			return err
		}
		retSnaps, err := tx.Documents(s.client.Collection(colReturns).Where("invoiceNo", "==", invoiceNo)).GetAll()
		if err != nil {
			return err
		}
		returns, err := decodeReturns(retSnaps)
		if err != nil {
			return err
		}

		entry = domain.RecycleBinEntry{
			ID:            xid.RecycleBin(invoiceNo, deletedAt),
			Type:          domain.RecycleBinTypeInvoice,
			OriginalID:    invoiceNo,
			Data:          inv,
			Payments:      payments,
			Returns:       returns,
			DeletedAt:     deletedAt.UTC(),
			CustomerKey:   inv.CustomerKey,
			CustomerName:  inv.CustomerName,
			CustomerPhone: inv.CustomerPhone,
			InvoiceDate:   inv.InvoiceDate,
			GrandTotal:    inv.GrandTotal,
		}

		if err := tx.Create(s.binRef(entry.ID), fromEntry(entry)); err != nil {
			return err
		}
		for _, snap := range paySnaps {
			if err := tx.Delete(snap.Ref); err != nil {
				return err
			}
		}
		for _, snap := range retSnaps {
			if err := tx.Delete(snap.Ref); err != nil {
				return err
			}
		}
		return tx.Delete(invRef)
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Store) RestoreFromRecycleBin(ctx context.Context, entryID string) (*domain.RecycleBinEntry, error) {
	var entry domain.RecycleBinEntry
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		binRef := s.binRef(entryID)
		snap, err := tx.Get(binRef)
		if err != nil {
			return mapErr(err)
		}
		var doc recycleBinDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		entry, err = doc.toDomain()
		if err != nil {
			return err
		}

		invRef := s.invoiceRef(entry.OriginalID)
		if _, err := tx.Get(invRef); err == nil {
			return store.ErrConflict
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		if err := tx.Create(invRef, fromInvoice(entry.Data)); err != nil {
			return err
		}
		for _, p := range entry.Payments {
			if err := tx.Set(s.client.Collection(colPayments).Doc(p.ID), fromPayment(p)); err != nil {
				return err
			}
		}
		for _, r := range entry.Returns {
			if err := tx.Set(s.client.Collection(colReturns).Doc(r.ID), fromReturn(r)); err != nil {
				return err
			}
		}
		return tx.Delete(binRef)
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &entry, nil
}

func (s *Store) PurgeRecycleBinEntry(ctx context.Context, entryID string) error {
	_, err := s.binRef(entryID).Delete(ctx, fs.Exists)
	return mapErr(err)
}

func (s *Store) EmptyRecycleBin(ctx context.Context) (int, error) {
	refs, err := s.client.Collection(colRecycleBin).DocumentRefs(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(refs) == 0 {
		return 0, nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]*fs.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return 0, err
		}
		jobs = append(jobs, job)
	}
	bw.End()

	purged := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (s *Store) ListRecycleBin(ctx context.Context) ([]domain.RecycleBinEntry, error) {
	snaps, err := s.client.Collection(colRecycleBin).OrderBy("deletedAt", fs.Desc).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}

	entries := make([]domain.RecycleBinEntry, 0, len(snaps))
	for _, snap := range snaps {
		var doc recycleBinDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		entry, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	slices.SortStableFunc(entries, func(a, b domain.RecycleBinEntry) int {
		if c := b.DeletedAt.Compare(a.DeletedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	return entries, nil
}

func (s *Store) SaveCustomer(ctx context.Context, customer domain.Customer) error {
	if strings.TrimSpace(customer.Key) == "" {
		return store.ErrInvalidInput
	}
	if customer.LastUpdated.IsZero() {
		customer.LastUpdated = time.Now().UTC()
	}
	_, err := s.client.Collection(colCustomers).Doc(docID(customer.Key)).Set(ctx, customerDoc{
		Key:         customer.Key,
		Phone:       customer.Phone,
		Name:        customer.Name,
		Address:     customer.Address,
		LastUpdated: customer.LastUpdated.UTC(),
	})
	return err
}

func (s *Store) GetCustomer(ctx context.Context, key string) (*domain.Customer, error) {
	snap, err := s.client.Collection(colCustomers).Doc(docID(key)).Get(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	c, err := decodeCustomer(snap)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	snaps, err := s.client.Collection(colCustomers).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}

	customers := make([]domain.Customer, 0, len(snaps))
	for _, snap := range snaps {
		c, err := decodeCustomer(snap)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	return customers, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, key string) error {
	_, err := s.client.Collection(colCustomers).Doc(docID(key)).Delete(ctx, fs.Exists)
	return mapErr(err)
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.Audit()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.client.Collection(colAuditLogs).Doc(entry.ID).Set(ctx, auditDoc{
		ID:            entry.ID,
		ActorUsername: entry.ActorUsername,
		ActorRole:     entry.ActorRole,
		Action:        entry.Action,
		EntityType:    entry.EntityType,
		EntityID:      entry.EntityID,
		Detail:        entry.Detail,
		CreatedAt:     entry.CreatedAt.UTC(),
	})
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	snaps, err := s.client.Collection(colAuditLogs).
		Where("createdAt", ">=", from).
		Where("createdAt", "<", to).
		OrderBy("createdAt", fs.Desc).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}

	logs := make([]domain.AuditLog, 0, len(snaps))
	for _, snap := range snaps {
		var doc auditDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		logs = append(logs, domain.AuditLog{
			ID:            doc.ID,
			ActorUsername: doc.ActorUsername,
			ActorRole:     doc.ActorRole,
			Action:        doc.Action,
			EntityType:    doc.EntityType,
			EntityID:      doc.EntityID,
			Detail:        doc.Detail,
			CreatedAt:     doc.CreatedAt.UTC(),
		})
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

	_, err := s.client.Collection(colUsers).Doc(docID(user.Username)).Create(ctx, userDoc{
		Username:  user.Username,
		Password:  user.Password,
		Role:      user.Role,
		Active:    user.Active,
		CreatedAt: user.CreatedAt.UTC(),
	})
	if status.Code(err) == codes.AlreadyExists {
		return store.ErrConflict
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	snaps, err := s.client.Collection(colUsers).OrderBy("username", fs.Asc).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}

	users := make([]domain.UserAccount, 0, len(snaps))
	for _, snap := range snaps {
		var doc userDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		users = append(users, domain.UserAccount{
			Username:  doc.Username,
			Password:  doc.Password,
			Role:      doc.Role,
			Active:    doc.Active,
			CreatedAt: doc.CreatedAt.UTC(),
		})
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	_, err := s.client.Collection(colUsers).Doc(docID(username)).Update(ctx, []fs.Update{
		{Path: "password", Value: password},
	})
	return mapErr(err)
}

func decodeInvoice(snap *fs.DocumentSnapshot) (domain.Invoice, error) {
	var doc invoiceDoc
	if err := snap.DataTo(&doc); err != nil {
		return domain.Invoice{}, err
	}
	return doc.toDomain()
}

func decodeCustomer(snap *fs.DocumentSnapshot) (domain.Customer, error) {
	var doc customerDoc
	if err := snap.DataTo(&doc); err != nil {
		return domain.Customer{}, err
	}
	return domain.Customer{
		Key:         doc.Key,
		Phone:       doc.Phone,
		Name:        doc.Name,
		Address:     doc.Address,
		LastUpdated: doc.LastUpdated.UTC(),
	}, nil
}

func decodePayments(snaps []*fs.DocumentSnapshot) ([]domain.Payment, error) {
	payments := make([]domain.Payment, 0, len(snaps))
	for _, snap := range snaps {
		var doc paymentDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		p, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	slices.SortFunc(payments, func(a, b domain.Payment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return payments, nil
}

func decodeReturns(snaps []*fs.DocumentSnapshot) ([]domain.Return, error) {
	returns := make([]domain.Return, 0, len(snaps))
	for _, snap := range snaps {
		var doc returnDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		r, err := doc.toDomain()
		if err != nil {
			return nil, err
		}
		returns = append(returns, r)
	}
	slices.SortFunc(returns, func(a, b domain.Return) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return returns, nil
}

// mapErr turns gRPC NotFound into store.ErrNotFound. Sentinel errors raised
// inside a transaction pass through unchanged.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return store.ErrNotFound
	}
	return err
}
