package firestore

import (
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"fabricbill/backend/internal/domain"
)

// Money and quantities are stored as decimal strings; Firestore numbers are
// float64 and would lose paise.

type productDoc struct {
	Description string `firestore:"description"`
	Qty         string `firestore:"qty"`
	Rate        string `firestore:"rate"`
	Amount      string `firestore:"amount"`
}

type breakdownDoc struct {
	Cash    string `firestore:"cash"`
	UPI     string `firestore:"upi"`
	Account string `firestore:"account"`
}

type invoiceDoc struct {
	InvoiceNo          string       `firestore:"invoiceNo"`
	CustomerKey        string       `firestore:"customerKey"`
	CustomerName       string       `firestore:"customerName"`
	CustomerPhone      string       `firestore:"customerPhone,omitempty"`
	CustomerAddress    string       `firestore:"customerAddress,omitempty"`
	InvoiceDate        time.Time    `firestore:"invoiceDate"`
	Products           []productDoc `firestore:"products"`
	Subtotal           string       `firestore:"subtotal"`
	PreviousBalance    string       `firestore:"previousBalance"`
	GrandTotal         string       `firestore:"grandTotal"`
	PaymentBreakdown   breakdownDoc `firestore:"paymentBreakdown"`
	AmountPaid         string       `firestore:"amountPaid"`
	BalanceDue         string       `firestore:"balanceDue"`
	TotalReturns       string       `firestore:"totalReturns"`
	AdjustedBalanceDue string       `firestore:"adjustedBalanceDue"`
	CreatedAt          time.Time    `firestore:"createdAt"`
	UpdatedAt          time.Time    `firestore:"updatedAt"`
}

type paymentDoc struct {
	ID            string    `firestore:"id"`
	InvoiceNo     string    `firestore:"invoiceNo"`
	CustomerKey   string    `firestore:"customerKey"`
	PaymentDate   time.Time `firestore:"paymentDate"`
	Amount        string    `firestore:"amount"`
	PaymentMethod string    `firestore:"paymentMethod"`
	PaymentType   string    `firestore:"paymentType"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

type returnDoc struct {
	ID           string    `firestore:"id"`
	InvoiceNo    string    `firestore:"invoiceNo"`
	CustomerKey  string    `firestore:"customerKey"`
	CustomerName string    `firestore:"customerName"`
	Description  string    `firestore:"description"`
	Qty          string    `firestore:"qty"`
	Rate         string    `firestore:"rate"`
	ReturnAmount string    `firestore:"returnAmount"`
	Reason       string    `firestore:"reason,omitempty"`
	ReturnDate   time.Time `firestore:"returnDate"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

type recycleBinDoc struct {
	ID            string       `firestore:"id"`
	Type          string       `firestore:"type"`
	OriginalID    string       `firestore:"originalId"`
	Data          invoiceDoc   `firestore:"data"`
	Payments      []paymentDoc `firestore:"payments"`
	Returns       []returnDoc  `firestore:"returns"`
	DeletedAt     time.Time    `firestore:"deletedAt"`
	CustomerKey   string       `firestore:"customerKey"`
	CustomerName  string       `firestore:"customerName"`
	CustomerPhone string       `firestore:"customerPhone,omitempty"`
	InvoiceDate   time.Time    `firestore:"invoiceDate"`
	GrandTotal    string       `firestore:"grandTotal"`
}

type customerDoc struct {
	Key         string    `firestore:"key"`
	Phone       string    `firestore:"phone,omitempty"`
	Name        string    `firestore:"name"`
	Address     string    `firestore:"address,omitempty"`
	LastUpdated time.Time `firestore:"lastUpdated"`
}

type auditDoc struct {
	ID            string    `firestore:"id"`
	ActorUsername string    `firestore:"actorUsername"`
	ActorRole     string    `firestore:"actorRole"`
	Action        string    `firestore:"action"`
	EntityType    string    `firestore:"entityType"`
	EntityID      string    `firestore:"entityId"`
	Detail        string    `firestore:"detail"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

type userDoc struct {
	Username  string    `firestore:"username"`
	Password  string    `firestore:"password"`
	Role      string    `firestore:"role"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// docID escapes values that may contain '/', which Firestore reserves as the
// path separator.
func docID(value string) string {
	return url.PathEscape(value)
}

// decoder keeps the first decimal parse error so conversions read linearly.
type decoder struct {
	err error
}

func (d *decoder) dec(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	out, err := decimal.NewFromString(value)
	if err != nil && d.err == nil {
		d.err = err
	}
	return out
}

func fromInvoice(inv domain.Invoice) invoiceDoc {
	products := make([]productDoc, 0, len(inv.Products))
	for _, p := range inv.Products {
		products = append(products, productDoc{
			Description: p.Description,
			Qty:         p.Qty.String(),
			Rate:        p.Rate.String(),
			Amount:      p.Amount.String(),
		})
	}
	return invoiceDoc{
		InvoiceNo:       inv.InvoiceNo,
		CustomerKey:     inv.CustomerKey,
		CustomerName:    inv.CustomerName,
		CustomerPhone:   inv.CustomerPhone,
		CustomerAddress: inv.CustomerAddress,
		InvoiceDate:     inv.InvoiceDate.UTC(),
		Products:        products,
		Subtotal:        inv.Subtotal.String(),
		PreviousBalance: inv.PreviousBalance.String(),
		GrandTotal:      inv.GrandTotal.String(),
		PaymentBreakdown: breakdownDoc{
			Cash:    inv.PaymentBreakdown.Cash.String(),
			UPI:     inv.PaymentBreakdown.UPI.String(),
			Account: inv.PaymentBreakdown.Account.String(),
		},
		AmountPaid:         inv.AmountPaid.String(),
		BalanceDue:         inv.BalanceDue.String(),
		TotalReturns:       inv.TotalReturns.String(),
		AdjustedBalanceDue: inv.AdjustedBalanceDue.String(),
		CreatedAt:          inv.CreatedAt.UTC(),
		UpdatedAt:          inv.UpdatedAt.UTC(),
	}
}

func (doc invoiceDoc) toDomain() (domain.Invoice, error) {
	var d decoder
	products := make([]domain.ProductLine, 0, len(doc.Products))
	for _, p := range doc.Products {
		products = append(products, domain.ProductLine{
			Description: p.Description,
			Qty:         d.dec(p.Qty),
			Rate:        d.dec(p.Rate),
			Amount:      d.dec(p.Amount),
		})
	}
	inv := domain.Invoice{
		InvoiceNo:       doc.InvoiceNo,
		CustomerKey:     doc.CustomerKey,
		CustomerName:    doc.CustomerName,
		CustomerPhone:   doc.CustomerPhone,
		CustomerAddress: doc.CustomerAddress,
		InvoiceDate:     doc.InvoiceDate.UTC(),
		Products:        products,
		Subtotal:        d.dec(doc.Subtotal),
		PreviousBalance: d.dec(doc.PreviousBalance),
		GrandTotal:      d.dec(doc.GrandTotal),
		PaymentBreakdown: domain.PaymentBreakdown{
			Cash:    d.dec(doc.PaymentBreakdown.Cash),
			UPI:     d.dec(doc.PaymentBreakdown.UPI),
			Account: d.dec(doc.PaymentBreakdown.Account),
		},
		AmountPaid:         d.dec(doc.AmountPaid),
		BalanceDue:         d.dec(doc.BalanceDue),
		TotalReturns:       d.dec(doc.TotalReturns),
		AdjustedBalanceDue: d.dec(doc.AdjustedBalanceDue),
		CreatedAt:          doc.CreatedAt.UTC(),
		UpdatedAt:          doc.UpdatedAt.UTC(),
	}
	return inv, d.err
}

func fromPayment(p domain.Payment) paymentDoc {
	return paymentDoc{
		ID:            p.ID,
		InvoiceNo:     p.InvoiceNo,
		CustomerKey:   p.CustomerKey,
		PaymentDate:   p.PaymentDate.UTC(),
		Amount:        p.Amount.String(),
		PaymentMethod: p.PaymentMethod,
		PaymentType:   p.PaymentType,
		CreatedAt:     p.CreatedAt.UTC(),
	}
}

func (doc paymentDoc) toDomain() (domain.Payment, error) {
	var d decoder
	p := domain.Payment{
		ID:            doc.ID,
		InvoiceNo:     doc.InvoiceNo,
		CustomerKey:   doc.CustomerKey,
		PaymentDate:   doc.PaymentDate.UTC(),
		Amount:        d.dec(doc.Amount),
		PaymentMethod: doc.PaymentMethod,
		PaymentType:   doc.PaymentType,
		CreatedAt:     doc.CreatedAt.UTC(),
	}
	return p, d.err
}

func fromReturn(r domain.Return) returnDoc {
	return returnDoc{
		ID:           r.ID,
		InvoiceNo:    r.InvoiceNo,
		CustomerKey:  r.CustomerKey,
		CustomerName: r.CustomerName,
		Description:  r.Description,
		Qty:          r.Qty.String(),
		Rate:         r.Rate.String(),
		ReturnAmount: r.ReturnAmount.String(),
		Reason:       r.Reason,
		ReturnDate:   r.ReturnDate.UTC(),
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

func (doc returnDoc) toDomain() (domain.Return, error) {
	var d decoder
	r := domain.Return{
		ID:           doc.ID,
		InvoiceNo:    doc.InvoiceNo,
		CustomerKey:  doc.CustomerKey,
		CustomerName: doc.CustomerName,
		Description:  doc.Description,
		Qty:          d.dec(doc.Qty),
		Rate:         d.dec(doc.Rate),
		ReturnAmount: d.dec(doc.ReturnAmount),
		Reason:       doc.Reason,
		ReturnDate:   doc.ReturnDate.UTC(),
		CreatedAt:    doc.CreatedAt.UTC(),
	}
	return r, d.err
}

func fromEntry(e domain.RecycleBinEntry) recycleBinDoc {
	payments := make([]paymentDoc, 0, len(e.Payments))
	for _, p := range e.Payments {
		payments = append(payments, fromPayment(p))
	}
	returns := make([]returnDoc, 0, len(e.Returns))
	for _, r := range e.Returns {
		returns = append(returns, fromReturn(r))
	}
	return recycleBinDoc{
		ID:            e.ID,
		Type:          e.Type,
		OriginalID:    e.OriginalID,
		Data:          fromInvoice(e.Data),
		Payments:      payments,
		Returns:       returns,
		DeletedAt:     e.DeletedAt.UTC(),
		CustomerKey:   e.CustomerKey,
		CustomerName:  e.CustomerName,
		CustomerPhone: e.CustomerPhone,
		InvoiceDate:   e.InvoiceDate.UTC(),
		GrandTotal:    e.GrandTotal.String(),
	}
}

func (doc recycleBinDoc) toDomain() (domain.RecycleBinEntry, error) {
	data, err := doc.Data.toDomain()
	if err != nil {
		return domain.RecycleBinEntry{}, err
	}
	payments := make([]domain.Payment, 0, len(doc.Payments))
	for _, pd := range doc.Payments {
		p, err := pd.toDomain()
		if err != nil {
			return domain.RecycleBinEntry{}, err
		}
		payments = append(payments, p)
	}
	returns := make([]domain.Return, 0, len(doc.Returns))
	for _, rd := range doc.Returns {
		r, err := rd.toDomain()
		if err != nil {
			return domain.RecycleBinEntry{}, err
		}
		returns = append(returns, r)
	}

	var d decoder
	entry := domain.RecycleBinEntry{
		ID:            doc.ID,
		Type:          doc.Type,
		OriginalID:    doc.OriginalID,
		Data:          data,
		Payments:      payments,
		Returns:       returns,
		DeletedAt:     doc.DeletedAt.UTC(),
		CustomerKey:   doc.CustomerKey,
		CustomerName:  doc.CustomerName,
		CustomerPhone: doc.CustomerPhone,
		InvoiceDate:   doc.InvoiceDate.UTC(),
		GrandTotal:    d.dec(doc.GrandTotal),
	}
	return entry, d.err
}
