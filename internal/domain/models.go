package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentMethodCash    = "cash"
	PaymentMethodUPI     = "upi"
	PaymentMethodAccount = "account"

	PaymentTypeInitial    = "initial"
	PaymentTypeAdditional = "additional"

	RecycleBinTypeInvoice = "invoice"

	RoleAdmin = "admin"
	RoleStaff = "staff"
)

type ProductLine struct {
	Description string          `json:"description"`
	Qty         decimal.Decimal `json:"qty"`
	Rate        decimal.Decimal `json:"rate"`
	Amount      decimal.Decimal `json:"amount"`
}

// PaymentBreakdown holds the cumulative amount collected per method.
type PaymentBreakdown struct {
	Cash    decimal.Decimal `json:"cash"`
	UPI     decimal.Decimal `json:"upi"`
	Account decimal.Decimal `json:"account"`
}

func (b PaymentBreakdown) Total() decimal.Decimal {
	return b.Cash.Add(b.UPI).Add(b.Account)
}

func (b PaymentBreakdown) IsZero() bool {
	return b.Cash.IsZero() && b.UPI.IsZero() && b.Account.IsZero()
}

// Bucket returns the amount held for a normalized payment method.
func (b PaymentBreakdown) Bucket(method string) decimal.Decimal {
	switch method {
	case PaymentMethodUPI:
		return b.UPI
	case PaymentMethodAccount:
		return b.Account
	default:
		return b.Cash
	}
}

// WithBucket returns a copy with the bucket of method replaced by amount.
func (b PaymentBreakdown) WithBucket(method string, amount decimal.Decimal) PaymentBreakdown {
	switch method {
	case PaymentMethodUPI:
		b.UPI = amount
	case PaymentMethodAccount:
		b.Account = amount
	default:
		b.Cash = amount
	}
	return b
}

type Invoice struct {
	InvoiceNo          string           `json:"invoice_no"`
	CustomerKey        string           `json:"customer_key"`
	CustomerName       string           `json:"customer_name"`
	CustomerPhone      string           `json:"customer_phone,omitempty"`
	CustomerAddress    string           `json:"customer_address,omitempty"`
	InvoiceDate        time.Time        `json:"invoice_date"`
	Products           []ProductLine    `json:"products"`
	Subtotal           decimal.Decimal  `json:"subtotal"`
	PreviousBalance    decimal.Decimal  `json:"previous_balance"`
	GrandTotal         decimal.Decimal  `json:"grand_total"`
	PaymentBreakdown   PaymentBreakdown `json:"payment_breakdown"`
	AmountPaid         decimal.Decimal  `json:"amount_paid"`
	BalanceDue         decimal.Decimal  `json:"balance_due"`
	TotalReturns       decimal.Decimal  `json:"total_returns"`
	AdjustedBalanceDue decimal.Decimal  `json:"adjusted_balance_due"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

type Payment struct {
	ID            string          `json:"id"`
	InvoiceNo     string          `json:"invoice_no"`
	CustomerKey   string          `json:"customer_key"`
	PaymentDate   time.Time       `json:"payment_date"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	PaymentType   string          `json:"payment_type"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Return struct {
	ID           string          `json:"id"`
	InvoiceNo    string          `json:"invoice_no"`
	CustomerKey  string          `json:"customer_key"`
	CustomerName string          `json:"customer_name"`
	Description  string          `json:"description"`
	Qty          decimal.Decimal `json:"qty"`
	Rate         decimal.Decimal `json:"rate"`
	ReturnAmount decimal.Decimal `json:"return_amount"`
	Reason       string          `json:"reason,omitempty"`
	ReturnDate   time.Time       `json:"return_date"`
	CreatedAt    time.Time       `json:"created_at"`
}

// RecycleBinEntry is the soft-deleted form of an invoice together with the
// payments and returns it owned at deletion time.
type RecycleBinEntry struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	OriginalID    string          `json:"original_id"`
	Data          Invoice         `json:"data"`
	Payments      []Payment       `json:"payments"`
	Returns       []Return        `json:"returns"`
	DeletedAt     time.Time       `json:"deleted_at"`
	CustomerKey   string          `json:"customer_key"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	InvoiceDate   time.Time       `json:"invoice_date"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
}

type Customer struct {
	Key         string    `json:"key"`
	Phone       string    `json:"phone,omitempty"`
	Name        string    `json:"name"`
	Address     string    `json:"address,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}

// CarriedBalance is the result of a balance derivation. TotalPreviousBills is
// informational only.
type CarriedBalance struct {
	CustomerKey           string          `json:"customer_key"`
	TotalPreviousBills    decimal.Decimal `json:"total_previous_bills"`
	BalanceCarriedForward decimal.Decimal `json:"balance_carried_forward"`
	InvoiceCount          int             `json:"invoice_count"`
	LastInvoiceNo         string          `json:"last_invoice_no,omitempty"`
}

// CascadeReport lists, in chain order, the invoices a run rewrote and the
// ones it found already correct.
type CascadeReport struct {
	RunID       string   `json:"run_id"`
	CustomerKey string   `json:"customer_key"`
	Updated     []string `json:"updated"`
	Unchanged   []string `json:"unchanged"`
}

type StatementLine struct {
	InvoiceNo          string          `json:"invoice_no"`
	InvoiceDate        time.Time       `json:"invoice_date"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	PreviousBalance    decimal.Decimal `json:"previous_balance"`
	GrandTotal         decimal.Decimal `json:"grand_total"`
	AmountPaid         decimal.Decimal `json:"amount_paid"`
	TotalReturns       decimal.Decimal `json:"total_returns"`
	BalanceDue         decimal.Decimal `json:"balance_due"`
	AdjustedBalanceDue decimal.Decimal `json:"adjusted_balance_due"`
}

type CustomerStatement struct {
	CustomerKey       string          `json:"customer_key"`
	CustomerName      string          `json:"customer_name"`
	TotalInvoices     int             `json:"total_invoices"`
	TotalCurrentBills decimal.Decimal `json:"total_current_bills"`
	TotalPaid         decimal.Decimal `json:"total_paid"`
	TotalReturns      decimal.Decimal `json:"total_returns"`
	BalanceDue        decimal.Decimal `json:"balance_due"`
	Invoices          []StatementLine `json:"invoices"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

type InvoiceNumberSuggestion struct {
	LastInvoiceNo  string `json:"last_invoice_no"`
	NextInvoiceNo  string `json:"next_invoice_no"`
	NextNumber     int    `json:"next_number"`
	CycleRestarted bool   `json:"cycle_restarted"`
}

// Violation describes one broken ledger invariant on a stored invoice.
type Violation struct {
	InvoiceNo string          `json:"invoice_no"`
	Rule      string          `json:"rule"`
	Expected  decimal.Decimal `json:"expected"`
	Actual    decimal.Decimal `json:"actual"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
