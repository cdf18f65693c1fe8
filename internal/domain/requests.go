package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for calendar dates in requests.
const DateLayout = "2006-01-02"

type ProductLineRequest struct {
	Description string          `json:"description" validate:"required,max=200"`
	Qty         decimal.Decimal `json:"qty" validate:"gt=0"`
	Rate        decimal.Decimal `json:"rate" validate:"gte=0"`
}

type PaymentAmounts struct {
	Cash    decimal.Decimal `json:"cash" validate:"gte=0"`
	UPI     decimal.Decimal `json:"upi" validate:"gte=0"`
	Account decimal.Decimal `json:"account" validate:"gte=0"`
}

type InvoiceSaveRequest struct {
	InvoiceNo       string               `json:"invoice_no" validate:"required,max=40"`
	InvoiceDate     string               `json:"invoice_date" validate:"required,datetime=2006-01-02"`
	CustomerName    string               `json:"customer_name" validate:"required,max=120"`
	CustomerPhone   string               `json:"customer_phone" validate:"omitempty,max=24"`
	CustomerAddress string               `json:"customer_address" validate:"max=300"`
	Products        []ProductLineRequest `json:"products" validate:"required,min=1,dive"`
	Payment         PaymentAmounts       `json:"payment"`
}

type InvoiceSaveResponse struct {
	Invoice Invoice       `json:"invoice"`
	Cascade CascadeReport `json:"cascade"`
}

type PaymentRequest struct {
	PaymentAmounts
	PaymentDate string `json:"payment_date" validate:"required,datetime=2006-01-02"`
}

type ReturnLineRequest struct {
	Description string          `json:"description" validate:"required,max=200"`
	Qty         decimal.Decimal `json:"qty" validate:"gt=0"`
	Rate        decimal.Decimal `json:"rate" validate:"gt=0"`
	Reason      string          `json:"reason" validate:"max=300"`
	ReturnDate  string          `json:"return_date" validate:"required,datetime=2006-01-02"`
}

type ReturnRequest struct {
	Lines []ReturnLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type LedgerMutationResponse struct {
	Invoice Invoice       `json:"invoice"`
	Cascade CascadeReport `json:"cascade"`
	Count   int           `json:"count,omitempty"`
}

type CustomerRequest struct {
	Name    string `json:"name" validate:"required,max=120"`
	Phone   string `json:"phone" validate:"omitempty,max=24"`
	Address string `json:"address" validate:"max=300"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type DeleteInvoiceResponse struct {
	Entry   RecycleBinEntry `json:"entry"`
	Cascade CascadeReport   `json:"cascade"`
}

type DeleteCustomerResponse struct {
	CustomerKey      string   `json:"customer_key"`
	RecycledInvoices []string `json:"recycled_invoices"`
}

type EmptyRecycleBinResponse struct {
	Purged int `json:"purged"`
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
