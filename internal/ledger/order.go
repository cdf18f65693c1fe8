package ledger

import (
	"math"
	"slices"
	"strings"

	"fabricbill/backend/internal/domain"
)

// SortKey is the numeric part used to order invoice numbers: leading digits
// after optional whitespace and sign, or 0 when there are none ("INV7" is 0).
func SortKey(invoiceNo string) int64 {
	s := strings.TrimLeft(invoiceNo, " \t\n\r")
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	var n int64
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		if n > (math.MaxInt64-int64(c-'0'))/10 {
			n = math.MaxInt64
			break
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		return -n
	}
	return n
}

// CompareInvoiceNo orders by SortKey, then by the raw string.
func CompareInvoiceNo(a, b string) int {
	ka, kb := SortKey(a), SortKey(b)
	switch {
	case ka < kb:
		return -1
	case ka > kb:
		return 1
	}
	return strings.Compare(a, b)
}

func sortChain(invoices []domain.Invoice) {
	slices.SortFunc(invoices, func(a, b domain.Invoice) int {
		return CompareInvoiceNo(a.InvoiceNo, b.InvoiceNo)
	})
}

func indexOf(chain []domain.Invoice, invoiceNo string) int {
	for i := range chain {
		if chain[i].InvoiceNo == invoiceNo {
			return i
		}
	}
	return -1
}

// insertionIndex is where invoiceNo would sit in an already sorted chain
// that does not contain it.
func insertionIndex(chain []domain.Invoice, invoiceNo string) int {
	idx, _ := slices.BinarySearchFunc(chain, invoiceNo, func(inv domain.Invoice, no string) int {
		return CompareInvoiceNo(inv.InvoiceNo, no)
	})
	return idx
}
