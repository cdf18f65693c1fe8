package ledger

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"fabricbill/backend/internal/domain"
)

const maxInvoiceNumber = 999

var (
	digitRun     = regexp.MustCompile(`\d+`)
	allDigits    = regexp.MustCompile(`^\d+$`)
	hasLetter    = regexp.MustCompile(`[A-Za-z]`)
	letterPrefix = regexp.MustCompile(`^[A-Za-z]+`)
	letterSuffix = regexp.MustCompile(`[A-Za-z]+$`)
)

// IsInvoiceNumberAvailable reports whether no live invoice uses invoiceNo.
func (e *Engine) IsInvoiceNumberAvailable(ctx context.Context, invoiceNo string) (bool, error) {
	invoiceNo = strings.TrimSpace(invoiceNo)
	if invoiceNo == "" {
		return false, invalid("invoice_no", "is required")
	}
	numbers, err := e.store.ListInvoiceNumbers(ctx)
	if err != nil {
		return false, fmt.Errorf("list invoice numbers: %w", err)
	}
	for _, no := range numbers {
		if no == invoiceNo {
			return false, nil
		}
	}
	return true, nil
}

// SuggestNextInvoiceNo proposes the number after the highest one in use.
// Numbers run 001..999 and then start over; letters around the digits of
// the highest number are kept. Numbers already taken are skipped.
func (e *Engine) SuggestNextInvoiceNo(ctx context.Context) (domain.InvoiceNumberSuggestion, error) {
	numbers, err := e.store.ListInvoiceNumbers(ctx)
	if err != nil {
		return domain.InvoiceNumberSuggestion{}, fmt.Errorf("list invoice numbers: %w", err)
	}

	highest, highestNo := 0, ""
	taken := make(map[string]struct{}, len(numbers))
	for _, no := range numbers {
		taken[no] = struct{}{}
		n, err := strconv.Atoi(digitRun.FindString(no))
		if err != nil {
			continue
		}
		if n > highest {
			highest, highestNo = n, no
		}
	}
	if highest == 0 {
		return domain.InvoiceNumberSuggestion{NextInvoiceNo: "001", NextNumber: 1}, nil
	}

	suggestion := domain.InvoiceNumberSuggestion{LastInvoiceNo: highestNo}
	if allDigits.MatchString(highestNo) && len(highestNo) < 3 {
		suggestion.LastInvoiceNo = strings.Repeat("0", 3-len(highestNo)) + highestNo
	}

	next := highest + 1
	if highest >= maxInvoiceNumber {
		next = 1
		suggestion.CycleRestarted = true
	}
	for i := 0; i < maxInvoiceNumber; i++ {
		candidate := formatInvoiceNo(highestNo, next)
		if _, used := taken[candidate]; !used {
			suggestion.NextInvoiceNo = candidate
			suggestion.NextNumber = next
			return suggestion, nil
		}
		next++
		if next > maxInvoiceNumber {
			next = 1
			suggestion.CycleRestarted = true
		}
	}
	// every number in the cycle is taken; fall back to the plain successor
	suggestion.NextNumber = next
	suggestion.NextInvoiceNo = formatInvoiceNo(highestNo, next)
	return suggestion, nil
}

func formatInvoiceNo(template string, n int) string {
	digits := fmt.Sprintf("%03d", n)
	if !hasLetter.MatchString(template) {
		return digits
	}
	return letterPrefix.FindString(template) + digits + letterSuffix.FindString(template)
}
