package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const PaymentPrefix = "payment"

// New returns "<prefix>_<unix millis>_<8 hex chars>".
func New(prefix string) string {
	buf := make([]byte, 4)
	ms := time.Now().UnixMilli()
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s_%d", prefix, ms)
	}
	return fmt.Sprintf("%s_%d_%s", prefix, ms, hex.EncodeToString(buf))
}

func Payment() string {
	return New(PaymentPrefix)
}

func Return() string {
	return New("return")
}

func Audit() string {
	return New("audit")
}

// RecycleBin builds the id of a recycle-bin entry for invoiceNo deleted at.
func RecycleBin(invoiceNo string, at time.Time) string {
	return fmt.Sprintf("invoice_%s_%d", invoiceNo, at.UnixMilli())
}

// PaymentIDCandidates lists the id spellings a stored payment may carry.
// Older records were written both with and without the "payment_" prefix.
func PaymentIDCandidates(id string) []string {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	prefix := PaymentPrefix + "_"
	bare := strings.TrimPrefix(id, prefix)
	out := []string{id}
	if bare != id {
		out = append(out, bare)
	} else {
		out = append(out, prefix+id)
	}
	return out
}
