package xid

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TransactionPrefix = "TRX"
	CustomerPrefix    = "CUST"
)

// NewID returns a random row identifier.
func NewID() string {
	return uuid.NewString()
}

// New returns a human-readable code such as TRX-20260115-9F2C04A1B7E3. The
// suffix carries 48 random bits; callers still retry on unique violations.
func New(prefix string, at time.Time) string {
	id := uuid.New()
	suffix := strings.ToUpper(hex.EncodeToString(id[:6]))
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("20060102"), suffix)
}

func TransactionNumber(at time.Time) string {
	return New(TransactionPrefix, at)
}

func CustomerCode(at time.Time) string {
	return New(CustomerPrefix, at)
}
