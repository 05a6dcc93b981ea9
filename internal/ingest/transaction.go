// Package ingest persists validated transactions with duplicate protection
// and runs the batch categorization pass over stored statements.
package ingest

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"
)

// Transaction is a stored statement row. New rows start with category
// "other" and no summary until the categorization pass fills them in.
type Transaction struct {
	ID                 uuid.UUID
	AccountID          string
	StatementID        uuid.UUID
	ProfileID          uuid.UUID
	UserID             uuid.UUID
	Date               time.Time
	Type               string
	Amount             decimal.Decimal
	Currency           string
	Balance            decimal.NullDecimal
	OriginalDesc       string
	Summary            *string
	Category           string
	CategoryConfidence *float64
	IsSubscription     bool
	Hash               string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// DefaultCategory is assigned on insert, before categorization runs.
const DefaultCategory = "other"

// DedupHash derives the duplicate-detection key for one parsed row. The
// ordinal position participates so that genuinely repeated rows (same date,
// amount and description) within one statement stay distinct, while
// re-ingesting the same statement maps every row to the same hash.
func DedupHash(accountID, date string, amount decimal.Decimal, description string, position int) string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%d", accountID, date, amount.StringFixed(2), description, position)
	sum := sha3.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
