package validator

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/plugin"
)

const dateLayout = "2006-01-02"

// TransactionHash is the dedup key of one transaction. Identical lines that
// legitimately repeat within a statement are told apart by occurrence, the
// number of earlier identical lines in the same document.
func TransactionHash(accountID uuid.UUID, r plugin.TransactionRecord, occurrence int) string {
	balance := ""
	if r.Balance != nil {
		balance = strconv.FormatInt(*r.Balance, 10)
	}
	return digest(occurrence,
		accountID.String(),
		r.Date.Format(dateLayout),
		strconv.FormatInt(r.AmountCents, 10),
		balance,
		normalizeDescription(r.Description),
	)
}

// ShoppingHash is the dedup key of one shopping record.
func ShoppingHash(accountID uuid.UUID, r plugin.ShoppingRecord, occurrence int) string {
	return digest(occurrence,
		accountID.String(),
		r.OrderID,
		r.Date.Format(dateLayout),
		strconv.FormatInt(r.AmountCents, 10),
		normalizeDescription(r.Description),
	)
}

// HashTransactions hashes records in order, counting repeats.
func HashTransactions(accountID uuid.UUID, records []plugin.TransactionRecord) []string {
	seen := make(map[string]int, len(records))
	out := make([]string, len(records))
	for i, r := range records {
		base := TransactionHash(accountID, r, 0)
		out[i] = TransactionHash(accountID, r, seen[base])
		seen[base]++
	}
	return out
}

// HashShoppingItems hashes records in order, counting repeats.
func HashShoppingItems(accountID uuid.UUID, records []plugin.ShoppingRecord) []string {
	seen := make(map[string]int, len(records))
	out := make([]string, len(records))
	for i, r := range records {
		base := ShoppingHash(accountID, r, 0)
		out[i] = ShoppingHash(accountID, r, seen[base])
		seen[base]++
	}
	return out
}

func digest(occurrence int, parts ...string) string {
	key := strings.Join(parts, "|")
	if occurrence > 0 {
		key += "|" + strconv.Itoa(occurrence)
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func normalizeDescription(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
