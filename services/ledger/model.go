package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"boostplane/pkg/money"

	"gorm.io/datatypes"
)

type EntryType string

const (
	EntryDebit  EntryType = "DEBIT"
	EntryCredit EntryType = "CREDIT"
)

// AccountType distinguishes the parties a transfer leg can touch.
type AccountType string

const (
	AccountTypeBonusPool AccountType = "BONUS_POOL"
	AccountTypeFloat     AccountType = "FLOAT"
	AccountTypeEndUser   AccountType = "END_USER_ACCOUNT"
)

// Balance is the running balance of one account (user, float or pool).
type Balance struct {
	ID        string    `gorm:"column:id;primaryKey"`
	AccountID string    `gorm:"column:account_id;uniqueIndex;not null"`
	Balance   int64     `gorm:"column:balance"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// LedgerEntry is one immutable movement on one account. Entries per account
// form a hash chain for tamper evidence.
type LedgerEntry struct {
	ID            string         `gorm:"column:id;primaryKey"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
	AccountID     string         `gorm:"column:account_id;index;not null"`
	AccountType   AccountType    `gorm:"column:account_type;type:varchar(32)"`
	Type          EntryType      `gorm:"column:type;type:varchar(16)"`
	Amount        int64          `gorm:"column:amount"`
	Unit          money.Unit     `gorm:"column:unit;type:varchar(32)"`
	Currency      string         `gorm:"column:currency;type:varchar(8)"`
	TransactionID string         `gorm:"column:transaction_id;index"`
	ReferenceID   string         `gorm:"column:reference_id;index"`
	Description   string         `gorm:"column:description"`
	PreviousHash  string         `gorm:"column:previous_hash"`
	Hash          string         `gorm:"column:hash"`
	Metadata      datatypes.JSON `gorm:"column:metadata"`
}

type EntryParams struct {
	EntryID       string
	AccountID     string
	AccountType   AccountType
	Type          EntryType
	Amount        int64
	Unit          money.Unit
	Currency      string
	TransactionID string
	ReferenceID   string
	Description   string
	PreviousHash  string
	Metadata      datatypes.JSON
}

func NewEntry(p EntryParams) *LedgerEntry {
	return &LedgerEntry{
		ID:            p.EntryID,
		AccountID:     p.AccountID,
		AccountType:   p.AccountType,
		Type:          p.Type,
		Amount:        p.Amount,
		Unit:          p.Unit,
		Currency:      p.Currency,
		TransactionID: p.TransactionID,
		ReferenceID:   p.ReferenceID,
		Description:   p.Description,
		PreviousHash:  p.PreviousHash,
		Metadata:      p.Metadata,
	}
}

func (m *LedgerEntry) HashFields() map[string]string {
	return map[string]string{
		"id":             m.ID,
		"account_id":     m.AccountID,
		"type":           string(m.Type),
		"amount":         fmt.Sprintf("%d", m.Amount),
		"unit":           string(m.Unit),
		"currency":       m.Currency,
		"transaction_id": m.TransactionID,
		"reference_id":   m.ReferenceID,
		"description":    m.Description,
		"created_at":     m.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash":  m.PreviousHash,
	}
}

func (l *LedgerEntry) GenerateHash() string {
	fields := l.HashFields()
	var keys []string
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	joined := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}

func GenerateTransactionID() (string, error) {
	datePart := time.Now().Format("20060102")

	r := make([]byte, 3) // 3 bytes = 6 hex chars
	_, err := rand.Read(r)
	if err != nil {
		return "", err
	}
	randomPart := strings.ToUpper(fmt.Sprintf("%x", r))

	return fmt.Sprintf("%s-%s", datePart, randomPart), nil
}

// Recipient is one account on the receiving side of a transfer instruction.
type Recipient struct {
	RecipientID   string      `json:"recipientId"`
	Amount        int64       `json:"amount"`
	RecipientType AccountType `json:"recipientType"`
}

// TransferInstruction moves funds between the bonus pool, a client float and
// end-user accounts. One instruction per boost, recipients batched.
type TransferInstruction struct {
	Identifier       string           `json:"identifier"`
	FloatID          string           `json:"floatId"`
	FromID           string           `json:"fromId"`
	FromType         AccountType      `json:"fromType"`
	ToType           AccountType      `json:"toType"`
	Currency         string           `json:"currency"`
	Unit             money.Unit       `json:"unit"`
	Recipients       []Recipient      `json:"recipients"`
	ReferenceAmounts map[string]int64 `json:"referenceAmounts,omitempty"`
}

// TransferResult carries the transaction ids the caller folds into
// notifications and audit logs.
type TransferResult struct {
	Result       string            `json:"result"`
	FloatTxIDs   []string          `json:"floatTxIds"`
	AccountTxIDs map[string]string `json:"accountTxIds"`
}

const (
	TransferSuccess = "SUCCESS"
	TransferFailed  = "FAILED"
)
