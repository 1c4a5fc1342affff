package enums

import "fmt"

// LedgerEntryType classifies a row in the account journal.
type LedgerEntryType string

const (
	LedgerEntryOpening    LedgerEntryType = "opening"
	LedgerEntryDeposit    LedgerEntryType = "deposit"
	LedgerEntryWithdrawal LedgerEntryType = "withdrawal"
	LedgerEntryDebit      LedgerEntryType = "debit"
	LedgerEntryCredit     LedgerEntryType = "credit"
	LedgerEntryRefund     LedgerEntryType = "refund"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryOpening,
	LedgerEntryDeposit,
	LedgerEntryWithdrawal,
	LedgerEntryDebit,
	LedgerEntryCredit,
	LedgerEntryRefund,
}

// IsValid reports whether the value matches a known entry type.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}

// LedgerResult is the outcome of a debit or credit attempt.
type LedgerResult string

const (
	LedgerResultOK                LedgerResult = "ok"
	LedgerResultInsufficientFunds LedgerResult = "insufficient_funds"
	LedgerResultAccountNotFound   LedgerResult = "account_not_found"
)

func (r LedgerResult) OK() bool {
	return r == LedgerResultOK
}
