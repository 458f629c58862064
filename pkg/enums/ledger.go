package enums

import "fmt"

// LedgerEntryType maps to the ledger_entry_type enum in Postgres.
type LedgerEntryType string

const (
	LedgerEntryTypeDeposit       LedgerEntryType = "deposit"
	LedgerEntryTypeWithdrawal    LedgerEntryType = "withdrawal"
	LedgerEntryTypeSaleCredit    LedgerEntryType = "sale_credit"
	LedgerEntryTypePurchaseDebit LedgerEntryType = "purchase_debit"
	LedgerEntryTypeRefund        LedgerEntryType = "refund"
	LedgerEntryTypePlatformFee   LedgerEntryType = "platform_fee"
	LedgerEntryTypeBonus         LedgerEntryType = "bonus"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryTypeDeposit,
	LedgerEntryTypeWithdrawal,
	LedgerEntryTypeSaleCredit,
	LedgerEntryTypePurchaseDebit,
	LedgerEntryTypeRefund,
	LedgerEntryTypePlatformFee,
	LedgerEntryTypeBonus,
}

// IsValid reports whether the value matches the canonical ledger entry enum.
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

// LedgerEntryStatus maps to the ledger_entry_status enum in Postgres.
type LedgerEntryStatus string

const (
	LedgerEntryStatusPending LedgerEntryStatus = "pending"
	LedgerEntryStatusSettled LedgerEntryStatus = "settled"
	LedgerEntryStatusFailed  LedgerEntryStatus = "failed"
)

var validLedgerEntryStatuses = []LedgerEntryStatus{
	LedgerEntryStatusPending,
	LedgerEntryStatusSettled,
	LedgerEntryStatusFailed,
}

func (s LedgerEntryStatus) IsValid() bool {
	for _, candidate := range validLedgerEntryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

func ParseLedgerEntryStatus(value string) (LedgerEntryStatus, error) {
	for _, candidate := range validLedgerEntryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry status %q", value)
}

// LedgerBucket selects which wallet balance an entry moves.
type LedgerBucket string

const (
	LedgerBucketAvailable LedgerBucket = "available"
	LedgerBucketPending   LedgerBucket = "pending"
)

var validLedgerBuckets = []LedgerBucket{
	LedgerBucketAvailable,
	LedgerBucketPending,
}

// LedgerBuckets returns both buckets in a stable order.
func LedgerBuckets() []LedgerBucket {
	return []LedgerBucket{LedgerBucketAvailable, LedgerBucketPending}
}

func (b LedgerBucket) IsValid() bool {
	for _, candidate := range validLedgerBuckets {
		if candidate == b {
			return true
		}
	}
	return false
}

func ParseLedgerBucket(value string) (LedgerBucket, error) {
	for _, candidate := range validLedgerBuckets {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger bucket %q", value)
}
