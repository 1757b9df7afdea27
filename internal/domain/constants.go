package domain

// TxStatus is the lifecycle state of a transaction.
type TxStatus string

const (
	TxStatusPending    TxStatus = "PENDING"
	TxStatusProcessing TxStatus = "PROCESSING"
	TxStatusCompleted  TxStatus = "COMPLETED"
	TxStatusFailed     TxStatus = "FAILED"
	TxStatusReversed   TxStatus = "REVERSED"
)

func (s TxStatus) Valid() bool {
	switch s {
	case TxStatusPending, TxStatusProcessing, TxStatusCompleted, TxStatusFailed, TxStatusReversed:
		return true
	}
	return false
}

// TxType classifies what a transaction moves funds for. Only transfers are
// produced by the transfer core; the other kinds exist in stored data.
type TxType string

const (
	TxTypeTransfer   TxType = "TRANSFER"
	TxTypeDeposit    TxType = "DEPOSIT"
	TxTypeWithdrawal TxType = "WITHDRAWAL"
)

type AccountType string

const (
	AccountTypeChecking AccountType = "CHECKING"
	AccountTypeSavings  AccountType = "SAVINGS"
	AccountTypeBusiness AccountType = "BUSINESS"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeChecking, AccountTypeSavings, AccountTypeBusiness:
		return true
	}
	return false
}

// Failure reasons recorded on transactions.
const (
	ReasonInsufficientBalance = "insufficient balance during processing"
	ReasonAccountInactive     = "account inactive during processing"
	ReasonCurrencyMismatch    = "currency mismatch during processing"
	ReasonProcessingTimedOut  = "processing timed out"
	ReasonPendingExpired      = "expired before processing"
)

// AccountNumberLength is the number of decimal digits in an account number.
const AccountNumberLength = 20
