package errors

// Chip error codes
const (
	// ChipErrInvalidAddress indicates a malformed hex address
	ChipErrInvalidAddress = "CHIP_INVALID_ADDRESS"
	// ChipErrInvalidData indicates malformed 0x-prefixed data bytes
	ChipErrInvalidData = "CHIP_INVALID_DATA"
	// ChipErrInvalidNumber indicates a negative chip number or id
	ChipErrInvalidNumber = "CHIP_INVALID_NUMBER"
	// ChipErrNoWallet indicates no wallet is connected to the desk
	ChipErrNoWallet = "CHIP_NO_WALLET"
	// ChipErrPermissionRequired indicates transfer was attempted before permission was granted
	ChipErrPermissionRequired = "CHIP_PERMISSION_REQUIRED"
	// ChipErrWalletNotFound indicates the remote API does not know the wallet id
	ChipErrWalletNotFound = "CHIP_WALLET_NOT_FOUND"
	// ChipErrMissingCredentials indicates auth token or contract address is unset
	ChipErrMissingCredentials = "CHIP_MISSING_CREDENTIALS"
)

// Chip domain name
const ChipDomain = "chip"

// Chip operations
const (
	OpConnectWallet = "ConnectWallet"
	OpCreateChip    = "CreateChip"
	OpBuyChip       = "BuyChip"
	OpSetPermission = "SetPermission"
	OpTransferChip  = "TransferChip"
)

// NewChipError creates a chip error wrapping one of the sentinel categories.
func NewChipError(code string, message string, category error) error {
	return &Error{
		Domain:   ChipDomain,
		Code:     code,
		Message:  message,
		Original: category,
	}
}

// ChipErrorf creates a chip error with a formatted message.
func ChipErrorf(code string, category error, format string, args ...interface{}) error {
	return &Error{
		Domain:   ChipDomain,
		Code:     code,
		Message:  Sprintf(format, args...),
		Original: category,
	}
}

// IsChipError checks if an error is a chip error with the given code
func IsChipError(err error, code string) bool {
	var domainErr *Error
	if As(err, &domainErr) {
		return domainErr.Domain == ChipDomain && domainErr.Code == code
	}
	return false
}
