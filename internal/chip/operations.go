// Package chip builds the chip contract calls and runs them for a connected
// wallet through the confirmation poller.
package chip

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"

	"github.com/cmatc13/chipdesk/internal/lumx"
	"github.com/cmatc13/chipdesk/pkg/errors"
)

// Feature names one of the write operations a desk offers.
type Feature string

const (
	FeatureCreate     Feature = "create"
	FeatureBuy        Feature = "buy"
	FeaturePermission Feature = "permission"
	FeatureTransfer   Feature = "transfer"
)

// Features lists every feature in display order.
var Features = []Feature{FeatureCreate, FeatureBuy, FeaturePermission, FeatureTransfer}

// Contract function signatures, sent verbatim.
const (
	SignatureCreate     = "createChip(address[], uint256[], (bytes,address)[])"
	SignatureBuy        = "buyChip(uint256,(bytes,address))"
	SignaturePermission = "setNotPermission(bool, uint256)"
	SignatureTransfer   = "transferChip(uint256, address, (bytes,address))"
)

// buyPriceWei is attached to every buyChip call.
const buyPriceWei = 1_000_000_000_000_000

// BuyPrice returns the value in wei sent with a buy.
func BuyPrice() *big.Int {
	return big.NewInt(buyPriceWei)
}

// Defaults are the prefilled form values.
var Defaults = struct {
	Number    int64
	ChipID    int64
	DataBytes string
	Address   string
}{
	Number:    7,
	ChipID:    6,
	DataBytes: "0x4b594320666f72207573657231",
	Address:   "0x5bb7dd6a6eb4a440d6C70e1165243190295e290B",
}

// CreateInput mints a chip numbered Number to Address.
type CreateInput struct {
	Number    int64  `json:"number"`
	DataBytes string `json:"dataBytes"`
	Address   string `json:"address"`
}

// BuyInput buys ChipID. An empty Address means the connected wallet.
type BuyInput struct {
	ChipID    int64  `json:"chipId"`
	DataBytes string `json:"dataBytes"`
	Address   string `json:"address,omitempty"`
}

// PermissionInput sets the transfer permission flag on ChipID.
type PermissionInput struct {
	ChipID     int64 `json:"chipId"`
	Permission bool  `json:"permission"`
}

// TransferInput moves ChipID to Recipient.
type TransferInput struct {
	ChipID    int64  `json:"chipId"`
	Recipient string `json:"recipient"`
	DataBytes string `json:"dataBytes"`
}

// BuildCreate validates in and returns the createChip operation.
func BuildCreate(in CreateInput) (lumx.Operation, error) {
	if err := validateNumber("number", in.Number); err != nil {
		return lumx.Operation{}, err
	}
	if err := validateData(in.DataBytes); err != nil {
		return lumx.Operation{}, err
	}
	if err := validateAddress("address", in.Address); err != nil {
		return lumx.Operation{}, err
	}

	return lumx.Operation{
		FunctionSignature: SignatureCreate,
		ArgumentsValues: []interface{}{
			[]interface{}{in.Address},
			[]interface{}{in.Number},
			[]interface{}{[]interface{}{in.DataBytes, in.Address}},
		},
	}, nil
}

// BuildBuy validates in and returns the buyChip operation. Address must
// already be resolved.
func BuildBuy(in BuyInput) (lumx.Operation, error) {
	if err := validateNumber("chipId", in.ChipID); err != nil {
		return lumx.Operation{}, err
	}
	if err := validateData(in.DataBytes); err != nil {
		return lumx.Operation{}, err
	}
	if err := validateAddress("address", in.Address); err != nil {
		return lumx.Operation{}, err
	}

	return lumx.Operation{
		FunctionSignature: SignatureBuy,
		ArgumentsValues:   []interface{}{in.ChipID, []interface{}{in.DataBytes, in.Address}},
		MessageValue:      BuyPrice(),
	}, nil
}

// BuildPermission validates in and returns the setNotPermission operation.
func BuildPermission(in PermissionInput) (lumx.Operation, error) {
	if err := validateNumber("chipId", in.ChipID); err != nil {
		return lumx.Operation{}, err
	}

	return lumx.Operation{
		FunctionSignature: SignaturePermission,
		ArgumentsValues:   []interface{}{in.Permission, in.ChipID},
	}, nil
}

// BuildTransfer validates in and returns the transferChip operation.
func BuildTransfer(in TransferInput) (lumx.Operation, error) {
	if err := validateNumber("chipId", in.ChipID); err != nil {
		return lumx.Operation{}, err
	}
	if err := validateAddress("recipient", in.Recipient); err != nil {
		return lumx.Operation{}, err
	}
	if err := validateData(in.DataBytes); err != nil {
		return lumx.Operation{}, err
	}

	return lumx.Operation{
		FunctionSignature: SignatureTransfer,
		ArgumentsValues:   []interface{}{in.ChipID, in.Recipient, []interface{}{in.DataBytes, in.Recipient}},
	}, nil
}

// Selector returns the 4-byte function selector of signature as 0x-hex.
// Whitespace is ignored, so "f(uint256, address)" and "f(uint256,address)"
// share a selector.
func Selector(signature string) string {
	canonical := strings.Join(strings.Fields(signature), "")
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(canonical))
	return hexutil.Encode(h.Sum(nil)[:4])
}

// ExplorerURL links a transaction hash on the block explorer at base.
func ExplorerURL(base, hash string) string {
	if hash == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/tx/" + hash
}

func validateAddress(field, addr string) error {
	if !common.IsHexAddress(addr) {
		return errors.WithField(
			errors.ChipErrorf(errors.ChipErrInvalidAddress, errors.ErrInvalidInput, "%s %q is not a hex address", field, addr),
			"field", field,
		)
	}
	return nil
}

func validateData(data string) error {
	if _, err := hexutil.Decode(data); err != nil {
		return errors.WithField(
			errors.ChipErrorf(errors.ChipErrInvalidData, errors.ErrInvalidInput, "dataBytes %q: %v", data, err),
			"field", "dataBytes",
		)
	}
	return nil
}

func validateNumber(field string, n int64) error {
	if n < 0 {
		return errors.WithField(
			errors.ChipErrorf(errors.ChipErrInvalidNumber, errors.ErrInvalidInput, "%s must not be negative, got %d", field, n),
			"field", field,
		)
	}
	return nil
}
