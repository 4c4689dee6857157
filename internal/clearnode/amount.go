package clearnode

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "VelocityVault/internal/errors"
)

// UnitDecimals 为 USDC 类资产的定点精度。
const UnitDecimals = 6

// ParseAmount 解析用户输入的金额字符串，必须为正数。
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, xerrors.New(xerrors.CodePrecondition, "amount must be greater than zero")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, xerrors.Wrap(xerrors.CodeValidation, err, "invalid amount "+raw)
	}
	if !amount.IsPositive() {
		return decimal.Zero, xerrors.New(xerrors.CodePrecondition, "amount must be greater than zero")
	}
	return amount, nil
}

// ToUnits 将金额换算为 6 位定点整数单位，超出精度的部分向下截断。
func ToUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(UnitDecimals).Truncate(0).BigInt()
}

// FromUnits 将整数单位换回金额。无法解析时返回零。
func FromUnits(raw string) decimal.Decimal {
	units, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return units.Shift(-UnitDecimals)
}
