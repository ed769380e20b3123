// Package discount implements the discount cards that can be applied to an
// order total. Cards are pure: they never touch storage or clocks.
package discount

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	TypePercentage  = "Percentage"
	TypeFixedAmount = "FixedAmount"
)

var (
	ErrInvalidPercentage = errors.New("percentage must be between 0 and 100")
	ErrNegativeAmount    = errors.New("discount amount cannot be negative")
	ErrNegativeMinimum   = errors.New("minimum amount cannot be negative")
)

var hundred = decimal.NewFromInt(100)

// Card computes the discount for an order total.
type Card interface {
	Type() string
	// CanApply reports whether total reaches the card's minimum amount.
	CanApply(total decimal.Decimal) bool
	// Discount never exceeds total and is zero when CanApply is false.
	Discount(total decimal.Decimal) decimal.Decimal
}

// Percentage takes a share of the total.
type Percentage struct {
	percentage decimal.Decimal
	minimum    decimal.Decimal
}

func NewPercentage(percentage, minimum decimal.Decimal) (*Percentage, error) {
	if percentage.IsNegative() || percentage.GreaterThan(hundred) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPercentage, percentage)
	}
	if minimum.IsNegative() {
		return nil, ErrNegativeMinimum
	}
	return &Percentage{percentage: percentage, minimum: minimum}, nil
}

func (c *Percentage) Type() string { return TypePercentage }

func (c *Percentage) CanApply(total decimal.Decimal) bool {
	return total.GreaterThanOrEqual(c.minimum)
}

func (c *Percentage) Discount(total decimal.Decimal) decimal.Decimal {
	if !c.CanApply(total) {
		return decimal.Zero
	}
	return total.Mul(c.percentage).Div(hundred)
}

// FixedAmount takes a flat amount off, capped at the total.
type FixedAmount struct {
	amount  decimal.Decimal
	minimum decimal.Decimal
}

func NewFixedAmount(amount, minimum decimal.Decimal) (*FixedAmount, error) {
	if amount.IsNegative() {
		return nil, ErrNegativeAmount
	}
	if minimum.IsNegative() {
		return nil, ErrNegativeMinimum
	}
	return &FixedAmount{amount: amount, minimum: minimum}, nil
}

func (c *FixedAmount) Type() string { return TypeFixedAmount }

func (c *FixedAmount) CanApply(total decimal.Decimal) bool {
	return total.GreaterThanOrEqual(c.minimum)
}

func (c *FixedAmount) Discount(total decimal.Decimal) decimal.Decimal {
	if !c.CanApply(total) {
		return decimal.Zero
	}
	return decimal.Min(c.amount, total)
}
