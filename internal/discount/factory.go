package discount

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrUnknownCardType = errors.New("unknown discount card type")
	ErrMalformedCode   = errors.New("malformed discount code")
)

// Factory builds cards from a type tag. It is stateless and safe to share.
type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

// Create returns the card for cardType (case-insensitive).
func (f *Factory) Create(cardType string, value, minimum decimal.Decimal) (Card, error) {
	switch strings.ToLower(cardType) {
	case "percentage":
		return NewPercentage(value, minimum)
	case "fixedamount":
		return NewFixedAmount(value, minimum)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCardType, cardType)
	}
}

// FromCode parses a TYPE-VALUE[-MINIMUM] code and builds the matching card.
func (f *Factory) FromCode(code string) (Card, error) {
	c, err := ParseCode(code)
	if err != nil {
		return nil, err
	}
	return f.Create(c.Type, c.Value, c.Minimum)
}

// Code is a parsed discount code.
type Code struct {
	Type    string
	Value   decimal.Decimal
	Minimum decimal.Decimal
}

// ParseCode splits TYPE-VALUE[-MINIMUM]. The minimum defaults to zero.
func ParseCode(code string) (Code, error) {
	parts := strings.Split(strings.TrimSpace(code), "-")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return Code{}, fmt.Errorf("%w: %q", ErrMalformedCode, code)
	}

	value, err := decimal.NewFromString(parts[1])
	if err != nil {
		return Code{}, fmt.Errorf("%w: value %q: %v", ErrMalformedCode, parts[1], err)
	}

	minimum := decimal.Zero
	if len(parts) == 3 {
		if minimum, err = decimal.NewFromString(parts[2]); err != nil {
			return Code{}, fmt.Errorf("%w: minimum %q: %v", ErrMalformedCode, parts[2], err)
		}
	}
	return Code{Type: parts[0], Value: value, Minimum: minimum}, nil
}
