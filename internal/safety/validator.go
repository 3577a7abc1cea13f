package safety

import (
	"fmt"
	"math"
)

// ValidationResult reports the outcome of one pre-trade sanity check.
type ValidationResult struct {
	Valid  bool
	Reason string
}

func valid() ValidationResult {
	return ValidationResult{Valid: true}
}

func invalid(format string, args ...interface{}) ValidationResult {
	return ValidationResult{Valid: false, Reason: fmt.Sprintf(format, args...)}
}

// Validator performs last-line sanity checks on order parameters before
// they leave for the exchange. These are not risk decisions: anything
// rejected here indicates a bug or corrupted data upstream.
type Validator struct {
	maxPrice    float64
	maxQuantity float64
}

// NewValidator creates a validator with generous hard bounds.
func NewValidator() *Validator {
	return &Validator{
		maxPrice:    10_000_000,
		maxQuantity: 1_000_000,
	}
}

// ValidatePrice checks a price is a positive finite number within bounds.
func (v *Validator) ValidatePrice(price float64, symbol string) ValidationResult {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return invalid("price for %s is not a finite number", symbol)
	}
	if price <= 0 {
		return invalid("price %.8f for %s must be positive", price, symbol)
	}
	if price > v.maxPrice {
		return invalid("price %.2f for %s exceeds sanity bound %.2f", price, symbol, v.maxPrice)
	}
	return valid()
}

// ValidateQuantity checks a quantity is a positive finite number within bounds.
func (v *Validator) ValidateQuantity(quantity float64, symbol string) ValidationResult {
	if math.IsNaN(quantity) || math.IsInf(quantity, 0) {
		return invalid("quantity for %s is not a finite number", symbol)
	}
	if quantity <= 0 {
		return invalid("quantity %.8f for %s must be positive", quantity, symbol)
	}
	if quantity > v.maxQuantity {
		return invalid("quantity %.2f for %s exceeds sanity bound %.2f", quantity, symbol, v.maxQuantity)
	}
	return valid()
}

// ValidateOrder checks both legs of an order in one call.
func (v *Validator) ValidateOrder(price, quantity float64, symbol string) ValidationResult {
	if r := v.ValidatePrice(price, symbol); !r.Valid {
		return r
	}
	if r := v.ValidateQuantity(quantity, symbol); !r.Valid {
		return r
	}
	return valid()
}
