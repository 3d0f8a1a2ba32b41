package payment

import (
	"errors"

	"paychat/internal/domain"

	"github.com/go-playground/validator/v10"
)

// User-facing validation messages.
const (
	msgMissingFields = "Please fill in all fields"
	msgInvalidAmount = "Please enter a valid amount"
)

var validate = validator.New()

// ValidationError is an intent rejected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Validate checks that every intent field is present and that the amount is a
// positive finite decimal small enough to charge in minor units. It returns the
// parsed amount.
func Validate(intent domain.PaymentIntent) (domain.Amount, error) {
	intent = intent.Trimmed()

	if err := validate.Struct(intent); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return domain.Amount{}, &ValidationError{Field: verrs[0].Field(), Message: msgMissingFields}
		}
		return domain.Amount{}, &ValidationError{Message: msgMissingFields}
	}

	amount, err := domain.ParseAmount(intent.Amount)
	if err != nil || !amount.IsPositive() || !amount.FitsMinorUnits() {
		return domain.Amount{}, &ValidationError{Field: "Amount", Message: msgInvalidAmount}
	}
	return amount, nil
}
