package gateway

import (
	"github.com/go-playground/validator/v10"

	"github.com/cryptoview/gateway/internal/domain"
)

var validate = validator.New()

// ValidateOrderRequest enforces the order invariants before any network
// call: non-empty symbol, known side and type, quantity strictly positive,
// and a positive price exactly when the type requires one.
func ValidateOrderRequest(req domain.OrderRequest) error {
	if err := validate.Struct(req); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return &domain.ValidationError{
				Field:  errs[0].Field(),
				Reason: "failed " + errs[0].Tag() + " constraint",
			}
		}
		return &domain.ValidationError{Field: "request", Reason: err.Error()}
	}

	if !req.Quantity.IsPositive() {
		return &domain.ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}

	if req.Type == domain.OrderTypeLimit || req.Type == domain.OrderTypeStop {
		if !req.Price.IsPositive() {
			return &domain.ValidationError{Field: "price", Reason: "required for " + string(req.Type) + " orders"}
		}
	}

	return nil
}
