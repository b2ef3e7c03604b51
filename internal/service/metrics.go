package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sakif/plausch/internal/apperror"
)

// Operation labels.
const (
	opRegister           = "register"
	opResendConfirmation = "resend_confirmation"
	opConfirmEmail       = "confirm_email"
	opLogin              = "login"
)

var (
	// accountOperations counts lifecycle operations by outcome.
	accountOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plausch_account_operations_total",
		Help: "Total number of account lifecycle operations by outcome",
	}, []string{"operation", "outcome"})

	// confirmationDeliveries counts confirmation mail attempts.
	confirmationDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plausch_confirmation_deliveries_total",
		Help: "Total number of confirmation mail delivery attempts by result",
	}, []string{"result"})
)

func recordOperation(operation string, err error) {
	accountOperations.WithLabelValues(operation, outcome(err)).Inc()
}

func recordDelivery(d Delivery) {
	confirmationDeliveries.WithLabelValues(string(d)).Inc()
}

// outcome collapses an operation error to a low-cardinality label. The
// specific unauthorized kinds are checked before the generic ones they wrap.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperror.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, apperror.ErrNotConfirmed):
		return "not_confirmed"
	case errors.Is(err, apperror.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, apperror.ErrValidation):
		return "validation"
	case errors.Is(err, apperror.ErrConflict):
		return "conflict"
	case errors.Is(err, apperror.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
