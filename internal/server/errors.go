package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	credentials "github.com/nyumbanilabs/nyumbani/internal/payment/credentials"
	invoicedomain "github.com/nyumbanilabs/nyumbani/internal/invoice/domain"
	paymentdomain "github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	paymentstatusdomain "github.com/nyumbanilabs/nyumbani/internal/paymentstatus/domain"
	serviceinvoicedomain "github.com/nyumbanilabs/nyumbani/internal/serviceinvoice/domain"
	subscriptiondomain "github.com/nyumbanilabs/nyumbani/internal/subscription/domain"
	tenancydomain "github.com/nyumbanilabs/nyumbani/internal/tenancy/domain"
	"gorm.io/gorm"
)

var ErrInvalidRequest = errors.New("invalid_request")

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Message: err.Error()}
	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "signature verification failed"}
	case errors.Is(err, paymentdomain.ErrInsufficientPaymentBalance),
		errors.Is(err, paymentdomain.ErrOverAllocation),
		errors.Is(err, invoicedomain.ErrInvoiceAlreadySettled):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: err.Error()}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidAmount):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, paymentstatusdomain.ErrTransactionNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, serviceinvoicedomain.ErrNoSubscription),
		errors.Is(err, serviceinvoicedomain.ErrNoBillingPlan),
		errors.Is(err, tenancydomain.ErrTenantNotFound),
		errors.Is(err, credentials.ErrNoCredentials),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
