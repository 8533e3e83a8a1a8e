package server

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	paymentdomain "github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	"github.com/nyumbanilabs/nyumbani/internal/reconciliation"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// HandlePaymentWebhook ingests one provider delivery. Providers retry on
// non-2xx, so a duplicate delivery answers 200 like the first one did.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payment, created, err := s.paymentSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Matching is a separate, retriable step: respond to the provider fast
	// and attempt resolution in the background.
	if created && payment.Status == paymentdomain.StatusSuccess {
		go s.tryMatch(*payment)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "duplicate": !created})
}

func (s *Server) tryMatch(payment paymentdomain.InboundPayment) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.matcher.MatchPayment(ctx, &payment); err != nil {
		s.log.Warn("post-ingest match attempt failed",
			zap.Int64("payment_id", int64(payment.ID)),
			zap.Error(err),
		)
	}
}

func (s *Server) HandleListUnmatched(c *gin.Context) {
	filter := reconciliation.UnmatchedFilter{
		Source: paymentdomain.Source(strings.TrimSpace(c.Query("source"))),
	}
	if raw := strings.TrimSpace(c.Query("landlord_id")); raw != "" {
		landlordID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		filter.LandlordID = &landlordID
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		filter.Limit = limit
	}

	payments, err := s.matcher.ListUnmatched(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

type allocateRequest struct {
	InvoiceID string `json:"invoice_id" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

func (s *Server) HandleAllocate(c *gin.Context) {
	paymentID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	invoiceID, err := snowflake.ParseString(strings.TrimSpace(req.InvoiceID))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		AbortWithError(c, paymentdomain.ErrInvalidAmount)
		return
	}

	allocation, err := s.allocator.Allocate(c.Request.Context(), paymentID, invoiceID, amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"allocation": allocation})
}
