package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	paymentstatus "github.com/nyumbanilabs/nyumbani/internal/paymentstatus/service"
	paymentstatusdomain "github.com/nyumbanilabs/nyumbani/internal/paymentstatus/domain"
)

type stkPushRequest struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	MerchantRequestID string `json:"merchant_request_id"`
	LandlordID        string `json:"landlord_id" binding:"required"`
	InvoiceID         string `json:"invoice_id"`
	Phone             string `json:"phone" binding:"required"`
	Amount            string `json:"amount" binding:"required"`
}

func (s *Server) HandleStkPush(c *gin.Context) {
	var req stkPushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	landlordID, err := snowflake.ParseString(strings.TrimSpace(req.LandlordID))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil || amount <= 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	in := paymentstatus.InitiateInput{
		CheckoutRequestID: req.CheckoutRequestID,
		MerchantRequestID: req.MerchantRequestID,
		LandlordID:        landlordID,
		Phone:             req.Phone,
		Amount:            amount,
	}
	if raw := strings.TrimSpace(req.InvoiceID); raw != "" {
		invoiceID, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		in.InvoiceID = &invoiceID
	}

	tx, err := s.tracker.Initiate(c.Request.Context(), in)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": tx})
}

// HandleStatusSnapshot resolves the key (checkout request id or invoice id)
// to the transaction's current state.
func (s *Server) HandleStatusSnapshot(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	tx, err := s.tracker.Lookup(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// HandleStatusStream serves the transaction's state over SSE: one snapshot
// event on connect, then a delta per transition until the client leaves.
func (s *Server) HandleStatusStream(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	snapshot, subscription, err := s.tracker.Watch(c.Request.Context(), key)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	if err := writeStatusUpdate(writer, *snapshot); err != nil {
		return
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case update := <-subscription.Updates():
			if err := writeStatusUpdate(writer, update); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeStatusUpdate(w io.Writer, update paymentstatusdomain.Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
