package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"pesagate/internal/service"

	"github.com/gin-gonic/gin"
)

type SubmitOrderRequest struct {
	Amount       float64 `json:"amount" binding:"required,gt=0"`
	EmailAddress string  `json:"email_address" binding:"required,email"`
	Phone        string  `json:"phone" binding:"required"`
	FirstName    string  `json:"first_name" binding:"required"`
	MiddleName   string  `json:"middle_name"`
	LastName     string  `json:"last_name" binding:"required"`
	CallbackURL  string  `json:"callback_url" binding:"required,url"`
	Branch       string  `json:"branch"`
}

type PaymentHandler struct {
	workflow *service.PaymentWorkflow
}

func NewPaymentHandler(workflow *service.PaymentWorkflow) *PaymentHandler {
	return &PaymentHandler{workflow: workflow}
}

// SubmitOrder handles POST /submit-order: token, IPN registration, submission, then polling.
func (h *PaymentHandler) SubmitOrder(c *gin.Context) {
	var req SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := h.workflow.SubmitAndResolve(c.Request.Context(), service.PaymentRequest{
		Amount:      req.Amount,
		Email:       req.EmailAddress,
		Phone:       req.Phone,
		FirstName:   req.FirstName,
		MiddleName:  req.MiddleName,
		LastName:    req.LastName,
		CallbackURL: req.CallbackURL,
		Branch:      req.Branch,
	})
	if err != nil {
		writeError(c, "SUBMIT", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"order_tracking_id":  res.TrackingID,
		"merchant_reference": res.MerchantReference,
		"status":             res.Status,
		"details":            res.Details,
	})
}

var errTrackingIDRequired = errors.New("orderTrackingId is required")

// TransactionStatus handles GET /transaction-status. The tracking id comes from ?orderTrackingId=
// or, for older clients, a JSON body {"order_tracking_id": ...}.
func (h *PaymentHandler) TransactionStatus(c *gin.Context) {
	trackingID := c.Query("orderTrackingId")
	if trackingID == "" {
		trackingID = c.Query("order_tracking_id")
	}
	if trackingID == "" && c.Request.ContentLength > 0 {
		var body struct {
			OrderTrackingID string `json:"order_tracking_id"`
		}
		if err := json.NewDecoder(c.Request.Body).Decode(&body); err == nil {
			trackingID = body.OrderTrackingID
		}
	}
	if trackingID == "" {
		badRequest(c, errTrackingIDRequired)
		return
	}
	res, err := h.workflow.GetStatus(c.Request.Context(), trackingID)
	if err != nil {
		writeError(c, "STATUS", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_status": res.Raw})
}
