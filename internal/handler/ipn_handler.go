package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"pesagate/internal/domain"
	"pesagate/internal/models"
	"pesagate/internal/service"

	"github.com/gin-gonic/gin"
)

type RegisterIPNRequest struct {
	URL                 string `json:"url" binding:"omitempty,url"`
	IPNNotificationType string `json:"ipn_notification_type" binding:"omitempty,oneof=GET POST"`
}

// IPNCallback is what the processor sends on a status change, as query (GET) or JSON (POST).
type IPNCallback struct {
	OrderTrackingID        string `json:"OrderTrackingId" form:"OrderTrackingId"`
	OrderNotificationType  string `json:"OrderNotificationType" form:"OrderNotificationType"`
	OrderMerchantReference string `json:"OrderMerchantReference" form:"OrderMerchantReference"`
}

type IPNHandler struct {
	workflow  *service.PaymentWorkflow
	auditRepo service.AuditWriter
}

func NewIPNHandler(workflow *service.PaymentWorkflow, auditRepo service.AuditWriter) *IPNHandler {
	return &IPNHandler{workflow: workflow, auditRepo: auditRepo}
}

// RegisterIPN handles POST /register-ipn. An empty url registers the configured IPN URL.
func (h *IPNHandler) RegisterIPN(c *gin.Context) {
	var req RegisterIPNRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	reg, err := h.workflow.RegisterIPN(c.Request.Context(), req.URL, req.IPNNotificationType)
	if err != nil {
		writeError(c, "IPN", err)
		return
	}
	if h.auditRepo != nil {
		meta, _ := json.Marshal(gin.H{"url": reg.URL, "ipn_notification_type": reg.NotificationType})
		_ = h.auditRepo.Create(&models.AuditLog{
			Action:     domain.AuditRegisterIPN,
			Resource:   "ipn",
			ResourceID: reg.IPNID,
			IP:         c.ClientIP(),
			UserAgent:  c.Request.UserAgent(),
			Metadata:   string(meta),
		})
	}
	c.JSON(http.StatusOK, gin.H{"ipn_id": reg.IPNID, "ipn_url": reg.URL})
}

// Callback handles GET|POST /ipn from the processor and answers with the acknowledgement it expects.
// status 500 in the body asks the processor to retry later.
func (h *IPNHandler) Callback(c *gin.Context) {
	var cb IPNCallback
	if c.Request.Method == http.MethodGet {
		_ = c.ShouldBindQuery(&cb)
	} else {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			log.Printf("[IPN] ReadBody error: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid body"})
			return
		}
		log.Printf("[IPN] raw body: %s", string(body))
		if err := json.Unmarshal(body, &cb); err != nil {
			log.Printf("[IPN] json unmarshal error: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid json"})
			return
		}
	}
	status, err := h.workflow.HandleIPN(c.Request.Context(), service.IPNNotification{
		TrackingID:        cb.OrderTrackingID,
		MerchantReference: cb.OrderMerchantReference,
		NotificationType:  cb.OrderNotificationType,
	})
	ack := gin.H{
		"orderNotificationType":  cb.OrderNotificationType,
		"orderTrackingId":        cb.OrderTrackingID,
		"orderMerchantReference": cb.OrderMerchantReference,
		"status":                 http.StatusOK,
	}
	if err != nil {
		if errors.Is(err, service.ErrInvalidNotification) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		log.Printf("[IPN] order_tracking_id=%s: %v", cb.OrderTrackingID, err)
		ack["status"] = http.StatusInternalServerError
	} else {
		log.Printf("[IPN] order_tracking_id=%s status=%s", cb.OrderTrackingID, status)
	}
	c.JSON(http.StatusOK, ack)
}
