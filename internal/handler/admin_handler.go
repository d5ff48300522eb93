package handler

import (
	"errors"
	"net/http"
	"strconv"

	"pesagate/internal/models"
	"pesagate/internal/service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type OrderReader interface {
	GetByTrackingID(trackingID string) (*models.PaymentOrder, error)
	List(status string, limit, offset int) ([]models.PaymentOrder, error)
}

type IPNEventReader interface {
	ListByTrackingID(trackingID string) ([]models.IPNEvent, error)
}

type AdminHandler struct {
	authSvc   *service.AuthService
	workflow  *service.PaymentWorkflow
	orders    OrderReader
	ipnEvents IPNEventReader
}

func NewAdminHandler(authSvc *service.AuthService, workflow *service.PaymentWorkflow, orders OrderReader, ipnEvents IPNEventReader) *AdminHandler {
	return &AdminHandler{authSvc: authSvc, workflow: workflow, orders: orders, ipnEvents: ipnEvents}
}

// Login handles POST /admin/login.
func (h *AdminHandler) Login(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	token, err := h.authSvc.Login(req.Password, c.ClientIP(), c.Request.UserAgent())
	switch {
	case errors.Is(err, service.ErrAdminDisabled):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "invalid credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token})
}

// AccessToken handles GET /admin/access-token: a fresh processor token, for diagnostics.
func (h *AdminHandler) AccessToken(c *gin.Context) {
	tok, err := h.workflow.AccessToken(c.Request.Context())
	if err != nil {
		writeError(c, "ADMIN", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok.AccessToken, "expiry": tok.Expiry})
}

// ListOrders handles GET /admin/orders?status=&limit=&offset=.
func (h *AdminHandler) ListOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	list, err := h.orders.List(c.Query("status"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

// GetOrder handles GET /admin/orders/:trackingID with the IPN history of the order.
func (h *AdminHandler) GetOrder(c *gin.Context) {
	o, err := h.orders.GetByTrackingID(c.Param("trackingID"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "order not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	events, err := h.ipnEvents.ListByTrackingID(o.TrackingID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": o, "ipn_events": events})
}
