// server/internal/api/handlers/request_handler.go
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"lab-booking-api-server/internal/api/middleware"
	"lab-booking-api-server/internal/auth"
	"lab-booking-api-server/internal/models"
	"lab-booking-api-server/internal/requests"

	"github.com/gin-gonic/gin"
)

type RequestHandler struct {
	Desk *requests.Desk
	Log  *slog.Logger
}

func (h *RequestHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, requests.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
	case errors.Is(err, requests.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.Log.Error("request handling failed", "path", c.FullPath(), "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process request"})
	}
}

func (h *RequestHandler) CreateBooking(c *gin.Context) {
	session, _ := middleware.CurrentSession(c)
	var req requests.BookingInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	booking, err := h.Desk.CreateBooking(c.Request.Context(), session, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

func (h *RequestHandler) CreateOrder(c *gin.Context) {
	session, _ := middleware.CurrentSession(c)
	var req requests.OrderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := h.Desk.CreateOrder(c.Request.Context(), session, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// MyRequests lists the caller's own bookings and orders.
func (h *RequestHandler) MyRequests(c *gin.Context) {
	session, _ := middleware.CurrentSession(c)
	list, err := h.Desk.List(c.Request.Context(), requests.Filter{
		UserID: session.UserID,
		Kind:   models.RequestKind(c.Query("kind")),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *RequestHandler) MyStats(c *gin.Context) {
	session, _ := middleware.CurrentSession(c)
	stats, err := h.Desk.Stats(c.Request.Context(), session.UserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func canView(session auth.Session, r models.ReservationRequest) bool {
	switch {
	case r.UserID == session.UserID, session.Role == string(models.RoleAdmin):
		return true
	case session.Role == string(models.RoleLecturer):
		return r.Kind == models.KindBooking
	}
	return false
}

// GetRequest is visible to its owner and to admins. Lecturers also see bookings.
func (h *RequestHandler) GetRequest(c *gin.Context) {
	session, _ := middleware.CurrentSession(c)
	r, err := h.Desk.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !canView(session, *r) {
		// không tiết lộ sự tồn tại của yêu cầu của người khác
		c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
		return
	}
	c.JSON(http.StatusOK, r)
}

func statusFilter(c *gin.Context) (models.RequestStatus, bool) {
	status := models.RequestStatus(c.Query("status"))
	switch status {
	case "", models.StatusPending, models.StatusApproved, models.StatusRejected:
		return status, true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown status filter"})
	return "", false
}

// ListRequests is the admin queue, filterable by ?status= and ?kind=.
func (h *RequestHandler) ListRequests(c *gin.Context) {
	status, ok := statusFilter(c)
	if !ok {
		return
	}
	kind := models.RequestKind(c.Query("kind"))
	switch kind {
	case "", models.KindBooking, models.KindOrder:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown kind filter"})
		return
	}
	list, err := h.Desk.List(c.Request.Context(), requests.Filter{
		Status: status,
		Kind:   kind,
		UserID: c.Query("userId"),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// ListBookings is the lecturers' queue: every lab booking, filterable by ?status=.
func (h *RequestHandler) ListBookings(c *gin.Context) {
	status, ok := statusFilter(c)
	if !ok {
		return
	}
	list, err := h.Desk.List(c.Request.Context(), requests.Filter{Status: status, Kind: models.KindBooking})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
