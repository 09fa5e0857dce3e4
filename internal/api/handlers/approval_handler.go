// server/internal/api/handlers/approval_handler.go
package handlers

import (
	"errors"
	"net/http"

	"lab-booking-api-server/internal/api/middleware"
	"lab-booking-api-server/internal/approval"
	"lab-booking-api-server/internal/models"
	"lab-booking-api-server/internal/requests"

	"github.com/gin-gonic/gin"
)

type ApprovalHandler struct {
	Engine *approval.Engine
	Desk   *requests.Desk
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// statusFor maps an engine result code to an HTTP status.
func statusFor(code approval.ErrCode) int {
	switch code {
	case "":
		return http.StatusOK
	case approval.CodeNotFound:
		return http.StatusNotFound
	case approval.CodeStockShortage, approval.CodeAlreadyFinalized:
		return http.StatusConflict
	case approval.CodeInvalidStatus:
		return http.StatusBadRequest
	case approval.CodeTransactionConflict:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// UpdateStatus phê duyệt hoặc từ chối một yêu cầu. Body trả về chính là Result.
// Admins decide any request; lecturers decide lab bookings only.
func (h *ApprovalHandler) UpdateStatus(c *gin.Context) {
	session, _ := middleware.CurrentSession(c)
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if session.Role != string(models.RoleAdmin) {
		r, err := h.Desk.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, requests.ErrNotFound) {
			c.JSON(http.StatusNotFound, approval.Result{Success: false, Error: "Request not found", Code: approval.CodeNotFound})
			return
		}
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load request"})
			return
		}
		if r.Kind != models.KindBooking {
			c.JSON(http.StatusForbidden, gin.H{"error": "Lecturers can only decide lab bookings"})
			return
		}
	}

	result, err := h.Engine.SetStatus(c.Request.Context(), c.Param("id"), models.RequestStatus(req.Status), session.UserID)
	if err != nil {
		// gin's logger and recovery see the cause of 5xx responses
		_ = c.Error(err)
	}
	c.JSON(statusFor(result.Code), result)
}
