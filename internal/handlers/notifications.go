package handlers

import (
	"github.com/bulkwave/bulkwave/internal/models"
	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"github.com/zerodha/fastglue"
)

// ListNotifications returns recent engine notifications, newest first
func (a *App) ListNotifications(r *fastglue.Request) error {
	query := a.DB.Order("created_at DESC").Limit(100)
	if string(r.RequestCtx.QueryArgs().Peek("unread")) == "true" {
		query = query.Where("is_read = ?", false)
	}

	var rows []models.Notification
	if err := query.Find(&rows).Error; err != nil {
		a.Log.Error("Failed to list notifications", "error", err)
		return r.SendErrorEnvelope(fasthttp.StatusInternalServerError, "Failed to list notifications", nil, "")
	}

	return r.SendEnvelope(map[string]interface{}{
		"notifications": rows,
		"total":         len(rows),
	})
}

// MarkNotificationRead marks one notification as read
func (a *App) MarkNotificationRead(r *fastglue.Request) error {
	raw, _ := r.RequestCtx.UserValue("id").(string)
	id, err := uuid.Parse(raw)
	if err != nil {
		return r.SendErrorEnvelope(fasthttp.StatusBadRequest, "Invalid notification ID", nil, "")
	}

	res := a.DB.Model(&models.Notification{}).Where("id = ?", id).Update("is_read", true)
	if res.Error != nil {
		return r.SendErrorEnvelope(fasthttp.StatusInternalServerError, "Failed to update notification", nil, "")
	}
	if res.RowsAffected == 0 {
		return r.SendErrorEnvelope(fasthttp.StatusNotFound, "Notification not found", nil, "")
	}

	return r.SendEnvelope(map[string]string{"message": "Notification marked read"})
}
