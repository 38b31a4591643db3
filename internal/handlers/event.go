package handlers

import (
	"net/http"

	"tikiti/internal/models"
	"tikiti/internal/services"
)

// EventHandler serves door check-in and emergency broadcasts for an event
type EventHandler struct {
	checkInService   *services.CheckInService
	broadcastService *services.BroadcastService
}

// NewEventHandler creates a new event handler
func NewEventHandler(checkInService *services.CheckInService, broadcastService *services.BroadcastService) *EventHandler {
	return &EventHandler{
		checkInService:   checkInService,
		broadcastService: broadcastService,
	}
}

// CheckIn admits the holder of a scanned ticket. Rejections still answer with a
// CheckInResult so the scanner can show the reason.
func (h *EventHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	caller, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	eventID, err := uuidParam(r, "eventId", models.ErrEventNotFound)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req models.CheckInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.QRData == "" {
		writeError(w, r, models.NewValidationError("qr_data", "QR data is required"))
		return
	}

	result, err := h.checkInService.CheckIn(r.Context(), caller, eventID, req.QRData)
	if err != nil {
		status, _ := statusFor(err)
		switch status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusInternalServerError:
			writeError(w, r, err)
		default:
			writeJSON(w, status, models.CheckInResult{Success: false, Message: errorMessage(err, status)})
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// SendBroadcast sends an emergency SMS to the event's ticket holders
func (h *EventHandler) SendBroadcast(w http.ResponseWriter, r *http.Request) {
	caller, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	eventID, err := uuidParam(r, "eventId", models.ErrEventNotFound)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req models.BroadcastRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.EventID = eventID

	broadcast, err := h.broadcastService.Send(r.Context(), caller, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, broadcast)
}

// BroadcastHistory lists the broadcasts sent for an event
func (h *EventHandler) BroadcastHistory(w http.ResponseWriter, r *http.Request) {
	caller, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	eventID, err := uuidParam(r, "eventId", models.ErrEventNotFound)
	if err != nil {
		writeError(w, r, err)
		return
	}

	history, err := h.broadcastService.History(r.Context(), caller, eventID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if history == nil {
		history = []models.Broadcast{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"event_id":   eventID,
		"broadcasts": history,
	})
}
