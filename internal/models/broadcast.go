package models

import (
	"fmt"
	"time"
)

// BroadcastType selects an emergency message template
type BroadcastType string

const (
	BroadcastEvacuation BroadcastType = "evacuation"
	BroadcastMedical    BroadcastType = "medical"
	BroadcastPostponed  BroadcastType = "postponed"
	BroadcastCancelled  BroadcastType = "cancelled"
	BroadcastAllClear   BroadcastType = "allclear"
	BroadcastCustom     BroadcastType = "custom"
)

// BroadcastRequest is an organizer's request to alert ticket holders
type BroadcastRequest struct {
	EventID       string        `json:"event_id"`
	Type          BroadcastType `json:"broadcast_type"`
	CustomMessage string        `json:"custom_message,omitempty"`
	NewDate       string        `json:"new_date,omitempty"`
}

// Validate checks that a custom broadcast carries a message
func (r *BroadcastRequest) Validate() error {
	if r.EventID == "" {
		return NewValidationError("event_id", "event is required")
	}
	if r.Type == BroadcastCustom && r.CustomMessage == "" {
		return NewValidationError("custom_message", "custom broadcasts need a message")
	}
	return nil
}

// RenderBroadcast builds the SMS text for a broadcast. Unknown types fall back to the custom template.
func RenderBroadcast(t BroadcastType, eventTitle, customMessage, newDate string) string {
	switch t {
	case BroadcastEvacuation:
		return fmt.Sprintf("TIKITI ALERT: %s - PLEASE EVACUATE the venue immediately via nearest exit. Stay calm.", eventTitle)
	case BroadcastMedical:
		return fmt.Sprintf("TIKITI ALERT: %s - Medical emergency on site. Please stay clear of central area. Help is on the way.", eventTitle)
	case BroadcastPostponed:
		if newDate == "" {
			newDate = "TBD"
		}
		return fmt.Sprintf("TIKITI ALERT: %s has been postponed to %s. Your tickets remain valid. Refund info at tikiti.co.ke", eventTitle, newDate)
	case BroadcastCancelled:
		return fmt.Sprintf("TIKITI ALERT: %s has been cancelled. Full refund will be processed within 24 hours.", eventTitle)
	case BroadcastAllClear:
		return fmt.Sprintf("TIKITI: %s - All clear. Resume normal activity. Thank you for your patience.", eventTitle)
	default:
		return fmt.Sprintf("TIKITI (%s): %s", eventTitle, customMessage)
	}
}

// Broadcast is the record of a sent alert
type Broadcast struct {
	ID             string        `json:"id" db:"id"`
	EventID        string        `json:"event_id" db:"event_id"`
	OrganizerID    string        `json:"organizer_id" db:"organizer_id"`
	Type           BroadcastType `json:"broadcast_type" db:"broadcast_type"`
	Message        string        `json:"message" db:"message"`
	RecipientCount int           `json:"recipient_count" db:"recipient_count"`
	FailedCount    int           `json:"failed_count" db:"failed_count"`
	SentAt         time.Time     `json:"sent_at" db:"sent_at"`
}
