package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tikiti/internal/models"
)

func TestEventHandler_CheckIn(t *testing.T) {
	env := newTestEnv(t)
	ticket := env.seedPaidTicket(t, testBuyerID)
	path := "/events/" + testEventID + "/checkin"

	t.Run("organizer admits the holder", func(t *testing.T) {
		w := env.client(t, organizer).do(http.MethodPost, path, models.CheckInRequest{QRData: ticket.QRPayload})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var result models.CheckInResult
		decodeBody(t, w, &result)
		assert.True(t, result.Success)
		assert.Equal(t, ticket.ID, result.TicketID)
		assert.NotNil(t, result.CheckedInAt)
	})

	tests := []struct {
		name       string
		user       *models.Identity
		path       string
		qr         string
		wantStatus int
		wantResult bool
	}{
		{
			name:       "second scan",
			user:       organizer,
			path:       path,
			qr:         ticket.QRPayload,
			wantStatus: http.StatusConflict,
			wantResult: true,
		},
		{
			name:       "tampered code",
			user:       organizer,
			path:       path,
			qr:         `{"ticketId":"x","eventId":"y","userId":"z","checksum":"nope"}`,
			wantStatus: http.StatusBadRequest,
			wantResult: true,
		},
		{
			name:       "buyer cannot scan",
			user:       buyer,
			path:       path,
			qr:         ticket.QRPayload,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "unknown event",
			user:       organizer,
			path:       "/events/8f7e6d5c-4b3a-4f2e-9d1c-0b9a8f7e6d5c/checkin",
			qr:         ticket.QRPayload,
			wantStatus: http.StatusNotFound,
			wantResult: true,
		},
		{
			name:       "missing code",
			user:       organizer,
			path:       path,
			qr:         "",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.client(t, tt.user).do(http.MethodPost, tt.path, models.CheckInRequest{QRData: tt.qr})
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if !tt.wantResult {
				return
			}
			var result models.CheckInResult
			decodeBody(t, w, &result)
			assert.False(t, result.Success)
			assert.NotEmpty(t, result.Message)
		})
	}

	t.Run("admin may scan", func(t *testing.T) {
		other := env.seedPaidTicket(t, testBuyerID)
		w := env.client(t, admin).do(http.MethodPost, path, models.CheckInRequest{QRData: other.QRPayload})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestEventHandler_Broadcasts(t *testing.T) {
	env := newTestEnv(t)
	env.store.contacts[testEventID] = []models.Contact{
		{UserID: "u1", Phone: "0712345678"},
		{UserID: "u2", Phone: "+254712345678"},
		{UserID: "u3", Phone: "0722000111"},
	}
	path := "/events/" + testEventID + "/broadcasts"

	t.Run("organizer sends to unique holders", func(t *testing.T) {
		w := env.client(t, organizer).do(http.MethodPost, path, models.BroadcastRequest{Type: models.BroadcastEvacuation})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var b models.Broadcast
		decodeBody(t, w, &b)
		assert.Equal(t, testEventID, b.EventID)
		assert.Equal(t, 2, b.RecipientCount)
		assert.Zero(t, b.FailedCount)
		assert.Contains(t, b.Message, "Nairobi Jazz Night")
		assert.Len(t, env.sms.sent, 2)
	})

	t.Run("custom without message", func(t *testing.T) {
		w := env.client(t, organizer).do(http.MethodPost, path, models.BroadcastRequest{Type: models.BroadcastCustom})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("buyer cannot send", func(t *testing.T) {
		w := env.client(t, buyer).do(http.MethodPost, path, models.BroadcastRequest{Type: models.BroadcastMedical})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("history", func(t *testing.T) {
		for _, user := range []*models.Identity{organizer, admin} {
			w := env.client(t, user).do(http.MethodGet, path, nil)
			require.Equal(t, http.StatusOK, w.Code)

			var resp struct {
				EventID    string             `json:"event_id"`
				Broadcasts []models.Broadcast `json:"broadcasts"`
			}
			decodeBody(t, w, &resp)
			assert.Equal(t, testEventID, resp.EventID)
			assert.Len(t, resp.Broadcasts, 1)
		}

		w := env.client(t, buyer).do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("no reachable holders", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.client(t, organizer).do(http.MethodPost, path, models.BroadcastRequest{Type: models.BroadcastAllClear})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "no_recipients", errorCode(t, w))
	})
}
