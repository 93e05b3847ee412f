package httpserver

import (
	"errors"
	"net/http"

	httperrors "gitea.jw6.us/james/calsync/internal/http/errors"
	"gitea.jw6.us/james/calsync/internal/metrics"
	"gitea.jw6.us/james/calsync/internal/store"
	"gitea.jw6.us/james/calsync/internal/sync"
)

// Google push notification headers.
const (
	headerChannelID     = "X-Goog-Channel-ID"
	headerResourceID    = "X-Goog-Resource-ID"
	headerResourceState = "X-Goog-Resource-State"
	headerChannelToken  = "X-Goog-Channel-Token"
)

// WebhookHandler acknowledges Google push notifications. Google enforces a
// short response budget, so the handler only validates, resolves the user,
// and hands off to the coordinator; it never waits for reconciliation.
type WebhookHandler struct {
	channels *sync.ChannelManager
	coord    *sync.Coordinator
}

func NewWebhookHandler(channels *sync.ChannelManager, coord *sync.Coordinator) *WebhookHandler {
	return &WebhookHandler{channels: channels, coord: coord}
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get(headerChannelID)
	resourceID := r.Header.Get(headerResourceID)

	if channelID == "" || resourceID == "" {
		metrics.CountWebhookNotification("invalid")
		err := &sync.ValidationError{Msg: "missing channel or resource header"}
		httperrors.BadRequestError(w, r, err, err.Msg)
		return
	}

	// The initial handshake notification carries resource_state=sync and
	// means the channel is live, not that anything changed.
	if r.Header.Get(headerResourceState) == "sync" {
		metrics.CountWebhookNotification("handshake")
		w.WriteHeader(http.StatusOK)
		return
	}

	if !h.channels.VerifyToken(channelID, r.Header.Get(headerChannelToken)) {
		metrics.CountWebhookNotification("bad_token")
		httperrors.LogError(r, "webhook channel token mismatch", nil)
		w.WriteHeader(http.StatusOK)
		return
	}

	userID, err := h.channels.ResolveUser(r.Context(), channelID, resourceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Google still recalls channels that died locally; ack softly so
			// it stops retrying this delivery.
			metrics.CountWebhookNotification("unknown_channel")
			httperrors.LogInfo(r, "notification for unknown channel "+channelID)
			w.WriteHeader(http.StatusOK)
			return
		}
		metrics.CountWebhookNotification("error")
		httperrors.InternalError(w, r, err, "resolving webhook channel")
		return
	}

	metrics.CountWebhookNotification("accepted")
	h.coord.TriggerAsync(userID, sync.ReasonWebhook)
	w.WriteHeader(http.StatusOK)
}
