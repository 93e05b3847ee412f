package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"gitea.jw6.us/james/calsync/internal/auth"
	httperrors "gitea.jw6.us/james/calsync/internal/http/errors"
	"gitea.jw6.us/james/calsync/internal/sync"
)

// APIHandler serves the admin calendar-sync endpoints. Authentication and
// the admin-role check happen in middleware; handlers can assume a verified
// admin principal.
type APIHandler struct {
	svc *sync.Service
}

func NewAPIHandler(svc *sync.Service) *APIHandler {
	return &APIHandler{svc: svc}
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}

// AuthURL returns the Google consent redirect for the calling admin. The
// state parameter carries the user id and is checked again at the callback.
func (h *APIHandler) AuthURL(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	httperrors.JSON(w, http.StatusOK, map[string]string{
		"url": h.svc.AuthorizationURL(p.UserID),
	})
}

// Callback completes the authorization flow with the code Google redirected
// back with.
func (h *APIHandler) Callback(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	code := r.URL.Query().Get("code")
	if code == "" {
		httperrors.BadRequestError(w, r, errors.New("callback without code"), "missing authorization code")
		return
	}
	if state := r.URL.Query().Get("state"); state != p.UserID {
		httperrors.BadRequestError(w, r, fmt.Errorf("state %q does not match principal", state), "state mismatch")
		return
	}

	if err := h.svc.CompleteAuthorization(r.Context(), p.UserID, code); err != nil {
		var exchangeErr *sync.OAuthExchangeError
		if errors.As(err, &exchangeErr) {
			httperrors.BadRequestError(w, r, err, "authorization code rejected, restart authorization")
			return
		}
		httperrors.InternalError(w, r, err, "completing authorization")
		return
	}

	status, err := h.svc.GetStatus(r.Context(), p.UserID)
	if err != nil {
		httperrors.InternalError(w, r, err, "loading status after authorization")
		return
	}
	httperrors.JSON(w, http.StatusOK, status)
}

// SyncNow runs a manual reconciliation and returns its result, including
// partial-failure details.
func (h *APIHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	result := h.svc.Sync(r.Context(), principal(r).UserID)
	httperrors.JSON(w, http.StatusOK, result)
}

func (h *APIHandler) Status(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.GetStatus(r.Context(), principal(r).UserID)
	if err != nil {
		httperrors.InternalError(w, r, err, "loading sync status")
		return
	}
	httperrors.JSON(w, http.StatusOK, status)
}

func (h *APIHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid request body")
		return
	}
	if err := h.svc.SetSyncEnabled(r.Context(), principal(r).UserID, body.Enabled); err != nil {
		httperrors.InternalError(w, r, err, "updating sync flag")
		return
	}
	httperrors.JSON(w, http.StatusOK, map[string]bool{"sync_enabled": body.Enabled})
}

func (h *APIHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Disconnect(r.Context(), principal(r).UserID); err != nil {
		httperrors.InternalError(w, r, err, "disconnecting calendar")
		return
	}
	httperrors.JSON(w, http.StatusOK, map[string]bool{"connected": false})
}

func (h *APIHandler) StartAutoSync(w http.ResponseWriter, r *http.Request) {
	h.svc.StartAutoSync()
	httperrors.JSON(w, http.StatusOK, map[string]bool{"auto_sync": true})
}

func (h *APIHandler) StopAutoSync(w http.ResponseWriter, r *http.Request) {
	h.svc.StopAutoSync()
	httperrors.JSON(w, http.StatusOK, map[string]bool{"auto_sync": false})
}
