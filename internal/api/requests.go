package api

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"github.com/erazemk/razvoz/internal/dispatch"
	"github.com/erazemk/razvoz/internal/fulfillment"
	"github.com/erazemk/razvoz/internal/model"
)

// RequestsHandler handles shelter request endpoints.
type RequestsHandler struct {
	DB  *sql.DB
	Svc *dispatch.Service
	Log *zap.Logger
}

type requestView struct {
	Request      *model.ResourceRequest `json:"request"`
	Coverage     []fulfillment.Coverage `json:"coverage"`
	Reservations []reservationView      `json:"reservations"`
}

// Create handles POST /api/requests.
func (h *RequestsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dispatch.NewRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims := GetClaims(r.Context())
	req.RequesterID = claims.UserID

	res, err := h.Svc.CreateRequest(r.Context(), req)
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}

	h.Log.Info("request opened",
		zap.String("user", claims.Username),
		zap.String("request", res.ID),
		zap.String("kind", string(res.Kind)),
		zap.Int("items", len(res.Items)),
	)
	jsonResponse(w, http.StatusCreated, res)
}

// List handles GET /api/requests. Shelters only see their own requests.
func (h *RequestsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	requesterID := r.URL.Query().Get("requester_id")
	if claims.Role == model.RoleShelter {
		requesterID = claims.UserID
	}

	requests, err := h.Svc.ListOpenRequests(r.Context(), requesterID)
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}
	if requests == nil {
		requests = []model.ResourceRequest{}
	}
	jsonResponse(w, http.StatusOK, requests)
}

// Get handles GET /api/requests/{id}.
func (h *RequestsHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.Svc.GetRequestStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}

	claims := GetClaims(r.Context())
	out := requestView{
		Request:      v.Request,
		Coverage:     v.Coverage,
		Reservations: make([]reservationView, 0, len(v.Reservations)),
	}
	for _, res := range v.Reservations {
		out.Reservations = append(out.Reservations, projectReservation(res, v.Request.RequesterID, claims))
	}
	jsonResponse(w, http.StatusOK, out)
}

// Cancel handles POST /api/requests/{id}/cancel.
func (h *RequestsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	existing, err := h.Svc.GetRequest(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}
	claims := GetClaims(r.Context())
	if !isAdmin(claims) && existing.RequesterID != claims.UserID {
		jsonError(w, http.StatusForbidden, "not the requester")
		return
	}

	res, err := h.Svc.CancelRequest(r.Context(), existing.ID, req.Reason)
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}

	h.Log.Info("request cancelled", zap.String("user", claims.Username), zap.String("request", res.ID))
	jsonResponse(w, http.StatusOK, res)
}

// Reserve handles POST /api/requests/{id}/reservations.
func (h *RequestsHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req dispatch.ItemsReservation
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims := GetClaims(r.Context())
	req.RequestID = r.PathValue("id")
	req.VolunteerID = claims.UserID

	res, err := h.Svc.ReserveRequestItems(r.Context(), req)
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}

	h.Log.Info("request items reserved",
		zap.String("user", claims.Username),
		zap.String("request", res.RequestID),
		zap.String("reservation", res.ID),
		zap.Int("lines", len(res.Lines)),
	)
	jsonResponse(w, http.StatusCreated, projectReservation(*res, "", claims))
}
