package api

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"github.com/erazemk/razvoz/internal/dispatch"
	"github.com/erazemk/razvoz/internal/model"
)

// ReservationsHandler handles request reservation endpoints.
type ReservationsHandler struct {
	DB  *sql.DB
	Svc *dispatch.Service
	Log *zap.Logger
}

// Get handles GET /api/reservations/{id}.
func (h *ReservationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	res, requesterID, ok := h.load(w, r)
	if !ok {
		return
	}

	claims := GetClaims(r.Context())
	if !isAdmin(claims) && claims.UserID != res.VolunteerID && claims.UserID != requesterID {
		jsonError(w, http.StatusForbidden, "not a party to this reservation")
		return
	}
	jsonResponse(w, http.StatusOK, projectReservation(*res, requesterID, claims))
}

// Transit handles POST /api/reservations/{id}/transit.
func (h *ReservationsHandler) Transit(w http.ResponseWriter, r *http.Request) {
	h.drive(w, r, func(id string) (*model.ResourceReservation, error) {
		return h.Svc.StartReservationTransit(r.Context(), id)
	})
}

// Deliver handles POST /api/reservations/{id}/deliver.
func (h *ReservationsHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.drive(w, r, func(id string) (*model.ResourceReservation, error) {
		return h.Svc.ConfirmReservationDelivery(r.Context(), id, req.Code)
	})
}

// Cancel handles POST /api/reservations/{id}/cancel.
func (h *ReservationsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.drive(w, r, func(id string) (*model.ResourceReservation, error) {
		return h.Svc.CancelReservation(r.Context(), id, req.Reason)
	})
}

func (h *ReservationsHandler) drive(w http.ResponseWriter, r *http.Request, step func(id string) (*model.ResourceReservation, error)) {
	res, requesterID, ok := h.load(w, r)
	if !ok {
		return
	}

	claims := GetClaims(r.Context())
	if !mayDrive(claims, res.VolunteerID) {
		jsonError(w, http.StatusForbidden, "not the assigned volunteer")
		return
	}

	res, err := step(res.ID)
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}

	h.Log.Info("reservation updated",
		zap.String("user", claims.Username),
		zap.String("reservation", res.ID),
		zap.String("status", string(res.Status)),
	)
	jsonResponse(w, http.StatusOK, projectReservation(*res, requesterID, claims))
}

func (h *ReservationsHandler) load(w http.ResponseWriter, r *http.Request) (*model.ResourceReservation, string, bool) {
	res, err := h.Svc.GetReservation(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, h.Log, err)
		return nil, "", false
	}
	req, err := h.Svc.GetRequest(r.Context(), res.RequestID)
	if err != nil {
		serviceError(w, h.Log, err)
		return nil, "", false
	}
	return res, req.RequesterID, true
}
