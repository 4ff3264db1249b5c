package api

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"github.com/erazemk/razvoz/internal/auth"
	"github.com/erazemk/razvoz/internal/dispatch"
	"github.com/erazemk/razvoz/internal/model"
	"github.com/erazemk/razvoz/internal/store"
)

// DeliveriesHandler handles batch delivery endpoints.
type DeliveriesHandler struct {
	DB  *sql.DB
	Svc *dispatch.Service
	Log *zap.Logger
}

// List handles GET /api/deliveries. Volunteers see their own runs, shelters
// what is coming to them, and providers must name one of their batches.
func (h *DeliveriesHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	q := r.URL.Query()
	f := store.DeliveryFilter{
		BatchID:  q.Get("batch_id"),
		LiveOnly: q.Get("live") == "true",
	}

	providerID := ""
	switch claims.Role {
	case model.RoleVolunteer:
		f.VolunteerID = claims.UserID
	case model.RoleShelter:
		f.LocationID = claims.UserID
	case model.RoleProvider:
		if f.BatchID == "" {
			jsonError(w, http.StatusBadRequest, "batch_id required")
			return
		}
		b, err := h.Svc.GetBatch(r.Context(), f.BatchID)
		if err != nil {
			serviceError(w, h.Log, err)
			return
		}
		if b.ProviderID != claims.UserID {
			jsonError(w, http.StatusForbidden, "not the batch provider")
			return
		}
		providerID = b.ProviderID
	case model.RoleAdmin:
		f.VolunteerID = q.Get("volunteer_id")
		f.LocationID = q.Get("location_id")
	}

	deliveries, err := h.Svc.ListDeliveries(r.Context(), f)
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}

	out := make([]deliveryView, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, projectDelivery(d, providerID, claims))
	}
	jsonResponse(w, http.StatusOK, out)
}

// Get handles GET /api/deliveries/{id}.
func (h *DeliveriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, providerID, ok := h.load(w, r)
	if !ok {
		return
	}

	claims := GetClaims(r.Context())
	if !isAdmin(claims) && claims.UserID != d.VolunteerID &&
		claims.UserID != d.LocationID && claims.UserID != providerID {
		jsonError(w, http.StatusForbidden, "not a party to this delivery")
		return
	}
	jsonResponse(w, http.StatusOK, projectDelivery(*d, providerID, claims))
}

// Pickup handles POST /api/deliveries/{id}/pickup.
func (h *DeliveriesHandler) Pickup(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.drive(w, r, func(id string) (*model.Delivery, error) {
		return h.Svc.ConfirmPickup(r.Context(), id, req.Code)
	})
}

// Transit handles POST /api/deliveries/{id}/transit.
func (h *DeliveriesHandler) Transit(w http.ResponseWriter, r *http.Request) {
	h.drive(w, r, func(id string) (*model.Delivery, error) {
		return h.Svc.StartTransit(r.Context(), id)
	})
}

// Deliver handles POST /api/deliveries/{id}/deliver.
func (h *DeliveriesHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.drive(w, r, func(id string) (*model.Delivery, error) {
		return h.Svc.ConfirmDelivery(r.Context(), id, req.Code)
	})
}

// Cancel handles POST /api/deliveries/{id}/cancel.
func (h *DeliveriesHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.drive(w, r, func(id string) (*model.Delivery, error) {
		return h.Svc.CancelDelivery(r.Context(), id, req.Reason)
	})
}

// drive runs step on the delivery if the caller is its volunteer or an admin.
func (h *DeliveriesHandler) drive(w http.ResponseWriter, r *http.Request, step func(id string) (*model.Delivery, error)) {
	d, providerID, ok := h.load(w, r)
	if !ok {
		return
	}

	claims := GetClaims(r.Context())
	if !mayDrive(claims, d.VolunteerID) {
		jsonError(w, http.StatusForbidden, "not the assigned volunteer")
		return
	}

	d, err := step(d.ID)
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}

	h.Log.Info("delivery updated",
		zap.String("user", claims.Username),
		zap.String("delivery", d.ID),
		zap.String("status", string(d.Status)),
	)
	jsonResponse(w, http.StatusOK, projectDelivery(*d, providerID, claims))
}

func (h *DeliveriesHandler) load(w http.ResponseWriter, r *http.Request) (*model.Delivery, string, bool) {
	d, err := h.Svc.GetDelivery(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, h.Log, err)
		return nil, "", false
	}
	b, err := h.Svc.GetBatch(r.Context(), d.BatchID)
	if err != nil {
		serviceError(w, h.Log, err)
		return nil, "", false
	}
	return d, b.ProviderID, true
}

func mayDrive(c *auth.Claims, volunteerID string) bool {
	return model.Can(c.Role, model.CapOverrideHandoff) || c.UserID == volunteerID
}
