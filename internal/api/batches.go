package api

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"github.com/erazemk/razvoz/internal/dispatch"
	"github.com/erazemk/razvoz/internal/model"
)

// BatchesHandler handles batch endpoints.
type BatchesHandler struct {
	DB  *sql.DB
	Svc *dispatch.Service
	Log *zap.Logger
}

type batchView struct {
	Batch      *model.Batch   `json:"batch"`
	Reserved   int            `json:"reserved"`
	Delivered  int            `json:"delivered"`
	Deliveries []deliveryView `json:"deliveries"`
}

// Create handles POST /api/batches.
func (h *BatchesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dispatch.NewBatch
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims := GetClaims(r.Context())
	req.ProviderID = claims.UserID

	b, err := h.Svc.CreateBatch(r.Context(), req)
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}

	h.Log.Info("batch published",
		zap.String("user", claims.Username),
		zap.String("batch", b.ID),
		zap.Int("quantity", b.QuantityTotal),
	)
	jsonResponse(w, http.StatusCreated, b)
}

// List handles GET /api/batches. Providers only see their own batches.
func (h *BatchesHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	providerID := r.URL.Query().Get("provider_id")
	if claims.Role == model.RoleProvider {
		providerID = claims.UserID
	}

	batches, err := h.Svc.ListActiveBatches(r.Context(), providerID)
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}
	if batches == nil {
		batches = []model.Batch{}
	}
	jsonResponse(w, http.StatusOK, batches)
}

// Get handles GET /api/batches/{id}.
func (h *BatchesHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.Svc.GetBatchStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}

	claims := GetClaims(r.Context())
	out := batchView{
		Batch:      v.Batch,
		Reserved:   v.Reserved,
		Delivered:  v.Delivered,
		Deliveries: make([]deliveryView, 0, len(v.Deliveries)),
	}
	for _, d := range v.Deliveries {
		out.Deliveries = append(out.Deliveries, projectDelivery(d, v.Batch.ProviderID, claims))
	}
	jsonResponse(w, http.StatusOK, out)
}

// Ready handles POST /api/batches/{id}/ready.
func (h *BatchesHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.ownsBatch(w, r) {
		return
	}

	b, err := h.Svc.MarkBatchReady(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, b)
}

// Cancel handles POST /api/batches/{id}/cancel.
func (h *BatchesHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !h.ownsBatch(w, r) {
		return
	}

	b, err := h.Svc.CancelBatch(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}

	h.Log.Info("batch cancelled", zap.String("user", GetClaims(r.Context()).Username), zap.String("batch", b.ID))
	jsonResponse(w, http.StatusOK, b)
}

// Reserve handles POST /api/batches/{id}/reservations.
func (h *BatchesHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	var req dispatch.BatchReservation
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims := GetClaims(r.Context())
	req.BatchID = r.PathValue("id")
	req.VolunteerID = claims.UserID

	if req.LocationID != "" {
		ok, err := activeUserWithRole(r.Context(), h.DB, req.LocationID, model.RoleShelter)
		if err != nil {
			serviceError(w, h.Log, err)
			return
		}
		if !ok {
			jsonError(w, http.StatusBadRequest, "location must be an active shelter")
			return
		}
	}

	d, err := h.Svc.ReserveBatchQuantity(r.Context(), req)
	if err != nil {
		serviceError(w, h.Log, err)
		return
	}

	h.Log.Info("batch quantity reserved",
		zap.String("user", claims.Username),
		zap.String("batch", d.BatchID),
		zap.String("delivery", d.ID),
		zap.Int("quantity", d.Quantity),
	)
	// The volunteer learns the codes at each hand-off, not here.
	jsonResponse(w, http.StatusCreated, projectDelivery(*d, "", claims))
}

// ownsBatch writes an error and returns false unless the caller published
// the batch or is an admin.
func (h *BatchesHandler) ownsBatch(w http.ResponseWriter, r *http.Request) bool {
	b, err := h.Svc.GetBatch(r.Context(), r.PathValue("id"))
	if err != nil {
		serviceError(w, h.Log, err)
		return false
	}
	claims := GetClaims(r.Context())
	if !isAdmin(claims) && b.ProviderID != claims.UserID {
		jsonError(w, http.StatusForbidden, "not the batch provider")
		return false
	}
	return true
}
