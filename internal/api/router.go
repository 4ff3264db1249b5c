package api

import (
	"database/sql"
	"net/http"

	"go.uber.org/zap"

	"github.com/erazemk/razvoz/internal/dispatch"
	"github.com/erazemk/razvoz/internal/model"
)

// NewRouter creates the API router with all endpoints registered.
func NewRouter(db *sql.DB, svc *dispatch.Service, jwtSecret string, log *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: db, JWTSecret: jwtSecret, Log: log}
	usersHandler := &UsersHandler{DB: db, Log: log}
	batchesHandler := &BatchesHandler{DB: db, Svc: svc, Log: log}
	deliveriesHandler := &DeliveriesHandler{DB: db, Svc: svc, Log: log}
	requestsHandler := &RequestsHandler{DB: db, Svc: svc, Log: log}
	reservationsHandler := &ReservationsHandler{DB: db, Svc: svc, Log: log}

	authMW := AuthMiddleware(jwtSecret, db)
	can := func(c model.Capability, h http.HandlerFunc) http.Handler {
		return authMW(RequireCapability(c)(h))
	}

	// Public: login.
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)

	// Authenticated routes.
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))

	// Users (admin only).
	mux.Handle("GET /api/users", can(model.CapManageUsers, usersHandler.List))
	mux.Handle("POST /api/users", can(model.CapManageUsers, usersHandler.Create))
	mux.Handle("DELETE /api/users/{id}", can(model.CapManageUsers, usersHandler.Delete))

	// Batches: read (all roles), publish (providers), reserve (volunteers).
	mux.Handle("GET /api/batches", can(model.CapViewDispatch, batchesHandler.List))
	mux.Handle("POST /api/batches", can(model.CapPublishBatch, batchesHandler.Create))
	mux.Handle("GET /api/batches/{id}", can(model.CapViewDispatch, batchesHandler.Get))
	mux.Handle("POST /api/batches/{id}/ready", can(model.CapPublishBatch, batchesHandler.Ready))
	mux.Handle("POST /api/batches/{id}/cancel", can(model.CapPublishBatch, batchesHandler.Cancel))
	mux.Handle("POST /api/batches/{id}/reservations", can(model.CapReserveBatch, batchesHandler.Reserve))

	// Deliveries.
	mux.Handle("GET /api/deliveries", can(model.CapViewDispatch, deliveriesHandler.List))
	mux.Handle("GET /api/deliveries/{id}", can(model.CapViewDispatch, deliveriesHandler.Get))
	mux.Handle("POST /api/deliveries/{id}/pickup", can(model.CapDriveHandoff, deliveriesHandler.Pickup))
	mux.Handle("POST /api/deliveries/{id}/transit", can(model.CapDriveHandoff, deliveriesHandler.Transit))
	mux.Handle("POST /api/deliveries/{id}/deliver", can(model.CapDriveHandoff, deliveriesHandler.Deliver))
	mux.Handle("POST /api/deliveries/{id}/cancel", can(model.CapCancelHandoff, deliveriesHandler.Cancel))

	// Requests: read (all roles), open (shelters), reserve (volunteers).
	mux.Handle("GET /api/requests", can(model.CapViewDispatch, requestsHandler.List))
	mux.Handle("POST /api/requests", can(model.CapCreateRequest, requestsHandler.Create))
	mux.Handle("GET /api/requests/{id}", can(model.CapViewDispatch, requestsHandler.Get))
	mux.Handle("POST /api/requests/{id}/cancel", can(model.CapCreateRequest, requestsHandler.Cancel))
	mux.Handle("POST /api/requests/{id}/reservations", can(model.CapReserveRequest, requestsHandler.Reserve))

	// Reservations.
	mux.Handle("GET /api/reservations/{id}", can(model.CapViewDispatch, reservationsHandler.Get))
	mux.Handle("POST /api/reservations/{id}/transit", can(model.CapDriveHandoff, reservationsHandler.Transit))
	mux.Handle("POST /api/reservations/{id}/deliver", can(model.CapDriveHandoff, reservationsHandler.Deliver))
	mux.Handle("POST /api/reservations/{id}/cancel", can(model.CapCancelHandoff, reservationsHandler.Cancel))

	return mux
}
