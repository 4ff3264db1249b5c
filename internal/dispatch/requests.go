package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erazemk/razvoz/internal/events"
	"github.com/erazemk/razvoz/internal/fulfillment"
	"github.com/erazemk/razvoz/internal/model"
	"github.com/erazemk/razvoz/internal/store"
)

// NewRequest describes a shelter's request. Meal requests set Quantity;
// ingredient requests list Items.
type NewRequest struct {
	RequesterID string            `json:"-"`
	Kind        model.RequestKind `json:"kind"`
	Notes       string            `json:"notes"`
	Quantity    decimal.Decimal   `json:"quantity"`
	Items       []NewRequestItem  `json:"items"`
	WindowStart *time.Time        `json:"window_start"`
	WindowEnd   *time.Time        `json:"window_end"`
}

// NewRequestItem is one named ingredient line.
type NewRequestItem struct {
	Name     string          `json:"name"`
	Unit     string          `json:"unit"`
	Quantity decimal.Decimal `json:"quantity"`
}

// RequestView is a dashboard projection of a request.
type RequestView struct {
	Request      *model.ResourceRequest      `json:"request"`
	Coverage     []fulfillment.Coverage      `json:"coverage"`
	Reservations []model.ResourceReservation `json:"reservations"`
}

// CreateRequest opens a request with nothing reserved.
func (s *Service) CreateRequest(ctx context.Context, in NewRequest) (*model.ResourceRequest, error) {
	now := s.clock()
	r, err := buildRequest(in, now)
	if err != nil {
		s.logFailure("create request", err)
		return nil, err
	}

	_, err = s.run(ctx, "create request", now, func(u *unit) error {
		return store.InsertRequest(u.ctx, u.tx, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func buildRequest(in NewRequest, now time.Time) (*model.ResourceRequest, error) {
	if in.RequesterID == "" {
		return nil, fmt.Errorf("%w: requester is required", model.ErrValidation)
	}
	if in.WindowStart != nil && in.WindowEnd != nil && !in.WindowEnd.After(*in.WindowStart) {
		return nil, fmt.Errorf("%w: receiving window ends before it starts", model.ErrValidation)
	}
	if in.WindowEnd != nil && !in.WindowEnd.After(now) {
		return nil, fmt.Errorf("%w: receiving window already closed", model.ErrValidation)
	}

	r := &model.ResourceRequest{
		ID:          uuid.NewString(),
		RequesterID: in.RequesterID,
		Kind:        in.Kind,
		Notes:       strings.TrimSpace(in.Notes),
		Status:      model.RequestRequesting,
		CreatedAt:   now,
		WindowStart: in.WindowStart,
		WindowEnd:   in.WindowEnd,
	}

	switch in.Kind {
	case model.RequestMeal:
		if !in.Quantity.IsPositive() {
			return nil, fmt.Errorf("%w: meal quantity must be positive", model.ErrValidation)
		}
		r.Items = []model.RequestItem{{
			ID:       uuid.NewString(),
			Name:     model.MealItemName,
			Unit:     model.MealItemUnit,
			Quantity: in.Quantity,
		}}
	case model.RequestIngredient:
		if len(in.Items) == 0 {
			return nil, fmt.Errorf("%w: at least one item is required", model.ErrValidation)
		}
		seen := make(map[string]bool, len(in.Items))
		for _, it := range in.Items {
			name := strings.TrimSpace(it.Name)
			unit := strings.TrimSpace(it.Unit)
			if name == "" || unit == "" {
				return nil, fmt.Errorf("%w: items need a name and a unit", model.ErrValidation)
			}
			if !it.Quantity.IsPositive() {
				return nil, fmt.Errorf("%w: quantity of %q must be positive", model.ErrValidation, name)
			}
			key := strings.ToLower(name) + "/" + strings.ToLower(unit)
			if seen[key] {
				return nil, fmt.Errorf("%w: %q listed twice", model.ErrValidation, name)
			}
			seen[key] = true
			r.Items = append(r.Items, model.RequestItem{
				ID:       uuid.NewString(),
				Name:     name,
				Unit:     unit,
				Quantity: it.Quantity,
			})
		}
	default:
		return nil, fmt.Errorf("%w: unknown request kind %q", model.ErrValidation, in.Kind)
	}

	for i := range r.Items {
		r.Items[i].RequestID = r.ID
		r.Items[i].QuantityReserved = decimal.Zero
	}
	return r, nil
}

// CancelRequest withdraws a request, cancelling every open reservation against it.
func (s *Service) CancelRequest(ctx context.Context, requestID, reason string) (*model.ResourceRequest, error) {
	var r *model.ResourceRequest
	_, err := s.run(ctx, "cancel request", s.clock(), func(u *unit) error {
		var err error
		r, err = loadRequest(u, requestID)
		if err != nil {
			return err
		}
		if r.Status.IsTerminal() {
			return &model.TransitionError{Entity: "request", ID: requestID, From: string(r.Status), Op: "cancel"}
		}

		if reason == "" {
			reason = "request withdrawn"
		}
		if err := closeRequest(u, r, model.RequestCancelled, model.ReservationCancelled, reason); err != nil {
			return err
		}
		r, err = loadRequest(u, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// closeRequest moves r to a terminal status, closing its open reservations
// with resStatus first.
func closeRequest(u *unit, r *model.ResourceRequest, status model.RequestStatus, resStatus model.ReservationStatus, reason string) error {
	live, err := store.ListReservations(u.ctx, u.tx, store.ReservationFilter{RequestID: r.ID, LiveOnly: true})
	if err != nil {
		return err
	}
	for i := range live {
		res, err := loadReservation(u, live[i].ID)
		if err != nil {
			return err
		}
		if _, err := closeReservation(u, res, resStatus, reason); err != nil {
			return err
		}
	}

	if err := store.SetRequestStatus(u.ctx, u.tx, r.ID, status, &u.now); err != nil {
		return err
	}

	typ := events.RequestCancelled
	if status == model.RequestExpired {
		typ = events.RequestExpired
	}
	u.emit(events.Event{Type: typ, EntityID: r.ID, ParentID: r.ID, Status: string(status), Reason: reason})
	return nil
}

// GetRequest returns a request with its items, without touching its expiry.
func (s *Service) GetRequest(ctx context.Context, requestID string) (*model.ResourceRequest, error) {
	r, err := store.GetRequest(ctx, s.db, requestID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, &model.NotFoundError{Entity: "request", ID: requestID}
	}
	return r, nil
}

// GetRequestStatus returns a request with per-item coverage. A request or
// reservation that is due to expire is expired first.
func (s *Service) GetRequestStatus(ctx context.Context, requestID string) (*RequestView, error) {
	if _, err := s.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}

	now := s.clock()
	if _, err := s.expireRequest(ctx, requestID, now); err != nil {
		return nil, err
	}
	filter := store.ReservationFilter{RequestID: requestID, LiveOnly: true}
	if err := s.expireOverdueReservations(ctx, filter, now, nil); err != nil {
		return nil, err
	}

	r, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	lines, err := store.ListRequestLines(ctx, s.db, requestID)
	if err != nil {
		return nil, err
	}
	reservations, err := store.ListReservations(ctx, s.db, store.ReservationFilter{RequestID: requestID})
	if err != nil {
		return nil, err
	}

	return &RequestView{
		Request:      r,
		Coverage:     fulfillment.Summarize(r.Items, lines),
		Reservations: reservations,
	}, nil
}

// ListOpenRequests returns requests still accepting reservations, optionally
// for one requester.
func (s *Service) ListOpenRequests(ctx context.Context, requesterID string) ([]model.ResourceRequest, error) {
	return store.ListOpenRequests(ctx, s.db, requesterID)
}

func loadRequest(u *unit, id string) (*model.ResourceRequest, error) {
	r, err := store.GetRequest(u.ctx, u.tx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, &model.NotFoundError{Entity: "request", ID: id}
	}
	return r, nil
}
