package shipping_api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/itadmit/quickshopcrm-sub010/internal/broker/messages"
	"github.com/itadmit/quickshopcrm-sub010/internal/models"
	"github.com/itadmit/quickshopcrm-sub010/internal/services/shipping"
	"github.com/itadmit/quickshopcrm-sub010/internal/services/trackingsync"
	"github.com/pkg/errors"
)

const (
	headerCompanyID = "X-Company-ID"
	headerUserID    = "X-User-ID"

	maxBodyBytes = 1 << 20
)

type Service interface {
	SendOrder(ctx context.Context, req shipping.SendRequest) (*shipping.SendResult, error)
	CancelShipment(ctx context.Context, req shipping.CancelRequest) (*shipping.CancelResult, error)
	GetTrackingStatus(ctx context.Context, companyID string, ref models.OrderRef) (*shipping.TrackingResult, error)
	GetLabel(ctx context.Context, companyID string, ref models.OrderRef) (*shipping.LabelResult, error)
	ShipmentHistory(ctx context.Context, companyID string, ref models.OrderRef, limit, offset int) ([]*models.Event, error)
	RefreshTracking(ctx context.Context, companyID string, refs []models.OrderRef, userID string) []trackingsync.BatchItem[*shipping.TrackingResult]
}

type ShippingAPI struct {
	svc      Service
	validate *validator.Validate
}

func New(svc Service) *ShippingAPI {
	return &ShippingAPI{svc: svc, validate: validator.New()}
}

type sendBody struct {
	Provider    string `json:"provider" validate:"omitempty,max=32"`
	ForceResend bool   `json:"forceResend"`
}

type cancelBody struct {
	Reason string `json:"reason" validate:"max=500"`
}

type refreshBody struct {
	OrderIDs []string `json:"orderIds" validate:"required,min=1,max=100,dive,required"`
}

type errorBody struct {
	Code              string `json:"code"`
	Message           string `json:"message"`
	Retryable         bool   `json:"retryable"`
	ReconcileRequired bool   `json:"reconcileRequired,omitempty"`
	// CanRetry is set on cancel failures only and mirrors Retryable.
	CanRetry *bool `json:"canRetry,omitempty"`
}

type refreshItem struct {
	OrderID  string                   `json:"orderId"`
	Tracking *shipping.TrackingResult `json:"tracking,omitempty"`
	Error    *errorBody               `json:"error,omitempty"`
}

// Routes mounts the shipping endpoints under /api/v1.
func (a *ShippingAPI) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/orders/by-number/{orderNumber}/shipping", func(r chi.Router) {
			a.orderRoutes(r, func(req *http.Request) models.OrderRef {
				return models.ByNumber(chi.URLParam(req, "orderNumber"))
			})
		})
		r.Route("/orders/{orderID}/shipping", func(r chi.Router) {
			a.orderRoutes(r, func(req *http.Request) models.OrderRef {
				return models.ByID(chi.URLParam(req, "orderID"))
			})
		})
		r.Post("/shipping/tracking/refresh", a.refreshTracking)
	})
}

type refFunc func(*http.Request) models.OrderRef

func (a *ShippingAPI) orderRoutes(r chi.Router, ref refFunc) {
	r.Post("/send", func(w http.ResponseWriter, req *http.Request) { a.send(w, req, ref(req)) })
	r.Post("/cancel", func(w http.ResponseWriter, req *http.Request) { a.cancel(w, req, ref(req)) })
	r.Get("/tracking", func(w http.ResponseWriter, req *http.Request) { a.tracking(w, req, ref(req)) })
	r.Get("/label", func(w http.ResponseWriter, req *http.Request) { a.label(w, req, ref(req)) })
	r.Get("/events", func(w http.ResponseWriter, req *http.Request) { a.events(w, req, ref(req)) })
}

func (a *ShippingAPI) send(w http.ResponseWriter, r *http.Request, ref models.OrderRef) {
	var body sendBody
	if !a.decode(w, r, &body, true) {
		return
	}
	res, err := a.svc.SendOrder(r.Context(), shipping.SendRequest{
		CompanyID:   r.Header.Get(headerCompanyID),
		Ref:         ref,
		Provider:    body.Provider,
		ForceResend: body.ForceResend,
		UserID:      r.Header.Get(headerUserID),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *ShippingAPI) cancel(w http.ResponseWriter, r *http.Request, ref models.OrderRef) {
	var body cancelBody
	if !a.decode(w, r, &body, true) {
		return
	}
	res, err := a.svc.CancelShipment(r.Context(), shipping.CancelRequest{
		CompanyID: r.Header.Get(headerCompanyID),
		Ref:       ref,
		Reason:    body.Reason,
		UserID:    r.Header.Get(headerUserID),
	})
	if err != nil {
		status, body := errorResponse(err)
		canRetry := body.Retryable
		body.CanRetry = &canRetry
		writeJSON(w, status, map[string]any{"error": body})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *ShippingAPI) tracking(w http.ResponseWriter, r *http.Request, ref models.OrderRef) {
	res, err := a.svc.GetTrackingStatus(r.Context(), r.Header.Get(headerCompanyID), ref)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *ShippingAPI) label(w http.ResponseWriter, r *http.Request, ref models.OrderRef) {
	res, err := a.svc.GetLabel(r.Context(), r.Header.Get(headerCompanyID), ref)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.PDF)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.PDF)
}

func (a *ShippingAPI) events(w http.ResponseWriter, r *http.Request, ref models.OrderRef) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	evs, err := a.svc.ShipmentHistory(r.Context(), r.Header.Get(headerCompanyID), ref, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]messages.ShippingEvent, 0, len(evs))
	for _, ev := range evs {
		out = append(out, messages.FromEvent(ev))
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (a *ShippingAPI) refreshTracking(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if !a.decode(w, r, &body, false) {
		return
	}
	refs := make([]models.OrderRef, 0, len(body.OrderIDs))
	for _, id := range body.OrderIDs {
		refs = append(refs, models.ByID(id))
	}

	items := a.svc.RefreshTracking(r.Context(), r.Header.Get(headerCompanyID), refs, r.Header.Get(headerUserID))
	out := make([]refreshItem, 0, len(items))
	for _, it := range items {
		ri := refreshItem{OrderID: it.Ref.Value, Tracking: it.Value}
		if it.Err != nil {
			_, eb := errorResponse(it.Err)
			ri.Tracking, ri.Error = nil, &eb
		}
		out = append(out, ri)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// decode reads an optional or required JSON body and validates it.
func (a *ShippingAPI) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == io.EOF && optional {
		err = nil
	}
	if err == nil {
		err = a.validate.Struct(dst)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": errorBody{
			Code:    shipping.CodeInvalidRequest,
			Message: invalidMessage(err),
		}})
		return false
	}
	return true
}

func invalidMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
		}
		return "invalid fields: " + strings.Join(parts, ", ")
	}
	return "invalid request body"
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	writeJSON(w, status, map[string]any{"error": body})
}

func errorResponse(err error) (int, errorBody) {
	se, ok := shipping.AsError(err)
	if !ok {
		slog.Error("unmapped shipping error", "error", err.Error())
		return http.StatusInternalServerError, errorBody{Code: shipping.CodeInternal, Message: "internal error"}
	}
	return statusOf(se), errorBody{
		Code:              se.Code,
		Message:           se.Message,
		Retryable:         se.Retryable,
		ReconcileRequired: se.ReconcileRequired,
	}
}

func statusOf(se *shipping.Error) int {
	switch se.Code {
	case shipping.CodeNotFound:
		return http.StatusNotFound
	case shipping.CodeAlreadySent, shipping.CodeNotSent, shipping.CodeAlreadyCancelled,
		shipping.CodeSendInProgress, shipping.CodeShipmentConflict:
		return http.StatusConflict
	case shipping.CodeConfigError:
		return http.StatusUnprocessableEntity
	case shipping.CodeUnsupportedProvider, shipping.CodeInvalidRequest:
		return http.StatusBadRequest
	case shipping.CodeInternal:
		return http.StatusInternalServerError
	}
	switch {
	case se.Retryable:
		return http.StatusServiceUnavailable
	case se.ReconcileRequired:
		return http.StatusBadGateway
	case se.Carrier:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err.Error())
	}
}
