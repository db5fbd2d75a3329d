package payables

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/kasira-pos/kasira/internal/ledger"
	"github.com/kasira-pos/kasira/internal/money"
	"github.com/kasira-pos/kasira/internal/observability"
	"github.com/kasira-pos/kasira/internal/platform/httpx"
)

// Handler exposes the payables JSON API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	metrics   *observability.Metrics
}

func NewHandler(logger *slog.Logger, service *Service, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
		metrics:   metrics,
	}
}

// MountRoutes registers payables routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/payments", h.recordPayment)
	r.Put("/payments/{id}", h.editPayment)
	r.Get("/payments/{id}", h.getPayment)
	r.Post("/schedules", h.createSchedule)
	r.Put("/schedules/{id}", h.updateSchedule)
	r.Delete("/schedules/{id}", h.deleteSchedule)
	r.Get("/schedules/{id}/status", h.scheduleStatus)
	r.Get("/purchase-orders/{id}/schedules", h.listSchedules)
	r.Get("/purchase-orders/{id}/summary", h.summary)
}

type poAllocationRequest struct {
	ScheduleID int64        `json:"schedule_id" validate:"required"`
	Amount     money.Amount `json:"amount" validate:"required"`
}

type paymentRequest struct {
	PurchaseOrderID int64                 `json:"purchase_order_id"`
	Amount          money.Amount          `json:"amount" validate:"required"`
	PaymentDate     string                `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	Method          string                `json:"method" validate:"required"`
	Note            string                `json:"note"`
	ScheduleID      *int64                `json:"schedule_id"`
	Allocations     []poAllocationRequest `json:"allocations" validate:"dive"`
	Unscheduled     bool                  `json:"unscheduled"`
}

// mode resolves the request into the allocation mode union. At most one of
// schedule_id, allocations and unscheduled may be present; none of them
// defaults to unscheduled.
func (req paymentRequest) mode() (Mode, error) {
	set := 0
	if req.ScheduleID != nil {
		set++
	}
	if len(req.Allocations) > 0 {
		set++
	}
	if req.Unscheduled {
		set++
	}
	if set > 1 {
		return nil, errors.New("schedule_id, allocations and unscheduled are mutually exclusive")
	}

	switch {
	case req.ScheduleID != nil:
		return ScheduleDirect{ScheduleID: *req.ScheduleID}, nil
	case len(req.Allocations) > 0:
		lines := make([]ledger.Line, len(req.Allocations))
		for i, a := range req.Allocations {
			lines[i] = ledger.Line{DebtID: a.ScheduleID, Amount: a.Amount}
		}
		return Manual{Lines: lines}, nil
	default:
		return Unscheduled{}, nil
	}
}

func (req paymentRequest) paymentDate() time.Time {
	if req.PaymentDate == "" {
		return time.Time{}
	}
	t, _ := time.Parse("2006-01-02", req.PaymentDate)
	return t
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if req.PurchaseOrderID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "purchase_order_id is required")
		return
	}
	mode, err := req.mode()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.RecordPayment(r.Context(), RecordPaymentInput{
		PurchaseOrderID: req.PurchaseOrderID,
		Amount:          req.Amount,
		PaymentDate:     req.paymentDate(),
		Method:          req.Method,
		Note:            req.Note,
		Mode:            mode,
		RecordedBy:      recorderID(r),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.metrics.PaymentRecorded("payables", modeLabel(mode))
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) editPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	mode, err := req.mode()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.EditPayment(r.Context(), EditPaymentInput{
		PaymentID:   id,
		Amount:      req.Amount,
		PaymentDate: req.paymentDate(),
		Method:      req.Method,
		Note:        req.Note,
		Mode:        mode,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.metrics.PaymentRecorded("payables_edit", modeLabel(mode))
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	payment, allocations, err := h.service.GetPayment(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"payment":     payment,
		"allocations": allocations,
	})
}

type scheduleRequest struct {
	PurchaseOrderID int64        `json:"purchase_order_id"`
	DueDate         string       `json:"due_date" validate:"required,datetime=2006-01-02"`
	Amount          money.Amount `json:"amount" validate:"required"`
	Note            string       `json:"note"`
	DisplayOrder    int          `json:"display_order"`
}

func (req scheduleRequest) input() ScheduleInput {
	due, _ := time.Parse("2006-01-02", req.DueDate)
	return ScheduleInput{
		PurchaseOrderID: req.PurchaseOrderID,
		DueDate:         due,
		Amount:          req.Amount,
		Note:            req.Note,
		DisplayOrder:    req.DisplayOrder,
	}
}

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if req.PurchaseOrderID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "purchase_order_id is required")
		return
	}

	sched, err := h.service.CreateSchedule(r.Context(), req.input())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sched)
}

func (h *Handler) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req scheduleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	sched, err := h.service.UpdateSchedule(r.Context(), id, req.input())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sched)
}

func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	if err := h.service.DeleteSchedule(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) scheduleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	status, err := h.service.ScheduleStatus(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	schedules, err := h.service.ListSchedules(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"purchase_order_id": id,
		"schedules":         schedules,
	})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	summary, err := h.service.POPaymentSummary(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrPaymentNotAllowed):
		httpx.Problem(w, http.StatusConflict, "Payment Not Allowed", err.Error())
	case errors.Is(err, ErrScheduleExceedsPOTotal):
		httpx.Problem(w, http.StatusConflict, "Schedule Exceeds Order Total", err.Error())
	case errors.Is(err, ErrScheduleBelowPaid):
		httpx.Problem(w, http.StatusConflict, "Schedule Below Paid Total", err.Error())
	case errors.Is(err, ErrScheduleHasPayments):
		httpx.Problem(w, http.StatusConflict, "Schedule Has Payments", err.Error())
	case errors.Is(err, ledger.ErrAllocationMismatch):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Allocation Mismatch", err.Error())
	case errors.Is(err, ledger.ErrOverAllocation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Over Allocation", err.Error())
	case errors.Is(err, ErrPONotFound), errors.Is(err, ErrScheduleNotFound), errors.Is(err, ErrPaymentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("payables request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func modeLabel(m Mode) string {
	switch m.(type) {
	case ScheduleDirect:
		return "schedule"
	case Manual:
		return "manual"
	case Unscheduled:
		return "unscheduled"
	default:
		return "unknown"
	}
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}

func recorderID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-User-ID"), 10, 64)
	return id
}
