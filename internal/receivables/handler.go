package receivables

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

// Handler exposes the receivables JSON API. Callers are upstream services
// that already authenticated the user; the recorder id arrives in X-User-ID.
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

// MountRoutes registers receivables routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/payments", h.recordPayment)
	r.Get("/payments/{id}", h.getPayment)
	r.Get("/transactions/{id}/credit", h.remainingCredit)
	r.Get("/customers/{id}/outstanding", h.listOutstanding)
}

type allocationRequest struct {
	TransactionID int64        `json:"transaction_id" validate:"required"`
	Amount        money.Amount `json:"amount" validate:"required"`
}

type recordPaymentRequest struct {
	Amount        money.Amount        `json:"amount" validate:"required"`
	PaymentDate   string              `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	Method        string              `json:"method" validate:"required"`
	Note          string              `json:"note"`
	TransactionID *int64              `json:"transaction_id"`
	CustomerID    *int64              `json:"customer_id"`
	Mode          string              `json:"mode" validate:"omitempty,oneof=fifo manual"`
	Allocations   []allocationRequest `json:"allocations" validate:"dive"`
}

// target resolves the request into the allocation target union. Exactly one
// of transaction_id and customer_id must be present.
func (req recordPaymentRequest) target() (Target, error) {
	switch {
	case req.TransactionID != nil && req.CustomerID != nil:
		return nil, errors.New("transaction_id and customer_id are mutually exclusive")
	case req.TransactionID != nil:
		return SingleTransaction{TransactionID: *req.TransactionID}, nil
	case req.CustomerID != nil && req.Mode == "manual":
		lines := make([]ledger.Line, len(req.Allocations))
		for i, a := range req.Allocations {
			lines[i] = ledger.Line{DebtID: a.TransactionID, Amount: a.Amount}
		}
		return ManualAllocations{CustomerID: *req.CustomerID, Lines: lines}, nil
	case req.CustomerID != nil:
		return CustomerFIFO{CustomerID: *req.CustomerID}, nil
	default:
		return nil, errors.New("either transaction_id or customer_id is required")
	}
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req recordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	target, err := req.target()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	var paymentDate time.Time
	if req.PaymentDate != "" {
		paymentDate, _ = time.Parse("2006-01-02", req.PaymentDate)
	}

	result, err := h.service.RecordPayment(r.Context(), RecordPaymentInput{
		Amount:      req.Amount,
		PaymentDate: paymentDate,
		Method:      req.Method,
		Note:        req.Note,
		Target:      target,
		RecordedBy:  recorderID(r),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.metrics.PaymentRecorded("receivables", modeLabel(target))
	httpx.JSON(w, http.StatusCreated, result)
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

func (h *Handler) remainingCredit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	remaining, err := h.service.RemainingCredit(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"transaction_id": id,
		"remaining":      remaining,
	})
}

func (h *Handler) listOutstanding(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	outstanding, err := h.service.ListOutstanding(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"customer_id":  id,
		"transactions": outstanding,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ledger.ErrAllocationMismatch):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Allocation Mismatch", err.Error())
	case errors.Is(err, ledger.ErrOverAllocation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Over Allocation", err.Error())
	case errors.Is(err, ledger.ErrPaymentExceedsDebt):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Payment Exceeds Debt", err.Error())
	case errors.Is(err, ErrTransactionNotFound), errors.Is(err, ErrPaymentNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("receivables request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func modeLabel(t Target) string {
	switch t.(type) {
	case CustomerFIFO:
		return "fifo"
	case ManualAllocations:
		return "manual"
	case SingleTransaction:
		return "single"
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
