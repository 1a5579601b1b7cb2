package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bharathbbg/delivery-confirmation-service/internal/model"
	"github.com/bharathbbg/delivery-confirmation-service/internal/service"
)

func (h *Handler) myDeliveries(w http.ResponseWriter, r *http.Request) {
	page := parseIntDefault(r.URL.Query().Get("page"), 1)
	pageSize := parseIntDefault(r.URL.Query().Get("page_size"), 10)

	result, err := h.service.MyDeliveries(r.Context(), actorFromContext(r.Context()), page, pageSize)
	if err != nil {
		h.writeMappedError(r.Context(), w, "my_deliveries", err)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

func (h *Handler) getCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := h.service.GetCredential(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "order_id"))
	if err != nil {
		h.writeMappedError(r.Context(), w, "get_credential", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeSuccess(w, http.StatusOK, cred)
}

func (h *Handler) renewCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := h.service.RenewCredential(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "order_id"))
	if err != nil {
		h.writeMappedError(r.Context(), w, "renew_credential", err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeSuccess(w, http.StatusOK, cred)
}

func (h *Handler) verifyScan(w http.ResponseWriter, r *http.Request) {
	var req model.VerifyScanRequest
	if !h.bind(w, r, "verify_scan", &req) {
		return
	}
	view, err := h.service.VerifyScan(r.Context(), actorFromContext(r.Context()), req.QRCode)
	if err != nil {
		h.writeMappedError(r.Context(), w, "verify_scan", err)
		return
	}
	writeSuccess(w, http.StatusOK, view)
}

func (h *Handler) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	var req model.ConfirmDeliveryRequest
	if !h.bind(w, r, "confirm_delivery", &req) {
		return
	}
	conf, err := h.service.ConfirmDelivery(r.Context(), actorFromContext(r.Context()), req)
	if err != nil {
		h.writeMappedError(r.Context(), w, "confirm_delivery", err)
		return
	}
	writeMessage(w, http.StatusOK, "Delivery confirmed successfully", map[string]any{
		"order_id":     conf.OrderID,
		"confirmed_at": conf.ConfirmedAt,
	})
}

func (h *Handler) issue(w http.ResponseWriter, r *http.Request) {
	var req model.IssueRequest
	if !h.bind(w, r, "issue_credential", &req) {
		return
	}
	cred, err := h.service.Issue(r.Context(), actorFromContext(r.Context()), req.OrderID)
	if err != nil {
		h.writeMappedError(r.Context(), w, "issue_credential", err)
		return
	}
	writeSuccess(w, http.StatusCreated, cred)
}

func (h *Handler) markShipped(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.MarkShipped(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "order_id"))
	if err != nil {
		h.writeMappedError(r.Context(), w, "mark_shipped", err)
		return
	}
	writeSuccess(w, http.StatusOK, summary)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.History(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "order_id"))
	if err != nil {
		h.writeMappedError(r.Context(), w, "delivery_history", err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]any{"events": items})
}

// bind decodes and validates the body, writing a 400 on failure.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, operation string, dst any) bool {
	if err := decodeBody(r, dst); err != nil {
		h.writeMappedError(r.Context(), w, operation, fmt.Errorf("%w: %v", service.ErrInvalidInput, err))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.writeMappedError(r.Context(), w, operation, fmt.Errorf("%w: %s", service.ErrInvalidInput, validationMessage(err)))
		return false
	}
	return true
}
