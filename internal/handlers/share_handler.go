package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/spendwise/backend/internal/services"
)

type ShareHandler struct {
	service   *services.ShareService
	validator *services.ValidationHelper
}

func NewShareHandler(service *services.ShareService) *ShareHandler {
	return &ShareHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// CreateShareCode issues a share code for an earning record
// @Summary Share an earning record
// @Description Generate a single-use share code and QR image for an earning record
// @Tags Sharing
// @Produce json
// @Security BearerAuth
// @Param earningId path int true "Earning ID"
// @Success 200 {object} object{code=string,qrImage=string}
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /earning-money/{earningId}/share [post]
func (h *ShareHandler) CreateShareCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	uid, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	earningID, err := strconv.ParseInt(chi.URLParam(r, "earningId"), 10, 64)
	if err != nil {
		services.SendErrorResponse(w, "Invalid earning id", http.StatusBadRequest, nil)
		return
	}

	code, qrImage, err := h.service.CreateShareCode(r.Context(), uid, earningID)
	if err != nil {
		if errors.Is(err, services.ErrEarningNotFound) {
			services.SendErrorResponse(w, "Unauthorized | Not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"code":    code,
		"qrImage": qrImage,
	})
}

// ResolveShareCode resolves a shared earning code
// @Summary Resolve a share code
// @Description Resolve a previously issued share code; codes are single-use
// @Tags Sharing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{code=string} true "Share code"
// @Success 200 {object} object{data=object}
// @Failure 400 {object} services.ErrorResponse
// @Router /earning-money/shared [post]
func (h *ShareHandler) ResolveShareCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code" validate:"required,uuid4"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.service.ResolveShareCode(r.Context(), req.Code)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    result,
	})
}
