package handler

import (
	"net/http"

	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/realtime"
	"github.com/straye-as/purchase-api/internal/service"
	"go.uber.org/zap"
)

// VendorHandler serves the vendor list
type VendorHandler struct {
	vendorService *service.VendorService
	logger        *zap.Logger
}

func NewVendorHandler(vendorService *service.VendorService, logger *zap.Logger) *VendorHandler {
	return &VendorHandler{vendorService: vendorService, logger: logger}
}

// List godoc
// @Summary List vendors
// @Tags Vendors
// @Produce json
// @Success 200 {array} domain.VendorDTO
// @Security BearerAuth
// @Router /vendors [get]
func (h *VendorHandler) List(w http.ResponseWriter, r *http.Request) {
	vendors, err := h.vendorService.List(r.Context())
	if err != nil {
		respondServiceError(w, h.logger, err, "list vendors")
		return
	}
	respondJSON(w, http.StatusOK, vendors)
}

// Create godoc
// @Summary Add a vendor
// @Tags Vendors
// @Accept json
// @Produce json
// @Param request body domain.CreateVendorRequest true "Vendor"
// @Success 201 {object} domain.VendorDTO
// @Failure 400 {object} domain.APIError
// @Failure 403 {object} domain.APIError
// @Security BearerAuth
// @Router /vendors [post]
func (h *VendorHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	var req domain.CreateVendorRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	vendor, err := h.vendorService.Create(r.Context(), actor, &req)
	if err != nil {
		respondServiceError(w, h.logger, err, "create vendor")
		return
	}
	respondJSON(w, http.StatusCreated, vendor)
}

// WebSocketHandler upgrades authenticated connections to the live notification stream
type WebSocketHandler struct {
	hub    *realtime.Hub
	logger *zap.Logger
}

func NewWebSocketHandler(hub *realtime.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: logger}
}

// Connect godoc
// @Summary Live notification stream
// @Description Upgrades to a websocket. Browsers pass the session token as the token query parameter.
// @Tags Notifications
// @Param token query string false "Session token"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} domain.APIError
// @Router /ws [get]
func (h *WebSocketHandler) Connect(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentActor(w, r)
	if !ok {
		return
	}
	h.hub.ServeWS(w, r, actor.ID)
}
