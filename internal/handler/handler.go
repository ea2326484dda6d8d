package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"visualinternet/internal/portscan"
	"visualinternet/internal/service"
	"visualinternet/internal/topology"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" {
			return fld.Name
		}
		return name
	})
}

// TopologyHandler handles topology API requests
type TopologyHandler struct {
	svc *service.ControlService
}

// NewTopologyHandler creates a new topology handler
func NewTopologyHandler(svc *service.ControlService) *TopologyHandler {
	return &TopologyHandler{svc: svc}
}

// Register adds the API routes to mux
func (h *TopologyHandler) Register(mux *http.ServeMux) {
	// Topology
	mux.HandleFunc("GET /network", h.GetTopology)
	mux.HandleFunc("GET /api/topology", h.GetTopology)
	mux.HandleFunc("GET /api/nodes/{id}", h.GetNode)

	// Control
	mux.HandleFunc("POST /api/scan", h.ScanPorts)
	mux.HandleFunc("GET /api/target", h.GetTarget)
	mux.HandleFunc("PUT /api/target", h.SetTarget)
	mux.HandleFunc("DELETE /api/gateway/port", h.InvalidateGatewayPort)

	// Observation
	mux.HandleFunc("GET /api/traffic", h.GetTraffic)
	mux.HandleFunc("GET /api/status", h.GetStatus)

	// Import/export
	mux.HandleFunc("GET /api/export/{format}", h.Export)
	mux.HandleFunc("POST /api/import/{format}", h.Import)
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// ScanRequest asks for a manual port scan. Start and End are given together
// or not at all.
type ScanRequest struct {
	Address string `json:"address" validate:"required,ipv4"`
	Start   *int   `json:"start,omitempty" validate:"omitempty,min=1,max=65535"`
	End     *int   `json:"end,omitempty" validate:"omitempty,min=1,max=65535"`
}

// TargetRequest changes the path-discovery target
type TargetRequest struct {
	Address string `json:"address" validate:"required,ipv4"`
}

// TargetResponse reports the current target
type TargetResponse struct {
	Target string `json:"target"`
}

// GetTopology returns the topology snapshot, optionally limited by ?window=
func (h *TopologyHandler) GetTopology(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeError(w, "Invalid window", err.Error(), http.StatusBadRequest)
			return
		}
		window = d
	}

	snap, err := h.svc.GetTopology(r.Context(), window)
	if err != nil {
		h.writeServiceError(w, "Failed to get topology", err)
		return
	}

	writeJSON(w, snap, http.StatusOK)
}

// GetNode returns a single node
func (h *TopologyHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "Invalid node ID", "Node ID is required", http.StatusBadRequest)
		return
	}

	node, err := h.svc.GetNode(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, "Failed to get node", err)
		return
	}

	writeJSON(w, node, http.StatusOK)
}

// ScanPorts runs a manual port scan
func (h *TopologyHandler) ScanPorts(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if (req.Start == nil) != (req.End == nil) {
		writeError(w, "Invalid request", "start and end must be given together", http.StatusBadRequest)
		return
	}

	var scanRange *portscan.Range
	if req.Start != nil {
		scanRange = &portscan.Range{Start: *req.Start, End: *req.End}
	}

	report, err := h.svc.ScanPorts(r.Context(), req.Address, scanRange)
	if err != nil {
		h.writeServiceError(w, "Failed to scan ports", err)
		return
	}

	writeJSON(w, report, http.StatusOK)
}

// GetTarget returns the current path-discovery target
func (h *TopologyHandler) GetTarget(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, TargetResponse{Target: h.svc.Target()}, http.StatusOK)
}

// SetTarget changes the path-discovery target
func (h *TopologyHandler) SetTarget(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.SetTarget(r.Context(), req.Address); err != nil {
		h.writeServiceError(w, "Failed to set target", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// InvalidateGatewayPort forces a gateway rescan on the next cycle
func (h *TopologyHandler) InvalidateGatewayPort(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.InvalidateGatewayPort(r.Context()); err != nil {
		h.writeServiceError(w, "Failed to invalidate gateway port", err)
		return
	}

	writeJSON(w, map[string]string{"status": "rescan_scheduled"}, http.StatusAccepted)
}

// GetTraffic returns recent traffic samples, limited by ?limit=
func (h *TopologyHandler) GetTraffic(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "Invalid limit", fmt.Sprintf("limit must be a non-negative integer, got %q", raw), http.StatusBadRequest)
			return
		}
		limit = n
	}

	writeJSON(w, h.svc.RecentTraffic(limit), http.StatusOK)
}

// GetStatus returns counts, storage health and the last cycle report
func (h *TopologyHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.svc.Status(r.Context())
	code := http.StatusOK
	if !status.StorageOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, status, code)
}

// Export writes the topology as JSON or YAML
func (h *TopologyHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.PathValue("format")
	switch format {
	case "json":
		w.Header().Set("Content-Type", "application/json")
	case "yaml":
		w.Header().Set("Content-Type", "application/x-yaml")
	default:
		writeError(w, "Unsupported format", fmt.Sprintf("format %q is not json or yaml", format), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=topology.%s", format))

	if err := h.svc.Export(r.Context(), format, w); err != nil {
		log.Printf("Failed to export %s: %v", format, err)
		// Can't write error response as we already set headers
		return
	}
}

// Import merges an exported topology into the store
func (h *TopologyHandler) Import(w http.ResponseWriter, r *http.Request) {
	format := r.PathValue("format")
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)

	result, err := h.svc.Import(r.Context(), format, r.Body)
	if err != nil {
		h.writeServiceError(w, "Failed to import topology", err)
		return
	}

	writeJSON(w, result, http.StatusOK)
}

// writeServiceError maps service errors to status codes
func (h *TopologyHandler) writeServiceError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, msg, err.Error(), http.StatusBadRequest)
	case errors.Is(err, topology.ErrNotFound):
		writeError(w, "Not found", err.Error(), http.StatusNotFound)
	case errors.Is(err, topology.ErrStorageUnavailable):
		log.Printf("%s: %v", msg, err)
		writeError(w, msg, err.Error(), http.StatusServiceUnavailable)
	default:
		log.Printf("%s: %v", msg, err)
		writeError(w, msg, err.Error(), http.StatusInternalServerError)
	}
}

// Helper functions

// decodeAndValidate reads a JSON body into dst and validates it, writing a
// 400 and returning false on failure
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "Invalid request body", err.Error(), http.StatusBadRequest)
		return false
	}
	if err := validateStruct(dst); err != nil {
		writeError(w, "Invalid request", err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// validateStruct reports failed fields by their JSON names
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	failed := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		failed = append(failed, fmt.Sprintf("%s: failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("validation failed: %s", strings.Join(failed, ", "))
}

func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON: %v", err)
	}
}

func writeError(w http.ResponseWriter, error, details string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Details: details,
	}); err != nil {
		log.Printf("Failed to encode error response: %v", err)
	}
}

// getClientIP extracts the client IP from the request
// Handles X-Forwarded-For and X-Real-IP headers from reverse proxies
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For first (may contain multiple IPs)
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Take the first IP (original client)
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// Check X-Real-IP
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr (may include port)
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
