package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/elevatorsim/controller/internal/building"
	"github.com/elevatorsim/controller/internal/constants"
	"github.com/elevatorsim/controller/internal/domain"
	"github.com/elevatorsim/controller/internal/infra/config"
	"github.com/elevatorsim/controller/internal/infra/logging"
)

// V1Handlers contains all v1 API handlers
type V1Handlers struct {
	building *building.Building
	cfg      *config.Config
	logger   *slog.Logger
}

// NewV1Handlers creates a new V1Handlers instance
func NewV1Handlers(b *building.Building, cfg *config.Config, logger *slog.Logger) *V1Handlers {
	return &V1Handlers{
		building: b,
		cfg:      cfg,
		logger:   logger,
	}
}

// FloorRequestResponse represents the response for passenger trip requests
type FloorRequestResponse struct {
	FromFloor int    `json:"from_floor"`
	ToFloor   int    `json:"to_floor"`
	Direction string `json:"direction"`
	Message   string `json:"message"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]interface{} `json:"checks"`
}

// MetricsResponse represents the metrics response
type MetricsResponse struct {
	Timestamp time.Time              `json:"timestamp"`
	Metrics   map[string]interface{} `json:"metrics"`
}

// APIInfoResponse represents API information
type APIInfoResponse struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	Endpoints   map[string]string `json:"endpoints"`
}

// FloorRequestHandler handles v1 passenger trip requests (POST /v1/floors/request)
func (h *V1Handlers) FloorRequestHandler(w http.ResponseWriter, r *http.Request) {
	requestID := logging.GetRequestID(r.Context())
	rw := NewResponseWriter(w, h.logger, requestID)

	if r.Method != http.MethodPost {
		h.logger.WarnContext(r.Context(), "invalid request method for floor endpoint",
			slog.String("method", r.Method),
			slog.String("expected", "POST"),
			slog.String("request_id", requestID))
		rw.WriteError(http.StatusMethodNotAllowed, ErrorCodeMethodNotAllowed,
			"Method not allowed", "Only POST method is supported")
		return
	}

	var requestBody FloorRequestBody
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&requestBody); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to decode floor request",
			slog.String("error", err.Error()),
			slog.String("request_id", requestID))
		rw.WriteError(http.StatusBadRequest, ErrorCodeInvalidJSON,
			"Invalid JSON", "Request body contains invalid JSON")
		return
	}

	// Validate client input floors before processing
	if _, err := domain.NewFloorWithValidation(requestBody.From); err != nil {
		h.logger.ErrorContext(r.Context(), "invalid from floor in client request",
			slog.Int("from_floor", requestBody.From),
			slog.String("error", err.Error()),
			slog.String("request_id", requestID))
		rw.WriteDomainError(err)
		return
	}

	if _, err := domain.NewFloorWithValidation(requestBody.To); err != nil {
		h.logger.ErrorContext(r.Context(), "invalid to floor in client request",
			slog.Int("to_floor", requestBody.To),
			slog.String("error", err.Error()),
			slog.String("request_id", requestID))
		rw.WriteDomainError(err)
		return
	}

	// Post the passenger request to the dispatcher's async event queue.
	if _, err := h.building.SubmitPassengerRequest(requestBody.From, requestBody.To); err != nil {
		h.logger.ErrorContext(r.Context(), "passenger request failed",
			slog.Int("from_floor", requestBody.From),
			slog.Int("to_floor", requestBody.To),
			slog.String("error", err.Error()),
			slog.String("request_id", requestID))
		rw.WriteDomainError(err)
		return
	}

	response := FloorRequestResponse{
		FromFloor: requestBody.From,
		ToFloor:   requestBody.To,
		Direction: determineDirection(requestBody.From, requestBody.To),
		Message:   "passenger request accepted",
	}

	h.logger.InfoContext(r.Context(), "floor request processed successfully",
		slog.Int("from_floor", requestBody.From),
		slog.Int("to_floor", requestBody.To),
		slog.String("direction", response.Direction),
		slog.String("request_id", requestID),
		slog.String("component", constants.ComponentHTTPHandler))

	rw.WriteJSON(http.StatusOK, response)
}

// HealthHandler handles v1 health checks (GET /v1/health)
func (h *V1Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	requestID := logging.GetRequestID(r.Context())
	rw := NewResponseWriter(w, h.logger, requestID)

	if r.Method != http.MethodGet {
		rw.WriteError(http.StatusMethodNotAllowed, ErrorCodeMethodNotAllowed,
			"Method not allowed", "Only GET method is supported")
		return
	}

	health, err := h.building.GetHealthStatus()
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get health status",
			slog.String("error", err.Error()),
			slog.String("request_id", requestID))
		rw.WriteError(http.StatusInternalServerError, ErrorCodeInternal,
			"Health check failed", err.Error())
		return
	}

	// Determine overall health status
	status := "healthy"
	statusCode := http.StatusOK
	if systemHealthy, ok := health["system_healthy"].(bool); ok && !systemHealthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    health,
	}

	h.logger.InfoContext(r.Context(), "health check request processed",
		slog.Int("status_code", statusCode),
		slog.String("request_id", requestID))

	rw.WriteJSON(statusCode, response)
}

// MetricsHandler handles v1 system metrics (GET /v1/metrics)
func (h *V1Handlers) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	requestID := logging.GetRequestID(r.Context())
	rw := NewResponseWriter(w, h.logger, requestID)

	if r.Method != http.MethodGet {
		rw.WriteError(http.StatusMethodNotAllowed, ErrorCodeMethodNotAllowed,
			"Method not allowed", "Only GET method is supported")
		return
	}

	metrics := h.building.GetMetrics()

	response := MetricsResponse{
		Timestamp: time.Now(),
		Metrics:   metrics,
	}

	h.logger.InfoContext(r.Context(), "metrics request processed",
		slog.String("request_id", requestID))

	rw.WriteJSON(http.StatusOK, response)
}

// APIInfoHandler provides information about available API endpoints (GET /v1)
func (h *V1Handlers) APIInfoHandler(w http.ResponseWriter, r *http.Request) {
	requestID := logging.GetRequestID(r.Context())
	rw := NewResponseWriter(w, h.logger, requestID)

	if r.Method != http.MethodGet {
		rw.WriteError(http.StatusMethodNotAllowed, ErrorCodeMethodNotAllowed,
			"Method not allowed", "Only GET method is supported")
		return
	}

	response := APIInfoResponse{
		Name:        "Elevator Group Controller API",
		Version:     "v1",
		Description: "RESTful API for dispatching and monitoring a simulated elevator bank",
		Endpoints: map[string]string{
			"POST /v1/floors/request": "Submit a passenger trip from one floor to another",
			"GET /v1/health":          "Check system health status",
			"GET /v1/metrics":         "Get system metrics",
			"GET /v1":                 "Get API information",
			"GET /metrics":            "Prometheus metrics endpoint",
			"POST /passengers":        "Submit a passenger trip from one floor to another",
			"WebSocket /ws/status":    "Real-time elevator status updates",
		},
	}

	rw.WriteJSON(http.StatusOK, response)
}
