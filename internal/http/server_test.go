package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevatorsim/controller/internal/building"
	"github.com/elevatorsim/controller/internal/infra/config"
)

func buildServerTestConfig() *config.Config {
	return &config.Config{
		LogLevel:                        "INFO",
		Port:                            8080,
		RateLimitRPM:                    1000,
		Environment:                     "testing",
		MinFloor:                        -5,
		MaxFloor:                        20,
		NamePrefix:                      "Car",
		ElevatorsCount:                  2,
		ElevatorCapacity:                8,
		TimeMoveOneFloor:                5,
		TimeDoors:                       5,
		TimeBoarding:                    5,
		OperationTimeout:                time.Second * 5,
		StatusUpdateTimeout:             time.Second * 1,
		HealthCheckTimeout:              time.Second * 1,
		StatusUpdateInterval:            50 * time.Millisecond,
		WebSocketPingInterval:           time.Second,
		WebSocketReadTimeout:            5 * time.Second,
		WebSocketWriteTimeout:           time.Second,
		ShutdownTimeout:                 time.Second,
		SimSpeed:                        30.0,
		MaxPlannedStops:                 20,
		ReserveReverseSoonFloors:        3,
		EnroutePickupEnabled:            true,
		EnrouteStealMinAssignedDistance: 3,
		CallReassignCooldownMs:          100,
		CallReassignMinImprove:          12,
		NoElevatorLogCooldownMs:         1000,
		DispatcherEventBatch:            16,
		DrainTimeoutMs:                  1000,
		PassengerLimit:                  -1,
		RequestIntervalMin:              5,
		RequestIntervalMax:              10,
		CircuitBreakerEnabled:           true,
		CircuitBreakerMaxFailures:       5,
		CircuitBreakerResetTimeout:      time.Second * 30,
		CircuitBreakerHalfOpenLimit:     3,
		CircuitBreakerFailureThreshold:  0.6,
	}
}

func setupTestServer(t *testing.T) (*Server, *building.Building) {
	cfg := buildServerTestConfig()
	b, err := building.New(cfg)
	require.NoError(t, err)
	b.Run()
	t.Cleanup(func() { b.Shutdown(500 * time.Millisecond) })

	server := NewServer(cfg, 8080, b)
	return server, b
}

// TestFloorHandler_Comprehensive tests all aspects of the floor request handler
// including valid requests, validation errors, HTTP method validation, and edge cases
func TestFloorHandler_Comprehensive(t *testing.T) {
	tests := []struct {
		name           string
		method         string
		requestBody    interface{}
		expectedStatus int
		expectError    bool
	}{
		{
			name:           "valid up request",
			method:         "POST",
			requestBody:    FloorRequestBody{From: 2, To: 8},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "valid down request",
			method:         "POST",
			requestBody:    FloorRequestBody{From: 15, To: 5},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "basement request",
			method:         "POST",
			requestBody:    FloorRequestBody{From: -3, To: 0},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "boundary floor request",
			method:         "POST",
			requestBody:    FloorRequestBody{From: -5, To: 20},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "same floor request should fail",
			method:         "POST",
			requestBody:    FloorRequestBody{From: 5, To: 5},
			expectedStatus: http.StatusBadRequest,
			expectError:    true,
		},
		{
			name:           "floors out of range",
			method:         "POST",
			requestBody:    FloorRequestBody{From: 25, To: 30},
			expectedStatus: http.StatusBadRequest,
			expectError:    true,
		},
		{
			name:           "invalid HTTP method",
			method:         "GET",
			requestBody:    FloorRequestBody{From: 2, To: 8},
			expectedStatus: http.StatusMethodNotAllowed,
			expectError:    true,
		},
		{
			name:           "invalid JSON body",
			method:         "POST",
			requestBody:    "invalid json",
			expectedStatus: http.StatusBadRequest,
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := setupTestServer(t)

			var requestBodyBytes []byte
			var err error

			if str, ok := tt.requestBody.(string); ok {
				requestBodyBytes = []byte(str)
			} else {
				requestBodyBytes, err = json.Marshal(tt.requestBody)
				require.NoError(t, err)
			}

			req, err := http.NewRequest(tt.method, "/floor", bytes.NewBuffer(requestBodyBytes))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")

			rr := httptest.NewRecorder()
			handler := http.HandlerFunc(server.floorHandler)
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)

			if !tt.expectError && tt.expectedStatus == http.StatusOK {
				responseBody := rr.Body.String()
				assert.Contains(t, responseBody, "request accepted")
			}
		})
	}
}

func TestServer_NewServer(t *testing.T) {
	cfg := buildServerTestConfig()
	b, err := building.New(cfg)
	require.NoError(t, err)
	defer b.Shutdown(500 * time.Millisecond)

	server := NewServer(cfg, 8080, b)

	assert.NotNil(t, server)
	assert.Equal(t, b, server.building)
	assert.Equal(t, cfg, server.cfg)
	assert.NotNil(t, server.httpServer)
	assert.NotNil(t, server.logger)
}

func TestServer_ConcurrentRequests(t *testing.T) {
	server, _ := setupTestServer(t)

	const numRequests = 20
	done := make(chan bool, numRequests)
	successCount := 0

	for i := 0; i < numRequests; i++ {
		go func(requestID int) {
			from := requestID % 15
			to := from + 3
			if to > 20 {
				to = 20
			}

			floorRequest := FloorRequestBody{From: from, To: to}
			requestBody, _ := json.Marshal(floorRequest)

			req, _ := http.NewRequest("POST", "/floor", bytes.NewBuffer(requestBody))
			req.Header.Set("Content-Type", "application/json")

			rr := httptest.NewRecorder()
			handler := http.HandlerFunc(server.floorHandler)
			handler.ServeHTTP(rr, req)

			done <- rr.Code == http.StatusOK
		}(i)
	}

	for i := 0; i < numRequests; i++ {
		if <-done {
			successCount++
		}
	}

	assert.Greater(t, successCount, numRequests/2, "Should handle concurrent requests successfully")
}

func TestServer_ErrorHandling(t *testing.T) {
	server, _ := setupTestServer(t)

	t.Run("malformed JSON in floor request", func(t *testing.T) {
		req, err := http.NewRequest("POST", "/floor", bytes.NewBuffer([]byte("{invalid json")))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		handler := http.HandlerFunc(server.floorHandler)
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestServer_EdgeCases(t *testing.T) {
	t.Run("floor request repeated against the same bank", func(t *testing.T) {
		server, _ := setupTestServer(t)

		for i := 0; i < 5; i++ {
			floorRequest := FloorRequestBody{From: 1, To: 5}
			requestBody, err := json.Marshal(floorRequest)
			require.NoError(t, err)

			req, err := http.NewRequest("POST", "/floor", bytes.NewBuffer(requestBody))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")

			rr := httptest.NewRecorder()
			handler := http.HandlerFunc(server.floorHandler)
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
		}
	})
}

func TestServer_HealthAndMetricsEndpoints(t *testing.T) {
	server, _ := setupTestServer(t)

	t.Run("health endpoint reports healthy", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		rr := httptest.NewRecorder()
		handler := http.HandlerFunc(server.healthHandler)
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("system metrics endpoint returns JSON", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/metrics/system", nil)
		rr := httptest.NewRecorder()
		handler := http.HandlerFunc(server.systemMetricsHandler)
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	})

	t.Run("wrong method on health endpoint", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/health", nil)
		rr := httptest.NewRecorder()
		handler := http.HandlerFunc(server.healthHandler)
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func TestServer_PassengersAliasRoute(t *testing.T) {
	server, _ := setupTestServer(t)

	floorRequest := FloorRequestBody{From: 0, To: 10}
	requestBody, err := json.Marshal(floorRequest)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/passengers", bytes.NewBuffer(requestBody))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.GetHandler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestServer_UnknownRouteExamples(t *testing.T) {
	server, _ := setupTestServer(t)

	cases := []string{"/v1/elevators", "/elevator"}
	for _, path := range cases {
		t.Run(fmt.Sprintf("no handler for retired route %s", path), func(t *testing.T) {
			req := httptest.NewRequest("POST", path, nil)
			rr := httptest.NewRecorder()
			server.GetHandler().ServeHTTP(rr, req)
			assert.Equal(t, http.StatusNotFound, rr.Code)
		})
	}
}
