// Package metrics exposes the Prometheus collectors for the elevator group
// controller: per-car gauges, waiting-queue depth, and dispatcher assignment
// counters, all registered against the default registry on import.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace    = "elevator"
	carLabel     = "car"
	directionLabel = "direction"
	componentLabel = "component"
)

var (
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    namespace + "_request_duration_seconds",
			Help:    "Duration of passenger request processing, from submission to assignment",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{carLabel, "outcome"},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: namespace + "_requests_total",
			Help: "Total passenger requests handled, by assigned car, direction and outcome",
		},
		[]string{carLabel, directionLabel, "outcome"},
	)

	waitTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    namespace + "_wait_time_seconds",
			Help:    "Estimated passenger wait time at assignment",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60},
		},
		[]string{carLabel},
	)

	travelTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    namespace + "_travel_time_seconds",
			Help:    "Estimated passenger travel time at assignment",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60},
		},
		[]string{carLabel, "distance"},
	)

	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: namespace + "_errors_total",
			Help: "Total errors by type and originating component",
		},
		[]string{"error_type", componentLabel},
	)

	currentFloor = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: namespace + "_car_current_floor",
			Help: "Current floor of each car",
		},
		[]string{carLabel},
	)

	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: namespace + "_car_circuit_breaker_state",
			Help: "Circuit breaker state per car: 0=closed, 1=open, 2=half-open",
		},
		[]string{carLabel},
	)

	systemHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: namespace + "_system_healthy",
			Help: "1 if the named component is healthy, 0 otherwise",
		},
		[]string{componentLabel},
	)

	waitingQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: namespace + "_waiting_queue_depth",
			Help: "Passengers currently waiting at a floor for a direction",
		},
		[]string{"floor", directionLabel},
	)

	assignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: namespace + "_dispatcher_assignments_total",
			Help: "Hall calls assigned, by car and dispatch pass",
		},
		[]string{carLabel, "pass"},
	)

	reassignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: namespace + "_dispatcher_reassignments_total",
			Help: "Hall calls moved from one car to another after reconsideration",
		},
		[]string{"from_car", "to_car"},
	)

	stolenPickupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: namespace + "_car_enroute_pickups_total",
			Help: "Hall calls claimed en route by a passing car instead of the original assignee",
		},
		[]string{carLabel},
	)

	assignmentCost = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    namespace + "_dispatcher_assignment_cost",
			Help:    "Cost score of the winning car at assignment time",
			Buckets: []float64{0, 2, 5, 10, 20, 40, 80},
		},
		[]string{"pass"},
	)
)

func init() {
	prometheus.MustRegister(
		requestDuration,
		requestsTotal,
		waitTime,
		travelTime,
		errorsTotal,
		currentFloor,
		circuitBreakerState,
		systemHealth,
		waitingQueueDepth,
		assignmentsTotal,
		reassignmentsTotal,
		stolenPickupsTotal,
		assignmentCost,
	)
}

// RequestDurationHistogram records request-processing latency for carID
// under outcome "success".
func RequestDurationHistogram(carID string, seconds float64) {
	requestDuration.With(prometheus.Labels{carLabel: carID, "outcome": "success"}).Observe(seconds)
}

func RecordRequestDuration(carID, outcome string, seconds float64) {
	requestDuration.With(prometheus.Labels{carLabel: carID, "outcome": outcome}).Observe(seconds)
}

func IncRequestsTotal(carID, direction, outcome string) {
	requestsTotal.With(prometheus.Labels{carLabel: carID, directionLabel: direction, "outcome": outcome}).Inc()
}

func RecordWaitTime(carID string, seconds float64) {
	waitTime.With(prometheus.Labels{carLabel: carID}).Observe(seconds)
}

func RecordTravelTime(carID, distance string, seconds float64) {
	travelTime.With(prometheus.Labels{carLabel: carID, "distance": distance}).Observe(seconds)
}

func IncError(errorType, component string) {
	errorsTotal.With(prometheus.Labels{"error_type": errorType, componentLabel: component}).Inc()
}

func SetCurrentFloor(carID string, floor float64) {
	currentFloor.With(prometheus.Labels{carLabel: carID}).Set(floor)
}

func SetCircuitBreakerState(carID string, state float64) {
	circuitBreakerState.With(prometheus.Labels{carLabel: carID}).Set(state)
}

func SetSystemHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	systemHealth.With(prometheus.Labels{componentLabel: component}).Set(value)
}

func SetWaitingQueueDepth(floor, direction string, depth float64) {
	waitingQueueDepth.With(prometheus.Labels{"floor": floor, directionLabel: direction}).Set(depth)
}

func IncAssignment(carID, pass string) {
	assignmentsTotal.With(prometheus.Labels{carLabel: carID, "pass": pass}).Inc()
}

func IncReassignment(fromCarID, toCarID string) {
	reassignmentsTotal.With(prometheus.Labels{"from_car": fromCarID, "to_car": toCarID}).Inc()
}

func IncStolenPickup(carID string) {
	stolenPickupsTotal.With(prometheus.Labels{carLabel: carID}).Inc()
}

func ObserveAssignmentCost(pass string, cost float64) {
	assignmentCost.With(prometheus.Labels{"pass": pass}).Observe(cost)
}
