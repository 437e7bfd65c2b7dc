package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		InviteCodeValidations,
		ReservationsCreated,
		ReservationFailures,
		PaymentVerifications,
		ReconcileOutcomes,
	)
}

var (
	// result: valid|invalid|error
	InviteCodeValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invite_code_validations_total",
			Help: "Invite code validation requests by result.",
		},
		[]string{"result"},
	)

	// path: payment|invite_code|reused_session
	ReservationsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_created_total",
			Help: "Reservations persisted by the path that created them.",
		},
		[]string{"path"},
	)

	// stage: validate|redeem_code|payment_session|persist_reservation
	ReservationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_failures_total",
			Help: "Failed reservation submissions by the stage that failed.",
		},
		[]string{"stage"},
	)

	// result: confirmed|unpaid|not_found|error
	PaymentVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verifications_total",
			Help: "Payment verification calls by result.",
		},
		[]string{"result"},
	)

	// outcome: confirmed|cancelled|pending|error
	ReconcileOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_reconcile_total",
			Help: "Reconcile job outcomes for stale pending reservations.",
		},
		[]string{"outcome"},
	)
)
