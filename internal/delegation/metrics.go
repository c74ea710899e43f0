package delegation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PermissionsGrantedTotal counts signed and stored spend permissions.
	PermissionsGrantedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_spend_permissions_granted_total",
		Help: "Total number of spend permissions granted",
	})

	// PermissionsRevokedTotal counts revoked spend permissions.
	PermissionsRevokedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_spend_permissions_revoked_total",
		Help: "Total number of spend permissions revoked",
	})

	// AuthorizationsIssuedTotal counts signed repair authorizations.
	AuthorizationsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_repair_authorizations_issued_total",
		Help: "Total number of repair authorizations issued",
	})

	// ReplaysRejectedTotal counts authorizations rejected as replayed or
	// expired.
	ReplaysRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_authorization_replays_rejected_total",
		Help: "Total number of authorizations rejected as replayed or expired",
	})
)
