package domain

import "time"

// Where a status observation came from.
const (
	SourcePoll = "poll"
	SourceIPN  = "ipn"
)

const (
	AuditRegisterIPN = "register_ipn"
	AuditAdminLogin  = "admin_login"
)

const RoleAdmin = "ADMIN"

// StatusUpdate is a status observed for a submitted order, fanned out to push channels.
type StatusUpdate struct {
	TrackingID        string    `json:"order_tracking_id"`
	MerchantReference string    `json:"merchant_reference,omitempty"`
	Status            string    `json:"status"`
	Terminal          bool      `json:"terminal"`
	Source            string    `json:"source"`
	ObservedAt        time.Time `json:"observed_at"`
}
