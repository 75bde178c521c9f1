package domain

// Request context key populated by the auth middleware.
const RequesterTagCtxKey = "cl-requesterTag"

// Realtime bus event types.
const (
	EventActionNew    = "action.new"
	EventActionUpdate = "action.update"
)

// NotifyChannel is the realtime bus channel of a tenant.
func NotifyChannel(tenant string) string {
	return "notify:" + tenant
}

// DeliveryQueueKey is the redis list holding pending outbound deliveries.
const DeliveryQueueKey = "delivery:pending"
