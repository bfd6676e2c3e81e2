package repo

import "context"

// DeliveryRepo sends outbound text to an end user over the tenant's channel
type DeliveryRepo interface {
	Deliver(ctx context.Context, tenantID, endUserID, text string) error
}
