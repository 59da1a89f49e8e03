package queue

import "context"

// Queue decouples the harvester's terminal transition from the delivery
// worker. Delivery requests survive a Core restart because the broker
// retains unacknowledged messages; retry progress itself lives on the
// job row.
type Queue interface {
	PublishDelivery(ctx context.Context, jobID int64) error
	SubscribeDelivery(handler func(ctx context.Context, jobID int64) error) error
	Shutdown()
}
