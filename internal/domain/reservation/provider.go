package reservation

import "context"

// BookingAPI is the remote surface the booking workflow drives.
type BookingAPI interface {
	Reserve(ctx context.Context, date, at string, svc ServiceMeta) (Pending, bool, error)
	CheckMultiple(ctx context.Context, date, at string) error
	MatchCustomer(ctx context.Context) error
	Confirm(ctx context.Context, p Pending) (Confirmation, error)
}
