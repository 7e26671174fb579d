package location

import (
	"context"
	"errors"

	"milepost/pkg/model"
)

// Sentinel errors delivered on a source's error channel. PermissionDenied is
// fatal for the session; the others are transient and tracking continues.
var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("location request timed out")
)

// Source produces location fixes. Start launches the producer; fixes arrive
// on Samples and failures on Errors until Close or context cancellation.
type Source interface {
	Start(ctx context.Context) error
	Samples() <-chan model.LocationSample
	Errors() <-chan error
	Close() error
}
