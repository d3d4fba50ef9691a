package storage

import (
	"context"

	"github.com/reiserFSs/hyperevmlpmonitor/internal/model"
)

// Sink receives the checked positions produced by each monitor cycle.
type Sink interface {
	PutSnapshots(ctx context.Context, wallet string, snapshots []model.CheckedPosition) error
}
