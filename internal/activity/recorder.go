// Package activity appends audit entries for every state transition of the
// portal and optionally forwards them to a message broker.
package activity

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/examportal/internal/metrics"
	"github.com/shrimpsizemoose/examportal/internal/models"
)

// Store is the part of the registry the recorder writes to.
type Store interface {
	AppendActivity(ctx context.Context, entry models.ActivityLog) error
}

// Publisher receives a copy of every entry that was stored.
type Publisher interface {
	Publish(entry models.ActivityLog) error
}

type Recorder struct {
	store     Store
	clock     clockwork.Clock
	publisher Publisher
}

func NewRecorder(store Store, clk clockwork.Clock, publisher Publisher) *Recorder {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Recorder{store: store, clock: clk, publisher: publisher}
}

// Record stores one entry for user. A publish failure is logged and does not
// fail the call; the entry is already durable by then.
func (r *Recorder) Record(ctx context.Context, user models.User, kind models.ActivityType, details string) (models.ActivityLog, error) {
	entry := models.ActivityLog{
		ID:        models.NewID("log"),
		UserID:    user.ID,
		UserName:  user.Name,
		UserRole:  user.Role,
		Type:      kind,
		Timestamp: r.clock.Now(),
		Details:   details,
	}

	if err := r.store.AppendActivity(ctx, entry); err != nil {
		return models.ActivityLog{}, fmt.Errorf("failed to record %s for %s: %w", kind, user.ID, err)
	}
	metrics.ActivityTotal.WithLabelValues(string(kind), string(user.Role)).Inc()
	logger.Debug.Printf("Activity %s for user %s: %s", kind, user.ID, details)

	if r.publisher != nil {
		if err := r.publisher.Publish(entry); err != nil {
			logger.Error.Printf("Failed to publish activity %s: %v", entry.ID, err)
		}
	}
	return entry, nil
}
