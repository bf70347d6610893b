package main

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sgfc/sgfc/internal/platform/events"
	"github.com/sgfc/sgfc/internal/platform/middleware"
)

const accessPublishTimeout = 2 * time.Second

// accessPublisher forwards data-access records to the audit event stream.
type accessPublisher struct {
	pub     events.Publisher
	timeout time.Duration
}

// accessRecorderFor returns the recorder for the access audit middleware. The
// middleware already logs every access, so a log-only publisher gets none.
func accessRecorderFor(pub events.Publisher) middleware.AccessRecorder {
	if _, logOnly := pub.(*events.LogPublisher); logOnly {
		return nil
	}
	return &accessPublisher{pub: pub, timeout: accessPublishTimeout}
}

func (a *accessPublisher) RecordAccess(entry middleware.AccessEntry) error {
	key := entry.UserID
	if entry.EntryID != 0 {
		key = strconv.FormatInt(entry.EntryID, 10)
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	return a.pub.Publish(ctx, events.Event{
		ID:         uuid.NewString(),
		Type:       events.TypeDataAccess,
		Key:        key,
		Actor:      entry.UserID,
		Reason:     entry.Action,
		OccurredAt: entry.Timestamp,
		Data: map[string]interface{}{
			"request_id": entry.RequestID,
			"roles":      entry.UserRoles,
			"resource":   entry.Resource,
			"entry_id":   entry.EntryID,
			"method":     entry.Method,
			"path":       entry.Path,
			"remote_ip":  entry.IPAddress,
			"user_agent": entry.UserAgent,
			"status":     entry.StatusCode,
		},
	})
}
