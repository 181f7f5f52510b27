package api

import (
	"github.com/charlesng35/estatedir/internal/realtime"
	"github.com/charlesng35/estatedir/internal/syncer"
)

// StatusPublisher notifies subscribers of sync status changes.
type StatusPublisher interface {
	Subscribe(fn func(syncer.Status)) func()
}

// StreamSyncStatus forwards every sync status change to the sync stream of hub. The returned
// function stops forwarding.
func StreamSyncStatus(source StatusPublisher, hub *realtime.Hub) func() {
	return source.Subscribe(func(status syncer.Status) {
		hub.BroadcastStream(realtime.StreamSync, realtime.Message{
			Event: realtime.EventStatus,
			Data:  status,
		})
	})
}
