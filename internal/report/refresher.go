package report

import (
	"context"

	"github.com/sirupsen/logrus"

	"rollcall/internal/queue"
)

// Consume refreshes cached reports for every session.completed message
// until msgs is closed or ctx is done. It returns the number of classes
// refreshed.
func (b *Builder) Consume(ctx context.Context, msgs <-chan queue.Message) int {
	refreshed := 0
	for {
		select {
		case <-ctx.Done():
			return refreshed
		case msg, ok := <-msgs:
			if !ok {
				return refreshed
			}
			if msg.Type != queue.TypeSessionCompleted {
				logrus.WithField("type", msg.Type).Debug("ignoring message")
				continue
			}
			evt, err := msg.SessionCompleted()
			if err != nil {
				logrus.WithError(err).Warn("malformed session.completed message")
				continue
			}
			log := logrus.WithFields(logrus.Fields{"session_id": evt.SessionID, "class_id": evt.ClassID})
			if err := b.Refresh(ctx, evt.ClassID); err != nil {
				log.WithError(err).Error("report refresh failed")
				continue
			}
			refreshed++
			log.WithFields(logrus.Fields{"present": evt.Present, "absent": evt.Absent}).Info("class report refreshed")
		}
	}
}
