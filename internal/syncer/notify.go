package syncer

import (
	"go.uber.org/zap"

	"github.com/roach88/offsync/internal/model"
)

// Notifier receives the user-facing outcomes of a cycle. Conflicts are
// informational; rejections need manual correction. Called after the
// reconciliation has been committed.
type Notifier interface {
	NotifyConflict(n model.ConflictNotice)
	NotifyRejection(n model.RejectionNotice)
}

// NotifierFuncs adapts functions to the Notifier interface. Nil fields are
// skipped.
type NotifierFuncs struct {
	Conflict  func(model.ConflictNotice)
	Rejection func(model.RejectionNotice)
}

// NotifyConflict calls f.Conflict.
func (f NotifierFuncs) NotifyConflict(n model.ConflictNotice) {
	if f.Conflict != nil {
		f.Conflict(n)
	}
}

// NotifyRejection calls f.Rejection.
func (f NotifierFuncs) NotifyRejection(n model.RejectionNotice) {
	if f.Rejection != nil {
		f.Rejection(n)
	}
}

// LogNotifier logs notices. It is the default Notifier.
type LogNotifier struct {
	Logger *zap.Logger
}

// NotifyConflict logs a resolved conflict.
func (l LogNotifier) NotifyConflict(n model.ConflictNotice) {
	l.logger().Info("conflict resolved with server version",
		zap.String("tenant_id", n.TenantID),
		zap.String("event_id", n.EventID),
		zap.String("entity_type", string(n.EntityType)),
		zap.String("entity_id", n.EntityID),
		zap.Int64("local_version", n.LocalVersion),
		zap.Int64("server_version", n.Server.Version),
	)
}

// NotifyRejection logs a rejected event.
func (l LogNotifier) NotifyRejection(n model.RejectionNotice) {
	l.logger().Warn("event rejected by server",
		zap.String("tenant_id", n.TenantID),
		zap.String("event_id", n.EventID),
		zap.String("entity_type", string(n.EntityType)),
		zap.String("entity_id", n.EntityID),
		zap.String("operation", string(n.Operation)),
		zap.String("reason", n.Reason),
	)
}

func (l LogNotifier) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}
