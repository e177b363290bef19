package app

import "github.com/tailored-agentic-units/appstate/observability"

// Machine event types.
const (
	EventInit           observability.EventType = "app.init"
	EventUpdateStart    observability.EventType = "app.update.start"
	EventUpdateComplete observability.EventType = "app.update.complete"
	EventPersist        observability.EventType = "app.persist"
	EventRestore        observability.EventType = "app.restore"
	EventRestoreFailed  observability.EventType = "app.restore.failed"
	EventDebugState     observability.EventType = "app.debug.state"
	EventRouteUnmatched observability.EventType = "app.route.unmatched"
	EventRender         observability.EventType = "app.render"
	EventNavigate       observability.EventType = "app.navigate"
	EventTaskError      observability.EventType = "app.task.error"
	EventError          observability.EventType = "app.error"
)
