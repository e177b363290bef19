package pipeline

import "github.com/tailored-agentic-units/appstate/observability"

const (
	EventTransform   observability.EventType = "pipeline.transform"
	EventEffect      observability.EventType = "pipeline.effect"
	EventCalculation observability.EventType = "pipeline.calculation"
	EventError       observability.EventType = "pipeline.error"
)
