package router

import (
	"golang.org/x/net/html"

	"github.com/tailored-agentic-units/appstate/state"
)

// View turns a snapshot into the routed sub-tree.
type View func(s state.State) *html.Node

// Params holds path parameters bound during resolution, keyed by parameter
// name without the leading ':'.
type Params map[string]string

// Route binds a path pattern to an optional transformer, view and title.
//
// Path is one or more '/'-separated segments relative to the parent route;
// a segment beginning with ':' captures a parameter. "/" is the root route.
// Update runs on every render while the route is active; Params, when set,
// takes precedence and builds the transformer from the bound parameters.
type Route struct {
	Path     string
	Title    string
	View     View
	Update   state.Transformer
	Params   func(params Params) state.Transformer
	Children []Route
}

// Match is the outcome of a successful resolution.
type Match struct {
	Route  *Route
	Params Params
	Path   string
}

// Transformer returns the route's transformer for this match: Params applied
// to the bound parameters when set, otherwise Update. Nil when the route
// declares neither.
func (m Match) Transformer() state.Transformer {
	if m.Route == nil {
		return nil
	}
	if m.Route.Params != nil {
		return m.Route.Params(m.Params)
	}
	return m.Route.Update
}
