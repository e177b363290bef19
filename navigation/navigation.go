// Package navigation defines the ports the state machine uses to read and
// change the current location and the document title, plus in-memory
// implementations for hosts without a browser.
package navigation

// History tracks the current path and notifies listeners when it changes
// outside of Push (back/forward). Implementations must be safe for
// concurrent use.
type History interface {
	// Path returns the current path.
	Path() string
	// Push appends path to the history and makes it current. Subscribers are
	// not notified.
	Push(path string) error
	// Subscribe registers fn for back/forward notifications. The returned
	// function removes the subscription.
	Subscribe(fn func(path string)) (cancel func())
}

// Title sets the document title.
type Title interface {
	SetTitle(title string)
}

// TitleFunc adapts a function to Title.
type TitleFunc func(title string)

func (f TitleFunc) SetTitle(title string) { f(title) }

// Event is a user-interface event a navigation handler receives.
type Event interface {
	PreventDefault()
}

// Handler reacts to a user-interface event. The event may be nil.
type Handler func(Event)

// Link is an event raised on an element that carries its own target path,
// such as a click on an anchor.
type Link interface {
	Event
	Href() string
}
