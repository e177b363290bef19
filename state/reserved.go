package state

// Capability names. These are members of the Machine, never data fields.
const (
	NameUpdate    = "Update"
	NameGetState  = "GetState"
	NameJSON      = "JSON"
	NameHTML      = "HTML"
	NameSVG       = "SVG"
	NameNavigate  = "Navigate"
	NameSchedule  = "Schedule"
	NameDelay     = "Delay"
	NameEffect    = "Effect"
	NameCalculate = "Calculate"
)

// Construction keys. They configure a Machine and are not application data.
const (
	KeyRoutes                = "Routes"
	KeyLocalStorageKey       = "LocalStorageKey"
	KeyLocalStorageBlackList = "LocalStorageBlackList"
	KeyDebug                 = "Debug"
	KeyInitiate              = "Initiate"
	KeyBefore                = "Before"
	KeyAfter                 = "After"
	KeyView                  = "View"
	KeyElement               = "Element"
)

// KeyContent is where the routed sub-tree lives. It is held in State.Content
// rather than Data.
const KeyContent = "content"

var reserved = map[string]bool{
	NameUpdate:    true,
	NameGetState:  true,
	NameJSON:      true,
	NameHTML:      true,
	NameSVG:       true,
	NameNavigate:  true,
	NameSchedule:  true,
	NameDelay:     true,
	NameEffect:    true,
	NameCalculate: true,

	KeyRoutes:                true,
	KeyLocalStorageKey:       true,
	KeyLocalStorageBlackList: true,
	KeyDebug:                 true,
	KeyInitiate:              true,
	KeyBefore:                true,
	KeyAfter:                 true,
	KeyView:                  true,
	KeyElement:               true,

	KeyContent: true,
}

// IsReserved reports whether name is a capability or construction key that
// can never be stored as state data.
func IsReserved(name string) bool {
	return reserved[name]
}

// Reserved returns the reserved names. The returned map is a copy.
func Reserved() map[string]bool {
	out := make(map[string]bool, len(reserved))
	for k := range reserved {
		out[k] = true
	}
	return out
}
