// Package router resolves paths against a static route table.
//
// Routes are matched one path segment at a time. At each level an exact
// static segment wins; otherwise the level's single parameter route (":name")
// captures the segment. There are no wildcards and no query-string matching.
//
//	r, err := router.New(
//	    router.Route{Path: "/", View: home},
//	    router.Route{Path: "users", View: users, Children: []router.Route{
//	        {Path: ":id", View: user},
//	    }},
//	)
//	m, ok := r.Resolve("/users/42") // m.Route.Path == ":id", m.Params["id"] == "42"
package router

import (
	"fmt"
	"slices"
	"strings"
)

const rootSegment = "/"

type node struct {
	route     *Route
	pattern   string
	static    map[string]*node
	param     *node
	paramName string
}

func newNode(pattern string) *node {
	return &node{pattern: pattern, static: make(map[string]*node)}
}

// Router holds an immutable route table.
type Router struct {
	root  *node
	count int
}

// New builds a Router from routes. The table is fixed after construction.
//
// Returns ErrEmptyPath for a route without a path, ErrDuplicateRoute when two
// routes claim the same pattern, and ErrAmbiguousParam when one level would
// have two differently named parameter routes.
func New(routes ...Route) (*Router, error) {
	routes = cloneRoutes(routes)
	r := &Router{root: newNode(rootSegment)}
	for i := range routes {
		if err := r.insert(r.root, &routes[i]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Router) insert(parent *node, route *Route) error {
	if strings.TrimSpace(route.Path) == "" {
		return fmt.Errorf("%w: under %s", ErrEmptyPath, parent.pattern)
	}

	target := parent
	if route.Path != rootSegment {
		for _, seg := range Segments(route.Path) {
			next, err := child(target, seg)
			if err != nil {
				return err
			}
			target = next
		}
	}

	if target.route != nil {
		return fmt.Errorf("%w: %s", ErrDuplicateRoute, target.pattern)
	}
	target.route = route
	r.count++

	for i := range route.Children {
		if err := r.insert(target, &route.Children[i]); err != nil {
			return err
		}
	}
	return nil
}

func cloneRoutes(routes []Route) []Route {
	out := slices.Clone(routes)
	for i := range out {
		out[i].Children = cloneRoutes(out[i].Children)
	}
	return out
}

func child(parent *node, seg string) (*node, error) {
	pattern := join(parent.pattern, seg)

	if name, ok := strings.CutPrefix(seg, ":"); ok {
		if name == "" {
			return nil, fmt.Errorf("%w: unnamed parameter in %s", ErrEmptyPath, pattern)
		}
		if parent.param == nil {
			parent.param = newNode(pattern)
			parent.paramName = name
		} else if parent.paramName != name {
			return nil, fmt.Errorf("%w: :%s and :%s under %s", ErrAmbiguousParam, parent.paramName, name, parent.pattern)
		}
		return parent.param, nil
	}

	next, exists := parent.static[seg]
	if !exists {
		next = newNode(pattern)
		parent.static[seg] = next
	}
	return next, nil
}

func join(parent, seg string) string {
	if parent == rootSegment {
		return rootSegment + seg
	}
	return parent + "/" + seg
}

// Segments splits path for matching. The root path (or an empty path) is the
// single segment "/"; any other path is split on '/' with empty segments from
// leading, trailing or doubled slashes discarded.
func Segments(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) == 0 {
		return []string{rootSegment}
	}
	return segs
}

// Resolve matches path against the table. Parameters bound at each level are
// accumulated into Match.Params. Returns false when some segment has neither a
// static nor a parameter match, or when the path only reaches an intermediate
// level that carries no route.
func (r *Router) Resolve(path string) (Match, bool) {
	segs := Segments(path)
	params := Params{}

	current := r.root
	if !(len(segs) == 1 && segs[0] == rootSegment) {
		for _, seg := range segs {
			if next, ok := current.static[seg]; ok {
				current = next
				continue
			}
			if current.param == nil {
				return Match{}, false
			}
			params[current.paramName] = seg
			current = current.param
		}
	}

	if current.route == nil {
		return Match{}, false
	}
	return Match{Route: current.route, Params: params, Path: path}, true
}

// Len returns the number of routes in the table.
func (r *Router) Len() int {
	return r.count
}

// Routes returns the full pattern of every route, sorted.
func (r *Router) Routes() []string {
	var out []string
	var walk func(n *node)
	walk = func(n *node) {
		if n.route != nil {
			out = append(out, n.pattern)
		}
		for _, c := range n.static {
			walk(c)
		}
		if n.param != nil {
			walk(n.param)
		}
	}
	walk(r.root)
	slices.Sort(out)
	return out
}
