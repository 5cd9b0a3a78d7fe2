package batch

import (
	"sort"
	"strings"
)

// EventClass is the kind of return a subscription carries.
type EventClass int

// Event classes
const (
	ClassPresenceAck EventClass = iota + 1
	ClassJobReturn
	ClassFindJobReturn
)

func (c EventClass) String() string {
	switch c {
	case ClassPresenceAck:
		return "presence-ack"
	case ClassJobReturn:
		return "job-return"
	case ClassFindJobReturn:
		return "find-job-return"
	default:
		return "unknown"
	}
}

// Route binds a subscription pattern to an event class. JID is the
// job the pattern listens to.
type Route struct {
	Pattern string
	Class   EventClass
	JID     string
}

// Router demultiplexes tags to the routes registered for them. A
// pattern ending with '*' matches every tag sharing its prefix.
type Router struct {
	routes map[string]Route
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Route)}
}

// Add registers a route, replacing any route with the same pattern.
func (r *Router) Add(route Route) {
	r.routes[route.Pattern] = route
}

// Remove drops the route of pattern and reports whether it existed.
func (r *Router) Remove(pattern string) bool {
	_, ok := r.routes[pattern]
	delete(r.routes, pattern)
	return ok
}

// Len returns the number of routes.
func (r *Router) Len() int {
	return len(r.routes)
}

// Patterns returns the registered patterns, sorted.
func (r *Router) Patterns() []string {
	ret := make([]string, 0, len(r.routes))
	for pattern := range r.routes {
		ret = append(ret, pattern)
	}
	sort.Strings(ret)
	return ret
}

// Match returns every route matching tag, ordered by pattern.
// Unknown tags yield nothing.
func (r *Router) Match(tag string) []Route {
	var ret []Route
	for pattern, route := range r.routes {
		if matchPrefix(pattern, tag) {
			ret = append(ret, route)
		}
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Pattern < ret[j].Pattern })
	return ret
}

func matchPrefix(pattern, tag string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(tag, pattern[:len(pattern)-1])
	}
	return tag == pattern
}
