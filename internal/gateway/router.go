// ABOUTME: Pure path router turning method plus path into a dispatch decision
// ABOUTME: No side effects, so routing rules are testable without an HTTP server

package gateway

import "strings"

// RouteKind classifies what an inbound request is asking for.
type RouteKind int

const (
	KindNotFound RouteKind = iota
	KindMethodNotAllowed
	KindDispatch
	KindStatusAll
	KindStatusWorker
	KindWebhookRegister
	KindWebhookEvent
	KindHealth
	KindReady
)

// Decision is the outcome of routing one request path.
type Decision struct {
	Kind   RouteKind
	Worker string
	Action string
	Event  string
}

// Decide maps an HTTP method and path to a route decision. It is a pure
// function of its inputs; existence checks against the route table happen
// later in the dispatch sequence.
func Decide(method, path string) Decision {
	segs := splitPath(path)

	switch {
	case len(segs) == 1 && segs[0] == "health":
		if method != "GET" {
			return Decision{Kind: KindMethodNotAllowed}
		}
		return Decision{Kind: KindHealth}

	case len(segs) == 2 && segs[0] == "health" && segs[1] == "ready":
		if method != "GET" {
			return Decision{Kind: KindMethodNotAllowed}
		}
		return Decision{Kind: KindReady}

	case len(segs) >= 1 && segs[0] == "status":
		if method != "GET" {
			return Decision{Kind: KindMethodNotAllowed}
		}
		switch len(segs) {
		case 1:
			return Decision{Kind: KindStatusAll}
		case 2:
			return Decision{Kind: KindStatusWorker, Worker: segs[1]}
		}
		return Decision{Kind: KindNotFound}

	case len(segs) == 2 && segs[0] == "webhook":
		if method != "POST" {
			return Decision{Kind: KindMethodNotAllowed}
		}
		if segs[1] == "register" {
			return Decision{Kind: KindWebhookRegister}
		}
		return Decision{Kind: KindWebhookEvent, Event: segs[1]}

	case len(segs) == 2:
		if method != "POST" {
			return Decision{Kind: KindMethodNotAllowed}
		}
		return Decision{Kind: KindDispatch, Worker: segs[0], Action: segs[1]}
	}

	return Decision{Kind: KindNotFound}
}

// splitPath breaks a URL path into non-empty segments.
func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}
