package domain

// RoutePattern maps a screen or sub-resource path template to the permission
// needed to view it. Segments starting with ":" match any single segment.
// An empty Permission marks the route as open.
type RoutePattern struct {
	Pattern    string
	Permission string
}
