package route

import "errors"

// ErrInvalidDefinition marks a routing tree that must not be served.
var ErrInvalidDefinition = errors.New("invalid proxy definition")

const (
	invalidSplitMsg     = "url must be defined if not supplying a block"
	routesWithSplitsMsg = "you cant register routes and splits at the same level"
	invalidRouteDefMsg  = "rule must be specified when supplying a block"
	ignoringURLLabelMsg = "block supplied, ignoring url and label parameters"
)
