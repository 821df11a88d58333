package optimize

// Kind classifies an optimization failure. Kind strings are part of the
// API contract and never change.
type Kind string

const (
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindInvalidCoordinates Kind = "INVALID_COORDINATES"
	KindInvalidDepotIndex  Kind = "INVALID_DEPOT_INDEX"
	KindInsufficientStops  Kind = "INSUFFICIENT_STOPS"
	KindTooManyStops       Kind = "TOO_MANY_STOPS"
	KindGeocodingFailed    Kind = "GEOCODING_FAILED"
	KindRoutingUnavailable Kind = "ROUTING_SERVICE_UNAVAILABLE"
	KindRoutingTimeout     Kind = "ROUTING_SERVICE_TIMEOUT"
	KindRoutingError       Kind = "ROUTING_SERVICE_ERROR"
	KindSolverNoSolution   Kind = "SOLVER_NO_SOLUTION"
	KindSolverFailed       Kind = "SOLVER_FAILED"
	KindInternal           Kind = "INTERNAL_ERROR"
)

// IsClientFault reports whether the failure is attributable to the
// request rather than to this service or its upstreams.
func (k Kind) IsClientFault() bool {
	switch k {
	case KindInvalidInput, KindInvalidCoordinates, KindInvalidDepotIndex,
		KindInsufficientStops, KindTooManyStops, KindGeocodingFailed:
		return true
	}
	return false
}

var defaultMessages = map[Kind]string{
	KindInvalidInput:       "The request contains invalid input data",
	KindInvalidCoordinates: "One or more coordinates are invalid",
	KindInvalidDepotIndex:  "The specified depot index is out of bounds",
	KindInsufficientStops:  "At least 2 stops are required for route optimization",
	KindTooManyStops:       "Too many stops provided - maximum limit exceeded",
	KindGeocodingFailed:    "Failed to geocode one or more addresses",
	KindRoutingUnavailable: "The routing service is currently unavailable",
	KindRoutingTimeout:     "The routing service request timed out",
	KindRoutingError:       "The routing service returned an error",
	KindSolverNoSolution:   "The optimization solver could not find a valid solution",
	KindSolverFailed:       "The optimization solver encountered an error",
	KindInternal:           "An unexpected internal error occurred",
}

var defaultSuggestions = map[Kind]string{
	KindInvalidCoordinates: "Ensure latitude is between -90 and 90, longitude is between -180 and 180",
	KindInvalidDepotIndex:  "Ensure depot_index is between 0 and the number of stops minus 1",
	KindInsufficientStops:  "Provide at least 2 stops in the 'stops' array",
	KindTooManyStops:       "Reduce the number of stops or contact support for enterprise limits",
	KindGeocodingFailed:    "Provide a more specific address with street, city, state, and ZIP code",
	KindRoutingUnavailable: "Try again in a few moments. If the issue persists, the routing service may be down",
	KindRoutingTimeout:     "Try again with fewer stops or check your network connection",
	KindSolverNoSolution:   "Check that all stops are reachable by road and coordinates are valid",
	KindInternal:           "Please try again. If the problem persists, contact support",
}

// DefaultMessage returns the standard message for a kind.
func DefaultMessage(k Kind) string {
	if msg, ok := defaultMessages[k]; ok {
		return msg
	}
	return "An error occurred"
}

// DefaultSuggestion returns the standard remediation hint for a kind,
// or the empty string when there is none.
func DefaultSuggestion(k Kind) string {
	return defaultSuggestions[k]
}

// Detail attributes part of a failure to a specific request field.
type Detail struct {
	Field   string
	Message string
	Value   any
}

// Error is the orchestrator's failure type. Every pipeline failure is
// one of these, carrying the taxonomy kind, a human-readable message,
// optional field-level details, and a remediation suggestion.
type Error struct {
	Kind       Kind
	Message    string
	Details    []Detail
	Suggestion string
	Err        error
}

// NewError creates an Error with the kind's default message and
// suggestion. Callers override fields on the returned value as needed.
func NewError(kind Kind, message string, details ...Detail) *Error {
	if message == "" {
		message = DefaultMessage(kind)
	}
	return &Error{
		Kind:       kind,
		Message:    message,
		Details:    details,
		Suggestion: DefaultSuggestion(kind),
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}
