package domain

// Rejection is the structured outcome of a failed validation attempt. It is
// attached to the context rather than raised as an error: a rejection means
// "bad token", errors mean "broken deployment or store failure" and the two
// must stay separable in telemetry.
type Rejection struct {
	Code        string
	Description string
	URI         string
}

// GenericInvalidToken is the uniform fallback rejection when no kind-
// specific message applies.
func GenericInvalidToken() Rejection {
	return Rejection{
		Code:        ErrorCodeInvalidToken,
		Description: "The specified token is invalid.",
		URI:         ErrorURI,
	}
}

// PendingRejection is returned while a device or user code awaits approval;
// callers are expected to poll.
func PendingRejection() Rejection {
	return Rejection{
		Code:        ErrorCodeAuthorizationPending,
		Description: "The authorization has not been approved yet.",
		URI:         ErrorURI,
	}
}

// AccessDeniedRejection is returned when the end user rejected the
// authorization demand.
func AccessDeniedRejection() Rejection {
	return Rejection{
		Code:        ErrorCodeAccessDenied,
		Description: "The authorization was denied by the end user.",
		URI:         ErrorURI,
	}
}
