package payments

// AuthResult is the outcome of a gateway authorization attempt. Exactly three
// implementations exist; downstream logic branches exhaustively on them via a
// type switch, so the marker method is unexported to seal the set.
type AuthResult interface {
	authResult()
}

// Approved indicates the gateway authorized the payment without a challenge.
type Approved struct {
	// Reference is the provider-side identifier for the authorization.
	Reference string
	// TestMode marks authorizations short-circuited by the sandbox branch.
	TestMode bool
}

func (Approved) authResult() {}

// ChallengeRequired indicates the issuer demands 3-D Secure authentication.
// HTML carries the challenge document, already normalized from the provider's
// encoding by the threeds package.
type ChallengeRequired struct {
	HTML string
}

func (ChallengeRequired) authResult() {}

// Declined indicates the gateway rejected the authorization. Reason carries
// the gateway's message verbatim for shopper display.
type Declined struct {
	Reason string
}

func (Declined) authResult() {}
