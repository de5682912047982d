package attest

// Attestation statuses as reported by the attestation API.
const (
	statusComplete             = "complete"
	statusPendingConfirmations = "pending_confirmations"
	statusFailed               = "failed"

	// attestationPendingSentinel is the placeholder the v2 endpoint returns
	// in the attestation field while signing is still in progress. It is
	// never valid hex and must not be treated as signature bytes.
	attestationPendingSentinel = "PENDING"
)

// State classifies an attestation lookup outcome.
type State int

const (
	StatePending State = iota
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Result carries the outcome of an attestation fetch.
type Result struct {
	State State
	// Attestation holds the signature bytes, only set when State is
	// StateComplete.
	Attestation []byte
	// Attempts is how many polling attempts were spent.
	Attempts int
}

// messagesResponse models the v2 bulk endpoint response, listing every
// message a transaction produced.
type messagesResponse struct {
	Messages []apiMessage `json:"messages"`
	Error    string       `json:"error,omitempty"`
}

type apiMessage struct {
	Message     string `json:"message"`
	EventNonce  string `json:"eventNonce"`
	Attestation string `json:"attestation"`
	Status      string `json:"status"`
	CCTPVersion int    `json:"cctpVersion"`
}

// attestationResponse models the v1 single-hash endpoint response.
type attestationResponse struct {
	Status      string `json:"status"`
	Attestation string `json:"attestation"`
	Error       string `json:"error,omitempty"`
}
