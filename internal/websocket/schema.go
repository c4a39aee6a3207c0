package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer   Action = "answer"
	ActionGoto     Action = "goto"
	ActionNext     Action = "next"
	ActionPrevious Action = "previous"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestPayload carries every client action. Unused fields stay at their
// zero value: answer actions fill QID and Ans (empty Ans clears the choice),
// goto fills Index.
type RequestPayload struct {
	Action Action `json:"action"`
	QID    string `json:"q_id"`
	Ans    string `json:"ans"`
	Index  int    `json:"index"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSaved     Event = "saved"
	EventTick      Event = "tick"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
)

// SavedResponse acknowledges an answer or navigation action.
type SavedResponse struct {
	Event         Event `json:"event"`
	CurrentIndex  int   `json:"current_index"`
	AnsweredCount int   `json:"answered_count"`
}

// TickResponse is pushed once per second while the session is active.
type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

// SubmittedResponse reports the final score. Pushed for an explicit submit
// and for expiry alike.
type SubmittedResponse struct {
	Event  Event   `json:"event"`
	Status string  `json:"status"`
	Score  float64 `json:"score"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
