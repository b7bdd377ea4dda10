package domain

type Status string

const (
	StatusPending          Status = "PENDING"
	StatusProcessing       Status = "PROCESSING"
	StatusSuccess          Status = "SUCCESS"
	StatusFailed           Status = "FAILED"
	StatusTimeout          Status = "TIMEOUT"
	StatusBounced          Status = "BOUNCED"
	StatusRefundProcessing Status = "REFUND_PROCESSING"
	StatusRefunded         Status = "REFUNDED"
	StatusRefundFailed     Status = "REFUND_FAILED"
)

// transitions is the full legality table. Anything absent is illegal,
// including self-transitions.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusSuccess, StatusFailed, StatusTimeout},
	// FAILED and TIMEOUT re-enter PROCESSING on retry; TIMEOUT can also
	// jump straight to a terminal outcome when reconciliation finds one.
	StatusFailed:           {StatusProcessing},
	StatusTimeout:          {StatusProcessing, StatusSuccess, StatusFailed},
	StatusSuccess:          {StatusBounced, StatusRefundProcessing},
	StatusRefundProcessing: {StatusRefunded, StatusRefundFailed},
	StatusBounced:          {},
	StatusRefunded:         {},
	StatusRefundFailed:     {},
}

func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves the status.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}
