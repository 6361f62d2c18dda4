package broadcast

// Status is the outcome of one change event.
type Status string

const (
	StatusDelivered             Status = "delivered"
	StatusSkippedEventType      Status = "skipped_event_type"
	StatusSkippedNoConversation Status = "skipped_no_conversation"
	StatusQueryFailed           Status = "query_failed"
	StatusEncodeFailed          Status = "encode_failed"
)

// EventOutcome summarizes what happened to one change event.
type EventOutcome struct {
	EventID        string `json:"event_id,omitempty"`
	Status         Status `json:"status"`
	ConversationID string `json:"conversation_id,omitempty"`
	Recipients     int    `json:"recipients"`
	Delivered      int    `json:"delivered"`
	Gone           int    `json:"gone"`
	Failed         int    `json:"failed"`
	Pruned         int    `json:"pruned"`
	PruneFailed    int    `json:"prune_failed"`
	Error          string `json:"error,omitempty"`
}

// BatchReport is returned for every batch. Faults inside a batch are reported here
// and never fail the batch itself.
type BatchReport struct {
	Events    int            `json:"events"`
	Delivered int            `json:"delivered"`
	Gone      int            `json:"gone"`
	Failed    int            `json:"failed"`
	Pruned    int            `json:"pruned"`
	Outcomes  []EventOutcome `json:"outcomes"`
}

func (r *BatchReport) add(o EventOutcome) {
	r.Events++
	r.Delivered += o.Delivered
	r.Gone += o.Gone
	r.Failed += o.Failed
	r.Pruned += o.Pruned
	r.Outcomes = append(r.Outcomes, o)
}

// Count returns the number of events that ended with the given status.
func (r BatchReport) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}
