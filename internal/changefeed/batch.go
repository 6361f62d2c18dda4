package changefeed

import (
	"encoding/json"
	"fmt"

	"github.com/pscheid92/councilcast/internal/domain"
)

// Batch is the envelope of one change-feed invocation.
type Batch struct {
	Records []domain.ChangeEvent `json:"Records"`
}

// ParseBatch decodes a {"Records":[...]} envelope.
func ParseBatch(data []byte) ([]domain.ChangeEvent, error) {
	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode change-feed batch: %w", err)
	}
	return batch.Records, nil
}

// ParseRecord decodes a single change-feed record.
func ParseRecord(data []byte) (domain.ChangeEvent, error) {
	var event domain.ChangeEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("failed to decode change-feed record: %w", err)
	}
	return event, nil
}

// NewInsertEvent wraps a freshly written message as an INSERT record.
func NewInsertEvent(eventID string, msg domain.Message) domain.ChangeEvent {
	image := Encode(msg)

	keys := map[string]domain.AttributeValue{}
	if id, ok := image[domain.FieldID]; ok {
		keys[domain.FieldID] = id
	}

	return domain.ChangeEvent{
		EventID:     eventID,
		EventName:   domain.EventInsert,
		EventSource: "councilcast:messages",
		Change: domain.StreamRecord{
			Keys:     keys,
			NewImage: image,
		},
	}
}
