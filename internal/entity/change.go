package entity

import "encoding/json"

type Action string

const (
	ActionAdd    Action = "add"
	ActionEdit   Action = "edit"
	ActionDelete Action = "delete"
	ActionLike   Action = "like"
	ActionError  Action = "error"
)

type EntityType string

const (
	EntityForum          EntityType = "forum"
	EntityThread         EntityType = "thread"
	EntityMessage        EntityType = "message"
	EntityReply          EntityType = "reply"
	EntityUser           EntityType = "user"
	EntityAuthentication EntityType = "authentication"
)

// Source locates the parent of the entity a record refers to.
type Source struct {
	ParentID string `json:"parentId"`
	ThreadID string `json:"threadId,omitempty"`
}

// ChangeRecord is the wire shape pushed to every connected observer.
type ChangeRecord struct {
	Action     Action          `json:"action"`
	EntityType EntityType      `json:"entityType"`
	Payload    json.RawMessage `json:"payload"`
	Source     *Source         `json:"source,omitempty"`
}

// IDPayload is the payload of delete records.
type IDPayload struct {
	ID string `json:"id"`
}

// ErrorPayload is the payload of error records.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewChangeRecord marshals payload into a record.
func NewChangeRecord(action Action, entityType EntityType, payload any, source *Source) (ChangeRecord, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ChangeRecord{}, err
	}
	return ChangeRecord{
		Action:     action,
		EntityType: entityType,
		Payload:    raw,
		Source:     source,
	}, nil
}
