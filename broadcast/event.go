package broadcast

import (
	"errors"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// MutationType names the kind of change a MutationEvent announces.
type MutationType string

const (
	MutationCreate MutationType = "create"
	MutationUpdate MutationType = "update"
	MutationDelete MutationType = "delete"
)

// Payload carries the identifying fields of the mutated entity: at least
// "id", plus any foreign key needed to compute invalidation patterns.
type Payload map[string]any

// ID returns the "id" field.
func (p Payload) ID() string {
	return p.String("id")
}

// String returns field rendered as a string, or "" when absent.
// JSON numbers are written without exponent so ids survive a round trip.
func (p Payload) String(field string) string {
	value, ok := p[field]
	if !ok || value == nil {
		return ""
	}

	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int8:
		return strconv.FormatInt(int64(v), 10)
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint8:
		return strconv.FormatUint(uint64(v), 10)
	case uint16:
		return strconv.FormatUint(uint64(v), 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case bool:
		return strconv.FormatBool(v)
	case []byte:
		return string(v)
	}
	return ""
}

// MutationEvent announces a successful create, update or delete.
type MutationEvent struct {
	// ID is unique per event so identical logical mutations still differ.
	ID      string       `json:"id" msgpack:"id"`
	Type    MutationType `json:"type" msgpack:"type"`
	Payload Payload      `json:"payload" msgpack:"payload"`
	// Domain is the collection the mutated record belongs to. Receivers skip
	// events stamped with another domain; an empty Domain reaches every one.
	Domain string `json:"domain,omitempty" msgpack:"domain,omitempty"`
	// Origin identifies the publishing instance; receivers drop their own events.
	Origin string `json:"origin,omitempty" msgpack:"origin,omitempty"`
	// Timestamp is the publish time in Unix milliseconds.
	Timestamp int64 `json:"timestamp" msgpack:"timestamp"`
}

// NewMutationEvent builds an event with a fresh id and the current time.
func NewMutationEvent(t MutationType, payload Payload) MutationEvent {
	return MutationEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

var errMissingPayloadID = errors.New("must contain a non-empty id")

// Validate checks the event type and that the payload identifies an entity.
func (e MutationEvent) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Type, validation.Required, validation.In(MutationCreate, MutationUpdate, MutationDelete)),
		validation.Field(&e.Payload, validation.By(func(any) error {
			if e.Payload.ID() == "" {
				return errMissingPayloadID
			}
			return nil
		})),
	)
}
