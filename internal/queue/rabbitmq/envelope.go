package rabbitmq

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/ghostmarket/internal/domain/delivery"
)

// envelope is the message body on the wire.
type envelope struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Data       json.RawMessage `json:"data"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	LastError  string          `json:"lastError,omitempty"`
}

func decodeEnvelope(body []byte) (envelope, error) {
	var e envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return e, errors.Wrap(err, "decode envelope")
	}
	if e.ID == "" || e.Name == "" {
		return e, errors.New("envelope missing id or name")
	}
	if e.Attempt < 1 {
		e.Attempt = 1
	}
	return e, nil
}

func (e envelope) job() delivery.Job {
	return delivery.Job{
		ID:      e.ID,
		Name:    e.Name,
		Data:    e.Data,
		Attempt: e.Attempt,
	}
}
