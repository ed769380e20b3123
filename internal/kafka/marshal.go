package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-inventory-orders/internal/orders"
)

func encodeEnvelope(env orders.Envelope) ([]byte, error) {
	if !json.Valid(env.Payload) {
		return nil, fmt.Errorf("event %s: payload is not valid JSON", env.EventID)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// DecodeEnvelope reads a message value written by Publisher.
func DecodeEnvelope(b []byte) (orders.Envelope, error) {
	var env orders.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
