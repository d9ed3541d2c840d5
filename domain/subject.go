package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Subject kinds accepted on the wire
const (
	SubjectOrder     = "order"
	SubjectCustomer  = "customer"
	SubjectAffiliate = "affiliate"
)

// ErrUnknownSubjectKind is returned when an envelope names a kind we cannot decode
var ErrUnknownSubjectKind = errors.New("unknown subject kind")

// SubjectEnvelope is the JSON form of an evaluation subject:
// {"type": "order", "data": {...}}
type SubjectEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode turns the envelope into the concrete subject value
func (e SubjectEnvelope) Decode() (any, error) {
	if len(e.Data) == 0 {
		return nil, fmt.Errorf("subject %q has no data", e.Type)
	}

	var target any
	switch e.Type {
	case SubjectOrder:
		target = &Order{}
	case SubjectCustomer:
		target = &Customer{}
	case SubjectAffiliate:
		target = &Affiliate{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSubjectKind, e.Type)
	}

	if err := json.Unmarshal(e.Data, target); err != nil {
		return nil, fmt.Errorf("invalid %s subject: %w", e.Type, err)
	}
	return target, nil
}
