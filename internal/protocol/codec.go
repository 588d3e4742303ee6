package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	// ErrUnknownIntent is returned when the discriminant names no intent.
	ErrUnknownIntent = errors.New("protocol: unknown intent")
	// ErrUnknownMessage is returned when the discriminant names no output.
	ErrUnknownMessage = errors.New("protocol: unknown message")
)

const typeField = "type"

// EncodeIntent renders intent as a JSON object with a "type" field.
func EncodeIntent(intent Intent) ([]byte, error) {
	if intent == nil {
		return nil, fmt.Errorf("%w: nil intent", ErrUnknownIntent)
	}
	return encodeTagged(intent, string(intent.Type()))
}

// DecodeIntent parses and validates a JSON intent.
func DecodeIntent(data []byte) (Intent, error) {
	kind, err := discriminant(data)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode intent: %w", err)
	}
	var intent Intent
	switch IntentType(kind) {
	case IntentSetRunning:
		var v SetRunning
		err = json.Unmarshal(data, &v)
		intent = v
	case IntentSetPlan:
		var v SetPlan
		err = json.Unmarshal(data, &v)
		intent = v
	case IntentSetSeed:
		var v SetSeed
		err = json.Unmarshal(data, &v)
		intent = v
	case IntentSetSpeed:
		var v SetSpeed
		err = json.Unmarshal(data, &v)
		intent = v
	case IntentRequestSnapshot:
		intent = RequestSnapshot{}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownIntent, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", kind, err)
	}
	if err := Validate(intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// EncodeMessage renders msg as a JSON object with a "type" field.
func EncodeMessage(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrUnknownMessage)
	}
	return encodeTagged(msg, string(msg.Type()))
}

// DecodeMessage parses a JSON engine output.
func DecodeMessage(data []byte) (Message, error) {
	kind, err := discriminant(data)
	if err != nil {
		return nil, fmt.Errorf("protocol: decode message: %w", err)
	}
	var msg Message
	switch MessageType(kind) {
	case MessageSnapshot:
		var v Snapshot
		err = json.Unmarshal(data, &v)
		msg = v
	case MessageTick:
		var v Tick
		err = json.Unmarshal(data, &v)
		msg = v
	case MessageDepsCleared:
		var v DepsCleared
		err = json.Unmarshal(data, &v)
		msg = v
	case MessageStartItem:
		var v StartItem
		err = json.Unmarshal(data, &v)
		msg = v
	case MessageCompleteItem:
		var v CompleteItem
		err = json.Unmarshal(data, &v)
		msg = v
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownMessage, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", kind, err)
	}
	return msg, nil
}

func encodeTagged(v any, kind string) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", kind, err)
	}
	out, err := sjson.SetBytes(body, typeField, kind)
	if err != nil {
		return nil, fmt.Errorf("protocol: tag %s: %w", kind, err)
	}
	return out, nil
}

func discriminant(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", errors.New("malformed json")
	}
	kind := gjson.GetBytes(data, typeField)
	if !kind.Exists() || kind.Type != gjson.String {
		return "", errors.New("missing type field")
	}
	return kind.String(), nil
}
