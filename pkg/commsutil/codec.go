package commsutil

import (
	"bytes"
	"encoding/json"
	"errors"

	comms "github.com/nats-io/nats.go"
)

// EncodePayload serializes a host API response or event to JSON.
func EncodePayload(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// DecodePayload decodes one JSON value into v. Data after the value is an
// error so that concatenated requests are not silently truncated.
func DecodePayload(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON payload")
	}
	return nil
}

// RespondPayload encodes v and replies to msg.
func RespondPayload(msg *comms.Msg, v interface{}) error {
	data, err := EncodePayload(v)
	if err != nil {
		return err
	}
	return msg.Respond(data)
}
