// Package envelope is the line protocol between a dispatcher and the
// executables it launches. The dispatcher hands the payload over in the
// PayloadEnv environment variable. The executable writes one JSON object
// per line to stdout, either {"message": ...} or {"error": "..."}.
package envelope

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// PayloadEnv names the environment variable holding the JSON encoded payload
const PayloadEnv = "DISPATCHER_PAYLOAD"

// Envelope is one line written by an execution unit
type Envelope struct {
	Message interface{} `json:"message"`
	Error   string      `json:"error,omitempty"`
}

// IsError ...
func (e *Envelope) IsError() bool {
	return e.Error != ""
}

// Decode parses one line. A line that is not a JSON envelope is taken as
// the message verbatim.
func Decode(line []byte) *Envelope {
	envelope := new(Envelope)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		envelope.Message = string(line)
		return envelope
	}
	_, hasMessage := fields["message"]
	_, hasError := fields["error"]
	if !hasMessage && !hasError {
		envelope.Message = string(line)
		return envelope
	}
	if err := json.Unmarshal(line, envelope); err != nil {
		envelope.Message = string(line)
	}
	return envelope
}

// EncodePayload returns the value for PayloadEnv
func EncodePayload(payload interface{}) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "encode payload")
	}
	return string(encoded), nil
}

// Payload decodes the payload handed over by the dispatcher into v.
// A missing variable leaves v untouched.
func Payload(v interface{}) error {
	value, ok := os.LookupEnv(PayloadEnv)
	if !ok || value == "" {
		return nil
	}
	return errors.Wrap(json.Unmarshal([]byte(value), v), "decode payload")
}

// Send writes a message envelope to w
func Send(w io.Writer, message interface{}) error {
	return write(w, &Envelope{Message: message})
}

// Fail writes an error envelope to w
func Fail(w io.Writer, err error) error {
	return write(w, &Envelope{Error: err.Error()})
}

func write(w io.Writer, envelope *Envelope) error {
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrap(err, "encode envelope")
	}
	_, err = w.Write(append(encoded, '\n'))
	return errors.Wrap(err, "write envelope")
}
