// Package mcconsole defines the JSONAPI wire types shared by the console client,
// the stream reader and the mock server.
// Responses are JSON objects; streamed responses arrive one per line.
package mcconsole

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Result values carried in an envelope's "result" field.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Envelope is a single JSONAPI response object.
// The payload lives under the key named by Result, so the raw object is kept.
type Envelope struct {
	// Result names the key holding the payload ("success" or "error").
	Result string `json:"result"`
	// Source is the method or stream the response belongs to.
	Source string `json:"source,omitempty"`
	// Tag echoes the caller supplied tag, if any.
	Tag string `json:"tag,omitempty"`

	fields map[string]json.RawMessage
}

// ParseEnvelope decodes one JSONAPI response object.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("envelope is not an object")
	}
	env := &Envelope{fields: fields}
	for key, dst := range map[string]*string{"result": &env.Result, "source": &env.Source, "tag": &env.Tag} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("envelope %s: %w", key, err)
		}
	}
	return env, nil
}

// PayloadKey returns the key holding the payload: the result value, or
// "success" when the envelope carries no result.
func (e *Envelope) PayloadKey() string {
	if e.Result == "" {
		return ResultSuccess
	}
	return e.Result
}

// Payload returns the raw payload. An error envelope yields a *RemoteError
// carrying the server's message.
func (e *Envelope) Payload() (json.RawMessage, error) {
	raw, ok := e.fields[e.PayloadKey()]
	if e.Result == ResultError {
		var msg string
		if ok {
			if err := json.Unmarshal(raw, &msg); err != nil {
				msg = string(raw)
			}
		}
		return nil, &RemoteError{Source: e.Source, Message: msg}
	}
	if !ok {
		return nil, fmt.Errorf("envelope has no %q payload", e.PayloadKey())
	}
	return raw, nil
}

// NewEnvelope builds a response object with the given payload under key result.
func NewEnvelope(result, source, tag string, payload any) ([]byte, error) {
	obj := map[string]any{"result": result, "source": source, result: payload}
	if tag != "" {
		obj["tag"] = tag
	}
	return json.Marshal(obj)
}

// RemoteError is an error reported by the server inside an envelope.
type RemoteError struct {
	// Source is the method or stream that failed.
	Source string
	// Message is the server's error description.
	Message string
}

func (e *RemoteError) Error() string {
	if e.Source == "" {
		return e.Message
	}
	return e.Source + ": " + e.Message
}

// MethodInfo describes one remotely callable method as listed by the server.
type MethodInfo struct {
	// Name is the method name passed to call.
	Name string `json:"name"`
	// Description is a one-line summary.
	Description string `json:"desc,omitempty"`
	// Returns describes the result type.
	Returns []string `json:"returns,omitempty"`
	// Args lists the positional parameters in call order.
	Args []ArgInfo `json:"args,omitempty"`
}

// ArgInfo describes a single positional method parameter.
type ArgInfo struct {
	Type        string `json:"type"`
	Description string `json:"desc,omitempty"`
}

// ConsoleLine is the payload of the console stream.
type ConsoleLine struct {
	Line string `json:"line"`
	Time int64  `json:"time,omitempty"`
}

// ChatLine is the payload of the chat stream.
type ChatLine struct {
	Player  string `json:"player"`
	Message string `json:"message"`
	Time    int64  `json:"time,omitempty"`
}
