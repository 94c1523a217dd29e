package ndperr

import "encoding/json"

// Envelope is the wire form of an Error on workspace response channels:
// {code, message, data: {errorGuid, errorKind, extra, stacktrace}}.
type Envelope struct {
	Code    int          `json:"code"`
	Message string       `json:"message"`
	Data    EnvelopeData `json:"data"`
}

// EnvelopeData carries the structured portion of the envelope.
type EnvelopeData struct {
	ErrorGUID  string         `json:"errorGuid"`
	ErrorKind  Kind           `json:"errorKind"`
	ErrorName  string         `json:"errorName,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
	Stacktrace string         `json:"stacktrace,omitempty"`
}

// Encode renders err as an envelope. Redacted mode drops the stack trace and
// any extra payload (raw completions, argument dumps).
func Encode(err error, redacted bool) Envelope {
	e := Wrap(err)
	message := e.Message
	if message == "" {
		message = e.Name
	}
	env := Envelope{
		Code:    e.Code,
		Message: message,
		Data: EnvelopeData{
			ErrorGUID: e.GUID,
			ErrorKind: e.Kind,
			ErrorName: e.Name,
		},
	}
	if !redacted {
		env.Data.Extra = e.Extra
		env.Data.Stacktrace = e.Stack
	}
	return env
}

// Decode reconstructs an *Error from its wire form. The stack trace points
// at the emitting replica, not the decoder.
func Decode(env Envelope) *Error {
	name := env.Data.ErrorName
	if name == "" {
		name = "RuntimeError"
	}
	kind := env.Data.ErrorKind
	if kind == "" {
		kind = KindRuntime
	}
	return &Error{
		Code:    env.Code,
		Name:    name,
		Message: env.Message,
		Kind:    kind,
		GUID:    env.Data.ErrorGUID,
		Extra:   env.Data.Extra,
		Stack:   env.Data.Stacktrace,
	}
}

// DecodeJSON parses an envelope from raw JSON.
func DecodeJSON(raw []byte) (*Error, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return Decode(env), nil
}
