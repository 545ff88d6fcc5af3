package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Version is the protocol version carried in every frame.
const Version = "2.0"

// Request is an outbound request frame.
//
// Params is always serialised, so a nil value is sent as "params": null.
type Request struct {
	ID      string `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// FrameKind discriminates inbound frames.
type FrameKind int

// Inbound frame kinds.
const (
	FrameInvalid FrameKind = iota
	FrameResponse
	FrameNotification
)

// String returns the frame kind name for logging.
func (k FrameKind) String() string {
	switch k {
	case FrameResponse:
		return "response"
	case FrameNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Frame is one classified inbound message.
type Frame struct {
	Kind   FrameKind
	ID     string
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *RemoteError
}

// wireFrame mirrors every field an inbound frame may carry.
type wireFrame struct {
	ID      json.RawMessage `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *RemoteError    `json:"error"`
}

// EncodeRequest serialises a request frame.
func EncodeRequest(id, method string, params any) ([]byte, error) {
	data, err := json.Marshal(Request{
		ID:      id,
		JSONRPC: Version,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("jsonrpc: encoding %s request: %w", method, err)
	}
	return data, nil
}

// DecodeFrames parses one inbound message into classified frames.
//
// A message is either a single JSON object or a batch array. Elements that
// carry a non-null id are responses; elements with a method and no id are
// notifications. Invalid elements are returned as FrameInvalid so the caller
// can log them without discarding the rest of a batch. An error is returned
// only when the message is not valid JSON at all.
func DecodeFrames(data []byte) ([]Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedFrame)
	}

	if trimmed[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
		}
		frames := make([]Frame, 0, len(batch))
		for _, raw := range batch {
			frames = append(frames, decodeOne(raw))
		}
		return frames, nil
	}

	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedFrame)
	}
	return []Frame{decodeOne(trimmed)}, nil
}

// decodeOne classifies a single frame.
func decodeOne(raw json.RawMessage) Frame {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		return Frame{Kind: FrameInvalid}
	}

	if id, ok := normaliseID(w.ID); ok {
		result := w.Result
		if len(result) == 0 {
			result = json.RawMessage("null")
		}
		return Frame{
			Kind:   FrameResponse,
			ID:     id,
			Method: w.Method,
			Result: result,
			Error:  w.Error,
		}
	}

	if w.Method != "" {
		return Frame{
			Kind:   FrameNotification,
			Method: w.Method,
			Params: w.Params,
		}
	}

	return Frame{Kind: FrameInvalid}
}

// normaliseID turns a raw id into the string form used as correlation key.
// String ids are unquoted, numeric ids keep their decimal text. Absent and
// null ids report false.
func normaliseID(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", false
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10), true
	}
	return n.String(), true
}
