package jsonrpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// Caller sends a request and returns its raw result. *Client implements it.
type Caller interface {
	SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Ensure Client implements Caller.
var _ Caller = (*Client)(nil)

// Call sends a request through c and decodes the result into T.
//
// A result that does not decode into T is reported with the method name;
// every other failure is returned unchanged.
func Call[T any](ctx context.Context, c Caller, method string, params any) (T, error) {
	var out T

	raw, err := c.SendRequest(ctx, method, params)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("jsonrpc: decoding %s result: %w", method, err)
	}
	return out, nil
}
