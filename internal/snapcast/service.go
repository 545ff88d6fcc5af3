package snapcast

import (
	"context"
	"fmt"

	"github.com/snapdog2/snapdog-core/internal/jsonrpc"
)

// Service is the typed Snapcast control API.
//
// Errors from the JSON-RPC layer are wrapped with the method name and stay
// matchable with errors.Is (jsonrpc.ErrConnection, jsonrpc.ErrTimeout, ...).
type Service struct {
	caller jsonrpc.Caller
}

// NewService creates a service that sends requests through caller.
func NewService(caller jsonrpc.Caller) *Service {
	return &Service{caller: caller}
}

// volumeParams allows setting percent and mute independently.
type volumeParams struct {
	Muted   *bool `json:"muted,omitempty"`
	Percent *int  `json:"percent,omitempty"`
}

type clientVolumeParams struct {
	ID     string       `json:"id"`
	Volume volumeParams `json:"volume"`
}

type volumeResult struct {
	Volume Volume `json:"volume"`
}

type idParams struct {
	ID string `json:"id"`
}

type latencyParams struct {
	ID      string `json:"id"`
	Latency int    `json:"latency"`
}

type nameParams struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type muteParams struct {
	ID   string `json:"id"`
	Mute bool   `json:"mute"`
}

type streamParams struct {
	ID       string `json:"id"`
	StreamID string `json:"stream_id"`
}

type clientsParams struct {
	ID      string   `json:"id"`
	Clients []string `json:"clients"`
}

// call sends method and decodes its result into T.
func call[T any](ctx context.Context, s *Service, method string, params any) (T, error) {
	out, err := jsonrpc.Call[T](ctx, s.caller, method, params)
	if err != nil {
		return out, fmt.Errorf("snapcast: %s: %w", method, err)
	}
	return out, nil
}

// GetStatus returns the full server state.
func (s *Service) GetStatus(ctx context.Context) (Server, error) {
	status, err := call[Status](ctx, s, MethodServerGetStatus, nil)
	return status.Server, err
}

// GetRPCVersion returns the control protocol version.
func (s *Service) GetRPCVersion(ctx context.Context) (RPCVersion, error) {
	return call[RPCVersion](ctx, s, MethodServerGetRPCVersion, nil)
}

// SetClientVolume sets a client's volume percent, leaving mute unchanged.
func (s *Service) SetClientVolume(ctx context.Context, clientID string, percent int) (Volume, error) {
	if clientID == "" {
		return Volume{}, ErrInvalidID
	}
	if percent < 0 || percent > 100 {
		return Volume{}, fmt.Errorf("%w: got %d", ErrInvalidVolume, percent)
	}

	res, err := call[volumeResult](ctx, s, MethodClientSetVolume, clientVolumeParams{
		ID:     clientID,
		Volume: volumeParams{Percent: &percent},
	})
	return res.Volume, err
}

// SetClientMute mutes or unmutes a client, leaving the percent unchanged.
func (s *Service) SetClientMute(ctx context.Context, clientID string, muted bool) (Volume, error) {
	if clientID == "" {
		return Volume{}, ErrInvalidID
	}

	res, err := call[volumeResult](ctx, s, MethodClientSetVolume, clientVolumeParams{
		ID:     clientID,
		Volume: volumeParams{Muted: &muted},
	})
	return res.Volume, err
}

// SetClientLatency sets a client's latency in milliseconds.
func (s *Service) SetClientLatency(ctx context.Context, clientID string, latency int) (int, error) {
	if clientID == "" {
		return 0, ErrInvalidID
	}
	if latency < 0 {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidLatency, latency)
	}

	res, err := call[struct {
		Latency int `json:"latency"`
	}](ctx, s, MethodClientSetLatency, latencyParams{ID: clientID, Latency: latency})
	return res.Latency, err
}

// SetClientName renames a client.
func (s *Service) SetClientName(ctx context.Context, clientID, name string) (string, error) {
	if clientID == "" {
		return "", ErrInvalidID
	}

	res, err := call[struct {
		Name string `json:"name"`
	}](ctx, s, MethodClientSetName, nameParams{ID: clientID, Name: name})
	return res.Name, err
}

// SetGroupMute mutes or unmutes a whole group.
func (s *Service) SetGroupMute(ctx context.Context, groupID string, muted bool) (bool, error) {
	if groupID == "" {
		return false, ErrInvalidID
	}

	res, err := call[struct {
		Mute bool `json:"mute"`
	}](ctx, s, MethodGroupSetMute, muteParams{ID: groupID, Mute: muted})
	return res.Mute, err
}

// SetGroupStream switches the stream a group plays.
func (s *Service) SetGroupStream(ctx context.Context, groupID, streamID string) (string, error) {
	if groupID == "" || streamID == "" {
		return "", ErrInvalidID
	}

	res, err := call[struct {
		StreamID string `json:"stream_id"`
	}](ctx, s, MethodGroupSetStream, streamParams{ID: groupID, StreamID: streamID})
	return res.StreamID, err
}

// SetGroupClients sets the members of a group and returns the new server state.
func (s *Service) SetGroupClients(ctx context.Context, groupID string, clientIDs []string) (Server, error) {
	if groupID == "" {
		return Server{}, ErrInvalidID
	}
	if clientIDs == nil {
		clientIDs = []string{}
	}

	res, err := call[Status](ctx, s, MethodGroupSetClients, clientsParams{ID: groupID, Clients: clientIDs})
	return res.Server, err
}

// SetGroupName renames a group.
func (s *Service) SetGroupName(ctx context.Context, groupID, name string) (string, error) {
	if groupID == "" {
		return "", ErrInvalidID
	}

	res, err := call[struct {
		Name string `json:"name"`
	}](ctx, s, MethodGroupSetName, nameParams{ID: groupID, Name: name})
	return res.Name, err
}

// DeleteClient removes a disconnected client from the server and returns
// the new server state.
func (s *Service) DeleteClient(ctx context.Context, clientID string) (Server, error) {
	if clientID == "" {
		return Server{}, ErrInvalidID
	}

	res, err := call[Status](ctx, s, MethodServerDeleteClient, idParams{ID: clientID})
	return res.Server, err
}
