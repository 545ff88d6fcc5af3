package snapcast

import (
	"encoding/json"
	"fmt"

	"github.com/snapdog2/snapdog-core/internal/jsonrpc"
)

// Subject kinds reported by Event.Subject.
const (
	KindClient = "client"
	KindGroup  = "group"
	KindStream = "stream"
	KindServer = "server"
)

// Event is a decoded server notification.
type Event interface {
	// Method returns the notification method name.
	Method() string
	// Subject returns the kind and id of the entity the event is about.
	// Server-wide events return KindServer and an empty id.
	Subject() (kind, id string)
}

// ClientVolumeChanged is sent when a client's volume or mute changes.
type ClientVolumeChanged struct {
	ClientID string `json:"id"`
	Volume   Volume `json:"volume"`
}

// ClientConnected is sent when a snapclient connects.
type ClientConnected struct {
	ClientID string `json:"id"`
	Client   Client `json:"client"`
}

// ClientDisconnected is sent when a snapclient disconnects.
type ClientDisconnected struct {
	ClientID string `json:"id"`
	Client   Client `json:"client"`
}

// ClientLatencyChanged is sent when a client's latency changes.
type ClientLatencyChanged struct {
	ClientID string `json:"id"`
	Latency  int    `json:"latency"`
}

// ClientNameChanged is sent when a client is renamed.
type ClientNameChanged struct {
	ClientID string `json:"id"`
	Name     string `json:"name"`
}

// GroupMuteChanged is sent when a group is muted or unmuted.
type GroupMuteChanged struct {
	GroupID string `json:"id"`
	Mute    bool   `json:"mute"`
}

// GroupStreamChanged is sent when a group switches stream.
type GroupStreamChanged struct {
	GroupID  string `json:"id"`
	StreamID string `json:"stream_id"`
}

// GroupNameChanged is sent when a group is renamed.
type GroupNameChanged struct {
	GroupID string `json:"id"`
	Name    string `json:"name"`
}

// StreamUpdated is sent when a stream's status or metadata changes.
type StreamUpdated struct {
	StreamID string `json:"id"`
	Stream   Stream `json:"stream"`
}

// ServerUpdated carries the full server state after a structural change.
type ServerUpdated struct {
	Server Server `json:"server"`
}

func (ClientVolumeChanged) Method() string  { return NotifyClientVolumeChanged }
func (ClientConnected) Method() string      { return NotifyClientConnect }
func (ClientDisconnected) Method() string   { return NotifyClientDisconnect }
func (ClientLatencyChanged) Method() string { return NotifyClientLatencyChanged }
func (ClientNameChanged) Method() string    { return NotifyClientNameChanged }
func (GroupMuteChanged) Method() string     { return NotifyGroupMute }
func (GroupStreamChanged) Method() string   { return NotifyGroupStreamChanged }
func (GroupNameChanged) Method() string     { return NotifyGroupNameChanged }
func (StreamUpdated) Method() string        { return NotifyStreamUpdate }
func (ServerUpdated) Method() string        { return NotifyServerUpdate }

func (e ClientVolumeChanged) Subject() (string, string)  { return KindClient, e.ClientID }
func (e ClientConnected) Subject() (string, string)      { return KindClient, e.ClientID }
func (e ClientDisconnected) Subject() (string, string)   { return KindClient, e.ClientID }
func (e ClientLatencyChanged) Subject() (string, string) { return KindClient, e.ClientID }
func (e ClientNameChanged) Subject() (string, string)    { return KindClient, e.ClientID }
func (e GroupMuteChanged) Subject() (string, string)     { return KindGroup, e.GroupID }
func (e GroupStreamChanged) Subject() (string, string)   { return KindGroup, e.GroupID }
func (e GroupNameChanged) Subject() (string, string)     { return KindGroup, e.GroupID }
func (e StreamUpdated) Subject() (string, string)        { return KindStream, e.StreamID }
func (ServerUpdated) Subject() (string, string)          { return KindServer, "" }

var decoders = map[string]func(json.RawMessage) (Event, error){
	NotifyClientVolumeChanged:  decodeAs[ClientVolumeChanged],
	NotifyClientConnect:        decodeAs[ClientConnected],
	NotifyClientDisconnect:     decodeAs[ClientDisconnected],
	NotifyClientLatencyChanged: decodeAs[ClientLatencyChanged],
	NotifyClientNameChanged:    decodeAs[ClientNameChanged],
	NotifyGroupMute:            decodeAs[GroupMuteChanged],
	NotifyGroupStreamChanged:   decodeAs[GroupStreamChanged],
	NotifyGroupNameChanged:     decodeAs[GroupNameChanged],
	NotifyStreamUpdate:         decodeAs[StreamUpdated],
	NotifyServerUpdate:         decodeAs[ServerUpdated],
}

// decodeAs unmarshals params into E. Entity events must name their subject.
func decodeAs[E Event](params json.RawMessage) (Event, error) {
	var e E
	if len(params) == 0 || string(params) == "null" {
		return nil, fmt.Errorf("%w: missing params", ErrInvalidNotification)
	}
	if err := json.Unmarshal(params, &e); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidNotification, err)
	}
	if kind, id := e.Subject(); kind != KindServer && id == "" {
		return nil, fmt.Errorf("%w: missing %s id", ErrInvalidNotification, kind)
	}
	return e, nil
}

// DecodeNotification turns a raw notification into a typed Event.
func DecodeNotification(method string, params json.RawMessage) (Event, error) {
	decode, ok := decoders[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNotification, method)
	}
	ev, err := decode(params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return ev, nil
}

// NotificationHandler adapts fn to a jsonrpc.NotificationHandler. Frames
// that fail to decode go to onError, which may be nil.
func NotificationHandler(fn func(Event), onError func(method string, err error)) jsonrpc.NotificationHandler {
	return func(method string, params json.RawMessage) {
		ev, err := DecodeNotification(method, params)
		if err != nil {
			if onError != nil {
				onError(method, err)
			}
			return
		}
		fn(ev)
	}
}
