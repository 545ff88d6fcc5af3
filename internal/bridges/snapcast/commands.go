package snapcast

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/snapdog2/snapdog-core/internal/infrastructure/mqtt"
	snapapi "github.com/snapdog2/snapdog-core/internal/snapcast"
)

// Command properties per entity kind.
const (
	propVolume  = "volume"
	propMute    = "mute"
	propLatency = "latency"
	propName    = "name"
	propStream  = "stream"
	propClients = "clients"
	propDelete  = "delete"
)

// commandAction performs one parsed command against the server.
type commandAction func(ctx context.Context) error

// handleMQTTMessage queues a command for the command worker. It runs on the
// MQTT client's delivery goroutine, which must not block on a publish.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) error {
	target, ok := b.topics.ParseSnapcastCommand(topic)
	if !ok {
		return fmt.Errorf("%w: topic %s", ErrInvalidCommand, topic)
	}
	b.metrics.commandsReceived.Add(1)

	select {
	case b.commands <- command{target: target, payload: payload}:
		return nil
	default:
		b.metrics.commandsThrottled.Add(1)
		return fmt.Errorf("%w: command queue full, dropped %s", ErrThrottled, topic)
	}
}

// runCommands executes queued commands in arrival order.
func (b *Bridge) runCommands() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case cmd := <-b.commands:
			if err := b.executeCommand(cmd); err != nil {
				b.metrics.commandsFailed.Add(1)
				b.logWarn("command failed",
					"kind", cmd.target.Kind,
					"id", cmd.target.ID,
					"property", cmd.target.Property,
					"error", err)
			}
		}
	}
}

// executeCommand parses, throttles and runs one command. The wait for a
// rate-limit token counts against the command timeout.
func (b *Bridge) executeCommand(cmd command) error {
	action, err := b.parseCommand(cmd.target, cmd.payload)
	if err != nil {
		return err
	}

	// Derive timeout from bridge context so commands are cancelled on shutdown
	ctx, cancel := context.WithTimeout(b.ctx, b.commandTimeout)
	defer cancel()

	if err := b.limiter.Wait(ctx); err != nil {
		b.metrics.commandsThrottled.Add(1)
		return fmt.Errorf("%w: %w", ErrThrottled, err)
	}

	b.logDebug("executing command",
		"kind", cmd.target.Kind,
		"id", cmd.target.ID,
		"property", cmd.target.Property)
	return action(ctx)
}

// parseCommand validates a command and returns the action that runs it.
func (b *Bridge) parseCommand(t mqtt.CommandTarget, payload []byte) (commandAction, error) {
	switch t.Kind {
	case snapapi.KindClient:
		return b.parseClientCommand(t.ID, t.Property, payload)
	case snapapi.KindGroup:
		return b.parseGroupCommand(t.ID, t.Property, payload)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidCommand, t.Kind)
	}
}

func (b *Bridge) parseClientCommand(id, property string, payload []byte) (commandAction, error) {
	switch property {
	case propVolume:
		percent, err := parseVolume(payload)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			vol, err := b.controller.SetClientVolume(ctx, id, percent)
			if err != nil {
				return err
			}
			b.applyClientVolume(id, vol)
			return nil
		}, nil

	case propMute:
		muted, toggle, err := parseMute(payload)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			if toggle {
				state, ok := b.cache.client(id)
				if !ok {
					return fmt.Errorf("%w: client %s", ErrUnknownEntity, id)
				}
				muted = !state.Muted
			}
			vol, err := b.controller.SetClientMute(ctx, id, muted)
			if err != nil {
				return err
			}
			b.applyClientVolume(id, vol)
			return nil
		}, nil

	case propLatency:
		latency, err := strconv.Atoi(textPayload(payload))
		if err != nil || latency < 0 {
			return nil, fmt.Errorf("%w: latency must be a non-negative integer", ErrInvalidPayload)
		}
		return func(ctx context.Context) error {
			got, err := b.controller.SetClientLatency(ctx, id, latency)
			if err != nil {
				return err
			}
			b.setClient(id, func(s *ClientState) { s.Latency = got })
			return nil
		}, nil

	case propName:
		name := textPayload(payload)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidPayload)
		}
		return func(ctx context.Context) error {
			got, err := b.controller.SetClientName(ctx, id, name)
			if err != nil {
				return err
			}
			b.setClient(id, func(s *ClientState) { s.Name = got })
			return nil
		}, nil

	case propDelete:
		// The server only removes disconnected clients; the payload is ignored.
		return func(ctx context.Context) error {
			server, err := b.controller.DeleteClient(ctx, id)
			if err != nil {
				return err
			}
			b.applyServer(server)
			return nil
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown client property %q", ErrInvalidCommand, property)
	}
}

func (b *Bridge) parseGroupCommand(id, property string, payload []byte) (commandAction, error) {
	switch property {
	case propMute:
		muted, toggle, err := parseMute(payload)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			if toggle {
				state, ok := b.cache.group(id)
				if !ok {
					return fmt.Errorf("%w: group %s", ErrUnknownEntity, id)
				}
				muted = !state.Muted
			}
			got, err := b.controller.SetGroupMute(ctx, id, muted)
			if err != nil {
				return err
			}
			b.setGroup(id, func(s *GroupState) { s.Muted = got })
			return nil
		}, nil

	case propStream:
		streamID := textPayload(payload)
		if streamID == "" {
			return nil, fmt.Errorf("%w: stream id cannot be empty", ErrInvalidPayload)
		}
		return func(ctx context.Context) error {
			got, err := b.controller.SetGroupStream(ctx, id, streamID)
			if err != nil {
				return err
			}
			b.setGroup(id, func(s *GroupState) { s.StreamID = got })
			return nil
		}, nil

	case propName:
		name := textPayload(payload)
		if name == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", ErrInvalidPayload)
		}
		return func(ctx context.Context) error {
			got, err := b.controller.SetGroupName(ctx, id, name)
			if err != nil {
				return err
			}
			b.setGroup(id, func(s *GroupState) { s.Name = got })
			return nil
		}, nil

	case propClients:
		var clientIDs []string
		if err := json.Unmarshal(payload, &clientIDs); err != nil {
			return nil, fmt.Errorf("%w: clients must be a JSON array of ids", ErrInvalidPayload)
		}
		return func(ctx context.Context) error {
			server, err := b.controller.SetGroupClients(ctx, id, clientIDs)
			if err != nil {
				return err
			}
			b.applyServer(server)
			return nil
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown group property %q", ErrInvalidCommand, property)
	}
}

// textPayload returns a trimmed payload, unquoting a JSON string.
func textPayload(payload []byte) string {
	text := strings.TrimSpace(string(payload))
	if strings.HasPrefix(text, `"`) {
		var s string
		if err := json.Unmarshal([]byte(text), &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return text
}

// parseVolume accepts an integer or decimal percentage in 0-100.
func parseVolume(payload []byte) (int, error) {
	v, err := strconv.ParseFloat(textPayload(payload), 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 100 {
		return 0, fmt.Errorf("%w: volume must be a number between 0 and 100", ErrInvalidPayload)
	}
	return int(math.Round(v)), nil
}

// parseMute accepts true|false|on|off|1|0, or toggle.
func parseMute(payload []byte) (muted, toggle bool, err error) {
	switch strings.ToLower(textPayload(payload)) {
	case "true", "on", "1":
		return true, false, nil
	case "false", "off", "0":
		return false, false, nil
	case "toggle":
		return false, true, nil
	default:
		return false, false, fmt.Errorf("%w: mute must be true, false, on, off, 1, 0 or toggle", ErrInvalidPayload)
	}
}
