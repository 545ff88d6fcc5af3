package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root used when none is configured.
const DefaultTopicPrefix = "snapdog"

// Protocol segment used by every Snapcast topic.
const protocolSnapcast = "snapcast"

// Topics provides builders for SnapDog MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
// Every topic follows the flat scheme {prefix}/{category}/{protocol}/...:
//
//	topics := mqtt.NewTopics("snapdog")
//	topics.SnapcastState("client", "00:11:22:33:44:55")
//	// Returns: "snapdog/state/snapcast/client/00:11:22:33:44:55"
type Topics struct {
	prefix string
}

// NewTopics returns builders rooted at prefix. Surrounding slashes are
// trimmed and an empty prefix falls back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic root.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the Core online/offline topic (also the LWT topic).
//
// Example: snapdog/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.Prefix())
}

// =============================================================================
// Snapcast Topics
// =============================================================================

// SnapcastState returns the retained state topic for one Snapcast entity.
//
// Example: snapdog/state/snapcast/group/4dcc4e3b
func (t Topics) SnapcastState(kind, id string) string {
	return fmt.Sprintf("%s/state/%s/%s/%s", t.Prefix(), protocolSnapcast, kind, id)
}

// SnapcastEvent returns the topic a raw server notification is mirrored to.
//
// Example: snapdog/event/snapcast/Client.OnVolumeChanged
func (t Topics) SnapcastEvent(method string) string {
	return fmt.Sprintf("%s/event/%s/%s", t.Prefix(), protocolSnapcast, method)
}

// SnapcastHealth returns the retained control-connection health topic.
//
// Example: snapdog/health/snapcast
func (t Topics) SnapcastHealth() string {
	return fmt.Sprintf("%s/health/%s", t.Prefix(), protocolSnapcast)
}

// SnapcastCommand returns the command topic for one property of an entity.
//
// Example: snapdog/command/snapcast/client/00:11:22:33:44:55/volume
func (t Topics) SnapcastCommand(kind, id, property string) string {
	return fmt.Sprintf("%s/command/%s/%s/%s/%s", t.Prefix(), protocolSnapcast, kind, id, property)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllSnapcastCommands returns a pattern matching every Snapcast command.
//
// Pattern: snapdog/command/snapcast/#
func (t Topics) AllSnapcastCommands() string {
	return fmt.Sprintf("%s/command/%s/#", t.Prefix(), protocolSnapcast)
}

// AllSnapcastStates returns a pattern matching every Snapcast state topic.
// The bridge subscribes to it briefly at startup to find stale retained state.
//
// Pattern: snapdog/state/snapcast/+/+
func (t Topics) AllSnapcastStates() string {
	return fmt.Sprintf("%s/state/%s/+/+", t.Prefix(), protocolSnapcast)
}

// =============================================================================
// Parsing
// =============================================================================

// CommandTarget is a command topic split into its parts.
type CommandTarget struct {
	Kind     string
	ID       string
	Property string
}

// ParseSnapcastCommand splits a command topic built by SnapcastCommand.
// It reports false for topics outside this prefix or with the wrong shape.
// Snapcast client ids are MAC addresses, so ids never contain a slash.
func (t Topics) ParseSnapcastCommand(topic string) (CommandTarget, bool) {
	root := fmt.Sprintf("%s/command/%s/", t.Prefix(), protocolSnapcast)
	rest, ok := strings.CutPrefix(topic, root)
	if !ok {
		return CommandTarget{}, false
	}

	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return CommandTarget{}, false
	}
	for _, p := range parts {
		if p == "" {
			return CommandTarget{}, false
		}
	}
	return CommandTarget{Kind: parts[0], ID: parts[1], Property: parts[2]}, true
}

// ParseSnapcastState splits a state topic built by SnapcastState into its
// entity kind and id.
func (t Topics) ParseSnapcastState(topic string) (kind, id string, ok bool) {
	root := fmt.Sprintf("%s/state/%s/", t.Prefix(), protocolSnapcast)
	rest, found := strings.CutPrefix(topic, root)
	if !found {
		return "", "", false
	}

	kind, id, found = strings.Cut(rest, "/")
	if !found || kind == "" || id == "" || strings.Contains(id, "/") {
		return "", "", false
	}
	return kind, id, true
}
