package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes. Datapoint addresses are embedded verbatim after the
// category, so "hvac/pump-1/relay" becomes graylogic/command/hvac/pump-1/relay.
const (
	TopicPrefix       = "graylogic"
	TopicPrefixCore   = "graylogic/core"
	TopicPrefixSystem = "graylogic/system"

	commandCategory = "command"
	stateCategory   = "state"
)

// Topics provides builders for the service's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Command("hvac/pump-1/relay") // graylogic/command/hvac/pump-1/relay
type Topics struct{}

// Command returns the topic a datapoint write is published to.
func (Topics) Command(target string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, commandCategory, target)
}

// State returns the topic a datapoint reports its value on.
func (Topics) State(target string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, stateCategory, target)
}

// AllStates matches every datapoint state topic.
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/%s/#", TopicPrefix, stateCategory)
}

// ChainEvent returns the topic for virtual device run events.
//
// Example: graylogic/core/vdev/pump-1/settled
func (Topics) ChainEvent(deviceID, event string) string {
	return fmt.Sprintf("%s/vdev/%s/%s", TopicPrefixCore, deviceID, event)
}

// SystemStatus returns the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// StateTarget extracts the datapoint address from a state topic.
// It returns false for topics outside graylogic/state/.
func (Topics) StateTarget(topic string) (string, bool) {
	target, ok := strings.CutPrefix(topic, TopicPrefix+"/"+stateCategory+"/")
	if !ok || target == "" {
		return "", false
	}
	return target, true
}

// ValidateTarget checks that a datapoint address can be embedded in a topic:
// non-empty, no wildcards, no NUL, no empty levels.
func ValidateTarget(target string) error {
	switch {
	case target == "":
		return fmt.Errorf("%w: empty target", ErrInvalidTopic)
	case strings.ContainsAny(target, "+#\x00"):
		return fmt.Errorf("%w: target %q contains a wildcard or NUL", ErrInvalidTopic, target)
	case strings.HasPrefix(target, "/") || strings.HasSuffix(target, "/") || strings.Contains(target, "//"):
		return fmt.Errorf("%w: target %q has an empty topic level", ErrInvalidTopic, target)
	}
	return nil
}
