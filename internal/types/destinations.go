package types

import (
	"fmt"
	"strings"
)

// Destinations are room-scoped strings of the form
//
//	room/{roomId}/{handler}[/{action}]   broadcast topics
//	user/queue/{handler}                 personal queue, receiver-scoped
//	app/room/{roomId}/{handler}[/...]    client -> server intents
//
// Handler names mirror the product features: place-vote, travel-schedule,
// place-want, pin.

const (
	HandlerPlaceVote      = "place-vote"
	HandlerTravelSchedule = "travel-schedule"
	HandlerPlaceWant      = "place-want"
	HandlerPin            = "pin"

	topicPrefix = "room/"
	queuePrefix = "user/queue/"
	appPrefix   = "app/room/"
)

// TopicDestination builds a room broadcast destination. The action segment
// is omitted when empty.
func TopicDestination(roomId, handler string, action ...string) string {
	if len(action) > 0 && action[0] != "" {
		return fmt.Sprintf("%s%s/%s/%s", topicPrefix, roomId, handler, action[0])
	}
	return fmt.Sprintf("%s%s/%s", topicPrefix, roomId, handler)
}

// QueueDestination builds a personal queue destination. Personal queues are
// not room-scoped; the broker delivers them to the receiver's sessions only.
func QueueDestination(handler string) string {
	return queuePrefix + handler
}

// AppDestination builds a publish destination for a client intent.
func AppDestination(roomId, handler string, action ...string) string {
	if len(action) > 0 && action[0] != "" {
		return fmt.Sprintf("%s%s/%s/%s", appPrefix, roomId, handler, action[0])
	}
	return fmt.Sprintf("%s%s/%s", appPrefix, roomId, handler)
}

// IsQueueDestination reports whether dest addresses a personal queue.
func IsQueueDestination(dest string) bool {
	return strings.HasPrefix(dest, queuePrefix)
}

// ValidQueueDestination reports whether dest names a personal queue the
// broker actually serves. Only vote flags flow over personal queues.
func ValidQueueDestination(dest string) bool {
	rest, ok := strings.CutPrefix(dest, queuePrefix)
	return ok && rest == HandlerPlaceVote
}

// ParseTopicDestination splits a broadcast destination into its room id and
// handler path ("place-want/add", "travel-schedule", ...).
func ParseTopicDestination(dest string) (roomId, handler string, err error) {
	rest, ok := strings.CutPrefix(dest, topicPrefix)
	if !ok {
		return "", "", fmt.Errorf("not a topic destination: %q", dest)
	}
	roomId, handler, ok = strings.Cut(rest, "/")
	if !ok || roomId == "" || handler == "" {
		return "", "", fmt.Errorf("malformed topic destination: %q", dest)
	}
	return roomId, handler, nil
}

// ParseAppDestination splits a publish destination into its room id and
// handler path.
func ParseAppDestination(dest string) (roomId, handler string, err error) {
	rest, ok := strings.CutPrefix(dest, appPrefix)
	if !ok {
		return "", "", fmt.Errorf("not an app destination: %q", dest)
	}
	roomId, handler, ok = strings.Cut(rest, "/")
	if !ok || roomId == "" || handler == "" {
		return "", "", fmt.Errorf("malformed app destination: %q", dest)
	}
	return roomId, handler, nil
}
