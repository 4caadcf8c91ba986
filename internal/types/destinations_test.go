package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicDestination(t *testing.T) {
	assert.Equal(t, "room/abc123/place-vote", TopicDestination("abc123", HandlerPlaceVote))
	assert.Equal(t, "room/abc123/place-want/add", TopicDestination("abc123", HandlerPlaceWant, "add"))
}

func TestQueueDestination(t *testing.T) {
	assert.Equal(t, "user/queue/place-vote", QueueDestination(HandlerPlaceVote))
	assert.True(t, IsQueueDestination(QueueDestination(HandlerPlaceVote)))
	assert.False(t, IsQueueDestination(TopicDestination("abc123", HandlerPlaceVote)))

	assert.True(t, ValidQueueDestination("user/queue/place-vote"))
	assert.False(t, ValidQueueDestination("user/queue/shell"))
	assert.False(t, ValidQueueDestination("user/queue/"))
	assert.False(t, ValidQueueDestination(TopicDestination("abc123", HandlerPlaceVote)))
}

func TestAppDestination(t *testing.T) {
	assert.Equal(t, "app/room/abc123/travel-schedule", AppDestination("abc123", HandlerTravelSchedule))
	assert.Equal(t, "app/room/abc123/pin/add", AppDestination("abc123", HandlerPin, "add"))
}

func TestParseTopicDestination(t *testing.T) {
	tcases := []struct {
		name            string
		dest            string
		expectedRoom    string
		expectedHandler string
		err             bool
	}{
		{
			name:            "plain handler",
			dest:            "room/abc123/travel-schedule",
			expectedRoom:    "abc123",
			expectedHandler: "travel-schedule",
		},
		{
			name:            "handler with action",
			dest:            "room/abc123/place-want/add",
			expectedRoom:    "abc123",
			expectedHandler: "place-want/add",
		},
		{
			name: "queue destination",
			dest: "user/queue/place-vote",
			err:  true,
		},
		{
			name: "missing handler",
			dest: "room/abc123",
			err:  true,
		},
		{
			name: "empty",
			dest: "",
			err:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			roomId, handler, err := ParseTopicDestination(tc.dest)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedRoom, roomId)
			assert.Equal(t, tc.expectedHandler, handler)
		})
	}
}

func TestParseAppDestination(t *testing.T) {
	roomId, handler, err := ParseAppDestination("app/room/abc123/place-want/remove")
	require.NoError(t, err)
	assert.Equal(t, "abc123", roomId)
	assert.Equal(t, "place-want/remove", handler)

	_, _, err = ParseAppDestination("room/abc123/place-vote")
	assert.Error(t, err, "topic destination is not an app destination")
}
