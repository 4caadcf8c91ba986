package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripwish/triproom/internal/testutil"
	"github.com/tripwish/triproom/internal/types"
)

type fakeTransport struct {
	connected bool
	frames    []*types.ClientFrame
	sendErr   error
}

func (f *fakeTransport) SendFrame(frame *types.ClientFrame) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeTransport) Connected() bool {
	return f.connected
}

func countFrame(wantId int64, cnt int, dest string) *types.ServerFrame {
	body, _ := types.EncodeMessage(types.VoteCountMsg{
		Kind:    types.KindVoteCount,
		RoomId:  "abc123",
		WantId:  wantId,
		VoteCnt: cnt,
	})
	return &types.ServerFrame{Message: &types.Message{Destination: dest, Body: body}}
}

func TestRegistry_subscribeIdempotent(t *testing.T) {
	ft := &fakeTransport{connected: true}
	reg := NewRegistry(ft, testutil.TestLogger(t))
	dest := types.TopicDestination("abc123", types.HandlerPlaceVote)

	var delivered []any
	sub1, err := reg.Subscribe("abc123", dest, func(msg any) { delivered = append(delivered, msg) })
	require.NoError(t, err)

	// second component subscribing to the same (room, destination) is a
	// no-op and must not create duplicate delivery
	sub2, err := reg.Subscribe("abc123", dest, func(msg any) { delivered = append(delivered, msg) })
	require.NoError(t, err)
	assert.Same(t, sub1, sub2)
	assert.Len(t, ft.frames, 1, "only one subscribe frame on the wire")

	reg.HandleFrame(countFrame(42, 4, dest))
	assert.Len(t, delivered, 1, "message delivered exactly once")

	msg, ok := delivered[0].(types.VoteCountMsg)
	require.True(t, ok, "handler receives the decoded tagged type")
	assert.Equal(t, 4, msg.VoteCnt)
}

func TestRegistry_subscribeWhileDisconnected(t *testing.T) {
	ft := &fakeTransport{connected: false}
	reg := NewRegistry(ft, testutil.TestLogger(t))
	dest := types.TopicDestination("abc123", types.HandlerPlaceVote)

	_, err := reg.Subscribe("abc123", dest, func(any) {})
	require.NoError(t, err)
	assert.Empty(t, ft.frames, "nothing on the wire while disconnected")
	assert.Len(t, reg.Keys(), 1, "subscription stays desired")

	// reconnect restores the full set
	ft.connected = true
	reg.ResubscribeAll()
	require.Len(t, ft.frames, 1)
	assert.Equal(t, dest, ft.frames[0].Subscribe.Destination)
}

func TestRegistry_invalidDestinations(t *testing.T) {
	reg := NewRegistry(&fakeTransport{}, testutil.TestLogger(t))

	tcases := []struct {
		name   string
		roomId string
		dest   string
	}{
		{name: "empty room id", roomId: "", dest: "room/abc123/place-vote"},
		{name: "empty destination", roomId: "abc123", dest: ""},
		{name: "whitespace", roomId: "abc123", dest: "room/abc123/place vote"},
		{name: "not a topic", roomId: "abc123", dest: "bogus/abc123/place-vote"},
		{name: "different room", roomId: "abc123", dest: "room/other/place-vote"},
		{name: "unknown queue", roomId: "abc123", dest: "user/queue/travel-schedule"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Subscribe(tc.roomId, tc.dest, func(any) {})
			require.Error(t, err)

			var destErr *InvalidDestinationError
			assert.ErrorAs(t, err, &destErr)
		})
	}

	assert.Empty(t, reg.Keys(), "rejected subscriptions leave no state behind")
}

func TestRegistry_queueDestinationAllowed(t *testing.T) {
	reg := NewRegistry(&fakeTransport{connected: true}, testutil.TestLogger(t))

	_, err := reg.Subscribe("abc123", types.QueueDestination(types.HandlerPlaceVote), func(any) {})
	assert.NoError(t, err, "personal queues are not room-scoped but still key by room")
}

func TestRegistry_unsubscribeOnlyNamedKeys(t *testing.T) {
	ft := &fakeTransport{connected: true}
	reg := NewRegistry(ft, testutil.TestLogger(t))

	voteDest := types.TopicDestination("abc123", types.HandlerPlaceVote)
	schedDest := types.TopicDestination("abc123", types.HandlerTravelSchedule)

	voteSub, err := reg.Subscribe("abc123", voteDest, func(any) {})
	require.NoError(t, err)
	_, err = reg.Subscribe("abc123", schedDest, func(any) {})
	require.NoError(t, err)

	reg.Unsubscribe(voteSub.Key)

	keys := reg.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, schedDest, keys[0].Destination, "other subscriptions untouched")

	last := ft.frames[len(ft.frames)-1]
	require.NotNil(t, last.Unsubscribe)
	assert.Equal(t, voteDest, last.Unsubscribe.Destination)

	// double unsubscribe is a no-op
	framesBefore := len(ft.frames)
	reg.Unsubscribe(voteSub.Key)
	assert.Len(t, ft.frames, framesBefore)
}

func TestRegistry_handleFrameRouting(t *testing.T) {
	reg := NewRegistry(&fakeTransport{connected: true}, testutil.TestLogger(t))

	voteDest := types.TopicDestination("abc123", types.HandlerPlaceVote)
	otherDest := types.TopicDestination("zzz999", types.HandlerPlaceVote)

	var got []any
	_, err := reg.Subscribe("abc123", voteDest, func(msg any) { got = append(got, msg) })
	require.NoError(t, err)

	// frame for an unsubscribed destination is dropped
	reg.HandleFrame(countFrame(1, 1, otherDest))
	assert.Empty(t, got)

	// untracked response frames go nowhere
	reg.HandleFrame(&types.ServerFrame{Id: 3, Response: &types.Response{ResponseCode: 200}})
	assert.Empty(t, got)

	// undecodable bodies are dropped, not delivered raw
	reg.HandleFrame(&types.ServerFrame{Message: &types.Message{Destination: voteDest, Body: []byte(`{"kind":"bogus"}`)}})
	assert.Empty(t, got)

	reg.HandleFrame(countFrame(42, 5, voteDest))
	require.Len(t, got, 1)
}

func TestRegistry_responseCorrelation(t *testing.T) {
	reg := NewRegistry(&fakeTransport{connected: true}, testutil.TestLogger(t))

	var got []*types.Response
	reg.trackResponse(7, func(resp *types.Response) { got = append(got, resp) })

	// responses for other frame ids leave the tracked entry alone
	reg.HandleFrame(&types.ServerFrame{Id: 3, Response: &types.Response{ResponseCode: 200}})
	assert.Empty(t, got)

	reg.HandleFrame(&types.ServerFrame{Id: 7, Response: &types.Response{ResponseCode: 409, Error: "vote already recorded"}})
	require.Len(t, got, 1)
	assert.Equal(t, 409, got[0].ResponseCode)

	// a handler fires at most once
	reg.HandleFrame(&types.ServerFrame{Id: 7, Response: &types.Response{ResponseCode: 409}})
	assert.Len(t, got, 1)

	// dropped entries never fire
	reg.trackResponse(9, func(resp *types.Response) { got = append(got, resp) })
	reg.dropResponse(9)
	reg.HandleFrame(&types.ServerFrame{Id: 9, Response: &types.Response{ResponseCode: 500, Error: "boom"}})
	assert.Len(t, got, 1)
}
