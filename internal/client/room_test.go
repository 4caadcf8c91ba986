package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tripwish/triproom/internal/testutil"
	"github.com/tripwish/triproom/internal/types"
)

// fakeWire satisfies both the registry's and the publisher's transport
// slices so one fake serves a whole RoomSync.
type fakeWire struct {
	connected bool
	frames    []*types.ClientFrame
	sendErr   error
}

func (f *fakeWire) SendFrame(frame *types.ClientFrame) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeWire) Connected() bool { return f.connected }

func (f *fakeWire) publishes() []*types.Publish {
	var out []*types.Publish
	for _, frame := range f.frames {
		if frame.Publish != nil {
			out = append(out, frame.Publish)
		}
	}
	return out
}

func newTestRoomSync(t *testing.T, wire *fakeWire) (*RoomSync, *Registry) {
	t.Helper()
	logger := testutil.TestLogger(t)
	reg := NewRegistry(wire, logger)
	pub := NewPublisher(wire, reg, logger)
	ledger := newTestLedger(t)

	rs, err := NewRoomSync("abc123", reg, pub, ledger, logger)
	require.NoError(t, err)
	return rs, reg
}

func deliver(reg *Registry, dest string, msg any) {
	body, _ := types.EncodeMessage(msg)
	reg.HandleFrame(&types.ServerFrame{Message: &types.Message{Destination: dest, Body: body}})
}

func TestRoomSync_subscribesRoomDestinations(t *testing.T) {
	wire := &fakeWire{connected: true}
	rs, reg := newTestRoomSync(t, wire)
	defer rs.Close()

	keys := reg.Keys()
	dests := make([]string, 0, len(keys))
	for _, key := range keys {
		assert.Equal(t, "abc123", key.RoomId)
		dests = append(dests, key.Destination)
	}

	assert.ElementsMatch(t, []string{
		"room/abc123/place-vote",
		"user/queue/place-vote",
		"room/abc123/travel-schedule",
		"room/abc123/place-want/add",
		"room/abc123/place-want/remove",
		"room/abc123/pin",
	}, dests)
}

func TestRoomSync_voteFlowOverBothChannels(t *testing.T) {
	wire := &fakeWire{connected: true}
	rs, reg := newTestRoomSync(t, wire)
	defer rs.Close()

	rs.SeedWants([]types.WantItem{{WantId: 42, PlaceName: "Tower", VoteCount: 3}})

	require.NoError(t, rs.CastVote(42))
	pubs := wire.publishes()
	require.Len(t, pubs, 1)
	assert.Equal(t, "app/room/abc123/place-vote", pubs[0].Destination)

	// cast in flight: repeat interaction is ignored, no second publish
	require.NoError(t, rs.CastVote(42))
	assert.Len(t, wire.publishes(), 1)

	deliver(reg, "room/abc123/place-vote", types.VoteCountMsg{
		Kind: types.KindVoteCount, RoomId: "abc123", WantId: 42, VoteCnt: 4,
	})
	deliver(reg, "user/queue/place-vote", types.VoteFlagMsg{
		Kind: types.KindVoteFlag, RoomId: "abc123", WantId: 42, IsVoted: true,
	})

	wants := rs.Wants()
	require.Len(t, wants, 1)
	assert.Equal(t, 4, wants[0].VoteCount)
	assert.True(t, wants[0].IsVotedByMe)
}

func TestRoomSync_personalQueueScopedToRoom(t *testing.T) {
	wire := &fakeWire{connected: true}
	rs, reg := newTestRoomSync(t, wire)
	defer rs.Close()

	rs.SeedWants([]types.WantItem{{WantId: 42, VoteCount: 3}})

	// the personal queue is shared across rooms; a flag for another room's
	// want must not touch this room's state
	deliver(reg, "user/queue/place-vote", types.VoteFlagMsg{
		Kind: types.KindVoteFlag, RoomId: "other", WantId: 42, IsVoted: true,
	})
	assert.False(t, rs.Votes.State(42).IsVoted)

	deliver(reg, "user/queue/place-vote", types.VoteFlagMsg{
		Kind: types.KindVoteFlag, RoomId: "abc123", WantId: 42, IsVoted: true,
	})
	assert.True(t, rs.Votes.State(42).IsVoted)
}

func TestRoomSync_castVoteFailure(t *testing.T) {
	wire := &fakeWire{connected: true}
	rs, _ := newTestRoomSync(t, wire)
	defer rs.Close()

	wire.sendErr = ErrNotConnected

	err := rs.CastVote(42)
	require.Error(t, err)

	st := rs.Votes.State(42)
	assert.False(t, st.Loading, "failed publish releases the loading guard")
	assert.NotEmpty(t, st.Err)
}

func TestRoomSync_castVoteRejectedByBroker(t *testing.T) {
	wire := &fakeWire{connected: true}
	rs, reg := newTestRoomSync(t, wire)
	defer rs.Close()

	rs.SeedWants([]types.WantItem{{WantId: 42, VoteCount: 3, IsVotedByMe: true}})
	require.NoError(t, rs.CastVote(42))
	assert.True(t, rs.Votes.State(42).Loading)

	var voteFrame *types.ClientFrame
	for _, frame := range wire.frames {
		if frame.Publish != nil {
			voteFrame = frame
		}
	}
	require.NotNil(t, voteFrame)
	require.NotZero(t, voteFrame.Id, "publishes carry a frame id so responses can be correlated")

	// an accepted response alone changes nothing; broadcasts carry the state
	reg.HandleFrame(&types.ServerFrame{Id: voteFrame.Id, Response: &types.Response{ResponseCode: 202}})
	assert.True(t, rs.Votes.State(42).Loading)

	// re-cast and let the broker reject this one; no broadcast will follow
	deliver(reg, "room/abc123/place-vote", types.VoteCountMsg{
		Kind: types.KindVoteCount, RoomId: "abc123", WantId: 42, VoteCnt: 3,
	})
	require.NoError(t, rs.CastVote(42))
	voteFrame = wire.frames[len(wire.frames)-1]
	require.NotNil(t, voteFrame.Publish)

	reg.HandleFrame(&types.ServerFrame{Id: voteFrame.Id, Response: &types.Response{
		ResponseCode: 409, Error: "vote already recorded",
	}})

	st := rs.Votes.State(42)
	assert.False(t, st.Loading, "a rejected cast must not stay in flight")
	assert.Equal(t, "vote already recorded", st.Err)
	assert.Equal(t, 3, st.Count, "rejection keeps the last known tally")
	assert.True(t, st.IsVoted)

	// the guard is released; the next cast goes out again
	before := len(wire.publishes())
	require.NoError(t, rs.CastVote(42))
	assert.Len(t, wire.publishes(), before+1)
}

func TestRoomSync_scheduleEcho(t *testing.T) {
	wire := &fakeWire{connected: true}
	rs, reg := newTestRoomSync(t, wire)
	defer rs.Close()

	require.NoError(t, rs.SubmitDayEdit(1, "2025-07-02", []types.ScheduleEvent{{WantId: 7}, {WantId: 9}}))

	// nothing local yet; the echo is the commit
	_, ok := rs.Itinerary.Day("2025-07-02")
	assert.False(t, ok)

	deliver(reg, "room/abc123/travel-schedule", types.ScheduleReplaceMsg{
		Kind: types.KindScheduleReplace, RoomId: "abc123", Day: 1, DateKey: "2025-07-02",
		Events: []types.ScheduleEvent{{WantId: 7, EventOrder: 0}, {WantId: 9, EventOrder: 1}},
	})

	events, ok := rs.Itinerary.Day("2025-07-02")
	require.True(t, ok)
	assert.Len(t, events, 2)
}

func TestRoomSync_wantAddAndRemoveBroadcasts(t *testing.T) {
	wire := &fakeWire{connected: true}
	rs, reg := newTestRoomSync(t, wire)
	defer rs.Close()

	require.NoError(t, rs.AddWant(types.WantItem{PlaceId: 100, PlaceName: "Tower"}))
	pubs := wire.publishes()
	require.Len(t, pubs, 1)
	assert.Equal(t, "app/room/abc123/place-want/add", pubs[0].Destination)

	// the intent alone changes nothing; the broadcast echo is the commit
	assert.Empty(t, rs.Wants())

	deliver(reg, "room/abc123/place-want/add", types.WantAddMsg{
		Kind: types.KindWantAdd, RoomId: "abc123",
		Want: types.WantItem{WantId: 42, PlaceName: "Tower", VoteCount: 1},
	})

	wants := rs.Wants()
	require.Len(t, wants, 1)
	assert.Equal(t, 1, wants[0].VoteCount, "add broadcast seeds the vote state")

	deliver(reg, "room/abc123/place-want/remove", types.WantRemoveMsg{
		Kind: types.KindWantRemove, RoomId: "abc123", WantId: 42,
	})
	assert.Empty(t, rs.Wants())
	assert.Equal(t, VoteState{}, rs.Votes.State(42), "vote state is dropped with the want")
}

func TestRoomSync_removeWantSuppressesStaleEchoes(t *testing.T) {
	wire := &fakeWire{connected: true}
	rs, reg := newTestRoomSync(t, wire)
	defer rs.Close()

	rs.SeedWants([]types.WantItem{{WantId: 42, PlaceName: "Tower"}})
	require.NoError(t, rs.RemoveWant(42))
	assert.Empty(t, rs.Wants(), "removed locally without waiting for the broadcast")

	// a stale add echo for the deleted id must not revive it
	deliver(reg, "room/abc123/place-want/add", types.WantAddMsg{
		Kind: types.KindWantAdd, RoomId: "abc123",
		Want: types.WantItem{WantId: 42, PlaceName: "Tower"},
	})
	assert.Empty(t, rs.Wants())

	// a stale REST snapshot is filtered the same way
	rs.SeedWants([]types.WantItem{{WantId: 42}, {WantId: 7}})
	wants := rs.Wants()
	require.Len(t, wants, 1)
	assert.Equal(t, int64(7), wants[0].WantId)
}

func TestRoomSync_pins(t *testing.T) {
	wire := &fakeWire{connected: true}
	rs, reg := newTestRoomSync(t, wire)
	defer rs.Close()

	require.NoError(t, rs.AddPin(types.Pin{Id: 5, Lat: 48.8, Lng: 2.2}))
	pubs := wire.publishes()
	require.Len(t, pubs, 1)
	assert.Equal(t, "app/room/abc123/pin/add", pubs[0].Destination)

	// pins exist only through broadcasts
	assert.Empty(t, rs.Pins())

	deliver(reg, "room/abc123/pin", types.PinMsg{
		Kind: types.KindPin, RoomId: "abc123", Action: types.PinActionAdd,
		Pin: types.Pin{Id: 5, Lat: 48.8, Lng: 2.2, OwnerId: 1},
	})
	require.Len(t, rs.Pins(), 1)

	deliver(reg, "room/abc123/pin", types.PinMsg{
		Kind: types.KindPin, RoomId: "abc123", Action: types.PinActionRemove,
		Pin: types.Pin{Id: 5},
	})
	assert.Empty(t, rs.Pins())
}

func TestRoomSync_closeLeavesOtherRoomsSubscribed(t *testing.T) {
	wire := &fakeWire{connected: true}
	logger := testutil.TestLogger(t)
	reg := NewRegistry(wire, logger)
	pub := NewPublisher(wire, reg, logger)

	rs1, err := NewRoomSync("abc123", reg, pub, newTestLedger(t), logger)
	require.NoError(t, err)
	rs2, err := NewRoomSync("zzz999", reg, pub, newTestLedger(t), logger)
	require.NoError(t, err)
	defer rs2.Close()

	rs1.Close()

	for _, key := range reg.Keys() {
		assert.Equal(t, "zzz999", key.RoomId, "closing one room must not drop the other's subscriptions")
	}
	assert.NotEmpty(t, reg.Keys())
}
