package server

import (
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tripwish/triproom/internal/database"
	"github.com/tripwish/triproom/internal/stats"
	"github.com/tripwish/triproom/internal/testutil"
	"github.com/tripwish/triproom/internal/types"
)

func newMockStats() *stats.MockStatsUpdater {
	ms := &stats.MockStatsUpdater{}
	ms.On("RegisterMetric", mock.AnythingOfType("string"))
	ms.On("Incr", mock.AnythingOfType("string"))
	ms.On("Decr", mock.AnythingOfType("string"))
	return ms
}

// newTestRoom wires a room to a mock repository without starting the room
// loop; handlers are invoked directly for deterministic assertions.
func newTestRoom(t *testing.T) (*Room, *database.MockTripRepository, *SyncServer) {
	t.Helper()
	mockRepo := &database.MockTripRepository{}
	mockRepo.On("MembershipExists", 1, 1).Return(true).Maybe()
	mockRepo.On("MembershipExists", 2, 1).Return(true).Maybe()
	srv := NewSyncServer(mockRepo, testutil.TestLogger(t), newMockStats())
	room := NewRoom(database.Room{Id: 1, ExternalId: "abc123"}, srv, testutil.TestLogger(t))
	return room, mockRepo, srv
}

func newTestClient(t *testing.T, srv *SyncServer, userId int, uuid string) *Client {
	t.Helper()
	return NewClient(types.User{Id: userId, Uuid: uuid, Username: "tester"}, nil, srv, testutil.TestLogger(t))
}

// takeFrame pops the next frame off a client's send queue. Handlers run
// synchronously in these tests, so the frame must already be there.
func takeFrame(t *testing.T, c *Client) *types.ServerFrame {
	t.Helper()
	select {
	case frame := <-c.send:
		return frame
	default:
		t.Fatal("no frame queued")
		return nil
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.send:
		t.Fatalf("unexpected frame: %+v", frame)
	default:
	}
}

func subscribe(t *testing.T, room *Room, c *Client, dest string) {
	t.Helper()
	room.handleSubscribe(&subscribeReq{client: c, destination: dest, roomId: room.externalId, frameId: 1})
	frame := takeFrame(t, c)
	require.NotNil(t, frame.Response)
	require.Equal(t, 200, frame.Response.ResponseCode)
}

func publishMsg(c *Client, handlerPath string, payload any) *clientMessage {
	body, _ := json.Marshal(payload)
	return &clientMessage{
		frame: &types.ClientFrame{
			Id: 7,
			Publish: &types.Publish{
				Destination: types.AppDestination("abc123", handlerPath),
				Body:        body,
			},
		},
		client:      c,
		roomId:      "abc123",
		handlerPath: handlerPath,
	}
}

func decodeBody(t *testing.T, frame *types.ServerFrame) any {
	t.Helper()
	require.NotNil(t, frame.Message)
	msg, err := types.DecodeMessage(frame.Message.Body)
	require.NoError(t, err)
	return msg
}

func Test_handleSubscribe_idempotent(t *testing.T) {
	room, _, srv := newTestRoom(t)
	c := newTestClient(t, srv, 1, "u-1")
	dest := types.TopicDestination("abc123", types.HandlerPlaceVote)

	subscribe(t, room, c, dest)
	subscribe(t, room, c, dest)

	assert.Len(t, room.subs[dest], 1, "duplicate subscribe must not duplicate delivery")
	assert.Contains(t, c.rooms, "abc123")

	room.broadcast(dest, types.VoteCountMsg{Kind: types.KindVoteCount, RoomId: "abc123", WantId: 42, VoteCnt: 1})
	takeFrame(t, c)
	assertNoFrame(t, c)
}

func Test_handleSubscribe_nonMember(t *testing.T) {
	room, mockRepo, srv := newTestRoom(t)
	c := newTestClient(t, srv, 7, "u-7")
	dest := types.TopicDestination("abc123", types.HandlerPlaceVote)

	mockRepo.On("MembershipExists", 7, 1).Return(false).Once()

	room.handleSubscribe(&subscribeReq{client: c, destination: dest, roomId: "abc123", frameId: 3})

	frame := takeFrame(t, c)
	require.NotNil(t, frame.Response)
	assert.Equal(t, 403, frame.Response.ResponseCode)
	assert.NotContains(t, room.subs, dest, "a non-member never attaches")
	assert.NotContains(t, c.rooms, "abc123")
	assert.True(t, room.empty())

	mockRepo.AssertExpectations(t)
}

func Test_handleSubscribe_queueHandlerValidated(t *testing.T) {
	_, _, srv := newTestRoom(t)
	c := newTestClient(t, srv, 1, "u-1")

	c.handleSubscribe(&types.ClientFrame{Id: 1, Subscribe: &types.Subscribe{
		Destination: types.QueueDestination(types.HandlerPlaceVote),
	}})
	frame := takeFrame(t, c)
	assert.Equal(t, 200, frame.Response.ResponseCode)
	assert.True(t, c.hasQueueSub("user/queue/place-vote"))

	// only known queue handlers are served
	c.handleSubscribe(&types.ClientFrame{Id: 2, Subscribe: &types.Subscribe{
		Destination: "user/queue/shell",
	}})
	frame = takeFrame(t, c)
	assert.Equal(t, 400, frame.Response.ResponseCode)
	assert.False(t, c.hasQueueSub("user/queue/shell"))
}

func Test_handleUnsubscribe(t *testing.T) {
	room, _, srv := newTestRoom(t)
	c := newTestClient(t, srv, 1, "u-1")
	voteDest := types.TopicDestination("abc123", types.HandlerPlaceVote)
	schedDest := types.TopicDestination("abc123", types.HandlerTravelSchedule)

	subscribe(t, room, c, voteDest)
	subscribe(t, room, c, schedDest)

	room.handleUnsubscribe(&subscribeReq{client: c, destination: voteDest, roomId: "abc123", frameId: 2})
	frame := takeFrame(t, c)
	assert.Equal(t, 200, frame.Response.ResponseCode)

	assert.NotContains(t, room.subs, voteDest)
	assert.Contains(t, room.subs, schedDest, "other destinations keep their subscribers")
	assert.Contains(t, c.rooms, "abc123", "client stays in the room while any subscription remains")

	// unsubscribing a destination the client never held is a 404
	room.handleUnsubscribe(&subscribeReq{client: c, destination: voteDest, roomId: "abc123", frameId: 3})
	frame = takeFrame(t, c)
	assert.Equal(t, 404, frame.Response.ResponseCode)

	room.handleUnsubscribe(&subscribeReq{client: c, destination: schedDest, roomId: "abc123", frameId: 4})
	takeFrame(t, c)
	assert.NotContains(t, c.rooms, "abc123", "dropping the last subscription detaches the client")
	assert.True(t, room.empty())
}

func Test_handleVote(t *testing.T) {
	room, mockRepo, srv := newTestRoom(t)

	voter := newTestClient(t, srv, 1, "u-1")
	voter.addQueueSub(types.QueueDestination(types.HandlerPlaceVote))
	other := newTestClient(t, srv, 2, "u-2")
	other.addQueueSub(types.QueueDestination(types.HandlerPlaceVote))

	topic := types.TopicDestination("abc123", types.HandlerPlaceVote)
	subscribe(t, room, voter, topic)
	subscribe(t, room, other, topic)

	mockRepo.On("ToggleVote", 1, int64(42)).
		Return(database.VoteResult{WantId: 42, VoteCount: 4, IsVoted: true}, nil).Once()

	room.handlePublish(publishMsg(voter, types.HandlerPlaceVote, types.VoteRequest{WantId: 42}))

	// voter: accepted response, then the room tally, then the personal flag
	resp := takeFrame(t, voter)
	require.NotNil(t, resp.Response)
	assert.Equal(t, 202, resp.Response.ResponseCode)

	countFrame := takeFrame(t, voter)
	count, ok := decodeBody(t, countFrame).(types.VoteCountMsg)
	require.True(t, ok)
	assert.Equal(t, topic, countFrame.Message.Destination)
	assert.Equal(t, 4, count.VoteCnt)

	flag, ok := decodeBody(t, takeFrame(t, voter)).(types.VoteFlagMsg)
	require.True(t, ok)
	assert.True(t, flag.IsVoted)
	assert.Equal(t, "u-1", flag.ReceiverId)

	// the other member sees only the anonymous tally
	otherCount, ok := decodeBody(t, takeFrame(t, other)).(types.VoteCountMsg)
	require.True(t, ok)
	assert.Equal(t, 4, otherCount.VoteCnt)
	assertNoFrame(t, other)

	mockRepo.AssertExpectations(t)
}

func Test_handleVote_errors(t *testing.T) {
	tcases := []struct {
		name         string
		payload      any
		mockErr      error
		expectedCode int
	}{
		{
			name:         "unknown want",
			payload:      types.VoteRequest{WantId: 42},
			mockErr:      sql.ErrNoRows,
			expectedCode: 404,
		},
		{
			name:         "duplicate vote",
			payload:      types.VoteRequest{WantId: 42},
			mockErr:      &pq.Error{Code: "23505"},
			expectedCode: 409,
		},
		{
			name:         "database failure",
			payload:      types.VoteRequest{WantId: 42},
			mockErr:      sql.ErrConnDone,
			expectedCode: 500,
		},
		{
			name:         "missing want id",
			payload:      types.VoteRequest{},
			expectedCode: 400,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			room, mockRepo, srv := newTestRoom(t)
			c := newTestClient(t, srv, 1, "u-1")
			subscribe(t, room, c, types.TopicDestination("abc123", types.HandlerPlaceVote))

			if tc.mockErr != nil {
				mockRepo.On("ToggleVote", 1, int64(42)).
					Return(database.VoteResult{}, tc.mockErr).Once()
			}

			room.handlePublish(publishMsg(c, types.HandlerPlaceVote, tc.payload))

			frame := takeFrame(t, c)
			require.NotNil(t, frame.Response)
			assert.Equal(t, tc.expectedCode, frame.Response.ResponseCode)
			assertNoFrame(t, c)

			mockRepo.AssertExpectations(t)
		})
	}
}

func Test_handleSchedule(t *testing.T) {
	room, mockRepo, srv := newTestRoom(t)

	editor := newTestClient(t, srv, 1, "u-1")
	other := newTestClient(t, srv, 2, "u-2")
	topic := types.TopicDestination("abc123", types.HandlerTravelSchedule)
	subscribe(t, room, editor, topic)
	subscribe(t, room, other, topic)

	start := "09:30"
	mockRepo.On("ReplaceScheduleDay", 1, 2, "2025-07-03", mock.MatchedBy(func(rows []database.ScheduleEvent) bool {
		if len(rows) != 2 {
			return false
		}
		// stored order is renumbered dense from zero regardless of input
		return rows[0].EventOrder == 0 && rows[0].WantId == 9 &&
			rows[1].EventOrder == 1 && rows[1].WantId == 7 &&
			rows[0].StartTime.String == "09:30" && !rows[1].StartTime.Valid
	})).Return(nil).Once()

	room.handlePublish(publishMsg(editor, types.HandlerTravelSchedule, types.ScheduleRequest{
		Day:     2,
		DateKey: "2025-07-03",
		Events: []types.ScheduleEvent{
			{WantId: 9, StartTime: &start, EventOrder: 14},
			{WantId: 7, EventOrder: 2},
		},
	}))

	resp := takeFrame(t, editor)
	assert.Equal(t, 202, resp.Response.ResponseCode)

	// the echo reaches the editor too; it is their commit signal
	echo, ok := decodeBody(t, takeFrame(t, editor)).(types.ScheduleReplaceMsg)
	require.True(t, ok)
	assert.Equal(t, "2025-07-03", echo.DateKey)
	require.Len(t, echo.Events, 2)
	assert.Equal(t, 0, echo.Events[0].EventOrder)
	assert.Equal(t, 1, echo.Events[1].EventOrder)

	otherEcho, ok := decodeBody(t, takeFrame(t, other)).(types.ScheduleReplaceMsg)
	require.True(t, ok)
	assert.Equal(t, echo.Events, otherEcho.Events)

	mockRepo.AssertExpectations(t)
}

func Test_handleSchedule_validation(t *testing.T) {
	badTime := "9:3"

	tcases := []struct {
		name string
		req  types.ScheduleRequest
	}{
		{
			name: "bad date key",
			req:  types.ScheduleRequest{Day: 0, DateKey: "07/03/2025"},
		},
		{
			name: "negative day",
			req:  types.ScheduleRequest{Day: -1, DateKey: "2025-07-03"},
		},
		{
			name: "bad event time",
			req: types.ScheduleRequest{Day: 0, DateKey: "2025-07-03",
				Events: []types.ScheduleEvent{{WantId: 7, StartTime: &badTime}}},
		},
		{
			name: "missing event want id",
			req: types.ScheduleRequest{Day: 0, DateKey: "2025-07-03",
				Events: []types.ScheduleEvent{{WantId: 0}}},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			room, mockRepo, srv := newTestRoom(t)
			c := newTestClient(t, srv, 1, "u-1")
			subscribe(t, room, c, types.TopicDestination("abc123", types.HandlerTravelSchedule))

			room.handlePublish(publishMsg(c, types.HandlerTravelSchedule, tc.req))

			frame := takeFrame(t, c)
			require.NotNil(t, frame.Response)
			assert.Equal(t, 400, frame.Response.ResponseCode)
			assertNoFrame(t, c)

			mockRepo.AssertNotCalled(t, "ReplaceScheduleDay")
		})
	}
}

func Test_handleSchedule_emptyDay(t *testing.T) {
	room, mockRepo, srv := newTestRoom(t)
	c := newTestClient(t, srv, 1, "u-1")
	subscribe(t, room, c, types.TopicDestination("abc123", types.HandlerTravelSchedule))

	mockRepo.On("ReplaceScheduleDay", 1, 0, "2025-07-01", mock.MatchedBy(func(rows []database.ScheduleEvent) bool {
		return len(rows) == 0
	})).Return(nil).Once()

	room.handlePublish(publishMsg(c, types.HandlerTravelSchedule, types.ScheduleRequest{
		Day: 0, DateKey: "2025-07-01", Events: []types.ScheduleEvent{},
	}))

	assert.Equal(t, 202, takeFrame(t, c).Response.ResponseCode)

	echo, ok := decodeBody(t, takeFrame(t, c)).(types.ScheduleReplaceMsg)
	require.True(t, ok)
	assert.NotNil(t, echo.Events, "an empty day is broadcast as an empty list, not null")
	assert.Empty(t, echo.Events)

	mockRepo.AssertExpectations(t)
}

func Test_handleWantAddAndRemove(t *testing.T) {
	room, mockRepo, srv := newTestRoom(t)
	c := newTestClient(t, srv, 1, "u-1")
	subscribe(t, room, c, types.TopicDestination("abc123", types.HandlerPlaceWant, "add"))
	subscribe(t, room, c, types.TopicDestination("abc123", types.HandlerPlaceWant, "remove"))

	mockRepo.On("CreateWantPlace", mock.MatchedBy(func(params database.CreateWantPlaceParams) bool {
		return params.RoomId == 1 && params.PlaceId == 100 && params.PlaceName == "Tower" &&
			params.AddedBy == 1
	})).Return(database.WantPlace{WantId: 42, RoomId: 1, PlaceId: 100, PlaceName: "Tower"}, nil).Once()

	room.handlePublish(publishMsg(c, "place-want/add", types.WantAddRequest{
		PlaceId:   100,
		PlaceName: "Tower",
		SendId:    "send-1",
	}))

	assert.Equal(t, 202, takeFrame(t, c).Response.ResponseCode)
	added, ok := decodeBody(t, takeFrame(t, c)).(types.WantAddMsg)
	require.True(t, ok)
	assert.Equal(t, int64(42), added.Want.WantId)
	assert.Equal(t, "Tower", added.Want.PlaceName)
	assert.Equal(t, "send-1", added.SendId, "sendId echoes back for optimistic-add reconciliation")

	mockRepo.On("DeleteWantPlace", int64(42)).Return(nil).Once()

	room.handlePublish(publishMsg(c, "place-want/remove", types.WantRemoveRequest{WantId: 42}))

	assert.Equal(t, 202, takeFrame(t, c).Response.ResponseCode)
	removed, ok := decodeBody(t, takeFrame(t, c)).(types.WantRemoveMsg)
	require.True(t, ok)
	assert.Equal(t, int64(42), removed.WantId)

	mockRepo.AssertExpectations(t)
}

func Test_handleWantAdd_duplicate(t *testing.T) {
	room, mockRepo, srv := newTestRoom(t)
	c := newTestClient(t, srv, 1, "u-1")
	subscribe(t, room, c, types.TopicDestination("abc123", types.HandlerPlaceWant, "add"))

	mockRepo.On("CreateWantPlace", mock.Anything).
		Return(database.WantPlace{}, &pq.Error{Code: "23505"}).Once()

	room.handlePublish(publishMsg(c, "place-want/add", types.WantAddRequest{PlaceId: 100}))

	frame := takeFrame(t, c)
	assert.Equal(t, 409, frame.Response.ResponseCode)
	assertNoFrame(t, c)
}

func Test_handlePin(t *testing.T) {
	room, mockRepo, srv := newTestRoom(t)
	c := newTestClient(t, srv, 1, "u-1")
	subscribe(t, room, c, types.TopicDestination("abc123", types.HandlerPin))

	room.handlePublish(publishMsg(c, "pin/add", types.PinRequest{
		Action: types.PinActionAdd,
		Pin:    types.Pin{Id: 5, Lat: 48.8, Lng: 2.2, OwnerId: 999},
	}))

	assert.Equal(t, 200, takeFrame(t, c).Response.ResponseCode)
	pin, ok := decodeBody(t, takeFrame(t, c)).(types.PinMsg)
	require.True(t, ok)
	assert.Equal(t, types.PinActionAdd, pin.Action)
	assert.Equal(t, 1, pin.Pin.OwnerId, "owner is always the publishing session, never client-supplied")

	// pins are never persisted
	mockRepo.AssertNotCalled(t, "CreateWantPlace")

	room.handlePublish(publishMsg(c, "pin/remove", types.PinRequest{
		Action: types.PinActionRemove,
		Pin:    types.Pin{Id: 5},
	}))
	takeFrame(t, c)
	removed, ok := decodeBody(t, takeFrame(t, c)).(types.PinMsg)
	require.True(t, ok)
	assert.Equal(t, types.PinActionRemove, removed.Action)
}

func Test_handlePublish_unknownHandler(t *testing.T) {
	room, _, srv := newTestRoom(t)
	c := newTestClient(t, srv, 1, "u-1")
	subscribe(t, room, c, types.TopicDestination("abc123", types.HandlerPlaceVote))

	room.handlePublish(publishMsg(c, "bogus", struct{}{}))

	frame := takeFrame(t, c)
	assert.Equal(t, 400, frame.Response.ResponseCode)
}

func Test_removeClient(t *testing.T) {
	room, _, srv := newTestRoom(t)
	c1 := newTestClient(t, srv, 1, "u-1")
	c2 := newTestClient(t, srv, 2, "u-2")
	topic := types.TopicDestination("abc123", types.HandlerPlaceVote)
	subscribe(t, room, c1, topic)
	subscribe(t, room, c2, topic)

	room.removeClient(c1)

	assert.NotContains(t, c1.rooms, "abc123")
	assert.Len(t, room.subs[topic], 1)
	assert.False(t, room.empty())

	room.broadcast(topic, types.VoteCountMsg{Kind: types.KindVoteCount, RoomId: "abc123", WantId: 1, VoteCnt: 1})
	assertNoFrame(t, c1)
	takeFrame(t, c2)
}
