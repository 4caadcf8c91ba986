package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/lib/pq"
	"github.com/tripwish/triproom/internal/database"
	"github.com/tripwish/triproom/internal/stats"
	"github.com/tripwish/triproom/internal/types"
)

const (
	roomIdleTimeout = 5 * time.Minute
	dateKeyLayout   = "2006-01-02"
	timeOfDayLayout = "15:04"
)

type subscribeReq struct {
	client      *Client
	destination string
	roomId      string
	frameId     int
}

// restVote carries a vote toggled through the HTTP API into the room loop so
// its broadcasts follow the same path as socket-published votes.
type restVote struct {
	roomId   string
	result   database.VoteResult
	receiver types.User
}

type exitReq struct {
	done chan struct{}
}

// Room fans room-scoped traffic out to subscribed sessions. All room state
// is owned by the start loop; other goroutines talk to it over channels.
type Room struct {
	dbId       int
	externalId string
	srv        *SyncServer
	db         database.TripRepository
	stats      stats.StatsProvider
	log        *log.Logger

	subscribeChan   chan *subscribeReq
	unsubscribeChan chan *subscribeReq
	publishChan     chan *clientMessage
	serverChan      chan *restVote
	dropChan        chan *Client
	exit            chan *exitReq
	done            chan struct{}

	// subscriber sets keyed by destination, plus per-account session sets
	// for personal-queue delivery
	subs    map[string]map[*Client]struct{}
	userMap map[int]map[*Client]struct{}

	killTimer *time.Timer
}

func NewRoom(dbRoom database.Room, srv *SyncServer, logger *log.Logger) *Room {
	return &Room{
		dbId:            dbRoom.Id,
		externalId:      dbRoom.ExternalId,
		srv:             srv,
		db:              srv.db,
		stats:           srv.stats,
		log:             logger,
		subscribeChan:   make(chan *subscribeReq, 8),
		unsubscribeChan: make(chan *subscribeReq, 8),
		publishChan:     make(chan *clientMessage, 32),
		serverChan:      make(chan *restVote, 8),
		dropChan:        make(chan *Client, 8),
		exit:            make(chan *exitReq),
		done:            make(chan struct{}),
		subs:            make(map[string]map[*Client]struct{}),
		userMap:         make(map[int]map[*Client]struct{}),
		killTimer:       time.NewTimer(roomIdleTimeout),
	}
}

func (r *Room) start() {
	defer close(r.done)

	for {
		select {
		case req := <-r.subscribeChan:
			r.handleSubscribe(req)
		case req := <-r.unsubscribeChan:
			r.handleUnsubscribe(req)
		case msg := <-r.publishChan:
			r.handlePublish(msg)
		case v := <-r.serverChan:
			r.handleRestVote(v)
		case c := <-r.dropChan:
			r.removeClient(c)
		case <-r.killTimer.C:
			r.srv.UnloadRoom(r.externalId)
		case req := <-r.exit:
			for dest, clients := range r.subs {
				for c := range clients {
					c.removeRoom(r.externalId)
				}
				delete(r.subs, dest)
			}
			close(req.done)
			return
		}
	}
}

func (r *Room) empty() bool {
	return len(r.userMap) == 0
}

// handleSubscribe is idempotent per (session, destination); the second
// subscribe of the same destination acks without duplicating delivery.
func (r *Room) handleSubscribe(req *subscribeReq) {
	// sessions already in the room were checked on their first subscribe
	if _, attached := r.userMap[req.client.user.Id]; !attached {
		if !r.db.MembershipExists(req.client.user.Id, r.dbId) {
			req.client.queueFrame(errForbidden(req.frameId))
			return
		}
	}

	if !r.killTimer.Stop() {
		select {
		case <-r.killTimer.C:
		default:
		}
	}

	set, ok := r.subs[req.destination]
	if !ok {
		set = make(map[*Client]struct{})
		r.subs[req.destination] = set
	}
	set[req.client] = struct{}{}

	sessions, ok := r.userMap[req.client.user.Id]
	if !ok {
		sessions = make(map[*Client]struct{})
		r.userMap[req.client.user.Id] = sessions
	}
	sessions[req.client] = struct{}{}

	req.client.addRoom(r)
	req.client.queueFrame(okResponse(req.frameId))
}

func (r *Room) handleUnsubscribe(req *subscribeReq) {
	set, ok := r.subs[req.destination]
	if !ok {
		req.client.queueFrame(errNotFound(req.frameId))
		return
	}
	if _, ok := set[req.client]; !ok {
		req.client.queueFrame(errNotFound(req.frameId))
		return
	}

	delete(set, req.client)
	if len(set) == 0 {
		delete(r.subs, req.destination)
	}

	if !r.clientSubscribed(req.client) {
		r.detachClient(req.client)
	}

	req.client.queueFrame(okResponse(req.frameId))

	if r.empty() {
		r.killTimer.Reset(roomIdleTimeout)
	}
}

func (r *Room) clientSubscribed(c *Client) bool {
	for _, set := range r.subs {
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}

func (r *Room) detachClient(c *Client) {
	if sessions, ok := r.userMap[c.user.Id]; ok {
		delete(sessions, c)
		if len(sessions) == 0 {
			delete(r.userMap, c.user.Id)
		}
	}
	c.removeRoom(r.externalId)
}

// dropClient removes a disconnected session from the room's routing tables.
// Safe to call from the client's read goroutine.
func (r *Room) dropClient(c *Client) {
	select {
	case r.dropChan <- c:
	case <-r.done:
	}
}

func (r *Room) removeClient(c *Client) {
	for dest, set := range r.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(r.subs, dest)
		}
	}
	r.detachClient(c)

	if r.empty() {
		r.killTimer.Reset(roomIdleTimeout)
	}
}

func (r *Room) handlePublish(msg *clientMessage) {
	r.stats.Incr(stats.MetricIntentsPublished)

	switch msg.handlerPath {
	case types.HandlerPlaceVote:
		r.handleVote(msg)
	case types.HandlerTravelSchedule:
		r.handleSchedule(msg)
	case types.HandlerPlaceWant + "/add":
		r.handleWantAdd(msg)
	case types.HandlerPlaceWant + "/remove":
		r.handleWantRemove(msg)
	case types.HandlerPin + "/" + types.PinActionAdd:
		r.handlePin(msg, types.PinActionAdd)
	case types.HandlerPin + "/" + types.PinActionRemove:
		r.handlePin(msg, types.PinActionRemove)
	default:
		msg.client.queueFrame(errBadRequest(msg.frame.Id, "unknown handler"))
	}
}

// handleVote toggles the caster's vote and fans the outcome out on two
// channels: the anonymous tally to the room topic and the caster's flag to
// their personal queue.
func (r *Room) handleVote(msg *clientMessage) {
	var req types.VoteRequest
	if err := json.Unmarshal(msg.frame.Publish.Body, &req); err != nil {
		msg.client.queueFrame(errBadRequest(msg.frame.Id, "malformed vote request"))
		return
	}
	if req.WantId <= 0 {
		msg.client.queueFrame(errBadRequest(msg.frame.Id, "wantId is required"))
		return
	}

	result, err := r.db.ToggleVote(msg.accountId(), req.WantId)
	if err != nil {
		r.log.Printf("room %s: toggle vote for want %d: %s", r.externalId, req.WantId, err)
		msg.client.queueFrame(voteErrorFrame(msg.frame.Id, err))
		return
	}

	msg.client.queueFrame(acceptedResponse(msg.frame.Id))
	r.stats.Incr(stats.MetricVotesCast)
	r.fanOutVote(result, msg.client.user)
}

func voteErrorFrame(frameId int, err error) *types.ServerFrame {
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound(frameId)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return errConflict(frameId, "vote already recorded")
	}
	return errInternal(frameId)
}

func (r *Room) handleRestVote(v *restVote) {
	r.stats.Incr(stats.MetricVotesCast)
	r.fanOutVote(v.result, v.receiver)
}

func (r *Room) fanOutVote(result database.VoteResult, receiver types.User) {
	r.broadcast(types.TopicDestination(r.externalId, types.HandlerPlaceVote), types.VoteCountMsg{
		Kind:    types.KindVoteCount,
		RoomId:  r.externalId,
		WantId:  result.WantId,
		VoteCnt: result.VoteCount,
	})

	r.deliverToUser(receiver.Id, types.QueueDestination(types.HandlerPlaceVote), types.VoteFlagMsg{
		Kind:       types.KindVoteFlag,
		RoomId:     r.externalId,
		WantId:     result.WantId,
		IsVoted:    result.IsVoted,
		ReceiverId: receiver.Uuid,
	})
}

// handleSchedule replaces one day bucket wholesale. Incoming event order is
// positional; the stored and broadcast eventOrder is renumbered dense from
// zero regardless of what the client sent.
func (r *Room) handleSchedule(msg *clientMessage) {
	var req types.ScheduleRequest
	if err := json.Unmarshal(msg.frame.Publish.Body, &req); err != nil {
		msg.client.queueFrame(errBadRequest(msg.frame.Id, "malformed schedule request"))
		return
	}

	if _, err := time.Parse(dateKeyLayout, req.DateKey); err != nil {
		msg.client.queueFrame(errBadRequest(msg.frame.Id, "dateKey must be YYYY-MM-DD"))
		return
	}
	if req.Day < 0 {
		msg.client.queueFrame(errBadRequest(msg.frame.Id, "day must be non-negative"))
		return
	}

	events := make([]types.ScheduleEvent, len(req.Events))
	rows := make([]database.ScheduleEvent, len(req.Events))
	for i, ev := range req.Events {
		if ev.WantId <= 0 {
			msg.client.queueFrame(errBadRequest(msg.frame.Id, "event wantId is required"))
			return
		}
		if !validTimeOfDay(ev.StartTime) || !validTimeOfDay(ev.EndTime) {
			msg.client.queueFrame(errBadRequest(msg.frame.Id, "event times must be HH:MM"))
			return
		}

		ev.EventOrder = i
		events[i] = ev
		rows[i] = database.ScheduleEvent{
			RoomId:     r.dbId,
			Day:        req.Day,
			DateKey:    req.DateKey,
			WantId:     ev.WantId,
			PlaceName:  ev.PlaceName,
			StartTime:  nullString(ev.StartTime),
			EndTime:    nullString(ev.EndTime),
			EventOrder: i,
		}
	}

	if err := r.db.ReplaceScheduleDay(r.dbId, req.Day, req.DateKey, rows); err != nil {
		r.log.Printf("room %s: replace schedule day %s: %s", r.externalId, req.DateKey, err)
		msg.client.queueFrame(errInternal(msg.frame.Id))
		return
	}

	msg.client.queueFrame(acceptedResponse(msg.frame.Id))

	// The echo goes to every subscriber, the editor included; the editor's
	// own copy converges through the echo like everyone else's.
	r.broadcast(types.TopicDestination(r.externalId, types.HandlerTravelSchedule), types.ScheduleReplaceMsg{
		Kind:    types.KindScheduleReplace,
		RoomId:  r.externalId,
		Day:     req.Day,
		DateKey: req.DateKey,
		Events:  events,
	})
}

func validTimeOfDay(s *string) bool {
	if s == nil {
		return true
	}
	_, err := time.Parse(timeOfDayLayout, *s)
	return err == nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (r *Room) handleWantAdd(msg *clientMessage) {
	var req types.WantAddRequest
	if err := json.Unmarshal(msg.frame.Publish.Body, &req); err != nil {
		msg.client.queueFrame(errBadRequest(msg.frame.Id, "malformed want request"))
		return
	}
	if req.PlaceId <= 0 {
		msg.client.queueFrame(errBadRequest(msg.frame.Id, "placeId is required"))
		return
	}

	wp, err := r.db.CreateWantPlace(database.CreateWantPlaceParams{
		RoomId:    r.dbId,
		PlaceId:   req.PlaceId,
		PlaceName: req.PlaceName,
		Category:  req.Category,
		ImgUrl:    req.ImgUrl,
		Lat:       req.Lat,
		Lng:       req.Lng,
		AddedBy:   msg.accountId(),
	})
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			msg.client.queueFrame(errConflict(msg.frame.Id, "place already on wishlist"))
			return
		}
		r.log.Printf("room %s: create want place %d: %s", r.externalId, req.PlaceId, err)
		msg.client.queueFrame(errInternal(msg.frame.Id))
		return
	}

	msg.client.queueFrame(acceptedResponse(msg.frame.Id))
	r.broadcast(types.TopicDestination(r.externalId, types.HandlerPlaceWant, "add"), types.WantAddMsg{
		Kind:   types.KindWantAdd,
		RoomId: r.externalId,
		SendId: req.SendId,
		Want: types.WantItem{
			WantId:    wp.WantId,
			PlaceId:   wp.PlaceId,
			PlaceName: wp.PlaceName,
			Category:  wp.Category,
			ImgUrl:    wp.ImgUrl,
			Lat:       wp.Lat,
			Lng:       wp.Lng,
		},
	})
}

func (r *Room) handleWantRemove(msg *clientMessage) {
	var req types.WantRemoveRequest
	if err := json.Unmarshal(msg.frame.Publish.Body, &req); err != nil {
		msg.client.queueFrame(errBadRequest(msg.frame.Id, "malformed want request"))
		return
	}
	if req.WantId <= 0 {
		msg.client.queueFrame(errBadRequest(msg.frame.Id, "wantId is required"))
		return
	}

	if err := r.db.DeleteWantPlace(req.WantId); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			msg.client.queueFrame(errNotFound(msg.frame.Id))
			return
		}
		r.log.Printf("room %s: delete want place %d: %s", r.externalId, req.WantId, err)
		msg.client.queueFrame(errInternal(msg.frame.Id))
		return
	}

	msg.client.queueFrame(acceptedResponse(msg.frame.Id))
	r.broadcast(types.TopicDestination(r.externalId, types.HandlerPlaceWant, "remove"), types.WantRemoveMsg{
		Kind:   types.KindWantRemove,
		RoomId: r.externalId,
		WantId: req.WantId,
	})
}

// handlePin relays map pins to the room without persisting them. The owner
// is always the publishing session's account.
func (r *Room) handlePin(msg *clientMessage, action string) {
	var req types.PinRequest
	if err := json.Unmarshal(msg.frame.Publish.Body, &req); err != nil {
		msg.client.queueFrame(errBadRequest(msg.frame.Id, "malformed pin request"))
		return
	}
	if req.Pin.Id <= 0 {
		msg.client.queueFrame(errBadRequest(msg.frame.Id, "pin id is required"))
		return
	}
	req.Pin.OwnerId = msg.accountId()

	msg.client.queueFrame(okResponse(msg.frame.Id))
	r.broadcast(types.TopicDestination(r.externalId, types.HandlerPin), types.PinMsg{
		Kind:   types.KindPin,
		RoomId: r.externalId,
		Action: action,
		Pin:    req.Pin,
	})
}

func (r *Room) broadcast(destination string, msg any) {
	frame, err := messageFrame(destination, msg)
	if err != nil {
		r.log.Printf("room %s: encode broadcast for %s: %s", r.externalId, destination, err)
		return
	}

	for c := range r.subs[destination] {
		c.queueFrame(frame)
	}
	r.stats.Incr(stats.MetricBroadcastsSent)
}

func (r *Room) deliverToUser(accountId int, destination string, msg any) {
	frame, err := messageFrame(destination, msg)
	if err != nil {
		r.log.Printf("room %s: encode queue message for %s: %s", r.externalId, destination, err)
		return
	}

	for c := range r.userMap[accountId] {
		if c.hasQueueSub(destination) {
			c.queueFrame(frame)
		}
	}
}
