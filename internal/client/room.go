package client

import (
	"log"
	"net/http"
	"sort"
	"sync"

	"github.com/tripwish/triproom/internal/types"
)

// RoomSync ties the sync units together for one room: it subscribes the
// room's destinations, routes decoded broadcasts into the vote and
// itinerary reconcilers, and filters every incoming snapshot through the
// suppression ledger. Several RoomSync instances can share one transport
// and registry; unsubscribing one room leaves the others untouched.
type RoomSync struct {
	roomId string
	reg    *Registry
	pub    *Publisher
	ledger *SuppressionLedger
	log    *log.Logger

	Votes     *VoteReconciler
	Itinerary *Itinerary

	mu    sync.Mutex
	wants map[int64]types.WantItem
	pins  map[int64]types.Pin

	keys []SubscriptionKey
}

func NewRoomSync(roomId string, reg *Registry, pub *Publisher, ledger *SuppressionLedger, logger *log.Logger) (*RoomSync, error) {
	rs := &RoomSync{
		roomId: roomId,
		reg:    reg,
		pub:    pub,
		ledger: ledger,
		log:    logger,
		Votes:  NewVoteReconciler(),
		wants:  make(map[int64]types.WantItem),
		pins:   make(map[int64]types.Pin),
	}
	rs.Itinerary = NewItinerary(roomId, pub)

	subs := []struct {
		dest    string
		handler Handler
	}{
		{types.TopicDestination(roomId, types.HandlerPlaceVote), rs.handleMessage},
		{types.QueueDestination(types.HandlerPlaceVote), rs.handleMessage},
		{types.TopicDestination(roomId, types.HandlerTravelSchedule), rs.handleMessage},
		{types.TopicDestination(roomId, types.HandlerPlaceWant, "add"), rs.handleMessage},
		{types.TopicDestination(roomId, types.HandlerPlaceWant, "remove"), rs.handleMessage},
		{types.TopicDestination(roomId, types.HandlerPin), rs.handleMessage},
	}

	for _, s := range subs {
		sub, err := reg.Subscribe(roomId, s.dest, s.handler)
		if err != nil {
			reg.Unsubscribe(rs.keys...)
			return nil, err
		}
		rs.keys = append(rs.keys, sub.Key)
	}

	return rs, nil
}

// handleMessage routes a decoded broadcast to the owning unit. All handlers
// run to completion on arrival; ordering within one destination is the
// broker's per-subscription order.
func (rs *RoomSync) handleMessage(msg any) {
	switch m := msg.(type) {
	case types.VoteCountMsg:
		rs.Votes.ApplyCount(m)
	case types.VoteFlagMsg:
		// the personal queue is shared across rooms; apply only our own
		if m.RoomId != rs.roomId {
			return
		}
		rs.Votes.ApplyFlag(m)
	case types.ScheduleReplaceMsg:
		rs.Itinerary.ApplyReplace(m)
	case types.WantAddMsg:
		rs.applyWantAdd(m)
	case types.WantRemoveMsg:
		rs.applyWantRemove(m)
	case types.PinMsg:
		rs.applyPin(m)
	default:
		rs.log.Printf("unhandled message %T in room %s", msg, rs.roomId)
	}
}

func (rs *RoomSync) applyWantAdd(msg types.WantAddMsg) {
	if rs.ledger.IsSuppressed(msg.Want.WantId) {
		// a stale echo must not revive a locally removed place
		return
	}

	rs.mu.Lock()
	rs.wants[msg.Want.WantId] = msg.Want
	rs.mu.Unlock()

	rs.Votes.Seed(msg.Want.WantId, msg.Want.VoteCount, msg.Want.IsVotedByMe)
}

func (rs *RoomSync) applyWantRemove(msg types.WantRemoveMsg) {
	rs.mu.Lock()
	delete(rs.wants, msg.WantId)
	rs.mu.Unlock()

	rs.Votes.Forget(msg.WantId)
}

func (rs *RoomSync) applyPin(msg types.PinMsg) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	switch msg.Action {
	case types.PinActionAdd:
		rs.pins[msg.Pin.Id] = msg.Pin
	case types.PinActionRemove:
		delete(rs.pins, msg.Pin.Id)
	}
}

// SeedWants installs a REST snapshot of the room's wishlist, filtered
// through the suppression ledger.
func (rs *RoomSync) SeedWants(items []types.WantItem) {
	items = rs.ledger.FilterWants(items)

	rs.mu.Lock()
	for _, item := range items {
		rs.wants[item.WantId] = item
	}
	rs.mu.Unlock()

	for _, item := range items {
		rs.Votes.Seed(item.WantId, item.VoteCount, item.IsVotedByMe)
	}
}

// Wants returns the reconciled wishlist with per-want vote state merged in,
// sorted by want id for stable rendering.
func (rs *RoomSync) Wants() []types.WantItem {
	rs.mu.Lock()
	items := make([]types.WantItem, 0, len(rs.wants))
	for _, item := range rs.wants {
		items = append(items, item)
	}
	rs.mu.Unlock()

	for i := range items {
		st := rs.Votes.State(items[i].WantId)
		items[i].VoteCount = st.Count
		items[i].IsVotedByMe = st.IsVoted
	}

	sort.Slice(items, func(i, j int) bool { return items[i].WantId < items[j].WantId })
	return rs.ledger.FilterWants(items)
}

// Pins returns the current ephemeral pin set.
func (rs *RoomSync) Pins() []types.Pin {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	pins := make([]types.Pin, 0, len(rs.pins))
	for _, pin := range rs.pins {
		pins = append(pins, pin)
	}
	sort.Slice(pins, func(i, j int) bool { return pins[i].Id < pins[j].Id })
	return pins
}

// CastVote marks the want place as voting and publishes the intent. While a
// cast is in flight further casts are ignored; counts are never touched
// locally. A broker rejection releases the in-flight guard just like a
// failed send; any state change still arrives through the broadcasts.
func (rs *RoomSync) CastVote(wantId int64) error {
	if !rs.Votes.BeginVote(wantId) {
		return nil
	}

	err := rs.pub.CastVote(rs.roomId, wantId, func(resp *types.Response) {
		if resp.ResponseCode >= http.StatusBadRequest {
			rs.Votes.Fail(wantId, resp.Error)
		}
	})
	if err != nil {
		rs.Votes.Fail(wantId, err.Error())
		return err
	}
	return nil
}

// SubmitDayEdit publishes the complete day through the itinerary unit.
func (rs *RoomSync) SubmitDayEdit(day int, dateKey string, events []types.ScheduleEvent) error {
	return rs.Itinerary.SubmitDayEdit(day, dateKey, events)
}

// AddWant publishes a wishlist add intent. Local state converges through
// the broadcast echo, not here.
func (rs *RoomSync) AddWant(place types.WantItem) error {
	return rs.pub.AddWant(rs.roomId, place)
}

// RemoveWant suppresses the id for the rest of the session, removes it
// locally and publishes the remove intent.
func (rs *RoomSync) RemoveWant(wantId int64) error {
	if err := rs.ledger.Suppress(wantId); err != nil {
		return err
	}

	rs.mu.Lock()
	delete(rs.wants, wantId)
	rs.mu.Unlock()
	rs.Votes.Forget(wantId)

	return rs.pub.RemoveWant(rs.roomId, wantId)
}

// AddPin publishes an ephemeral pin placement.
func (rs *RoomSync) AddPin(pin types.Pin) error {
	return rs.pub.AddPin(rs.roomId, pin)
}

// RemovePin publishes a pin removal.
func (rs *RoomSync) RemovePin(pinId int64) error {
	return rs.pub.RemovePin(rs.roomId, pinId)
}

// Close drops this room's subscriptions. Other rooms sharing the transport
// keep theirs.
func (rs *RoomSync) Close() {
	rs.reg.Unsubscribe(rs.keys...)
}
