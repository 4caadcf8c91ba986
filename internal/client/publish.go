package client

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/tripwish/triproom/internal/types"
)

// sender is the slice of the transport the publisher needs.
type sender interface {
	SendFrame(frame *types.ClientFrame) error
}

// responseTracker correlates published frame ids with the broker's
// responses. The registry implements it.
type responseTracker interface {
	trackResponse(id int, handler ResponseHandler)
	dropResponse(id int)
}

// Publisher validates local intents and serializes them to the correct
// per-room app destination. Each publish carries a frame id so the broker's
// accept or reject response can be routed back to the caller; failed sends
// surface synchronously to the caller.
type Publisher struct {
	transport sender
	tracker   responseTracker
	log       *log.Logger

	mu     sync.Mutex
	nextId int
}

func NewPublisher(transport sender, tracker responseTracker, logger *log.Logger) *Publisher {
	return &Publisher{transport: transport, tracker: tracker, log: logger}
}

func (p *Publisher) allocId() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextId++
	return p.nextId
}

func (p *Publisher) publish(destination string, payload any, onResponse ResponseHandler) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}

	frame := &types.ClientFrame{
		Id: p.allocId(),
		Publish: &types.Publish{
			Destination: destination,
			Body:        body,
		},
	}
	if onResponse != nil {
		p.tracker.trackResponse(frame.Id, onResponse)
	}
	if err := p.transport.SendFrame(frame); err != nil {
		if onResponse != nil {
			p.tracker.dropResponse(frame.Id)
		}
		return err
	}
	return nil
}

// CastVote publishes a vote toggle for a want place. When the broker settles
// the intent, onResponse receives its response; a nil handler discards it.
func (p *Publisher) CastVote(roomId string, wantId int64, onResponse ResponseHandler) error {
	if roomId == "" {
		return &InvalidDestinationError{Reason: "room id is required"}
	}
	if wantId <= 0 {
		return fmt.Errorf("cast vote: want id is required")
	}

	return p.publish(types.AppDestination(roomId, types.HandlerPlaceVote), types.VoteRequest{
		WantId: wantId,
		SendId: uuid.NewString(),
	}, onResponse)
}

// SubmitSchedule publishes a whole-day snapshot edit. The caller supplies
// the complete, ordered event list; deltas do not exist on the wire.
func (p *Publisher) SubmitSchedule(roomId string, day int, dateKey string, events []types.ScheduleEvent) error {
	if roomId == "" {
		return &InvalidDestinationError{Reason: "room id is required"}
	}
	if dateKey == "" {
		return fmt.Errorf("submit schedule: date key is required")
	}
	if events == nil {
		// an empty day is a valid edit, a nil list is a caller bug
		events = []types.ScheduleEvent{}
	}

	return p.publish(types.AppDestination(roomId, types.HandlerTravelSchedule), types.ScheduleRequest{
		Day:     day,
		DateKey: dateKey,
		Events:  events,
	}, nil)
}

// AddWant publishes a wishlist add intent carrying the full place record.
func (p *Publisher) AddWant(roomId string, place types.WantItem) error {
	if roomId == "" {
		return &InvalidDestinationError{Reason: "room id is required"}
	}
	if place.PlaceId <= 0 {
		return fmt.Errorf("add want: place id is required")
	}

	return p.publish(types.AppDestination(roomId, types.HandlerPlaceWant, "add"), types.WantAddRequest{
		PlaceId:   place.PlaceId,
		PlaceName: place.PlaceName,
		Category:  place.Category,
		ImgUrl:    place.ImgUrl,
		Lat:       place.Lat,
		Lng:       place.Lng,
		SendId:    uuid.NewString(),
	}, nil)
}

// RemoveWant publishes a wishlist remove intent.
func (p *Publisher) RemoveWant(roomId string, wantId int64) error {
	if roomId == "" {
		return &InvalidDestinationError{Reason: "room id is required"}
	}
	if wantId <= 0 {
		return fmt.Errorf("remove want: want id is required")
	}

	return p.publish(types.AppDestination(roomId, types.HandlerPlaceWant, "remove"), types.WantRemoveRequest{
		WantId: wantId,
	}, nil)
}

// AddPin publishes an ephemeral pin placement.
func (p *Publisher) AddPin(roomId string, pin types.Pin) error {
	if roomId == "" {
		return &InvalidDestinationError{Reason: "room id is required"}
	}

	return p.publish(types.AppDestination(roomId, types.HandlerPin, "add"), types.PinRequest{
		Action: types.PinActionAdd,
		Pin:    pin,
	}, nil)
}

// RemovePin publishes a pin removal.
func (p *Publisher) RemovePin(roomId string, pinId int64) error {
	if roomId == "" {
		return &InvalidDestinationError{Reason: "room id is required"}
	}

	return p.publish(types.AppDestination(roomId, types.HandlerPin, "remove"), types.PinRequest{
		Action: types.PinActionRemove,
		Pin:    types.Pin{Id: pinId},
	}, nil)
}
