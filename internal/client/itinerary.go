package client

import (
	"sync"

	"github.com/tripwish/triproom/internal/types"
)

// intentPublisher is the slice of the publish façade the itinerary unit
// needs.
type intentPublisher interface {
	SubmitSchedule(roomId string, day int, dateKey string, events []types.ScheduleEvent) error
}

// Itinerary holds the per-day ordered event buckets for one room. The wire
// protocol has no single-event operation: every reorder, retime or
// add/remove is expressed as the complete day in final order, and the
// server's echo of that day is accepted as confirmation (last-echo-wins at
// day granularity). Local state changes only when a broadcast arrives, so a
// rejected submit can never leave the client showing an order the server
// never accepted.
type Itinerary struct {
	roomId string
	pub    intentPublisher

	mu   sync.Mutex
	days map[string][]types.ScheduleEvent
}

func NewItinerary(roomId string, pub intentPublisher) *Itinerary {
	return &Itinerary{
		roomId: roomId,
		pub:    pub,
		days:   make(map[string][]types.ScheduleEvent),
	}
}

// SubmitDayEdit publishes the complete event list for one day. EventOrder
// is recomputed as the 0-based array index at submission time; whatever the
// caller had in that field is discarded. An empty list is a valid edit
// meaning "day has no events".
func (it *Itinerary) SubmitDayEdit(day int, dateKey string, events []types.ScheduleEvent) error {
	out := make([]types.ScheduleEvent, len(events))
	copy(out, events)
	for i := range out {
		out[i].EventOrder = i
	}

	return it.pub.SubmitSchedule(it.roomId, day, dateKey, out)
}

// ApplyReplace installs a server day snapshot, replacing the whole bucket
// for its date key verbatim. In-flight local edits to that day are
// discarded; buckets for other dates are untouched.
func (it *Itinerary) ApplyReplace(msg types.ScheduleReplaceMsg) {
	if msg.DateKey == "" {
		return
	}

	events := make([]types.ScheduleEvent, len(msg.Events))
	copy(events, msg.Events)

	it.mu.Lock()
	defer it.mu.Unlock()
	it.days[msg.DateKey] = events
}

// Day returns the bucket for a date key. The second return distinguishes a
// day known to be empty from a day bucket that does not exist.
func (it *Itinerary) Day(dateKey string) ([]types.ScheduleEvent, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	events, ok := it.days[dateKey]
	if !ok {
		return nil, false
	}
	out := make([]types.ScheduleEvent, len(events))
	copy(out, events)
	return out, true
}

// DateKeys returns the date keys of all known buckets.
func (it *Itinerary) DateKeys() []string {
	it.mu.Lock()
	defer it.mu.Unlock()

	keys := make([]string, 0, len(it.days))
	for key := range it.days {
		keys = append(keys, key)
	}
	return keys
}
