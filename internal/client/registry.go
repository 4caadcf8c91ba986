package client

import (
	"log"
	"strings"
	"sync"

	"github.com/tripwish/triproom/internal/types"
)

// frameTransport is the slice of the transport the registry needs.
type frameTransport interface {
	SendFrame(*types.ClientFrame) error
	Connected() bool
}

// SubscriptionKey uniquely identifies a subscription. Keying by room and
// destination lets independent components (re)subscribe to the same topic
// without creating duplicate delivery.
type SubscriptionKey struct {
	RoomId      string
	Destination string
}

// Handler receives decoded, kind-tagged messages for one subscription.
type Handler func(msg any)

// ResponseHandler receives the broker's response to a tracked publish.
type ResponseHandler func(*types.Response)

type Subscription struct {
	Key     SubscriptionKey
	handler Handler
}

// Registry tracks the set of desired destinations for the session. It owns
// subscription state across reconnects: the transport forgets everything on
// a hard reconnect, and the registry re-establishes each still-desired
// destination from here.
type Registry struct {
	transport frameTransport
	log       *log.Logger

	mu      sync.Mutex
	subs    map[SubscriptionKey]*Subscription
	pending map[int]ResponseHandler
}

func NewRegistry(transport frameTransport, logger *log.Logger) *Registry {
	return &Registry{
		transport: transport,
		log:       logger,
		subs:      make(map[SubscriptionKey]*Subscription),
		pending:   make(map[int]ResponseHandler),
	}
}

// Subscribe registers a handler for a destination. Subscribing twice to the
// same (roomId, destination) is a no-op returning the existing subscription;
// incoming messages are still delivered exactly once.
func (r *Registry) Subscribe(roomId, destination string, handler Handler) (*Subscription, error) {
	if err := validateDestination(roomId, destination); err != nil {
		return nil, err
	}

	key := SubscriptionKey{RoomId: roomId, Destination: destination}

	r.mu.Lock()
	if sub, ok := r.subs[key]; ok {
		r.mu.Unlock()
		return sub, nil
	}
	sub := &Subscription{Key: key, handler: handler}
	r.subs[key] = sub
	r.mu.Unlock()

	if r.transport.Connected() {
		if err := r.transport.SendFrame(&types.ClientFrame{
			Subscribe: &types.Subscribe{Destination: destination},
		}); err != nil {
			// the subscription stays desired; resubscribeAll picks it up
			// after the next reconnect
			r.log.Printf("subscribe %s: %v", destination, err)
		}
	}

	return sub, nil
}

// Unsubscribe removes only the named keys. Other subscriptions and the
// shared transport are untouched.
func (r *Registry) Unsubscribe(keys ...SubscriptionKey) {
	for _, key := range keys {
		r.mu.Lock()
		_, ok := r.subs[key]
		if ok {
			delete(r.subs, key)
		}
		// a personal queue may be shared by several rooms; keep the wire
		// subscription while any of them still wants the destination
		stillWanted := false
		for other := range r.subs {
			if other.Destination == key.Destination {
				stillWanted = true
				break
			}
		}
		r.mu.Unlock()
		if !ok || stillWanted {
			continue
		}

		if r.transport.Connected() {
			if err := r.transport.SendFrame(&types.ClientFrame{
				Unsubscribe: &types.Unsubscribe{Destination: key.Destination},
			}); err != nil {
				r.log.Printf("unsubscribe %s: %v", key.Destination, err)
			}
		}
	}
}

// Keys returns the currently desired subscription keys.
func (r *Registry) Keys() []SubscriptionKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]SubscriptionKey, 0, len(r.subs))
	for key := range r.subs {
		keys = append(keys, key)
	}
	return keys
}

// ResubscribeAll re-sends a subscribe frame for every desired destination.
// Hook it into the transport's OnConnect so a hard reconnect restores the
// full subscription set.
func (r *Registry) ResubscribeAll() {
	r.mu.Lock()
	keys := make([]SubscriptionKey, 0, len(r.subs))
	for key := range r.subs {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	for _, key := range keys {
		if err := r.transport.SendFrame(&types.ClientFrame{
			Subscribe: &types.Subscribe{Destination: key.Destination},
		}); err != nil {
			r.log.Printf("resubscribe %s: %v", key.Destination, err)
		}
	}
}

// trackResponse registers interest in the broker's response to the frame id.
// The handler fires at most once; register before the frame hits the wire so
// a fast response cannot slip past.
func (r *Registry) trackResponse(id int, handler ResponseHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[id] = handler
}

func (r *Registry) dropResponse(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// HandleFrame dispatches a server frame to the matching subscriptions. Wire
// it to the transport's OnFrame. Response frames settle tracked publishes;
// message bodies are decoded once through the tagged-kind decoder, handlers
// never see raw bytes.
func (r *Registry) HandleFrame(frame *types.ServerFrame) {
	if frame.Response != nil {
		if frame.Id == 0 {
			return
		}
		r.mu.Lock()
		handler := r.pending[frame.Id]
		delete(r.pending, frame.Id)
		r.mu.Unlock()
		if handler != nil {
			handler(frame.Response)
		}
		return
	}

	if frame.Message == nil {
		return
	}

	msg, err := types.DecodeMessage(frame.Message.Body)
	if err != nil {
		r.log.Printf("decode message on %s: %v", frame.Message.Destination, err)
		return
	}

	r.mu.Lock()
	handlers := make([]Handler, 0, 1)
	for key, sub := range r.subs {
		if key.Destination == frame.Message.Destination {
			handlers = append(handlers, sub.handler)
		}
	}
	r.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

func validateDestination(roomId, destination string) error {
	if roomId == "" {
		return &InvalidDestinationError{Destination: destination, Reason: "room id is required"}
	}
	if destination == "" {
		return &InvalidDestinationError{Destination: destination, Reason: "destination is empty"}
	}
	if strings.ContainsAny(destination, " \t\n") {
		return &InvalidDestinationError{Destination: destination, Reason: "destination contains whitespace"}
	}

	if types.IsQueueDestination(destination) {
		if !types.ValidQueueDestination(destination) {
			return &InvalidDestinationError{Destination: destination, Reason: "unknown queue destination"}
		}
		return nil
	}

	topicRoom, _, err := types.ParseTopicDestination(destination)
	if err != nil {
		return &InvalidDestinationError{Destination: destination, Reason: err.Error()}
	}
	if topicRoom != roomId {
		return &InvalidDestinationError{Destination: destination, Reason: "destination is scoped to a different room"}
	}
	return nil
}
