package server

import (
	"context"
	"log"

	"github.com/tripwish/triproom/internal/database"
	"github.com/tripwish/triproom/internal/stats"
	"github.com/tripwish/triproom/internal/types"
)

type unloadRoomRequest struct {
	externalId string
}

type stopRequest struct {
	done chan struct{}
}

// SyncServer owns the set of live sessions and lazily-loaded rooms. Rooms
// are loaded on first subscription and unloaded after sitting idle.
type SyncServer struct {
	log   *log.Logger
	db    database.TripRepository
	stats stats.StatsProvider

	registerChan   chan *Client
	deregisterChan chan *Client
	subscribeChan  chan *subscribeReq
	unloadRoomChan chan *unloadRoomRequest
	voteChan       chan *restVote
	stopChan       chan *stopRequest

	clients map[*Client]struct{}
	rooms   map[string]*Room
}

func NewSyncServer(db database.TripRepository, logger *log.Logger, statsProvider stats.StatsProvider) *SyncServer {
	for _, m := range []string{
		stats.MetricActiveConnections,
		stats.MetricActiveRooms,
		stats.MetricIntentsPublished,
		stats.MetricBroadcastsSent,
		stats.MetricVotesCast,
	} {
		statsProvider.RegisterMetric(m)
	}

	return &SyncServer{
		log:            logger,
		db:             db,
		stats:          statsProvider,
		registerChan:   make(chan *Client, 8),
		deregisterChan: make(chan *Client, 8),
		subscribeChan:  make(chan *subscribeReq, 32),
		unloadRoomChan: make(chan *unloadRoomRequest, 8),
		voteChan:       make(chan *restVote, 32),
		stopChan:       make(chan *stopRequest),
		clients:        make(map[*Client]struct{}),
		rooms:          make(map[string]*Room),
	}
}

func (s *SyncServer) Run() {
	for {
		select {
		case c := <-s.registerChan:
			s.clients[c] = struct{}{}
			s.stats.Incr(stats.MetricActiveConnections)
		case c := <-s.deregisterChan:
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				s.stats.Decr(stats.MetricActiveConnections)
			}
		case req := <-s.subscribeChan:
			s.handleSubscribe(req)
		case req := <-s.unloadRoomChan:
			s.handleUnloadRoom(req.externalId)
		case v := <-s.voteChan:
			if room, ok := s.rooms[v.roomId]; ok {
				room.serverChan <- v
			}
		case req := <-s.stopChan:
			// pick up sessions that registered just before the stop request
			for {
				select {
				case c := <-s.registerChan:
					s.clients[c] = struct{}{}
				default:
					for _, room := range s.rooms {
						s.exitRoom(room)
					}
					for c := range s.clients {
						c.closeStop()
					}
					close(req.done)
					return
				}
			}
		}
	}
}

// handleSubscribe routes a first-time subscription, loading the room from
// the database if no live instance exists.
func (s *SyncServer) handleSubscribe(req *subscribeReq) {
	room, ok := s.rooms[req.roomId]
	if !ok {
		dbRoom, err := s.db.GetRoomByExternalId(req.roomId)
		if err != nil {
			s.log.Printf("loading room %s: %s", req.roomId, err)
			req.client.queueFrame(errNotFound(req.frameId))
			return
		}

		room = NewRoom(dbRoom, s, s.log)
		s.rooms[req.roomId] = room
		s.stats.Incr(stats.MetricActiveRooms)
		go room.start()

		s.log.Printf("loaded room %s", req.roomId)
	}

	room.subscribeChan <- req
}

func (s *SyncServer) handleUnloadRoom(externalId string) {
	room, ok := s.rooms[externalId]
	if !ok {
		return
	}
	s.exitRoom(room)
	s.log.Printf("unloaded room %s", externalId)
}

func (s *SyncServer) exitRoom(room *Room) {
	delete(s.rooms, room.externalId)
	s.stats.Decr(stats.MetricActiveRooms)

	req := &exitReq{done: make(chan struct{})}
	room.exit <- req
	<-req.done
}

// UnloadRoom evicts a live room, detaching its subscribers. Used when a
// room is deleted and by the idle timer.
func (s *SyncServer) UnloadRoom(externalId string) {
	s.unloadRoomChan <- &unloadRoomRequest{externalId: externalId}
}

func (s *SyncServer) RegisterClient(c *Client) {
	s.registerChan <- c
}

func (s *SyncServer) DeregisterClient(c *Client) {
	s.deregisterChan <- c
}

// PublishVote routes a vote toggled over HTTP into the owning room so its
// count and flag messages fan out exactly as socket votes do. A room with
// no live subscribers drops the vote; there is nobody to notify.
func (s *SyncServer) PublishVote(roomExternalId string, result database.VoteResult, receiver types.User) {
	select {
	case s.voteChan <- &restVote{roomId: roomExternalId, result: result, receiver: receiver}:
	default:
		s.log.Printf("vote fan-out queue full, dropping broadcast for room %s", roomExternalId)
	}
}

func (s *SyncServer) Shutdown(ctx context.Context) error {
	req := &stopRequest{done: make(chan struct{})}

	select {
	case s.stopChan <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
