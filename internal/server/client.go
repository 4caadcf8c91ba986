package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tripwish/triproom/internal/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendQueueSize  = 64
)

// Client is a single websocket session for an authenticated account. One
// account may hold several concurrent sessions; personal-queue traffic is
// delivered to each of them independently.
type Client struct {
	sessionId string
	user      types.User
	conn      *websocket.Conn
	srv       *SyncServer
	log       *log.Logger

	send chan *types.ServerFrame
	stop chan struct{}

	roomsLock sync.RWMutex
	rooms     map[string]*Room

	queueLock sync.RWMutex
	queueSubs map[string]struct{}

	cleanupOnce sync.Once
}

func NewClient(user types.User, conn *websocket.Conn, srv *SyncServer, logger *log.Logger) *Client {
	return &Client{
		sessionId: uuid.NewString(),
		user:      user,
		conn:      conn,
		srv:       srv,
		log:       logger,
		send:      make(chan *types.ServerFrame, sendQueueSize),
		stop:      make(chan struct{}),
		rooms:     make(map[string]*Room),
		queueSubs: make(map[string]struct{}),
	}
}

// queueFrame enqueues a frame for the write pump, dropping the connection
// if the session can't keep up.
func (c *Client) queueFrame(frame *types.ServerFrame) {
	select {
	case c.send <- frame:
	default:
		c.log.Printf("session %s send queue full, closing", c.sessionId)
		c.closeStop()
	}
}

func (c *Client) closeStop() {
	c.cleanupOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()
	c.rooms[r.externalId] = r
}

func (c *Client) removeRoom(externalId string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()
	delete(c.rooms, externalId)
}

func (c *Client) getRoom(externalId string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()
	return c.rooms[externalId]
}

func (c *Client) addQueueSub(destination string) {
	c.queueLock.Lock()
	defer c.queueLock.Unlock()
	c.queueSubs[destination] = struct{}{}
}

func (c *Client) removeQueueSub(destination string) bool {
	c.queueLock.Lock()
	defer c.queueLock.Unlock()
	if _, ok := c.queueSubs[destination]; !ok {
		return false
	}
	delete(c.queueSubs, destination)
	return true
}

func (c *Client) hasQueueSub(destination string) bool {
	c.queueLock.RLock()
	defer c.queueLock.RUnlock()
	_, ok := c.queueSubs[destination]
	return ok
}

// Read pumps frames from the websocket to the server, parsing destinations
// and routing each frame to the owning room.
func (c *Client) Read() {
	defer c.cleanup()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Printf("error setting read deadline: %s", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Printf("unexpected close: %s", err)
			}
			return
		}

		var frame types.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.queueFrame(errBadRequest(0, "malformed frame"))
			continue
		}

		switch {
		case frame.Subscribe != nil:
			c.handleSubscribe(&frame)
		case frame.Unsubscribe != nil:
			c.handleUnsubscribe(&frame)
		case frame.Publish != nil:
			c.handlePublish(&frame)
		default:
			c.queueFrame(errBadRequest(frame.Id, "frame carries no operation"))
		}
	}
}

func (c *Client) handleSubscribe(frame *types.ClientFrame) {
	dest := frame.Subscribe.Destination

	if types.IsQueueDestination(dest) {
		if !types.ValidQueueDestination(dest) {
			c.queueFrame(errBadRequest(frame.Id, "unknown queue destination"))
			return
		}
		c.addQueueSub(dest)
		c.queueFrame(okResponse(frame.Id))
		return
	}

	roomId, _, err := types.ParseTopicDestination(dest)
	if err != nil {
		c.queueFrame(errBadRequest(frame.Id, err.Error()))
		return
	}

	req := &subscribeReq{
		client:      c,
		destination: dest,
		roomId:      roomId,
		frameId:     frame.Id,
	}

	if room := c.getRoom(roomId); room != nil {
		room.subscribeChan <- req
		return
	}

	select {
	case c.srv.subscribeChan <- req:
	default:
		c.queueFrame(errUnavailable(frame.Id))
	}
}

func (c *Client) handleUnsubscribe(frame *types.ClientFrame) {
	dest := frame.Unsubscribe.Destination

	if types.IsQueueDestination(dest) {
		if c.removeQueueSub(dest) {
			c.queueFrame(okResponse(frame.Id))
		} else {
			c.queueFrame(errNotFound(frame.Id))
		}
		return
	}

	roomId, _, err := types.ParseTopicDestination(dest)
	if err != nil {
		c.queueFrame(errBadRequest(frame.Id, err.Error()))
		return
	}

	room := c.getRoom(roomId)
	if room == nil {
		c.queueFrame(errNotFound(frame.Id))
		return
	}

	room.unsubscribeChan <- &subscribeReq{
		client:      c,
		destination: dest,
		roomId:      roomId,
		frameId:     frame.Id,
	}
}

func (c *Client) handlePublish(frame *types.ClientFrame) {
	roomId, handlerPath, err := types.ParseAppDestination(frame.Publish.Destination)
	if err != nil {
		c.queueFrame(errBadRequest(frame.Id, err.Error()))
		return
	}

	room := c.getRoom(roomId)
	if room == nil {
		// Rooms are loaded by topic subscription; publishing into a room
		// the session never subscribed to is rejected.
		c.queueFrame(errNotFound(frame.Id))
		return
	}

	room.publishChan <- &clientMessage{
		frame:       frame,
		client:      c,
		roomId:      roomId,
		handlerPath: handlerPath,
		timestamp:   Now(),
	}
}

// Write pumps frames from the send queue to the websocket connection.
func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Printf("error setting write deadline: %s", err)
				return
			}
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				c.log.Printf("error writing frame: %s", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Printf("error setting write deadline: %s", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.stop:
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server shutting down"))
			return
		}
	}
}

func (c *Client) cleanup() {
	c.closeStop()

	c.roomsLock.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.roomsLock.RUnlock()

	for _, r := range rooms {
		r.dropClient(c)
	}

	c.srv.DeregisterClient(c)
	c.conn.Close()
}
