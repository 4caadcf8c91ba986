package server

import (
	"net/http"
	"time"

	"github.com/tripwish/triproom/internal/types"
)

// clientMessage pairs an inbound frame with the session it arrived on and
// the destination routing parsed by the read pump.
type clientMessage struct {
	frame       *types.ClientFrame
	client      *Client
	roomId      string
	handlerPath string
	timestamp   time.Time
}

func (cm *clientMessage) accountId() int {
	if cm.client == nil {
		return 0
	}
	return cm.client.user.Id
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

func okResponse(id int) *types.ServerFrame {
	return &types.ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response: &types.Response{
			ResponseCode: http.StatusOK,
		},
	}
}

func acceptedResponse(id int) *types.ServerFrame {
	return &types.ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response: &types.Response{
			ResponseCode: http.StatusAccepted,
		},
	}
}

func errBadRequest(id int, msg string) *types.ServerFrame {
	if msg == "" {
		msg = "invalid frame"
	}
	return &types.ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response: &types.Response{
			ResponseCode: http.StatusBadRequest,
			Error:        msg,
		},
	}
}

func errNotFound(id int) *types.ServerFrame {
	return &types.ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response: &types.Response{
			ResponseCode: http.StatusNotFound,
			Error:        "not found",
		},
	}
}

func errForbidden(id int) *types.ServerFrame {
	return &types.ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response: &types.Response{
			ResponseCode: http.StatusForbidden,
			Error:        "not a member of this room",
		},
	}
}

func errConflict(id int, msg string) *types.ServerFrame {
	if msg == "" {
		msg = "conflict"
	}
	return &types.ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response: &types.Response{
			ResponseCode: http.StatusConflict,
			Error:        msg,
		},
	}
}

func errInternal(id int) *types.ServerFrame {
	return &types.ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response: &types.Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func errUnavailable(id int) *types.ServerFrame {
	return &types.ServerFrame{
		Id:        id,
		Timestamp: Now(),
		Response: &types.Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

// messageFrame wraps a kind-tagged message for delivery on a destination.
func messageFrame(destination string, msg any) (*types.ServerFrame, error) {
	body, err := types.EncodeMessage(msg)
	if err != nil {
		return nil, err
	}

	return &types.ServerFrame{
		Timestamp: Now(),
		Message: &types.Message{
			Destination: destination,
			Body:        body,
		},
	}, nil
}
