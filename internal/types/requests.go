package types

// Intent payloads published by clients to app destinations. The server is
// the sole authority over the resulting state; intents never mutate local
// state directly.

type VoteRequest struct {
	WantId int64  `json:"wantId"`
	SendId string `json:"sendId,omitempty"`
}

type ScheduleRequest struct {
	Day     int             `json:"day"`
	DateKey string          `json:"dateKey"`
	Events  []ScheduleEvent `json:"events"`
}

// WantAddRequest carries the full place record; there is no server-side
// place catalog to resolve a bare id against.
type WantAddRequest struct {
	PlaceId   int64   `json:"placeId"`
	PlaceName string  `json:"placeName"`
	Category  string  `json:"category,omitempty"`
	ImgUrl    string  `json:"imgUrl,omitempty"`
	Lat       float64 `json:"lat,omitempty"`
	Lng       float64 `json:"lng,omitempty"`
	SendId    string  `json:"sendId,omitempty"`
}

type WantRemoveRequest struct {
	WantId int64 `json:"wantId"`
}

type PinRequest struct {
	Action string `json:"action"`
	Pin    Pin    `json:"pin"`
}
