package types

import (
	"time"
)

type User struct {
	Id           int       `json:"id"`
	Uuid         string    `json:"uuid"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id          int       `json:"id"`
	Name        string    `json:"name"`
	ExternalId  string    `json:"external_id"`
	Description string    `json:"description"`
	OwnerId     int       `json:"owner_id"`
	StartDate   string    `json:"start_date,omitempty"`
	EndDate     string    `json:"end_date,omitempty"`
	Members     []User    `json:"members,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

type Membership struct {
	Id        int       `json:"id"`
	User      User      `json:"user"`
	Room      Room      `json:"room"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Pin is an ephemeral shared map annotation. It is broadcast to the room
// on add and remove but never persisted.
type Pin struct {
	Id      int64   `json:"id"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	OwnerId int     `json:"ownerId"`
}

// WantItem is a candidate place on the room's shared wishlist. VoteCount is
// the server's authoritative tally; IsVotedByMe is a per-user projection
// delivered on the personal queue only.
type WantItem struct {
	WantId      int64   `json:"wantId"`
	PlaceId     int64   `json:"placeId"`
	PlaceName   string  `json:"placeName,omitempty"`
	Category    string  `json:"category,omitempty"`
	ImgUrl      string  `json:"imgUrl,omitempty"`
	Lat         float64 `json:"lat,omitempty"`
	Lng         float64 `json:"lng,omitempty"`
	VoteCount   int     `json:"voteCnt"`
	IsVotedByMe bool    `json:"isVoted"`
}

// ScheduleEvent is one entry in a day bucket. StartTime and EndTime are
// "HH:MM" strings and individually optional; ordering within the day is
// carried exclusively by EventOrder, a dense 0-based index.
type ScheduleEvent struct {
	WantId     int64   `json:"wantId"`
	PlaceName  string  `json:"placeName,omitempty"`
	StartTime  *string `json:"startTime"`
	EndTime    *string `json:"endTime"`
	EventOrder int     `json:"eventOrder"`
}
