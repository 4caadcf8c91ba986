package database

import (
	"database/sql"
	"time"
)

type User struct {
	Id           int
	Uuid         string
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id          int
	ExternalId  string
	Name        string
	Description string
	OwnerId     int
	StartDate   string
	EndDate     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Memberships []Membership
}

type Membership struct {
	Id        int
	AccountId int
	Username  string
	RoomId    int
	CreatedAt time.Time
	UpdatedAt time.Time
}

type WantPlace struct {
	WantId    int64
	RoomId    int
	PlaceId   int64
	PlaceName string
	Category  string
	ImgUrl    string
	Lat       float64
	Lng       float64
	VoteCount int
	IsVoted   bool
	CreatedAt time.Time
}

type ScheduleEvent struct {
	Id         int64
	RoomId     int
	Day        int
	DateKey    string
	WantId     int64
	PlaceName  string
	StartTime  sql.NullString
	EndTime    sql.NullString
	EventOrder int
}

// VoteResult is the authoritative outcome of a vote toggle: the new tally
// and the caster's flag after the toggle.
type VoteResult struct {
	WantId    int64
	VoteCount int
	IsVoted   bool
}

type CreateAccountParams struct {
	Uuid         string
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	OwnerId     int    `json:"-"`
	ExternalId  string `json:"external_id"`
}

type CreateWantPlaceParams struct {
	RoomId    int
	PlaceId   int64
	PlaceName string
	Category  string
	ImgUrl    string
	Lat       float64
	Lng       float64
	AddedBy   int
}
