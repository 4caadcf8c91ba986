package database

type TripRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	CreateRoom(params CreateRoomParams) (Room, error)
	GetRoomByExternalId(externalId string) (Room, error)
	GetRoomWithMembers(roomId int) (*Room, error)
	DeleteRoom(roomId int) error
	CreateMembership(accountId, roomId int) (Membership, error)
	MembershipExists(accountId, roomId int) bool
	ListMemberships(accountId int) ([]Membership, error)
	DeleteMembership(accountId, roomId int) error
	CreateWantPlace(params CreateWantPlaceParams) (WantPlace, error)
	GetWantPlace(wantId int64) (WantPlace, error)
	DeleteWantPlace(wantId int64) error
	ListWantPlaces(roomId, accountId int) ([]WantPlace, error)
	ToggleVote(accountId int, wantId int64) (VoteResult, error)
	ReplaceScheduleDay(roomId, day int, dateKey string, events []ScheduleEvent) error
	GetScheduleDay(roomId int, dateKey string) ([]ScheduleEvent, error)
}
