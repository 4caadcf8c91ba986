package database

import (
	"github.com/stretchr/testify/mock"
)

type MockTripRepository struct {
	mock.Mock
}

func (m *MockTripRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockTripRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockTripRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockTripRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockTripRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockTripRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockTripRepository) GetRoomWithMembers(roomId int) (*Room, error) {
	args := m.Called(roomId)
	if room, ok := args.Get(0).(*Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockTripRepository) DeleteRoom(roomId int) error {
	args := m.Called(roomId)
	return args.Error(0)
}
func (m *MockTripRepository) CreateMembership(accountId, roomId int) (Membership, error) {
	args := m.Called(accountId, roomId)
	return args.Get(0).(Membership), args.Error(1)
}
func (m *MockTripRepository) MembershipExists(accountId, roomId int) bool {
	args := m.Called(accountId, roomId)
	return args.Bool(0)
}
func (m *MockTripRepository) ListMemberships(accountId int) ([]Membership, error) {
	args := m.Called(accountId)
	if memberships, ok := args.Get(0).([]Membership); ok {
		return memberships, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockTripRepository) DeleteMembership(accountId, roomId int) error {
	args := m.Called(accountId, roomId)
	return args.Error(0)
}
func (m *MockTripRepository) CreateWantPlace(params CreateWantPlaceParams) (WantPlace, error) {
	args := m.Called(params)
	return args.Get(0).(WantPlace), args.Error(1)
}
func (m *MockTripRepository) GetWantPlace(wantId int64) (WantPlace, error) {
	args := m.Called(wantId)
	return args.Get(0).(WantPlace), args.Error(1)
}
func (m *MockTripRepository) DeleteWantPlace(wantId int64) error {
	args := m.Called(wantId)
	return args.Error(0)
}
func (m *MockTripRepository) ListWantPlaces(roomId, accountId int) ([]WantPlace, error) {
	args := m.Called(roomId, accountId)
	if places, ok := args.Get(0).([]WantPlace); ok {
		return places, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockTripRepository) ToggleVote(accountId int, wantId int64) (VoteResult, error) {
	args := m.Called(accountId, wantId)
	return args.Get(0).(VoteResult), args.Error(1)
}
func (m *MockTripRepository) ReplaceScheduleDay(roomId, day int, dateKey string, events []ScheduleEvent) error {
	args := m.Called(roomId, day, dateKey, events)
	return args.Error(0)
}
func (m *MockTripRepository) GetScheduleDay(roomId int, dateKey string) ([]ScheduleEvent, error) {
	args := m.Called(roomId, dateKey)
	if events, ok := args.Get(0).([]ScheduleEvent); ok {
		return events, args.Error(1)
	}
	return nil, args.Error(1)
}
