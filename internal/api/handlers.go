package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lib/pq"
	"github.com/tripwish/triproom/internal/database"
	"github.com/tripwish/triproom/internal/server"
	"github.com/tripwish/triproom/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

type ScheduleDayResponse struct {
	DateKey string                `json:"dateKey"`
	Day     int                   `json:"day"`
	Events  []types.ScheduleEvent `json:"events"`
}

func (s *TripApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation"
}

func (s *TripApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateAccountParams{
		Uuid:         uuid.NewString(),
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		var errResp *ApiError
		if isUniqueViolation(err) {
			errResp = NewConflictError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.User{
		Id:           newUser.Id,
		Uuid:         newUser.Uuid,
		Username:     newUser.Username,
		EmailAddress: newUser.EmailAddress,
	})
}

func (s *TripApp) account(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.User{
		Id:           user.Id,
		Uuid:         user.Uuid,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
	})
}

func (s *TripApp) session(w http.ResponseWriter, r *http.Request) {
	s.account(w, r)
}

func (s *TripApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, err := s.createJwtForSession(dbUser.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, types.User{
		Id:           dbUser.Id,
		Uuid:         dbUser.Uuid,
		Username:     dbUser.Username,
		EmailAddress: dbUser.EmailAddress,
	})
}

func (s *TripApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func (s *TripApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var createRoomReq CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&createRoomReq); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if createRoomReq.Name == "" ||
		!validDate(createRoomReq.StartDate) || !validDate(createRoomReq.EndDate) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	sid, err := s.generateShortId()
	if err != nil {
		s.log.Print("generateShortId:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateRoomParams{
		Name:        createRoomReq.Name,
		Description: createRoomReq.Description,
		StartDate:   createRoomReq.StartDate,
		EndDate:     createRoomReq.EndDate,
		OwnerId:     userId,
		ExternalId:  sid,
	}

	newRoom, err := s.db.CreateRoom(params)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// The owner is a member of their own trip from the start.
	if _, err := s.db.CreateMembership(userId, newRoom.Id); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, &types.Room{
		Id:          newRoom.Id,
		ExternalId:  newRoom.ExternalId,
		Name:        newRoom.Name,
		Description: newRoom.Description,
		OwnerId:     newRoom.OwnerId,
		StartDate:   newRoom.StartDate,
		EndDate:     newRoom.EndDate,
		CreatedAt:   newRoom.CreatedAt,
		UpdatedAt:   newRoom.UpdatedAt,
	})
}

// roomFromRequest loads the room addressed by the request, from the roomId
// path value if present or the id query parameter otherwise.
func (s *TripApp) roomFromRequest(r *http.Request) (database.Room, *ApiError) {
	externalId := r.PathValue("roomId")
	if externalId == "" {
		externalId = r.URL.Query().Get("id")
	}
	if externalId == "" {
		return database.Room{}, NewBadRequestError()
	}

	room, err := s.db.GetRoomByExternalId(externalId)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return database.Room{}, NewNotFoundError()
		}
		return database.Room{}, NewInternalServerError(err)
	}

	return room, nil
}

func (s *TripApp) getRoom(w http.ResponseWriter, r *http.Request) {
	room, apiErr := s.roomFromRequest(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	full, err := s.db.GetRoomWithMembers(room.Id)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	members := make([]types.User, 0, len(full.Memberships))
	for _, m := range full.Memberships {
		members = append(members, types.User{
			Id:       m.AccountId,
			Username: m.Username,
		})
	}

	s.writeJson(w, http.StatusOK, &types.Room{
		Id:          full.Id,
		ExternalId:  full.ExternalId,
		Name:        full.Name,
		Description: full.Description,
		OwnerId:     full.OwnerId,
		StartDate:   full.StartDate,
		EndDate:     full.EndDate,
		Members:     members,
		CreatedAt:   full.CreatedAt,
		UpdatedAt:   full.UpdatedAt,
	})
}

func (s *TripApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, apiErr := s.roomFromRequest(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	if room.OwnerId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteRoom(room.Id); err != nil {
		s.log.Println("delete room:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.ss.UnloadRoom(room.ExternalId)
	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *TripApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, apiErr := s.roomFromRequest(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	if s.db.MembershipExists(userId, room.Id) {
		errResp := NewConflictError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	m, err := s.db.CreateMembership(userId, room.Id)
	if err != nil {
		var errResp *ApiError
		if isUniqueViolation(err) {
			errResp = NewConflictError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.Membership{
		Id:   m.Id,
		User: types.User{Id: m.AccountId, Username: m.Username},
		Room: types.Room{Id: room.Id, ExternalId: room.ExternalId, Name: room.Name},
	})
}

func (s *TripApp) leaveRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, apiErr := s.roomFromRequest(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	if room.OwnerId == userId {
		// the owner deletes the trip instead of leaving it
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.db.DeleteMembership(userId, room.Id); err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *TripApp) getMemberships(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbMemberships, err := s.db.ListMemberships(userId)
	if err != nil {
		s.log.Println("list memberships:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var memberships []types.Membership
	for _, m := range dbMemberships {
		memberships = append(memberships, types.Membership{
			Id:        m.Id,
			User:      types.User{Id: m.AccountId, Username: m.Username},
			Room:      types.Room{Id: m.RoomId},
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		})
	}

	s.writeJson(w, http.StatusOK, memberships)
}

// getWants lists the room's wishlist with the caller's personal vote flags
// folded in. This is the read model clients seed from before subscribing.
func (s *TripApp) getWants(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, apiErr := s.roomFromRequest(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	if !s.db.MembershipExists(userId, room.Id) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbWants, err := s.db.ListWantPlaces(room.Id, userId)
	if err != nil {
		s.log.Println("list want places:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	wants := make([]types.WantItem, 0, len(dbWants))
	for _, wp := range dbWants {
		wants = append(wants, types.WantItem{
			WantId:      wp.WantId,
			PlaceId:     wp.PlaceId,
			PlaceName:   wp.PlaceName,
			Category:    wp.Category,
			ImgUrl:      wp.ImgUrl,
			Lat:         wp.Lat,
			Lng:         wp.Lng,
			VoteCount:   wp.VoteCount,
			IsVotedByMe: wp.IsVoted,
		})
	}

	s.writeJson(w, http.StatusOK, wants)
}

// toggleVote flips the caller's vote over plain HTTP. The response is a bare
// 202: the authoritative tally and flag arrive on the caller's subscriptions,
// exactly as they do for everyone else in the room.
func (s *TripApp) toggleVote(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, apiErr := s.roomFromRequest(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	if !s.db.MembershipExists(userId, room.Id) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	wantId, err := strconv.ParseInt(r.PathValue("wantId"), 10, 64)
	if err != nil || wantId <= 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	wp, err := s.db.GetWantPlace(wantId)
	if err != nil || wp.RoomId != room.Id {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	result, err := s.db.ToggleVote(userId, wantId)
	if err != nil {
		var errResp *ApiError
		if isUniqueViolation(err) {
			errResp = NewConflictError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.ss.PublishVote(room.ExternalId, result, types.User{
		Id:   user.Id,
		Uuid: user.Uuid,
	})

	s.writeJson(w, http.StatusAccepted, nil)
}

func (s *TripApp) getSchedule(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, apiErr := s.roomFromRequest(r)
	if apiErr != nil {
		s.writeJson(w, apiErr.StatusCode, apiErr)
		return
	}

	if !s.db.MembershipExists(userId, room.Id) {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dateKey := r.URL.Query().Get("date")
	if !validDate(dateKey) {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	rows, err := s.db.GetScheduleDay(room.Id, dateKey)
	if err != nil {
		s.log.Println("get schedule day:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	resp := ScheduleDayResponse{
		DateKey: dateKey,
		Events:  make([]types.ScheduleEvent, 0, len(rows)),
	}
	for _, row := range rows {
		resp.Day = row.Day
		resp.Events = append(resp.Events, types.ScheduleEvent{
			WantId:     row.WantId,
			PlaceName:  row.PlaceName,
			StartTime:  stringPtr(row.StartTime),
			EndTime:    stringPtr(row.EndTime),
			EventOrder: row.EventOrder,
		})
	}

	s.writeJson(w, http.StatusOK, resp)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func (s *TripApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:       user.Id,
		Uuid:     user.Uuid,
		Username: user.Username,
	}, conn, s.ss, s.log)

	s.ss.RegisterClient(client)
	go client.Write()
	go client.Read()
}
