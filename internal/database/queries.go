package database

import (
	"database/sql"
	"fmt"
	"time"
)

func (db *PgTripRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (uuid, username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, uuid, username, email",
		params.Uuid,
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Uuid,
		&u.Username,
		&u.EmailAddress,
	)

	return u, err
}

func (db *PgTripRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, uuid, username, email FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Uuid,
		&user.Username,
		&user.EmailAddress,
	)

	return user, err
}

func (db *PgTripRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, uuid, username, email, password_hash FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Uuid,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
	)

	return user, err
}

func (db *PgTripRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	res := db.conn.QueryRow(
		"INSERT INTO rooms (external_id, name, description, owner_id, start_date, end_date, created_at) "+
			"VALUES ($1, $2, $3, $4, NULLIF($5, '')::date, NULLIF($6, '')::date, $7) "+
			"RETURNING id, external_id, name, description, owner_id",
		params.ExternalId,
		params.Name,
		params.Description,
		params.OwnerId,
		params.StartDate,
		params.EndDate,
		time.Now().UTC(),
	)

	var room Room
	err := res.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.Description,
		&room.OwnerId,
	)

	return room, err
}

func (db *PgTripRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, description, owner_id, "+
			"COALESCE(to_char(start_date, 'YYYY-MM-DD'), ''), COALESCE(to_char(end_date, 'YYYY-MM-DD'), ''), "+
			"created_at, updated_at FROM rooms WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.Description,
		&room.OwnerId,
		&room.StartDate,
		&room.EndDate,
		&room.CreatedAt,
		&room.UpdatedAt,
	)

	return room, err
}

func (db *PgTripRepository) GetRoomWithMembers(roomId int) (*Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, description, owner_id, "+
			"COALESCE(to_char(start_date, 'YYYY-MM-DD'), ''), COALESCE(to_char(end_date, 'YYYY-MM-DD'), ''), "+
			"created_at, updated_at FROM rooms WHERE id = $1 LIMIT 1",
		roomId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.Description,
		&room.OwnerId,
		&room.StartDate,
		&room.EndDate,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.Query(
		"SELECT m.id, m.account_id, a.username, m.room_id, m.created_at, m.updated_at "+
			"FROM memberships m JOIN accounts a ON a.id = m.account_id WHERE m.room_id = $1",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.Id, &m.AccountId, &m.Username, &m.RoomId, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		room.Memberships = append(room.Memberships, m)
	}

	return &room, rows.Err()
}

func (db *PgTripRepository) DeleteRoom(roomId int) error {
	res, err := db.conn.Exec("DELETE FROM rooms WHERE id = $1", roomId)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (db *PgTripRepository) CreateMembership(accountId, roomId int) (Membership, error) {
	res := db.conn.QueryRow(
		"INSERT INTO memberships (account_id, room_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $3) RETURNING id, account_id, room_id",
		accountId,
		roomId,
		time.Now().UTC(),
	)

	var m Membership
	err := res.Scan(&m.Id, &m.AccountId, &m.RoomId)
	if err != nil {
		return m, err
	}

	row := db.conn.QueryRow("SELECT username FROM accounts WHERE id = $1", accountId)
	if err := row.Scan(&m.Username); err != nil {
		return m, err
	}

	return m, nil
}

func (db *PgTripRepository) MembershipExists(accountId, roomId int) bool {
	row := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM memberships WHERE account_id = $1 AND room_id = $2)",
		accountId,
		roomId,
	)

	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false
	}
	return exists
}

func (db *PgTripRepository) ListMemberships(accountId int) ([]Membership, error) {
	rows, err := db.conn.Query(
		"SELECT m.id, m.account_id, a.username, m.room_id, m.created_at, m.updated_at "+
			"FROM memberships m JOIN accounts a ON a.id = m.account_id WHERE m.account_id = $1",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []Membership
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.Id, &m.AccountId, &m.Username, &m.RoomId, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

func (db *PgTripRepository) DeleteMembership(accountId, roomId int) error {
	res, err := db.conn.Exec(
		"DELETE FROM memberships WHERE account_id = $1 AND room_id = $2",
		accountId,
		roomId,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (db *PgTripRepository) CreateWantPlace(params CreateWantPlaceParams) (WantPlace, error) {
	res := db.conn.QueryRow(
		"INSERT INTO want_places (room_id, place_id, place_name, category, img_url, lat, lng, added_by, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) "+
			"RETURNING id, room_id, place_id, place_name, category, img_url, lat, lng",
		params.RoomId,
		params.PlaceId,
		params.PlaceName,
		params.Category,
		params.ImgUrl,
		params.Lat,
		params.Lng,
		params.AddedBy,
		time.Now().UTC(),
	)

	var wp WantPlace
	err := res.Scan(
		&wp.WantId,
		&wp.RoomId,
		&wp.PlaceId,
		&wp.PlaceName,
		&wp.Category,
		&wp.ImgUrl,
		&wp.Lat,
		&wp.Lng,
	)

	return wp, err
}

func (db *PgTripRepository) GetWantPlace(wantId int64) (WantPlace, error) {
	row := db.conn.QueryRow(
		"SELECT w.id, w.room_id, w.place_id, w.place_name, w.category, w.img_url, w.lat, w.lng, "+
			"(SELECT COUNT(*) FROM place_votes v WHERE v.want_id = w.id) "+
			"FROM want_places w WHERE w.id = $1 LIMIT 1",
		wantId,
	)

	var wp WantPlace
	err := row.Scan(
		&wp.WantId,
		&wp.RoomId,
		&wp.PlaceId,
		&wp.PlaceName,
		&wp.Category,
		&wp.ImgUrl,
		&wp.Lat,
		&wp.Lng,
		&wp.VoteCount,
	)

	return wp, err
}

func (db *PgTripRepository) DeleteWantPlace(wantId int64) error {
	res, err := db.conn.Exec("DELETE FROM want_places WHERE id = $1", wantId)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (db *PgTripRepository) ListWantPlaces(roomId, accountId int) ([]WantPlace, error) {
	rows, err := db.conn.Query(
		"SELECT w.id, w.room_id, w.place_id, w.place_name, w.category, w.img_url, w.lat, w.lng, "+
			"(SELECT COUNT(*) FROM place_votes v WHERE v.want_id = w.id), "+
			"EXISTS (SELECT 1 FROM place_votes v WHERE v.want_id = w.id AND v.account_id = $2) "+
			"FROM want_places w WHERE w.room_id = $1 ORDER BY w.id",
		roomId,
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var places []WantPlace
	for rows.Next() {
		var wp WantPlace
		if err := rows.Scan(
			&wp.WantId,
			&wp.RoomId,
			&wp.PlaceId,
			&wp.PlaceName,
			&wp.Category,
			&wp.ImgUrl,
			&wp.Lat,
			&wp.Lng,
			&wp.VoteCount,
			&wp.IsVoted,
		); err != nil {
			return nil, err
		}
		places = append(places, wp)
	}

	return places, rows.Err()
}

// ToggleVote casts or retracts the account's vote on a want place and
// returns the authoritative tally after the toggle. The whole toggle runs
// in one transaction so concurrent casts serialize on the unique
// (want_id, account_id) constraint.
func (db *PgTripRepository) ToggleVote(accountId int, wantId int64) (VoteResult, error) {
	var result VoteResult
	result.WantId = wantId

	tx, err := db.conn.Begin()
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	var exists bool
	row := tx.QueryRow("SELECT EXISTS (SELECT 1 FROM want_places WHERE id = $1)", wantId)
	if err := row.Scan(&exists); err != nil {
		return result, err
	}
	if !exists {
		return result, sql.ErrNoRows
	}

	res, err := tx.Exec(
		"DELETE FROM place_votes WHERE want_id = $1 AND account_id = $2",
		wantId,
		accountId,
	)
	if err != nil {
		return result, err
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return result, err
	}

	if deleted == 0 {
		if _, err := tx.Exec(
			"INSERT INTO place_votes (want_id, account_id, created_at) VALUES ($1, $2, $3)",
			wantId,
			accountId,
			time.Now().UTC(),
		); err != nil {
			return result, fmt.Errorf("insert vote: %w", err)
		}
		result.IsVoted = true
	}

	row = tx.QueryRow("SELECT COUNT(*) FROM place_votes WHERE want_id = $1", wantId)
	if err := row.Scan(&result.VoteCount); err != nil {
		return result, err
	}

	if err := tx.Commit(); err != nil {
		return result, err
	}

	return result, nil
}

// ReplaceScheduleDay replaces the whole day bucket in one transaction. The
// day is the unit of mutation; there is no single-event update.
func (db *PgTripRepository) ReplaceScheduleDay(roomId, day int, dateKey string, events []ScheduleEvent) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM schedule_events WHERE room_id = $1 AND date_key = $2",
		roomId,
		dateKey,
	); err != nil {
		return err
	}

	for _, e := range events {
		if _, err := tx.Exec(
			"INSERT INTO schedule_events (room_id, day, date_key, want_id, place_name, start_time, end_time, event_order) "+
				"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
			roomId,
			day,
			dateKey,
			e.WantId,
			e.PlaceName,
			e.StartTime,
			e.EndTime,
			e.EventOrder,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (db *PgTripRepository) GetScheduleDay(roomId int, dateKey string) ([]ScheduleEvent, error) {
	rows, err := db.conn.Query(
		"SELECT id, room_id, day, to_char(date_key, 'YYYY-MM-DD'), want_id, place_name, start_time, end_time, event_order "+
			"FROM schedule_events WHERE room_id = $1 AND date_key = $2 ORDER BY event_order",
		roomId,
		dateKey,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ScheduleEvent
	for rows.Next() {
		var e ScheduleEvent
		if err := rows.Scan(
			&e.Id,
			&e.RoomId,
			&e.Day,
			&e.DateKey,
			&e.WantId,
			&e.PlaceName,
			&e.StartTime,
			&e.EndTime,
			&e.EventOrder,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
