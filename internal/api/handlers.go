package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/mongmate/chatserver/internal/database"
	"github.com/mongmate/chatserver/internal/membership"
	"github.com/mongmate/chatserver/internal/roomstate"
	"github.com/mongmate/chatserver/internal/server"
	"github.com/mongmate/chatserver/internal/types"
)

const defaultJwtExpiration = time.Hour * 24

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

type CreateRoomRequest struct {
	PostId   int `json:"post_id"`
	AuthorId int `json:"author_id"`
}

type MarkReadRequest struct {
	LastReadSeq int64 `json:"last_read_seq"`
}

type MarkReadResponse struct {
	RoomId      string `json:"room_id"`
	LastReadSeq int64  `json:"last_read_seq"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

// membershipError translates a denial from the membership authority
// into the matching API error.
func membershipError(err error) *ApiError {
	switch {
	case errors.Is(err, membership.ErrRoomNotFound):
		return NewNotFoundError()
	case errors.Is(err, membership.ErrNotMember):
		return NewForbiddenError()
	default:
		return NewInternalServerError(err)
	}
}

func (s *ChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
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
		Username:     req.Username,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.User{
		Id:           newUser.Id,
		Username:     newUser.Username,
		EmailAddress: newUser.EmailAddress,
		CreatedAt:    newUser.CreatedAt,
		UpdatedAt:    newUser.UpdatedAt,
	})
}

func (s *ChatApp) login(w http.ResponseWriter, r *http.Request) {
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

	token, err := s.auth.CreateToken(dbUser.Id, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, LoginResponse{
		Token: token,
		User: types.User{
			Id:           dbUser.Id,
			Username:     dbUser.Username,
			EmailAddress: dbUser.EmailAddress,
			CreatedAt:    dbUser.CreatedAt,
			UpdatedAt:    dbUser.UpdatedAt,
		},
	})
}

func (s *ChatApp) session(w http.ResponseWriter, r *http.Request) {
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
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	})
}

// createRoom opens a thread between the post's author and the caller.
// Both read-state rows are created in the same transaction, so a room
// never exists half-joined.
func (s *ChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
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

	if req.PostId == 0 || req.AuthorId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// a user can't open a room with themselves
	if req.AuthorId == userId {
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

	thread, err := s.db.CreateThread(database.CreateThreadParams{
		ExternalId:    sid,
		PostId:        req.PostId,
		AuthorId:      req.AuthorId,
		ParticipantId: userId,
	})
	if err != nil {
		s.log.Println("CreateThread:", err)
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.Thread{
		Id:            thread.Id,
		ExternalId:    thread.ExternalId,
		PostId:        thread.PostId,
		AuthorId:      thread.AuthorId,
		ParticipantId: thread.ParticipantId,
		CreatedAt:     thread.CreatedAt,
		UpdatedAt:     thread.UpdatedAt,
	})
}

// listRooms returns the caller's rooms enriched with read progress and
// the latest cached message, newest activity first. A room seen for
// the first time gets its watermark bootstrapped to the current seq,
// so pre-existing history doesn't show up as unread.
func (s *ChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	states, err := s.membership.ListThreadsFor(userId)
	if err != nil {
		s.log.Println("ListThreadsFor:", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var counterpartIds []int
	for _, state := range states {
		counterpartIds = append(counterpartIds, counterpart(state.Thread, userId))
	}

	usernames := make(map[int]string)
	if len(counterpartIds) > 0 {
		usernames, err = s.db.GetUsernames(counterpartIds)
		if err != nil {
			s.log.Println("GetUsernames:", err)
			errResp := NewInternalServerError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	ctx := r.Context()
	items := make([]types.RoomListItem, 0, len(states))
	for _, state := range states {
		roomId := state.Thread.ExternalId

		current, err := s.roomState.CurrentSeq(ctx, roomId)
		if err != nil {
			s.log.Println("CurrentSeq:", err)
			errResp := NewServiceUnavailableError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		lastRead, present, err := s.roomState.LastReadIfPresent(ctx, roomId, userId)
		if err != nil {
			s.log.Println("LastReadIfPresent:", err)
			errResp := NewServiceUnavailableError(err)
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		if !present {
			lastRead = current
			if err := s.roomState.SetLastRead(ctx, roomId, userId, lastRead); err != nil {
				s.log.Println("SetLastRead:", err)
			}
		}

		unreadCount := current - lastRead
		if unreadCount < 0 {
			unreadCount = 0
		}

		var lastMessage *types.Message
		var updatedAt *time.Time
		recent, err := s.roomState.RecentMessages(ctx, roomId, 1)
		if err != nil {
			s.log.Println("RecentMessages:", err)
		}
		if len(recent) > 0 {
			msg := recent[len(recent)-1]
			lastMessage = &msg
			updatedAt = &msg.Timestamp
		} else if current > 0 {
			// cache trimmed or flushed, fall back to the durable row
			row, err := s.db.GetLastMessage(state.ThreadId)
			if err != nil {
				if !errors.Is(err, sql.ErrNoRows) {
					s.log.Println("GetLastMessage:", err)
				}
			} else {
				lastMessage = &types.Message{
					SeqId:     current,
					RoomId:    roomId,
					UserId:    row.UserId,
					Content:   row.Content,
					Timestamp: row.CreatedAt,
				}
				updatedAt = &row.CreatedAt
			}
		}

		// rooms with no messages still order by creation time
		if updatedAt == nil {
			ts := state.Thread.UpdatedAt
			if ts.IsZero() {
				ts = state.Thread.CreatedAt
			}
			if !ts.IsZero() {
				updatedAt = &ts
			}
		}

		title := usernames[counterpart(state.Thread, userId)]
		if title == "" {
			title = "unknown"
		}

		items = append(items, types.RoomListItem{
			RoomId:      roomId,
			Title:       title,
			CurrentSeq:  current,
			LastReadSeq: lastRead,
			UnreadCount: unreadCount,
			LastMessage: lastMessage,
			UpdatedAt:   updatedAt,
		})
	}

	// newest activity first, rooms without any message last
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].UpdatedAt, items[j].UpdatedAt
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})

	s.writeJson(w, http.StatusOK, items)
}

func counterpart(thread database.Thread, userId int) int {
	if thread.AuthorId == userId {
		return thread.ParticipantId
	}
	return thread.AuthorId
}

func (s *ChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	roomId := r.PathValue("id")

	if _, err := s.membership.ResolveRoom(roomId); err != nil {
		errResp := membershipError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	limit := roomstate.DefaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			errResp := NewBadRequestError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	}

	messages, err := s.roomState.RecentMessages(r.Context(), roomId, limit)
	if err != nil {
		s.log.Println("RecentMessages:", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if messages == nil {
		messages = []types.Message{}
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *ChatApp) roomStateHandler(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.PathValue("id")
	if _, err := s.membership.AssertMember(roomId, userId); err != nil {
		errResp := membershipError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ctx := r.Context()
	current, err := s.roomState.CurrentSeq(ctx, roomId)
	if err != nil {
		s.log.Println("CurrentSeq:", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	lastRead, err := s.roomState.LastRead(ctx, roomId, userId)
	if err != nil {
		s.log.Println("LastRead:", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	unreadCount := current - lastRead
	if unreadCount < 0 {
		unreadCount = 0
	}

	s.writeJson(w, http.StatusOK, types.RoomState{
		RoomId:      roomId,
		CurrentSeq:  current,
		LastReadSeq: lastRead,
		UnreadCount: unreadCount,
	})
}

// markRead advances the caller's watermark. The requested seq is
// clamped to the room's current seq so a client can't mark messages
// that don't exist yet as read.
func (s *ChatApp) markRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roomId := r.PathValue("id")
	thread, err := s.membership.AssertMember(roomId, userId)
	if err != nil {
		errResp := membershipError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	ctx := r.Context()
	current, err := s.roomState.CurrentSeq(ctx, roomId)
	if err != nil {
		s.log.Println("CurrentSeq:", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	seq := req.LastReadSeq
	if seq > current {
		seq = current
	}
	if seq < 0 {
		seq = 0
	}

	if err := s.roomState.SetLastRead(ctx, roomId, userId, seq); err != nil {
		s.log.Println("SetLastRead:", err)
		errResp := NewServiceUnavailableError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	// the database row is a best-effort mirror of the watermark
	if err := s.db.UpdateReadState(thread.Id, userId, seq); err != nil {
		s.log.Println("UpdateReadState:", err)
	}

	s.writeJson(w, http.StatusOK, MarkReadResponse{
		RoomId:      roomId,
		LastReadSeq: seq,
	})
}

// serveWs upgrades the connection without authenticating it; the
// client authenticates in-band with a connect frame.
func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
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

	client := server.NewClient(conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}
