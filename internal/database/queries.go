package database

import (
	"time"

	"github.com/lib/pq"
)

const createReadStateQuery = "INSERT INTO chat_read_states (thread_id, account_id, last_read_seq, updated_at) VALUES ($1, $2, 0, $3)"

func (db *PgChatRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, username, email, created_at, updated_at",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		now,
		now,
	)

	var a Account
	err := res.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, err
}

func (db *PgChatRepository) GetAccountById(id int) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var a Account
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, err
}

func (db *PgChatRepository) GetAccountByEmail(email string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var a Account
	err := row.Scan(
		&a.Id,
		&a.Username,
		&a.EmailAddress,
		&a.PasswordHash,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, err
}

func (db *PgChatRepository) GetUsernames(accountIds []int) (map[int]string, error) {
	rows, err := db.conn.Query(
		"SELECT id, username FROM accounts WHERE id = ANY($1)",
		pq.Array(accountIds),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	usernames := make(map[int]string, len(accountIds))
	for rows.Next() {
		var id int
		var username string
		if err := rows.Scan(&id, &username); err != nil {
			return nil, err
		}
		usernames[id] = username
	}

	return usernames, rows.Err()
}

// CreateThread inserts the thread and both participants' read-state
// rows in one transaction, so a thread can never exist without its
// membership rows.
func (db *PgChatRepository) CreateThread(params CreateThreadParams) (Thread, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Thread{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res := tx.QueryRow(
		"INSERT INTO chat_threads (external_id, post_id, author_id, participant_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) "+
			"RETURNING id, external_id, post_id, author_id, participant_id, created_at, updated_at",
		params.ExternalId,
		params.PostId,
		params.AuthorId,
		params.ParticipantId,
		now,
		now,
	)

	var thread Thread
	err = res.Scan(
		&thread.Id,
		&thread.ExternalId,
		&thread.PostId,
		&thread.AuthorId,
		&thread.ParticipantId,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)
	if err != nil {
		return Thread{}, err
	}

	for _, accountId := range []int{params.AuthorId, params.ParticipantId} {
		if _, err = tx.Exec(createReadStateQuery, thread.Id, accountId, now); err != nil {
			return Thread{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return Thread{}, err
	}

	return thread, nil
}

func (db *PgChatRepository) GetThreadByExternalId(externalId string) (Thread, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, post_id, author_id, participant_id, created_at, updated_at "+
			"FROM chat_threads WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var thread Thread
	err := row.Scan(
		&thread.Id,
		&thread.ExternalId,
		&thread.PostId,
		&thread.AuthorId,
		&thread.ParticipantId,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)

	return thread, err
}

func (db *PgChatRepository) ReadStateExists(threadId, accountId int) bool {
	res := db.conn.QueryRow(
		"SELECT thread_id FROM chat_read_states WHERE thread_id = $1 AND account_id = $2 LIMIT 1",
		threadId,
		accountId,
	)

	var id int
	return res.Scan(&id) == nil
}

func (db *PgChatRepository) ListReadStatesByUser(accountId int) ([]ReadState, error) {
	rows, err := db.conn.Query(
		"SELECT s.thread_id, s.account_id, s.last_read_seq, s.updated_at, "+
			"t.id, t.external_id, t.post_id, t.author_id, t.participant_id, t.created_at, t.updated_at "+
			"FROM chat_read_states s JOIN chat_threads t ON t.id = s.thread_id "+
			"WHERE s.account_id = $1",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []ReadState
	for rows.Next() {
		var s ReadState
		err := rows.Scan(
			&s.ThreadId,
			&s.UserId,
			&s.LastReadSeq,
			&s.UpdatedAt,
			&s.Thread.Id,
			&s.Thread.ExternalId,
			&s.Thread.PostId,
			&s.Thread.AuthorId,
			&s.Thread.ParticipantId,
			&s.Thread.CreatedAt,
			&s.Thread.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}

		states = append(states, s)
	}

	return states, rows.Err()
}

func (db *PgChatRepository) UpdateReadState(threadId, accountId int, seq int64) error {
	_, err := db.conn.Exec(
		"UPDATE chat_read_states SET last_read_seq = $3, updated_at = $4 "+
			"WHERE thread_id = $1 AND account_id = $2",
		threadId,
		accountId,
		seq,
		time.Now().UTC(),
	)

	return err
}

func (db *PgChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	res := db.conn.QueryRow(
		"INSERT INTO chat_messages (thread_id, user_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, thread_id, user_id, content, created_at",
		params.ThreadId,
		params.UserId,
		params.Content,
		params.CreatedAt,
	)

	var msg Message
	err := res.Scan(
		&msg.Id,
		&msg.ThreadId,
		&msg.UserId,
		&msg.Content,
		&msg.CreatedAt,
	)

	return msg, err
}

func (db *PgChatRepository) GetLastMessage(threadId int) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT id, thread_id, user_id, content, created_at FROM chat_messages "+
			"WHERE thread_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1",
		threadId,
	)

	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.ThreadId,
		&msg.UserId,
		&msg.Content,
		&msg.CreatedAt,
	)

	return msg, err
}
