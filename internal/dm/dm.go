// Package dm resolves direct-message conversations to their single canonical
// row and reads DM history. Duplicate conversation rows would fragment
// history, so creation leans on the unique pair constraint in the database
// rather than application-level checks alone.
package dm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"concord-backend/internal/models"
	"concord-backend/internal/snowflake"

	"go.uber.org/zap"
)

type Service struct {
	sugar *zap.SugaredLogger
	db    *sql.DB
}

func New(sugar *zap.SugaredLogger, db *sql.DB) *Service {
	return &Service{sugar: sugar, db: db}
}

// orderPair returns the canonical ordering, smaller snowflake first.
func orderPair(userA int64, userB int64) (int64, int64) {
	if userB < userA {
		return userB, userA
	}
	return userA, userB
}

func (s *Service) lookup(ctx context.Context, user1 int64, user2 int64) (models.DmConversation, error) {
	var conv models.DmConversation
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user1_id, user2_id FROM dm_conversations WHERE user1_id = ? AND user2_id = ?",
		user1, user2).Scan(&conv.ID, &conv.User1ID, &conv.User2ID)
	return conv, err
}

// ResolveOrCreate returns the one conversation between the two users,
// creating it if it does not exist yet. Safe under concurrent calls from
// both participants: if the insert loses a race the unique constraint
// rejects it and the winner's row is re-read.
func (s *Service) ResolveOrCreate(ctx context.Context, userA int64, userB int64) (models.DmConversation, error) {
	if userA == userB {
		return models.DmConversation{}, fmt.Errorf("a conversation needs two distinct users, got %d twice", userA)
	}

	user1, user2 := orderPair(userA, userB)

	conv, err := s.lookup(ctx, user1, user2)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.DmConversation{}, err
	}

	id, err := snowflake.Generate()
	if err != nil {
		return models.DmConversation{}, err
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO dm_conversations (id, user1_id, user2_id, created_at) VALUES (?, ?, ?, ?)",
		id, user1, user2, time.Now().UnixMilli())
	if err != nil {
		// most likely the other participant won the race, their row is canonical
		conv, lookupErr := s.lookup(ctx, user1, user2)
		if lookupErr == nil {
			s.sugar.Debugf("Conversation between %d and %d was created concurrently, reusing ID %d", user1, user2, conv.ID)
			return conv, nil
		}
		return models.DmConversation{}, err
	}

	return models.DmConversation{ID: id, User1ID: user1, User2ID: user2}, nil
}

// Messages returns the DM history between the two users, newest first, with
// the author projection joined in.
func (s *Service) Messages(ctx context.Context, userA int64, userB int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			messages.id,
			messages.user_id,
			messages.recipient_id,
			messages.content,
			messages.image_url,
			users.display_name,
			users.picture
		FROM
			messages
		JOIN
			users ON messages.user_id = users.id
		WHERE
			messages.channel_id IS NULL
			AND ((messages.user_id = ? AND messages.recipient_id = ?)
				OR (messages.user_id = ? AND messages.recipient_id = ?))
		ORDER BY messages.id DESC
	`, userA, userB, userB, userA)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.Message{}

	for rows.Next() {
		var msg models.Message
		var recipientID sql.NullInt64
		var content, imageURL sql.NullString

		err := rows.Scan(&msg.ID, &msg.UserID, &recipientID, &content, &imageURL, &msg.User.DisplayName, &msg.User.Picture)
		if err != nil {
			return nil, err
		}

		if recipientID.Valid {
			msg.RecipientID = &recipientID.Int64
		}
		msg.Content = content.String
		msg.ImageURL = imageURL.String
		msg.User.ID = msg.UserID

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// Conversations lists the caller's conversations with the other-participant
// projection and the latest message as a preview.
func (s *Service) Conversations(ctx context.Context, userID int64) ([]models.ConversationView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			c.id,
			u.id,
			u.display_name,
			u.picture,
			(SELECT m.content FROM messages m
				WHERE m.channel_id IS NULL
					AND ((m.user_id = c.user1_id AND m.recipient_id = c.user2_id)
						OR (m.user_id = c.user2_id AND m.recipient_id = c.user1_id))
				ORDER BY m.id DESC LIMIT 1)
		FROM dm_conversations c
		JOIN users u ON u.id = CASE WHEN c.user1_id = ? THEN c.user2_id ELSE c.user1_id END
		WHERE c.user1_id = ? OR c.user2_id = ?
		ORDER BY c.id DESC
	`, userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := []models.ConversationView{}

	for rows.Next() {
		var view models.ConversationView
		var preview sql.NullString

		err := rows.Scan(&view.ID, &view.Other.ID, &view.Other.DisplayName, &view.Other.Picture, &preview)
		if err != nil {
			return nil, err
		}

		view.LastMessage = preview.String
		conversations = append(conversations, view)
	}

	return conversations, rows.Err()
}
