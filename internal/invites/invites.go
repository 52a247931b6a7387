// Package invites generates and redeems server invite codes. The use cap is
// enforced with a conditional increment inside the redeem transaction, never
// with an application-side read-then-write.
package invites

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"concord-backend/internal/models"
	"concord-backend/internal/snowflake"

	"go.uber.org/zap"
)

var (
	ErrNotFound      = errors.New("invite code does not exist")
	ErrExpired       = errors.New("invite has expired")
	ErrExhaustedUses = errors.New("invite has no uses left")
	ErrAlreadyMember = errors.New("already a member of this server")
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	codeLength   = 8

	// collisions at 62^8 codes are negligible, but the unique constraint
	// catches them anyway and we just roll a new code
	maxCodeAttempts = 5
)

type Service struct {
	sugar *zap.SugaredLogger
	db    *sql.DB
}

func New(sugar *zap.SugaredLogger, db *sql.DB) *Service {
	return &Service{sugar: sugar, db: db}
}

func generateCode() (string, error) {
	code := make([]byte, codeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = codeAlphabet[n.Int64()]
	}
	return string(code), nil
}

// Create generates a new invite for the server. maxUses nil means unlimited,
// expiresAt nil means the invite never expires.
func (s *Service) Create(ctx context.Context, serverID int64, creatorID int64, maxUses *int, expiresAt *time.Time) (models.Invite, error) {
	if maxUses != nil && *maxUses < 1 {
		return models.Invite{}, fmt.Errorf("maxUses must be positive, got %d", *maxUses)
	}

	id, err := snowflake.Generate()
	if err != nil {
		return models.Invite{}, err
	}

	invite := models.Invite{
		ID:        id,
		ServerID:  serverID,
		CreatedBy: creatorID,
		MaxUses:   maxUses,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UnixMilli(),
	}

	var expiresAtMillis *int64
	if expiresAt != nil {
		millis := expiresAt.UnixMilli()
		expiresAtMillis = &millis
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := generateCode()
		if err != nil {
			return models.Invite{}, err
		}

		_, err = s.db.ExecContext(ctx,
			"INSERT INTO server_invites (id, code, server_id, created_by, max_uses, used_count, expires_at, created_at) VALUES (?, ?, ?, ?, ?, 0, ?, ?)",
			id, code, serverID, creatorID, maxUses, expiresAtMillis, invite.CreatedAt)
		if err == nil {
			invite.Code = code
			return invite, nil
		}

		// only retry when the collision is on the code itself
		var taken bool
		if checkErr := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM server_invites WHERE code = ?)", code).Scan(&taken); checkErr != nil || !taken {
			return models.Invite{}, err
		}

		s.sugar.Warnf("Invite code [%s] collided, regenerating", code)
	}

	return models.Invite{}, fmt.Errorf("could not generate a unique invite code after %d attempts", maxCodeAttempts)
}

// Preview returns the public pre-join view for an invite code.
func (s *Service) Preview(ctx context.Context, code string) (models.InvitePreview, error) {
	var preview models.InvitePreview
	var picture sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT i.code, s.name, s.picture,
			(SELECT COUNT(*) FROM server_members m WHERE m.server_id = s.id)
		FROM server_invites i
		JOIN servers s ON s.id = i.server_id
		WHERE i.code = ?
	`, code).Scan(&preview.Code, &preview.ServerName, &picture, &preview.MemberCount)
	if errors.Is(err, sql.ErrNoRows) {
		return models.InvitePreview{}, ErrNotFound
	}
	if err != nil {
		return models.InvitePreview{}, err
	}

	preview.ServerImage = picture.String
	return preview, nil
}

// Redeem consumes one use of the invite and makes the user a member, both in
// one transaction. Failure precedence: NotFound, then Expired, then
// AlreadyMember, then ExhaustedUses.
func (s *Service) Redeem(ctx context.Context, code string, userID int64) (models.Server, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Server{}, err
	}
	defer tx.Rollback()

	var inviteID, serverID int64
	var maxUses sql.NullInt64
	var expiresAt sql.NullInt64

	err = tx.QueryRowContext(ctx,
		"SELECT id, server_id, max_uses, expires_at FROM server_invites WHERE code = ?",
		code).Scan(&inviteID, &serverID, &maxUses, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Server{}, ErrNotFound
	}
	if err != nil {
		return models.Server{}, err
	}

	if expiresAt.Valid && time.UnixMilli(expiresAt.Int64).Before(time.Now()) {
		return models.Server{}, ErrExpired
	}

	var isMember bool
	err = tx.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM server_members WHERE server_id = ? AND user_id = ?)",
		serverID, userID).Scan(&isMember)
	if err != nil {
		return models.Server{}, err
	}
	if isMember {
		return models.Server{}, ErrAlreadyMember
	}

	// checked increment: only counts up while below the cap, so a race on
	// the final use cannot push used_count past max_uses
	if maxUses.Valid {
		result, err := tx.ExecContext(ctx,
			"UPDATE server_invites SET used_count = used_count + 1 WHERE id = ? AND used_count < max_uses",
			inviteID)
		if err != nil {
			return models.Server{}, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return models.Server{}, err
		}
		if affected == 0 {
			return models.Server{}, ErrExhaustedUses
		}
	} else {
		if _, err := tx.ExecContext(ctx, "UPDATE server_invites SET used_count = used_count + 1 WHERE id = ?", inviteID); err != nil {
			return models.Server{}, err
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO server_members (server_id, user_id, role, since) VALUES (?, ?, ?, ?)",
		serverID, userID, models.RoleMember, time.Now().UnixMilli())
	if err != nil {
		return models.Server{}, err
	}

	var server models.Server
	var picture sql.NullString
	err = tx.QueryRowContext(ctx, "SELECT id, owner_id, name, picture FROM servers WHERE id = ?", serverID).
		Scan(&server.ID, &server.OwnerID, &server.Name, &picture)
	if err != nil {
		return models.Server{}, err
	}
	server.Picture = picture.String

	if err := tx.Commit(); err != nil {
		return models.Server{}, err
	}

	return server, nil
}
