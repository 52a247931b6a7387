// Package access answers "may user X touch resource Y" with pure reads
// against the membership tables. Callers run the relevant check before any
// read or mutation; the checks themselves never change state.
package access

import (
	"context"
	"database/sql"
)

type Checker struct {
	db *sql.DB
}

func New(db *sql.DB) *Checker {
	return &Checker{db: db}
}

// IsMember reports whether a membership row exists for the pair.
func (c *Checker) IsMember(ctx context.Context, userID int64, serverID int64) (bool, error) {
	var isMember bool
	err := c.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM server_members WHERE server_id = ? AND user_id = ?)", serverID, userID).Scan(&isMember)
	if err != nil {
		return false, err
	}
	return isMember, nil
}

// CanReadChannel reports whether the user is a member of the channel's
// owning server. A channel whose server has no membership row for the user
// denies access, as does a channel ID that resolves to nothing.
func (c *Checker) CanReadChannel(ctx context.Context, userID int64, channelID int64) (bool, error) {
	var canRead bool
	err := c.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM channels
			JOIN server_members ON channels.server_id = server_members.server_id
			WHERE channels.id = ? AND server_members.user_id = ?
		)`, channelID, userID).Scan(&canRead)
	if err != nil {
		return false, err
	}
	return canRead, nil
}

// IsServerOwner reports whether the user owns the server.
func (c *Checker) IsServerOwner(ctx context.Context, userID int64, serverID int64) (bool, error) {
	var ownsServer bool
	err := c.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM servers WHERE id = ? AND owner_id = ?)", serverID, userID).Scan(&ownsServer)
	if err != nil {
		return false, err
	}
	return ownsServer, nil
}
