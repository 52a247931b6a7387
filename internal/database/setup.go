package database

import (
	"database/sql"
	"fmt"

	"concord-backend/internal/models"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

func setPragmaValues(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	// these next 2 extremely speed up performance of sqlite
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return err
	}

	if _, err := db.Exec("PRAGMA synchronous = normal"); err != nil {
		return err
	}

	return nil
}

// OpenSqlite opens the self-contained sqlite backend at the given path and
// creates the schema. Tests use this with a path under t.TempDir().
func OpenSqlite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// there can be sqlite busy errors if this is not set to 1
	db.SetMaxOpenConns(1)

	if err := setPragmaValues(db); err != nil {
		return nil, err
	}

	if err := setupTables(db); err != nil {
		return nil, err
	}

	return db, nil
}

func openMysql(cfg *models.ConfigFile) (*sql.DB, error) {
	db, err := sql.Open("mysql", fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&timeout=10s", cfg.DbUser, cfg.DbPassword, cfg.DbAddress, cfg.DbPort, cfg.DbDatabase))
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)

	if err := setupTables(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Setup(cfg *models.ConfigFile) (*sql.DB, error) {
	if cfg.SelfContained {
		fmt.Println("Connecting to database sqlite...")
		return OpenSqlite("./database.db")
	}

	fmt.Println("Connecting to database mysql/mariadb...")
	return openMysql(cfg)
}

func setupTables(db *sql.DB) error {
	var err error

	_, err = db.Exec(`
			CREATE TABLE IF NOT EXISTS users (
				id BIGINT PRIMARY KEY,
				subject VARCHAR(128) NOT NULL UNIQUE,
				email VARCHAR(64) NOT NULL UNIQUE,
				username VARCHAR(32) NOT NULL UNIQUE,
				display_name VARCHAR(64) NOT NULL,
				picture TEXT
			);
		`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
			CREATE TABLE IF NOT EXISTS servers (
				id BIGINT PRIMARY KEY,
				owner_id BIGINT NOT NULL,
				name VARCHAR(64) NOT NULL,
				picture TEXT,
				FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
			);
		`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
			CREATE TABLE IF NOT EXISTS server_members (
				server_id BIGINT NOT NULL,
				user_id BIGINT NOT NULL,
				role VARCHAR(16) NOT NULL DEFAULT 'member',
				since BIGINT NOT NULL,
				PRIMARY KEY (server_id, user_id),
				FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			);
		`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
			CREATE TABLE IF NOT EXISTS channels (
				id BIGINT PRIMARY KEY,
				server_id BIGINT NOT NULL,
				name VARCHAR(32) NOT NULL,
				type VARCHAR(8) NOT NULL DEFAULT 'text',
				description VARCHAR(256),
				FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE
			);
		`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_channels_server ON channels (server_id);`)
	if err != nil {
		return err
	}

	// channel_id is NULL for direct messages, recipient_id is NULL for
	// channel messages; exactly one of the two shapes is valid per row
	_, err = db.Exec(`
			CREATE TABLE IF NOT EXISTS messages (
				id BIGINT PRIMARY KEY,
				channel_id BIGINT,
				user_id BIGINT NOT NULL,
				recipient_id BIGINT,
				content TEXT,
				image_url TEXT,
				FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE,
				FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			);
		`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages (channel_id);`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_messages_dm_pair ON messages (user_id, recipient_id);`)
	if err != nil {
		return err
	}

	// the unique pair constraint is what keeps concurrent conversation
	// creation from fragmenting history; user1_id < user2_id always
	_, err = db.Exec(`
			CREATE TABLE IF NOT EXISTS dm_conversations (
				id BIGINT PRIMARY KEY,
				user1_id BIGINT NOT NULL,
				user2_id BIGINT NOT NULL,
				created_at BIGINT NOT NULL,
				FOREIGN KEY (user1_id) REFERENCES users(id) ON DELETE CASCADE,
				FOREIGN KEY (user2_id) REFERENCES users(id) ON DELETE CASCADE,
				CONSTRAINT uq_dm_pair UNIQUE (user1_id, user2_id)
			);
		`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
			CREATE TABLE IF NOT EXISTS server_invites (
				id BIGINT PRIMARY KEY,
				code VARCHAR(16) NOT NULL UNIQUE,
				server_id BIGINT NOT NULL,
				created_by BIGINT NOT NULL,
				max_uses INTEGER,
				used_count INTEGER NOT NULL DEFAULT 0,
				expires_at BIGINT,
				created_at BIGINT NOT NULL,
				FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE,
				FOREIGN KEY (created_by) REFERENCES users(id) ON DELETE CASCADE
			);
		`)
	if err != nil {
		return err
	}

	return nil
}
