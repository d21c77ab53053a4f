package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for users, datasets, and chat
// history. Every operation acquires its own short-lived transaction (or
// single statement) and releases it before returning.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "databot.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// isUniqueViolation reports whether err is a SQLite uniqueness constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Users ---

// GetUserByUsername looks up a user by exact username match.
func (s *Store) GetUserByUsername(username string) (User, error) {
	var u User
	err := s.db.QueryRow("SELECT id, username FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.Username)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUserByID looks up a user by identifier.
func (s *Store) GetUserByID(id int64) (User, error) {
	var u User
	err := s.db.QueryRow("SELECT id, username FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.Username)
	if err == sql.ErrNoRows {
		return User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// CreateUser inserts a new user. Returns ErrAlreadyExists if the username is taken.
func (s *Store) CreateUser(username string) (User, error) {
	res, err := s.db.Exec("INSERT INTO users (username) VALUES (?)", username)
	if isUniqueViolation(err) {
		return User{}, fmt.Errorf("user %q: %w", username, ErrAlreadyExists)
	}
	if err != nil {
		return User{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return User{}, err
	}
	return User{ID: id, Username: username}, nil
}

// GetOrCreateUser resolves a username to a stable user identity, creating the
// record on first miss. The insert is conflict-tolerant, so two concurrent
// callers resolve to the same row rather than racing the existence check.
func (s *Store) GetOrCreateUser(username string) (User, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return User{}, fmt.Errorf("beginning user transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("INSERT INTO users (username) VALUES (?) ON CONFLICT(username) DO NOTHING", username); err != nil {
		return User{}, fmt.Errorf("inserting user %q: %w", username, err)
	}

	var u User
	if err := tx.QueryRow("SELECT id, username FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.Username); err != nil {
		return User{}, fmt.Errorf("selecting user %q: %w", username, err)
	}

	if err := tx.Commit(); err != nil {
		return User{}, fmt.Errorf("committing user transaction: %w", err)
	}
	return u, nil
}

// --- Datasets ---

// ListDatasetNames returns all dataset names owned by the user, in insertion order.
func (s *Store) ListDatasetNames(userID int64) ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM datasets WHERE user_id = ? ORDER BY id ASC", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// SaveDataset upserts the payload into the (user, name) slot. A second save
// under the same name replaces the payload in place; there is never more than
// one row per slot. Returns ErrNotFound if the user does not exist.
func (s *Store) SaveDataset(userID int64, name string, payload []byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRow("SELECT 1 FROM users WHERE id = ?", userID).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`
		INSERT INTO datasets (user_id, name, payload) VALUES (?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET payload = excluded.payload`,
		userID, name, payload,
	); err != nil {
		return fmt.Errorf("upserting dataset %q: %w", name, err)
	}

	return tx.Commit()
}

// LoadDataset returns the stored payload for the (user, name) slot.
// Returns ErrNotFound when no such slot exists.
func (s *Store) LoadDataset(userID int64, name string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRow("SELECT payload FROM datasets WHERE user_id = ? AND name = ?", userID, name).
		Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("dataset %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// --- Chat history ---

// AppendChat records one conversation turn. The timestamp is assigned by the
// store's clock at insert time, not by the caller.
func (s *Store) AppendChat(userID int64, message, response string) error {
	_, err := s.db.Exec(
		"INSERT INTO chat_histories (user_id, message, response) VALUES (?, ?, ?)",
		userID, message, response,
	)
	return err
}

// RecentChat returns at most limit entries for the user, most recent first.
// Timestamp ties are broken by insertion order, newest insertion winning.
// A limit <= 0 falls back to 50.
func (s *Store) RecentChat(userID int64, limit int) ([]ChatEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, user_id, message, response, timestamp
		FROM chat_histories WHERE user_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ChatEntry
	for rows.Next() {
		var e ChatEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Message, &e.Response, &ts); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		e.Timestamp = t
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
