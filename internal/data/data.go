package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/brunobiu/chatbotprincipal/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// OpenDB opens the shared SQLite database.
// A single connection serializes writers; busy_timeout covers other processes holding the file.
func OpenDB(dbPath string) (*sql.DB, error) {
	if dbPath != ":memory:" {
		// Ensure directory exists
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	dsn := "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if dbPath != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Repositories contains all repositories
type Repositories struct {
	DB           *sql.DB
	Conversation repo.ConversationRepo
	Usage        repo.UsageRepo
	Knowledge    repo.KnowledgeRepo
	BotConfig    repo.BotConfigRepo
}

// NewRepositories creates all SQLite-backed repositories on one database.
// embedder may be nil, in which case knowledge retrieval is lexical only.
func NewRepositories(dbPath string, embedder repo.Embedder, log zerolog.Logger) (*Repositories, error) {
	db, err := OpenDB(dbPath)
	if err != nil {
		return nil, err
	}

	convRepo, err := NewConversationRepo(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	usageRepo, err := NewUsageRepo(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	knowledgeRepo, err := NewKnowledgeRepo(db, embedder, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	configRepo, err := NewBotConfigRepo(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Repositories{
		DB:           db,
		Conversation: convRepo,
		Usage:        usageRepo,
		Knowledge:    knowledgeRepo,
		BotConfig:    configRepo,
	}, nil
}

// Close closes the database connection
func (r *Repositories) Close() error {
	return r.DB.Close()
}
