package backup

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"stokku/backend/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// SQLite stores one row per (user, collection) plus one row of
// document-level fields per user. saved_at is unix millis and NULL when the
// collection was never written locally; updated_at is unix micros of the
// last remote write and NULL before the first one.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open backup database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect backup database: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply backup schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Write(ctx context.Context, doc domain.Document, touched []domain.Collection, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range domain.AllCollections {
		payload, err := json.Marshal(collectionValue(doc, c))
		if err != nil {
			return fmt.Errorf("encode %s: %w", c, err)
		}

		var savedAt any
		if slices.Contains(touched, c) {
			savedAt = at.UnixMilli()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO local_backups (user_id, collection, payload, saved_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (user_id, collection) DO UPDATE SET
				payload = excluded.payload,
				saved_at = COALESCE(excluded.saved_at, local_backups.saved_at)
		`, doc.UserID, string(c), string(payload), savedAt); err != nil {
			return fmt.Errorf("write %s: %w", c, err)
		}
	}

	sequences, err := json.Marshal(doc.Sequences)
	if err != nil {
		return fmt.Errorf("encode sequences: %w", err)
	}
	var updatedAt any
	if !doc.UpdatedAt.IsZero() {
		updatedAt = doc.UpdatedAt.UnixMicro()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO local_documents (user_id, sequences, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			sequences = excluded.sequences,
			updated_at = excluded.updated_at
	`, doc.UserID, string(sequences), updatedAt); err != nil {
		return fmt.Errorf("write document fields: %w", err)
	}

	return tx.Commit()
}

func (s *SQLite) Read(ctx context.Context, userID string) (*Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, payload, saved_at
		FROM local_backups
		WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	snap := &Snapshot{
		Document:   domain.Document{UserID: userID},
		Timestamps: make(map[domain.Collection]time.Time),
	}
	found := false
	for rows.Next() {
		var (
			name    string
			payload string
			savedAt sql.NullInt64
		)
		if err := rows.Scan(&name, &payload, &savedAt); err != nil {
			return nil, err
		}
		found = true

		c := domain.Collection(name)
		dest := collectionTarget(&snap.Document, c)
		if dest == nil {
			continue
		}
		if err := json.Unmarshal([]byte(payload), dest); err != nil {
			return nil, fmt.Errorf("decode %s: %w", c, err)
		}
		if savedAt.Valid {
			snap.Timestamps[c] = time.UnixMilli(savedAt.Int64).UTC()
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	var (
		sequences string
		updatedAt sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT sequences, updated_at FROM local_documents WHERE user_id = ?
	`, userID).Scan(&sequences, &updatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal([]byte(sequences), &snap.Document.Sequences); err != nil {
			return nil, fmt.Errorf("decode sequences: %w", err)
		}
		if updatedAt.Valid {
			snap.Document.UpdatedAt = time.UnixMicro(updatedAt.Int64).UTC()
		}
	}

	snap.Document.Normalize()
	return snap, nil
}

func collectionValue(doc domain.Document, c domain.Collection) any {
	switch c {
	case domain.CollectionProducts:
		return doc.Products
	case domain.CollectionSales:
		return doc.Sales
	case domain.CollectionClients:
		return doc.Clients
	case domain.CollectionPayments:
		return doc.Payments
	case domain.CollectionExpiries:
		return doc.Expiries
	case domain.CollectionTickets:
		return doc.Tickets
	case domain.CollectionCompany:
		return doc.Company
	}
	return nil
}

func collectionTarget(doc *domain.Document, c domain.Collection) any {
	switch c {
	case domain.CollectionProducts:
		return &doc.Products
	case domain.CollectionSales:
		return &doc.Sales
	case domain.CollectionClients:
		return &doc.Clients
	case domain.CollectionPayments:
		return &doc.Payments
	case domain.CollectionExpiries:
		return &doc.Expiries
	case domain.CollectionTickets:
		return &doc.Tickets
	case domain.CollectionCompany:
		return &doc.Company
	}
	return nil
}
