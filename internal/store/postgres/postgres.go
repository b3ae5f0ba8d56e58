package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"stokku/backend/internal/domain"
	"stokku/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetDocument(ctx context.Context, userID string) (*domain.Document, error) {
	var (
		products, sales, clients, payments []byte
		expiries, tickets, company         []byte
		sequences                          []byte
		updatedAt                          time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT products, sales, clients, payments, expiries, tickets, company, sequences, updated_at
		FROM user_documents
		WHERE user_id = $1
	`, userID).Scan(&products, &sales, &clients, &payments, &expiries, &tickets, &company, &sequences, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	doc := domain.Document{UserID: userID, UpdatedAt: updatedAt.UTC()}
	columns := []struct {
		name string
		raw  []byte
		dest any
	}{
		{"products", products, &doc.Products},
		{"sales", sales, &doc.Sales},
		{"clients", clients, &doc.Clients},
		{"payments", payments, &doc.Payments},
		{"expiries", expiries, &doc.Expiries},
		{"tickets", tickets, &doc.Tickets},
		{"company", company, &doc.Company},
		{"sequences", sequences, &doc.Sequences},
	}
	for _, col := range columns {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dest); err != nil {
			return nil, fmt.Errorf("decode %s for %s: %w", col.name, userID, err)
		}
	}
	doc.Normalize()
	return &doc, nil
}

// UpsertDocument replaces the user's row wholesale. updated_at comes from the
// database clock.
func (s *Store) UpsertDocument(ctx context.Context, doc domain.Document) (*domain.Document, error) {
	if strings.TrimSpace(doc.UserID) == "" {
		return nil, store.ErrInvalidInput
	}
	doc = doc.Clone()

	payloads := make([]any, 0, 8)
	for _, v := range []any{doc.Products, doc.Sales, doc.Clients, doc.Payments, doc.Expiries, doc.Tickets, doc.Company, doc.Sequences} {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, string(raw))
	}

	var updatedAt time.Time
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_documents (user_id, products, sales, clients, payments, expiries, tickets, company, sequences, updated_at)
		VALUES ($1, $2::jsonb, $3::jsonb, $4::jsonb, $5::jsonb, $6::jsonb, $7::jsonb, $8::jsonb, $9::jsonb, clock_timestamp())
		ON CONFLICT (user_id)
		DO UPDATE SET
			products = EXCLUDED.products,
			sales = EXCLUDED.sales,
			clients = EXCLUDED.clients,
			payments = EXCLUDED.payments,
			expiries = EXCLUDED.expiries,
			tickets = EXCLUDED.tickets,
			company = EXCLUDED.company,
			sequences = EXCLUDED.sequences,
			updated_at = clock_timestamp()
		RETURNING updated_at
	`, append([]any{doc.UserID}, payloads...)...).Scan(&updatedAt)
	if err != nil {
		return nil, err
	}

	doc.UpdatedAt = updatedAt.UTC()
	return &doc, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
