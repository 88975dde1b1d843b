package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name"`
	PasswordHash string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	FailedLogins int        `json:"-"`
	LockedUntil  *time.Time `json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Roles        []string   `json:"roles"`
}

func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

type UsersStore interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, u *User) (int64, error)
	SetUserActive(ctx context.Context, id int64, active bool) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
	RecordLoginSuccess(ctx context.Context, id int64, at time.Time) error
	RecordLoginFailure(ctx context.Context, id int64, lockedUntil *time.Time) error
}

type usersStore struct {
	db *DB
}

func NewUsersStore(db *DB) UsersStore {
	return &usersStore{db: db}
}

const userColumns = `id, email, full_name, password_hash, is_active, failed_logins, locked_until, last_login_at, created_at, updated_at`

func (s *usersStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users WHERE email=?`, email)
	u, err := scanUser(row)
	return s.withRoles(ctx, u, err)
}

func (s *usersStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM users WHERE id=?`, id)
	u, err := scanUser(row)
	return s.withRoles(ctx, u, err)
}

func (s *usersStore) withRoles(ctx context.Context, u *User, err error) (*User, error) {
	if err != nil || u == nil {
		return u, err
	}
	roles, err := s.rolesFor(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return u, nil
}

func (s *usersStore) rolesFor(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role FROM user_roles WHERE user_id=? ORDER BY role ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *usersStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		roles, err := s.rolesFor(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
		res[i].Roles = roles
	}
	return res, nil
}

func (s *usersStore) CreateUser(ctx context.Context, u *User) (int64, error) {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users(email, full_name, password_hash, is_active, created_at, updated_at)
		VALUES(?,?,?,?,?,?)`,
		u.Email, u.FullName, u.PasswordHash, boolToInt(u.IsActive), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		// pgx does not implement LastInsertId; look the row back up.
		if lookupErr := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE email=?`, u.Email).Scan(&id); lookupErr != nil {
			return 0, fmt.Errorf("resolve created user id: %w", lookupErr)
		}
	}
	u.ID = id
	for _, role := range u.Roles {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO user_roles(user_id, role) VALUES(?,?)
			ON CONFLICT (user_id, role) DO NOTHING`, id, role); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (s *usersStore) SetUserActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET is_active=?, updated_at=? WHERE id=?`,
		boolToInt(active), time.Now().UTC(), id)
	return err
}

func (s *usersStore) UpdatePassword(ctx context.Context, id int64, hash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=?, failed_logins=0, locked_until=NULL, updated_at=? WHERE id=?`,
		hash, time.Now().UTC(), id)
	return err
}

func (s *usersStore) RecordLoginSuccess(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET failed_logins=0, locked_until=NULL, last_login_at=? WHERE id=?`,
		at, id)
	return err
}

func (s *usersStore) RecordLoginFailure(ctx context.Context, id int64, lockedUntil *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET failed_logins=failed_logins+1, locked_until=? WHERE id=?`,
		lockedUntil, id)
	return err
}

func scanUser(row interface {
	Scan(dest ...any) error
}) (*User, error) {
	var (
		u           User
		active      int
		lockedUntil sql.NullTime
		lastLogin   sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &active,
		&u.FailedLogins, &lockedUntil, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.IsActive = active == 1
	if lockedUntil.Valid {
		t := lockedUntil.Time
		u.LockedUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}
