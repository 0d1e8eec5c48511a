// Package postgres provides the Postgres-backed repository of users, reviews
// and followings.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/review-notifier/internal/tracker"
)

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Repository implements tracker.Repository on Postgres. It owns its pool.
type Repository struct {
	pool pool
}

var _ tracker.Repository = (*Repository)(nil)

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Repository, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Repository{pool: p}, nil
}

// NewWithPool constructs a repository from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Repository, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Repository{pool: p}, nil
}

// Migrate applies the schema through the repository's pool.
func (r *Repository) Migrate(ctx context.Context) error {
	return Migrate(ctx, r.pool)
}

// Close releases the underlying pool resources.
func (r *Repository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

const userColumns = `id, external_id, display_name`

// UserByExternalID looks a user up by the mapping service's id.
func (r *Repository) UserByExternalID(ctx context.Context, externalID string) (tracker.ExternalUser, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE external_id = $1`
	u, err := scanUser(r.pool.QueryRow(ctx, query, externalID))
	if err != nil {
		return tracker.ExternalUser{}, wrap("user by external id", err)
	}
	return u, nil
}

// User looks a user up by primary key.
func (r *Repository) User(ctx context.Context, id int64) (tracker.ExternalUser, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return tracker.ExternalUser{}, wrap("user", err)
	}
	return u, nil
}

// CreateUser inserts profile, or returns the existing row untouched when the
// external id is already known.
func (r *Repository) CreateUser(ctx context.Context, profile tracker.Profile) (tracker.ExternalUser, error) {
	query := `
		INSERT INTO users (external_id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, query, profile.ExternalID, profile.DisplayName))
	if err != nil {
		return tracker.ExternalUser{}, wrap("create user", err)
	}
	return u, nil
}

// LatestReview returns the cached review of userID joined with its owner.
func (r *Repository) LatestReview(ctx context.Context, userID int64) (tracker.ReviewWithOwner, error) {
	query := `
		SELECT r.id, r.place_name, r.text, r.original_text, r.star_rating, r.user_id, r.observed_at,
		       u.id, u.external_id, u.display_name
		FROM reviews r
		JOIN users u ON u.id = r.user_id
		WHERE r.user_id = $1`
	var out tracker.ReviewWithOwner
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&out.Review.ID,
		&out.Review.PlaceName,
		&out.Review.Text,
		&out.Review.OriginalText,
		&out.Review.StarRating,
		&out.Review.OwnerID,
		&out.Review.ObservedAt,
		&out.Owner.ID,
		&out.Owner.ExternalID,
		&out.Owner.DisplayName,
	)
	if err != nil {
		return tracker.ReviewWithOwner{}, wrap("latest review", err)
	}
	return out, nil
}

// ReplaceReview deletes the owner's cached review and inserts candidate in one
// transaction, so an owner never ends up with two rows.
func (r *Repository) ReplaceReview(
	ctx context.Context,
	candidate tracker.CandidateReview,
	observedAt time.Time,
) (tracker.ReviewWithOwner, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return tracker.ReviewWithOwner{}, wrap("replace review: begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM reviews WHERE user_id = $1`, candidate.OwnerID); err != nil {
		return tracker.ReviewWithOwner{}, wrap("replace review: delete", err)
	}

	review := tracker.Review{
		PlaceName:    candidate.PlaceName,
		Text:         candidate.Text,
		OriginalText: candidate.OriginalText,
		StarRating:   candidate.StarRating,
		OwnerID:      candidate.OwnerID,
		ObservedAt:   observedAt,
	}
	insert := `
		INSERT INTO reviews (place_name, text, original_text, star_rating, user_id, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err = tx.QueryRow(ctx, insert,
		review.PlaceName,
		review.Text,
		review.OriginalText,
		review.StarRating,
		review.OwnerID,
		review.ObservedAt,
	).Scan(&review.ID)
	if err != nil {
		return tracker.ReviewWithOwner{}, wrap("replace review: insert", err)
	}

	owner, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, review.OwnerID))
	if err != nil {
		return tracker.ReviewWithOwner{}, wrap("replace review: owner", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return tracker.ReviewWithOwner{}, wrap("replace review: commit", err)
	}
	committed = true
	return tracker.ReviewWithOwner{Review: review, Owner: owner}, nil
}

// StaleFollowedUsers returns users followed by at least one channel whose
// cached review is missing or observed before cutoff.
func (r *Repository) StaleFollowedUsers(ctx context.Context, cutoff time.Time) ([]tracker.ExternalUser, error) {
	query := `
		SELECT DISTINCT u.id, u.external_id, u.display_name
		FROM users u
		JOIN following f ON f.followed_user_id = u.id
		LEFT JOIN reviews r ON r.user_id = u.id
		WHERE r.id IS NULL OR r.observed_at < $1
		ORDER BY u.id`
	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, wrap("stale followed users", err)
	}
	users, err := collectUsers(rows)
	if err != nil {
		return nil, wrap("stale followed users", err)
	}
	return users, nil
}

// CountFollowedUsers returns how many distinct users have a follower.
func (r *Repository) CountFollowedUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT followed_user_id) FROM following`).Scan(&n); err != nil {
		return 0, wrap("count followed users", err)
	}
	return n, nil
}

const followingColumns = `id, followed_user_id, channel_id, endpoint_id, wants_original_text`

// FollowersOf returns every following of userID.
func (r *Repository) FollowersOf(ctx context.Context, userID int64) ([]tracker.Following, error) {
	query := `SELECT ` + followingColumns + ` FROM following WHERE followed_user_id = $1 ORDER BY id`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, wrap("followers of", err)
	}
	defer rows.Close()

	var out []tracker.Following
	for rows.Next() {
		f, err := scanFollowing(rows)
		if err != nil {
			return nil, wrap("followers of", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("followers of", err)
	}
	return out, nil
}

// FollowedInChannel returns the users followed in channelID.
func (r *Repository) FollowedInChannel(ctx context.Context, channelID string) ([]tracker.ExternalUser, error) {
	query := `
		SELECT u.id, u.external_id, u.display_name
		FROM users u
		JOIN following f ON f.followed_user_id = u.id
		WHERE f.channel_id = $1
		ORDER BY u.display_name, u.id`
	rows, err := r.pool.Query(ctx, query, channelID)
	if err != nil {
		return nil, wrap("followed in channel", err)
	}
	users, err := collectUsers(rows)
	if err != nil {
		return nil, wrap("followed in channel", err)
	}
	return users, nil
}

// IsFollowed reports whether channelID follows userID.
func (r *Repository) IsFollowed(ctx context.Context, userID int64, channelID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM following WHERE followed_user_id = $1 AND channel_id = $2)`
	var ok bool
	if err := r.pool.QueryRow(ctx, query, userID, channelID).Scan(&ok); err != nil {
		return false, wrap("is followed", err)
	}
	return ok, nil
}

// Follow inserts f. A duplicate (user, channel) pair yields ErrAlreadyFollowing.
func (r *Repository) Follow(ctx context.Context, f tracker.Following) (tracker.Following, error) {
	query := `
		INSERT INTO following (followed_user_id, channel_id, endpoint_id, wants_original_text)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	err := r.pool.QueryRow(ctx, query, f.FollowedUserID, f.ChannelID, f.EndpointID, f.WantsOriginalText).Scan(&f.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return tracker.Following{}, fmt.Errorf("follow: %w", tracker.ErrAlreadyFollowing)
		}
		return tracker.Following{}, wrap("follow", err)
	}
	return f, nil
}

// Unfollow deletes the following of userID in channelID and returns it.
func (r *Repository) Unfollow(ctx context.Context, userID int64, channelID string) (tracker.Following, error) {
	query := `DELETE FROM following WHERE followed_user_id = $1 AND channel_id = $2 RETURNING ` + followingColumns
	f, err := scanFollowing(r.pool.QueryRow(ctx, query, userID, channelID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tracker.Following{}, fmt.Errorf("unfollow: %w", tracker.ErrNotFollowing)
		}
		return tracker.Following{}, wrap("unfollow", err)
	}
	return f, nil
}

// UpdateEndpoint stores a recreated delivery endpoint on a following.
func (r *Repository) UpdateEndpoint(ctx context.Context, followingID int64, endpointID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE following SET endpoint_id = $1 WHERE id = $2`, endpointID, followingID)
	if err != nil {
		return wrap("update endpoint", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update endpoint: %w", tracker.ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (tracker.ExternalUser, error) {
	var u tracker.ExternalUser
	err := row.Scan(&u.ID, &u.ExternalID, &u.DisplayName)
	return u, err
}

func scanFollowing(row pgx.Row) (tracker.Following, error) {
	var f tracker.Following
	err := row.Scan(&f.ID, &f.FollowedUserID, &f.ChannelID, &f.EndpointID, &f.WantsOriginalText)
	return f, err
}

func collectUsers(rows pgx.Rows) ([]tracker.ExternalUser, error) {
	defer rows.Close()
	var users []tracker.ExternalUser
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func wrap(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, tracker.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, tracker.ErrRepository, err)
}
