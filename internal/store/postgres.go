package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/channelintel/channelintel/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

const userColumns = `id, email, credits_balance, total_credits_purchased, plan, last_free_credit_reset, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.CreditsBalance, &u.TotalCreditsPurchased,
		&u.Plan, &u.LastFreeCreditReset, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, err
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, credits_balance, total_credits_purchased, plan, last_free_credit_reset, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.CreditsBalance, user.TotalCreditsPurchased,
		user.Plan, user.LastFreeCreditReset, user.IsActive, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListFreeResetCandidates(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM users
		 WHERE plan = $1 AND is_active AND last_free_credit_reset < $2`,
		models.PlanFree, before)
	if err != nil {
		return nil, fmt.Errorf("list free reset candidates: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Channels ---

const channelColumns = `id, channel_id, title, description, subscriber_count, video_count, view_count,
	country, language, custom_url, published_at, thumbnail_url, banner_url, keywords, topic_categories,
	metadata_fetched, videos_fetched, discovery_processed, source, discovered_from, created_at, updated_at`

func scanChannel(row pgx.Row) (*models.Channel, error) {
	var c models.Channel
	err := row.Scan(&c.ID, &c.ChannelID, &c.Title, &c.Description, &c.SubscriberCount,
		&c.VideoCount, &c.ViewCount, &c.Country, &c.Language, &c.CustomURL, &c.PublishedAt,
		&c.ThumbnailURL, &c.BannerURL, &c.Keywords, &c.TopicCategories,
		&c.MetadataFetched, &c.VideosFetched, &c.DiscoveryProcessed,
		&c.Source, &c.DiscoveredFrom, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateChannel(ctx context.Context, ch *models.Channel) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO channels (id, channel_id, title, description, source, discovered_from, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ch.ID, ch.ChannelID, ch.Title, ch.Description, ch.Source, ch.DiscoveredFrom, ch.CreatedAt, ch.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create channel: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateChannelStub(ctx context.Context, ch *models.Channel) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO channels (id, channel_id, title, description, source, discovered_from, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (channel_id) DO NOTHING`,
		ch.ID, ch.ChannelID, ch.Title, ch.Description, ch.Source, ch.DiscoveredFrom, ch.CreatedAt, ch.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("create channel stub: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetChannel(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	c, err := scanChannel(s.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return c, err
}

func (s *PostgresStore) GetChannelByExternalID(ctx context.Context, externalID string) (*models.Channel, error) {
	c, err := scanChannel(s.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE channel_id = $1`, externalID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get channel by external id: %w", err)
	}
	return c, err
}

func (s *PostgresStore) ListChannels(ctx context.Context, filter ChannelFilter) ([]*models.Channel, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Source != "" {
		conditions = append(conditions, fmt.Sprintf("source = $%d", argIdx))
		args = append(args, filter.Source)
		argIdx++
	}
	if filter.MetadataFetched != nil {
		conditions = append(conditions, fmt.Sprintf("metadata_fetched = $%d", argIdx))
		args = append(args, *filter.MetadataFetched)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM channels WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count channels: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM channels WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		channelColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var channels []*models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, total, rows.Err()
}

func selectorCondition(sel ChannelSelector) (string, error) {
	switch sel {
	case SelectLackingMetadata:
		return "NOT metadata_fetched", nil
	case SelectLackingVideos:
		return "metadata_fetched AND NOT videos_fetched", nil
	case SelectUndiscovered:
		return "NOT discovery_processed", nil
	default:
		return "", fmt.Errorf("unknown channel selector: %q", sel)
	}
}

func (s *PostgresStore) CountUnprocessed(ctx context.Context, sel ChannelSelector, externalIDs []string) (int, error) {
	cond, err := selectorCondition(sel)
	if err != nil {
		return 0, err
	}

	query := "SELECT COUNT(*) FROM channels WHERE " + cond
	args := []any{}
	if len(externalIDs) > 0 {
		query += " AND channel_id = ANY($1)"
		args = append(args, externalIDs)
	}

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unprocessed channels: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListUnprocessed(ctx context.Context, sel ChannelSelector, externalIDs []string, limit int) ([]*models.Channel, error) {
	cond, err := selectorCondition(sel)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM channels WHERE %s", channelColumns, cond)
	args := []any{}
	argIdx := 1
	if len(externalIDs) > 0 {
		query += fmt.Sprintf(" AND channel_id = ANY($%d)", argIdx)
		args = append(args, externalIDs)
		argIdx++
	}
	query += fmt.Sprintf(" ORDER BY created_at ASC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed channels: %w", err)
	}
	defer rows.Close()

	var channels []*models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

func (s *PostgresStore) UpdateChannelMetadata(ctx context.Context, ch *models.Channel) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE channels SET
		   title = $2, description = $3, subscriber_count = $4, video_count = $5,
		   view_count = $6, country = $7, language = $8, custom_url = $9,
		   published_at = $10, thumbnail_url = $11, banner_url = $12,
		   keywords = $13, topic_categories = $14,
		   metadata_fetched = TRUE, updated_at = NOW()
		 WHERE id = $1`,
		ch.ID, ch.Title, ch.Description, ch.SubscriberCount, ch.VideoCount,
		ch.ViewCount, ch.Country, ch.Language, ch.CustomURL, ch.PublishedAt,
		ch.ThumbnailURL, ch.BannerURL, ch.Keywords, ch.TopicCategories)
	if err != nil {
		return fmt.Errorf("update channel metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkVideosFetched(ctx context.Context, channelID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE channels SET videos_fetched = TRUE, updated_at = NOW() WHERE id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("mark videos fetched: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkDiscoveryProcessed(ctx context.Context, channelID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE channels SET discovery_processed = TRUE, updated_at = NOW() WHERE id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("mark discovery processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Videos ---

func (s *PostgresStore) UpsertVideo(ctx context.Context, v *models.Video) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO videos (id, video_id, channel_id, channel_external_id, title, description,
		   published_at, duration, view_count, like_count, comment_count, thumbnail_url,
		   tags, category_id, language, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		 ON CONFLICT (video_id) DO NOTHING`,
		v.ID, v.VideoID, v.ChannelID, v.ChannelExternalID, v.Title, v.Description,
		v.PublishedAt, v.Duration, v.ViewCount, v.LikeCount, v.CommentCount, v.ThumbnailURL,
		v.Tags, v.CategoryID, v.Language, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("upsert video: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- Jobs ---

const jobColumns = `id, user_id, job_type, status, channel_id, total_items, processed_items,
	error_message, started_at, completed_at, created_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.UserID, &j.JobType, &j.Status, &j.ChannelID, &j.TotalItems,
		&j.ProcessedItems, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processing_jobs (id, user_id, job_type, status, channel_id, total_items, processed_items, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.UserID, job.JobType, job.Status, job.ChannelID, job.TotalItems,
		job.ProcessedItems, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, err
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"user_id = $1"}
	args := []any{filter.UserID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM processing_jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	query := fmt.Sprintf(
		`SELECT %s FROM processing_jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *models.Job) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs SET
		   status = $2, total_items = $3, processed_items = $4,
		   error_message = $5, started_at = $6, completed_at = $7
		 WHERE id = $1`,
		job.ID, job.Status, job.TotalItems, job.ProcessedItems,
		job.ErrorMessage, job.StartedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM processing_jobs
		 WHERE created_at < $1 AND status IN ($2, $3)`,
		cutoff, models.JobStatusCompleted, models.JobStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Credentials ---

const credentialColumns = `id, name, secret, service, quota_limit, quota_used, quota_reset_date,
	is_active, error_count, last_used, created_at, updated_at`

func scanCredential(row pgx.Row) (*models.Credential, error) {
	var c models.Credential
	err := row.Scan(&c.ID, &c.Name, &c.Secret, &c.Service, &c.QuotaLimit, &c.QuotaUsed,
		&c.QuotaResetDate, &c.IsActive, &c.ErrorCount, &c.LastUsed, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateCredential(ctx context.Context, c *models.Credential) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_credentials (id, name, secret, service, quota_limit, quota_used, quota_reset_date, is_active, error_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.Name, c.Secret, c.Service, c.QuotaLimit, c.QuotaUsed, c.QuotaResetDate,
		c.IsActive, c.ErrorCount, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCredentials(ctx context.Context, service string) ([]*models.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+credentialColumns+` FROM api_credentials WHERE service = $1 ORDER BY name`, service)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func (s *PostgresStore) ListUsableCredentials(ctx context.Context, service string) ([]*models.Credential, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+credentialColumns+` FROM api_credentials
		 WHERE service = $1 AND is_active AND quota_used < quota_limit
		 ORDER BY quota_used ASC, last_used ASC NULLS FIRST`, service)
	if err != nil {
		return nil, fmt.Errorf("list usable credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

func (s *PostgresStore) AddCredentialUsage(ctx context.Context, id uuid.UUID, cost int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_credentials SET quota_used = quota_used + $2, last_used = NOW(), updated_at = NOW()
		 WHERE id = $1`, id, cost)
	if err != nil {
		return fmt.Errorf("add credential usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ExhaustCredentialQuota(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_credentials SET quota_used = quota_limit, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("exhaust credential quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IncrementCredentialError(ctx context.Context, id uuid.UUID, threshold int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_credentials SET
		   error_count = error_count + 1,
		   is_active = (error_count + 1 < $2),
		   updated_at = NOW()
		 WHERE id = $1`, id, threshold)
	if err != nil {
		return fmt.Errorf("increment credential error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ResetExpiredCredentialQuotas(ctx context.Context, today time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_credentials SET
		   quota_used = 0, error_count = 0, is_active = TRUE,
		   quota_reset_date = $1, updated_at = NOW()
		 WHERE quota_reset_date < $1`, today)
	if err != nil {
		return 0, fmt.Errorf("reset credential quotas: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Discoveries ---

func (s *PostgresStore) CreateDiscovery(ctx context.Context, d *models.ChannelDiscovery) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO channel_discoveries (id, source_channel_id, discovered_channel_id, discovery_method, service_name, confidence_score, already_exists, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (source_channel_id, discovered_channel_id, discovery_method) DO NOTHING`,
		d.ID, d.SourceChannelID, d.DiscoveredChannelID, d.DiscoveryMethod, d.ServiceName,
		d.ConfidenceScore, d.AlreadyExists, d.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("create discovery: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListDiscoveriesForSource(ctx context.Context, sourceChannelID uuid.UUID) ([]*models.ChannelDiscovery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_channel_id, discovered_channel_id, discovery_method, service_name, confidence_score, already_exists, created_at
		 FROM channel_discoveries WHERE source_channel_id = $1 ORDER BY created_at DESC`, sourceChannelID)
	if err != nil {
		return nil, fmt.Errorf("list discoveries: %w", err)
	}
	defer rows.Close()

	var discoveries []*models.ChannelDiscovery
	for rows.Next() {
		var d models.ChannelDiscovery
		if err := rows.Scan(&d.ID, &d.SourceChannelID, &d.DiscoveredChannelID, &d.DiscoveryMethod,
			&d.ServiceName, &d.ConfidenceScore, &d.AlreadyExists, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan discovery: %w", err)
		}
		discoveries = append(discoveries, &d)
	}
	return discoveries, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
