package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/channelintel/channelintel/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ChannelSelector names one of the batch-job item selections. Each maps to a
// WHERE clause over the channel processing flags.
type ChannelSelector string

const (
	SelectLackingMetadata ChannelSelector = "metadata"
	SelectLackingVideos   ChannelSelector = "videos"
	SelectUndiscovered    ChannelSelector = "discovery"
)

// Store is the data access interface. All database operations go through
// here. Counter mutations (credential quota, error counts) are single
// atomic statements so concurrent workers sharing one pool stay correct.
type Store interface {
	Ping(ctx context.Context) error

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	ListFreeResetCandidates(ctx context.Context, before time.Time) ([]uuid.UUID, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error

	CreateChannel(ctx context.Context, ch *models.Channel) error
	// CreateChannelStub inserts a minimal channel row, reporting false when
	// the external id is already known.
	CreateChannelStub(ctx context.Context, ch *models.Channel) (bool, error)
	GetChannel(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	GetChannelByExternalID(ctx context.Context, externalID string) (*models.Channel, error)
	ListChannels(ctx context.Context, filter ChannelFilter) ([]*models.Channel, int, error)
	CountUnprocessed(ctx context.Context, sel ChannelSelector, externalIDs []string) (int, error)
	ListUnprocessed(ctx context.Context, sel ChannelSelector, externalIDs []string, limit int) ([]*models.Channel, error)
	// UpdateChannelMetadata writes fetched metadata and flips
	// metadata_fetched in the same statement.
	UpdateChannelMetadata(ctx context.Context, ch *models.Channel) error
	MarkVideosFetched(ctx context.Context, channelID uuid.UUID) error
	MarkDiscoveryProcessed(ctx context.Context, channelID uuid.UUID) error

	// UpsertVideo inserts a video, reporting false when the external video
	// id already exists.
	UpsertVideo(ctx context.Context, v *models.Video) (bool, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	// UpdateJob persists the job's status, progress, error, and timestamps.
	UpdateJob(ctx context.Context, job *models.Job) error
	DeleteTerminalJobsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	CreateCredential(ctx context.Context, c *models.Credential) error
	ListCredentials(ctx context.Context, service string) ([]*models.Credential, error)
	// ListUsableCredentials returns active, under-quota credentials ordered
	// by lowest quota_used, ties broken by least-recently-used.
	ListUsableCredentials(ctx context.Context, service string) ([]*models.Credential, error)
	// AddCredentialUsage atomically increments quota_used by cost and stamps
	// last_used.
	AddCredentialUsage(ctx context.Context, id uuid.UUID, cost int) error
	// ExhaustCredentialQuota pins quota_used to quota_limit so the
	// credential cannot be re-selected before its reset.
	ExhaustCredentialQuota(ctx context.Context, id uuid.UUID) error
	// IncrementCredentialError bumps error_count and deactivates the
	// credential once the count reaches threshold, in one statement.
	IncrementCredentialError(ctx context.Context, id uuid.UUID, threshold int) error
	ResetExpiredCredentialQuotas(ctx context.Context, today time.Time) (int64, error)

	// CreateDiscovery records an edge, reporting false when the
	// (source, discovered, method) edge already exists.
	CreateDiscovery(ctx context.Context, d *models.ChannelDiscovery) (bool, error)
	ListDiscoveriesForSource(ctx context.Context, sourceChannelID uuid.UUID) ([]*models.ChannelDiscovery, error)
}

// ChannelFilter narrows ListChannels.
type ChannelFilter struct {
	Source          string
	MetadataFetched *bool
	Page            int
	Limit           int
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	UserID uuid.UUID
	Status string
	Page   int
	Limit  int
}
