package models

import (
	"time"

	"github.com/google/uuid"
)

// Channel sources.
const (
	SourceMigration = "migration"
	SourceDiscovery = "discovery"
	SourceManual    = "manual"
)

// Channel is one external channel plus its enrichment state. The three
// processing flags double as the selectors for batch jobs and as the
// optimistic concurrency guard: a flag is flipped in the same commit that
// records the item's result, so two batch runs of the same kind never
// process the same channel twice.
type Channel struct {
	ID              uuid.UUID  `db:"id"                  json:"id"`
	ChannelID       string     `db:"channel_id"          json:"channel_id"`
	Title           string     `db:"title"               json:"title"`
	Description     string     `db:"description"         json:"description"`
	SubscriberCount *int64     `db:"subscriber_count"    json:"subscriber_count,omitempty"`
	VideoCount      *int64     `db:"video_count"         json:"video_count,omitempty"`
	ViewCount       *int64     `db:"view_count"          json:"view_count,omitempty"`
	Country         *string    `db:"country"             json:"country,omitempty"`
	Language        *string    `db:"language"            json:"language,omitempty"`
	CustomURL       *string    `db:"custom_url"          json:"custom_url,omitempty"`
	PublishedAt     *time.Time `db:"published_at"        json:"published_at,omitempty"`
	ThumbnailURL    *string    `db:"thumbnail_url"       json:"thumbnail_url,omitempty"`
	BannerURL       *string    `db:"banner_url"          json:"banner_url,omitempty"`
	Keywords        []string   `db:"keywords"            json:"keywords,omitempty"`
	TopicCategories []string   `db:"topic_categories"    json:"topic_categories,omitempty"`

	MetadataFetched    bool `db:"metadata_fetched"    json:"metadata_fetched"`
	VideosFetched      bool `db:"videos_fetched"      json:"videos_fetched"`
	DiscoveryProcessed bool `db:"discovery_processed" json:"discovery_processed"`

	Source         string     `db:"source"          json:"source"`
	DiscoveredFrom *uuid.UUID `db:"discovered_from" json:"discovered_from,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Video is one video belonging to a channel. ChannelExternalID is
// denormalized so video rows remain resolvable if a channel row is reimported.
type Video struct {
	ID                uuid.UUID  `db:"id"                  json:"id"`
	VideoID           string     `db:"video_id"            json:"video_id"`
	ChannelID         uuid.UUID  `db:"channel_id"          json:"channel_id"`
	ChannelExternalID string     `db:"channel_external_id" json:"channel_external_id"`
	Title             string     `db:"title"               json:"title"`
	Description       string     `db:"description"         json:"description"`
	PublishedAt       *time.Time `db:"published_at"        json:"published_at,omitempty"`
	Duration          *string    `db:"duration"            json:"duration,omitempty"`
	ViewCount         *int64     `db:"view_count"          json:"view_count,omitempty"`
	LikeCount         *int64     `db:"like_count"          json:"like_count,omitempty"`
	CommentCount      *int64     `db:"comment_count"       json:"comment_count,omitempty"`
	ThumbnailURL      *string    `db:"thumbnail_url"       json:"thumbnail_url,omitempty"`
	Tags              []string   `db:"tags"                json:"tags,omitempty"`
	CategoryID        *int       `db:"category_id"         json:"category_id,omitempty"`
	Language          *string    `db:"language"            json:"language,omitempty"`
	CreatedAt         time.Time  `db:"created_at"          json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"          json:"updated_at"`
}
