// Package youtube is the Data API v3 client. Every method performs one call
// attempt with a caller-supplied credential and reports a classified outcome
// so the executor can decide on rotation and retries.
package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/channelintel/channelintel/internal/extcall"
)

// Quota unit costs per Data API method.
const (
	costList   = 1
	costSearch = 100
)

const maxPageSize = 50

// Sentinel errors for Data API failures.
var (
	ErrChannelNotFound = errors.New("channel not found")
	errUpstreamGone    = errors.New("upstream resource not found")
)

// ChannelData is the parsed metadata for one channel.
type ChannelData struct {
	ChannelID       string
	Title           string
	Description     string
	CustomURL       string
	Country         string
	PublishedAt     *time.Time
	SubscriberCount *int64
	VideoCount      *int64
	ViewCount       *int64
	ThumbnailURL    string
	BannerURL       string
	Keywords        []string
	TopicCategories []string
}

// VideoData is the parsed metadata for one video.
type VideoData struct {
	VideoID      string
	Title        string
	Description  string
	PublishedAt  *time.Time
	Duration     string
	ViewCount    *int64
	LikeCount    *int64
	CommentCount *int64
	ThumbnailURL string
	Tags         []string
	CategoryID   *int
	Language     string
}

// Client calls the YouTube Data API. Credentials are passed per call; the
// client itself holds no key state.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a Data API client against baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// FetchChannel retrieves full metadata for one channel by external id.
func (c *Client) FetchChannel(ctx context.Context, key, channelID string) (*ChannelData, extcall.Outcome) {
	params := url.Values{
		"part": {"snippet,statistics,brandingSettings,topicDetails"},
		"id":   {channelID},
	}
	var resp channelListResponse
	if out := c.get(ctx, key, "channels", params, costList, &resp); out.Kind != extcall.OutcomeOK {
		return nil, out
	}
	if len(resp.Items) == 0 {
		return nil, extcall.Permanent(fmt.Errorf("%w: %s", ErrChannelNotFound, channelID))
	}
	return parseChannel(resp.Items[0]), extcall.OK(costList)
}

// ResolveUsername resolves a legacy username to full channel metadata.
func (c *Client) ResolveUsername(ctx context.Context, key, username string) (*ChannelData, extcall.Outcome) {
	params := url.Values{
		"part":        {"snippet,statistics,brandingSettings,topicDetails"},
		"forUsername": {username},
	}
	var resp channelListResponse
	if out := c.get(ctx, key, "channels", params, costList, &resp); out.Kind != extcall.OutcomeOK {
		return nil, out
	}
	if len(resp.Items) == 0 {
		return nil, extcall.Permanent(fmt.Errorf("%w: username %s", ErrChannelNotFound, username))
	}
	return parseChannel(resp.Items[0]), extcall.OK(costList)
}

// ListUploads pages through a channel's uploads playlist and returns up to
// max video ids, newest first.
func (c *Client) ListUploads(ctx context.Context, key, channelID string, max int) ([]string, extcall.Outcome) {
	playlistID := uploadsPlaylistID(channelID)
	var ids []string
	pageToken := ""
	spent := 0

	for len(ids) < max {
		pageSize := max - len(ids)
		if pageSize > maxPageSize {
			pageSize = maxPageSize
		}
		params := url.Values{
			"part":       {"contentDetails"},
			"playlistId": {playlistID},
			"maxResults": {strconv.Itoa(pageSize)},
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp playlistItemsResponse
		out := c.get(ctx, key, "playlistItems", params, costList, &resp)
		if out.Kind != extcall.OutcomeOK {
			// A missing uploads playlist means the channel has no videos.
			if errors.Is(out.Err, errUpstreamGone) {
				return nil, extcall.OK(spent + costList)
			}
			return nil, out
		}
		spent += costList

		for _, item := range resp.Items {
			ids = append(ids, item.ContentDetails.VideoID)
		}
		if resp.NextPageToken == "" || len(resp.Items) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, extcall.OK(spent)
}

// FetchVideoDetails retrieves stats for the given video ids, batching 50 per
// call.
func (c *Client) FetchVideoDetails(ctx context.Context, key string, videoIDs []string) ([]*VideoData, extcall.Outcome) {
	var videos []*VideoData
	spent := 0

	for start := 0; start < len(videoIDs); start += maxPageSize {
		end := start + maxPageSize
		if end > len(videoIDs) {
			end = len(videoIDs)
		}
		params := url.Values{
			"part": {"snippet,statistics,contentDetails"},
			"id":   {strings.Join(videoIDs[start:end], ",")},
		}

		var resp videoListResponse
		if out := c.get(ctx, key, "videos", params, costList, &resp); out.Kind != extcall.OutcomeOK {
			return nil, out
		}
		spent += costList

		for _, item := range resp.Items {
			videos = append(videos, parseVideo(item))
		}
	}
	return videos, extcall.OK(spent)
}

// SearchChannels runs a channel search and returns matching channel ids.
// Search is by far the most expensive Data API method.
func (c *Client) SearchChannels(ctx context.Context, key, query string, max int) ([]string, extcall.Outcome) {
	if max > maxPageSize {
		max = maxPageSize
	}
	params := url.Values{
		"part":       {"snippet"},
		"type":       {"channel"},
		"q":          {query},
		"maxResults": {strconv.Itoa(max)},
	}
	var resp searchListResponse
	if out := c.get(ctx, key, "search", params, costSearch, &resp); out.Kind != extcall.OutcomeOK {
		return nil, out
	}

	var ids []string
	for _, item := range resp.Items {
		if item.ID.ChannelID != "" {
			ids = append(ids, item.ID.ChannelID)
		}
	}
	return ids, extcall.OK(costSearch)
}

// FeaturedChannels returns the channel ids a channel features in its
// "channels" sections.
func (c *Client) FeaturedChannels(ctx context.Context, key, channelID string) ([]string, extcall.Outcome) {
	params := url.Values{
		"part":      {"contentDetails"},
		"channelId": {channelID},
	}
	var resp channelSectionsResponse
	out := c.get(ctx, key, "channelSections", params, costList, &resp)
	if out.Kind != extcall.OutcomeOK {
		if errors.Is(out.Err, errUpstreamGone) {
			return nil, extcall.OK(costList)
		}
		return nil, out
	}

	seen := make(map[string]bool)
	var ids []string
	for _, item := range resp.Items {
		for _, id := range item.ContentDetails.Channels {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, extcall.OK(costList)
}

// get performs one Data API request and decodes the payload into dst.
func (c *Client) get(ctx context.Context, key, method string, params url.Values, cost int, dst any) extcall.Outcome {
	params.Set("key", key)
	u := fmt.Sprintf("%s/%s?%s", c.baseURL, method, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return extcall.Permanent(fmt.Errorf("building request: %w", err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyNetworkError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return extcall.Transient(fmt.Errorf("decoding %s response: %w", method, err))
	}
	return extcall.OK(cost)
}

// uploadsPlaylistID maps a channel id to its uploads playlist id. The Data
// API guarantees the UC -> UU correspondence, which saves a channels.list
// round trip per channel.
func uploadsPlaylistID(channelID string) string {
	if strings.HasPrefix(channelID, "UC") {
		return "UU" + channelID[2:]
	}
	return channelID
}

func classifyNetworkError(err error) extcall.Outcome {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return extcall.Transient(fmt.Errorf("request timeout: %w", err))
	}
	return extcall.Transient(fmt.Errorf("request failed: %w", err))
}

// classifyStatus maps a non-200 response to an outcome. Quota errors arrive
// as 403 with a quota reason in the error body.
func classifyStatus(resp *http.Response) extcall.Outcome {
	var apiErr errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&apiErr)
	reason := apiErr.reason()

	switch {
	case resp.StatusCode == http.StatusForbidden &&
		(reason == "quotaExceeded" || reason == "dailyLimitExceeded" || reason == "rateLimitExceeded"):
		return extcall.QuotaExceeded(fmt.Errorf("quota exceeded: %s", reason))
	case resp.StatusCode == http.StatusTooManyRequests:
		return extcall.QuotaExceeded(fmt.Errorf("rate limited: status %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusInternalServerError:
		return extcall.Transient(fmt.Errorf("upstream error: status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return extcall.Permanent(fmt.Errorf("%w: reason %q", errUpstreamGone, reason))
	default:
		return extcall.Permanent(fmt.Errorf("request rejected: status %d reason %q", resp.StatusCode, reason))
	}
}
