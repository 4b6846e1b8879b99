package discovery

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// Per-source result caps, matching how noisy each source's pages are.
const (
	socialBladeLimit   = 10
	channelPageLimit   = 8
	noxInfluencerLimit = 8
)

var (
	// Channel profile links on aggregator sites: /youtube/channel/<id>.
	profileLinkPattern = regexp.MustCompile(`/youtube/channel/([A-Za-z0-9_-]+)`)
	// Raw channel ids embedded anywhere in page markup.
	channelIDPattern = regexp.MustCompile(`UC[a-zA-Z0-9_-]{22}`)
)

// Scraper pulls related-channel candidates out of public web pages. Base
// URLs are fields so tests can point them at local servers.
type Scraper struct {
	client    *http.Client
	userAgent string

	SocialBladeBaseURL   string
	YouTubeBaseURL       string
	NoxInfluencerBaseURL string
}

// NewScraper creates a Scraper with the production source URLs.
func NewScraper(timeout time.Duration, userAgent string) *Scraper {
	return &Scraper{
		client:               &http.Client{Timeout: timeout},
		userAgent:            userAgent,
		SocialBladeBaseURL:   "https://socialblade.com",
		YouTubeBaseURL:       "https://www.youtube.com",
		NoxInfluencerBaseURL: "https://noxinfluencer.com",
	}
}

// SocialBlade scrapes a channel's SocialBlade page for similar-channel
// links.
func (s *Scraper) SocialBlade(ctx context.Context, channelID string) ([]Candidate, error) {
	body, err := s.fetch(ctx, fmt.Sprintf("%s/youtube/channel/%s", s.SocialBladeBaseURL, channelID))
	if err != nil {
		return nil, err
	}
	return extractProfileLinks(body, channelID, socialBladeLimit, "socialblade", 0.7), nil
}

// ChannelPage scrapes the channel's public "channels" tab for any channel
// ids embedded in the markup.
func (s *Scraper) ChannelPage(ctx context.Context, channelID string) ([]Candidate, error) {
	body, err := s.fetch(ctx, fmt.Sprintf("%s/channel/%s/channels", s.YouTubeBaseURL, channelID))
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{channelID: true}
	var candidates []Candidate
	for _, id := range channelIDPattern.FindAllString(string(body), -1) {
		if seen[id] {
			continue
		}
		seen[id] = true
		candidates = append(candidates, Candidate{
			ChannelID:  id,
			Service:    "youtube_scraping",
			Confidence: 0.6,
		})
		if len(candidates) >= channelPageLimit {
			break
		}
	}
	return candidates, nil
}

// NoxInfluencer scrapes a channel's NoxInfluencer page for similar-channel
// links.
func (s *Scraper) NoxInfluencer(ctx context.Context, channelID string) ([]Candidate, error) {
	body, err := s.fetch(ctx, fmt.Sprintf("%s/youtube/channel/%s", s.NoxInfluencerBaseURL, channelID))
	if err != nil {
		return nil, err
	}
	return extractProfileLinks(body, channelID, noxInfluencerLimit, "noxinfluencer_scraping", 0.6), nil
}

func (s *Scraper) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	// Aggregator pages run a few hundred KB; reads are capped at 4MB.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return body, nil
}

// extractProfileLinks collects channel ids from /youtube/channel/ profile
// links, skipping the source channel and duplicates.
func extractProfileLinks(body []byte, sourceID string, limit int, service string, confidence float64) []Candidate {
	seen := map[string]bool{sourceID: true}
	var candidates []Candidate
	for _, match := range profileLinkPattern.FindAllSubmatch(body, -1) {
		id := string(match[1])
		if seen[id] {
			continue
		}
		seen[id] = true
		candidates = append(candidates, Candidate{
			ChannelID:  id,
			Service:    service,
			Confidence: confidence,
		})
		if len(candidates) >= limit {
			break
		}
	}
	return candidates
}
