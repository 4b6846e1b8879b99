// Package discovery finds channels related to a source channel through a
// table of strategies: public-page scraping and Data API lookups. A failing
// strategy contributes an empty result; it never fails the whole run.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/channelintel/channelintel/internal/extcall"
	"github.com/channelintel/channelintel/internal/store"
	"github.com/channelintel/channelintel/internal/youtube"
	"github.com/channelintel/channelintel/pkg/models"
)

// Discovery method names. Each names one strategy in the table.
const (
	MethodRelatedChannels = "related_channels"
	MethodSimilarContent  = "similar_content"
	MethodNoxInfluencer   = "noxinfluencer"
	MethodFeatured        = "youtube_featured"
	MethodKeywordSearch   = "keyword_search"
)

// DefaultMethods is the strategy set used when the caller does not pick.
var DefaultMethods = []string{
	MethodRelatedChannels,
	MethodSimilarContent,
	MethodFeatured,
	MethodKeywordSearch,
}

// ValidMethods lists every known strategy.
var ValidMethods = map[string]bool{
	MethodRelatedChannels: true,
	MethodSimilarContent:  true,
	MethodNoxInfluencer:   true,
	MethodFeatured:        true,
	MethodKeywordSearch:   true,
}

const (
	searchKeywordLimit    = 3
	searchResultsPerQuery = 5
)

var titleWordPattern = regexp.MustCompile(`\b[a-zA-Z]{4,}\b`)

// Candidate is one discovered channel before persistence.
type Candidate struct {
	ChannelID  string
	Title      string
	Service    string
	Confidence float64
}

// Result summarizes one discovery run over a source channel.
type Result struct {
	Candidates  int `json:"candidates"`
	NewEdges    int `json:"new_edges"`
	NewChannels int `json:"new_channels"`
}

type strategyFunc func(ctx context.Context, ch *models.Channel) ([]Candidate, error)

// Engine runs discovery strategies and persists the resulting edges and
// stub channels.
type Engine struct {
	store    store.Store
	executor *extcall.Executor
	youtube  *youtube.Client
	scraper  *Scraper
	logger   *slog.Logger
}

// NewEngine creates a discovery Engine.
func NewEngine(s store.Store, executor *extcall.Executor, yt *youtube.Client, scraper *Scraper, logger *slog.Logger) *Engine {
	return &Engine{store: s, executor: executor, youtube: yt, scraper: scraper, logger: logger}
}

// Discover runs the named strategies against the source channel and merges
// their candidates into the discovery graph. Unknown methods are skipped
// with a warning; failed strategies contribute nothing. Re-running over the
// same source is idempotent: existing edges produce no new rows.
func (e *Engine) Discover(ctx context.Context, source *models.Channel, methods []string) (Result, error) {
	if len(methods) == 0 {
		methods = DefaultMethods
	}

	strategies := map[string]strategyFunc{
		MethodRelatedChannels: e.relatedChannels,
		MethodSimilarContent:  e.similarContent,
		MethodNoxInfluencer:   e.noxInfluencer,
		MethodFeatured:        e.featuredChannels,
		MethodKeywordSearch:   e.keywordSearch,
	}

	var result Result
	for _, method := range methods {
		strategy, ok := strategies[method]
		if !ok {
			e.logger.Warn("unknown discovery method", "method", method)
			continue
		}

		candidates, err := strategy(ctx, source)
		if err != nil {
			e.logger.Error("discovery strategy failed",
				"method", method, "channel_id", source.ChannelID, "error", err)
			continue
		}
		e.logger.Info("discovery strategy finished",
			"method", method, "channel_id", source.ChannelID, "candidates", len(candidates))

		merged, err := e.merge(ctx, source.ID, method, candidates)
		if err != nil {
			return result, err
		}
		result.Candidates += len(candidates)
		result.NewEdges += merged.NewEdges
		result.NewChannels += merged.NewChannels
	}
	return result, nil
}

// merge records candidates as discovery edges and creates stub channel rows
// for ids not seen before.
func (e *Engine) merge(ctx context.Context, sourceID uuid.UUID, method string, candidates []Candidate) (Result, error) {
	var result Result
	seen := make(map[string]bool)

	for _, cand := range candidates {
		if cand.ChannelID == "" || seen[cand.ChannelID] {
			continue
		}
		seen[cand.ChannelID] = true

		known := true
		if _, err := e.store.GetChannelByExternalID(ctx, cand.ChannelID); err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				return result, fmt.Errorf("look up discovered channel: %w", err)
			}
			known = false
		}

		inserted, err := e.store.CreateDiscovery(ctx, &models.ChannelDiscovery{
			ID:                  uuid.New(),
			SourceChannelID:     sourceID,
			DiscoveredChannelID: cand.ChannelID,
			DiscoveryMethod:     method,
			ServiceName:         cand.Service,
			ConfidenceScore:     cand.Confidence,
			AlreadyExists:       known,
			CreatedAt:           time.Now().UTC(),
		})
		if err != nil {
			return result, fmt.Errorf("record discovery edge: %w", err)
		}
		if !inserted {
			continue
		}
		result.NewEdges++

		if !known {
			now := time.Now().UTC()
			created, err := e.store.CreateChannelStub(ctx, &models.Channel{
				ID:             uuid.New(),
				ChannelID:      cand.ChannelID,
				Title:          cand.Title,
				Source:         models.SourceDiscovery,
				DiscoveredFrom: &sourceID,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
			if err != nil {
				return result, fmt.Errorf("create discovered channel stub: %w", err)
			}
			if created {
				result.NewChannels++
			}
		}
	}
	return result, nil
}

func (e *Engine) relatedChannels(ctx context.Context, ch *models.Channel) ([]Candidate, error) {
	return e.scraper.SocialBlade(ctx, ch.ChannelID)
}

func (e *Engine) similarContent(ctx context.Context, ch *models.Channel) ([]Candidate, error) {
	return e.scraper.ChannelPage(ctx, ch.ChannelID)
}

func (e *Engine) noxInfluencer(ctx context.Context, ch *models.Channel) ([]Candidate, error) {
	return e.scraper.NoxInfluencer(ctx, ch.ChannelID)
}

// featuredChannels asks the Data API for channels the source features.
// Featured channels are curated by the owner, so confidence is high.
func (e *Engine) featuredChannels(ctx context.Context, ch *models.Channel) ([]Candidate, error) {
	var ids []string
	err := e.executor.Execute(ctx, func(ctx context.Context, secret string) extcall.Outcome {
		var out extcall.Outcome
		ids, out = e.youtube.FeaturedChannels(ctx, secret, ch.ChannelID)
		return out
	})
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, id := range ids {
		if id == ch.ChannelID {
			continue
		}
		candidates = append(candidates, Candidate{
			ChannelID:  id,
			Service:    "youtube_featured",
			Confidence: 0.8,
		})
	}
	return candidates, nil
}

// keywordSearch searches the Data API for channels matching the source's
// keywords. A failing keyword is skipped; the others still contribute.
func (e *Engine) keywordSearch(ctx context.Context, ch *models.Channel) ([]Candidate, error) {
	keywords := searchTerms(ch)
	if len(keywords) == 0 {
		e.logger.Warn("no search keywords derivable", "channel_id", ch.ChannelID)
		return nil, nil
	}

	seen := map[string]bool{ch.ChannelID: true}
	var candidates []Candidate
	for _, keyword := range keywords {
		var ids []string
		err := e.executor.Execute(ctx, func(ctx context.Context, secret string) extcall.Outcome {
			var out extcall.Outcome
			ids, out = e.youtube.SearchChannels(ctx, secret, keyword, searchResultsPerQuery)
			return out
		})
		if err != nil {
			e.logger.Error("keyword search failed", "keyword", keyword, "error", err)
			continue
		}

		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			candidates = append(candidates, Candidate{
				ChannelID:  id,
				Service:    "youtube_search",
				Confidence: 0.4,
			})
		}
	}
	return candidates, nil
}

// searchTerms derives up to three search keywords from a channel: declared
// keywords first, then topic categories, then title words as a fallback.
func searchTerms(ch *models.Channel) []string {
	var terms []string
	for _, kw := range ch.Keywords {
		if len(terms) >= searchKeywordLimit {
			break
		}
		terms = append(terms, kw)
	}

	for _, topic := range ch.TopicCategories {
		if len(terms) >= searchKeywordLimit {
			break
		}
		// Topic categories are wiki URLs; the last path segment reads as a
		// search term.
		if idx := strings.LastIndex(topic, "/"); idx >= 0 && idx < len(topic)-1 {
			terms = append(terms, strings.ReplaceAll(topic[idx+1:], "_", " "))
		}
	}

	if len(terms) == 0 {
		for _, word := range titleWordPattern.FindAllString(strings.ToLower(ch.Title), 2) {
			terms = append(terms, word)
		}
	}
	if len(terms) > searchKeywordLimit {
		terms = terms[:searchKeywordLimit]
	}
	return terms
}
