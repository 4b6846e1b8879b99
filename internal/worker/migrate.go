package worker

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/channelintel/channelintel/internal/cache"
	"github.com/channelintel/channelintel/internal/queue"
	"github.com/channelintel/channelintel/internal/store"
	"github.com/channelintel/channelintel/pkg/models"
)

// Migration source types.
const (
	SourceTypeCSV  = "csv"
	SourceTypeJSON = "json"
)

// seedRecord is one channel row in a migration file.
type seedRecord struct {
	ChannelID string `json:"channel_id"`
	Title     string `json:"title"`
}

// Migrator imports channel seed files into the catalog. Imported rows are
// stubs with source=migration; enrichment happens through the batch jobs.
type Migrator struct {
	store     store.Store
	cache     cache.Cache
	logger    *slog.Logger
	chunkSize int
}

// NewMigrator creates a Migrator.
func NewMigrator(s store.Store, c cache.Cache, logger *slog.Logger, chunkSize int) *Migrator {
	return &Migrator{store: s, cache: c, logger: logger, chunkSize: chunkSize}
}

// Run executes one migration job from the file named in the task params.
// Duplicate channel ids are counted as processed but insert nothing.
func (m *Migrator) Run(ctx context.Context, job *models.Job, params queue.Params) error {
	switch job.Status {
	case models.JobStatusPending:
		if err := job.Start(); err != nil {
			return err
		}
		if err := m.commit(ctx, job); err != nil {
			return err
		}
	case models.JobStatusRunning:
		// Redelivered after a crash. Stub inserts are idempotent, so the
		// whole file is replayed from the top.
		m.logger.Info("resuming migration job", "job_id", job.ID, "processed", job.ProcessedItems)
	default:
		m.logger.Warn("skipping terminal job", "job_id", job.ID, "status", job.Status)
		return nil
	}

	records, err := loadSeedFile(params.SourceType, params.SourcePath)
	if err != nil {
		return m.fail(ctx, job, err)
	}
	if err := job.SetTotal(len(records)); err != nil {
		return err
	}
	if err := m.commit(ctx, job); err != nil {
		return err
	}

	imported := 0
	for start := 0; start < len(records); start += m.chunkSize {
		end := start + m.chunkSize
		if end > len(records) {
			end = len(records)
		}

		for _, rec := range records[start:end] {
			now := time.Now().UTC()
			created, err := m.store.CreateChannelStub(ctx, &models.Channel{
				ID:        uuid.New(),
				ChannelID: rec.ChannelID,
				Title:     rec.Title,
				Source:    models.SourceMigration,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				m.logger.Error("channel import failed",
					"job_id", job.ID, "channel_id", rec.ChannelID, "error", err)
				continue
			}
			if created {
				imported++
			}
		}

		if err := job.UpdateProgress(end); err != nil {
			return err
		}
		if err := m.commit(ctx, job); err != nil {
			return err
		}
	}

	if err := job.Complete(); err != nil {
		return err
	}
	if err := m.commit(ctx, job); err != nil {
		return err
	}
	m.logger.Info("migration completed",
		"job_id", job.ID, "records", len(records), "imported", imported)
	return nil
}

func (m *Migrator) fail(ctx context.Context, job *models.Job, cause error) error {
	m.logger.Error("migration failed", "job_id", job.ID, "error", cause)
	if err := job.Fail(cause.Error()); err != nil {
		return err
	}
	if err := m.commit(ctx, job); err != nil {
		return err
	}
	return cause
}

func (m *Migrator) commit(ctx context.Context, job *models.Job) error {
	if err := m.store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	_ = m.cache.SetJobStatus(ctx, job.ID, job.Status, jobStatusTTL)
	return nil
}

// loadSeedFile parses a migration source file into records, dropping rows
// without a channel id.
func loadSeedFile(sourceType, path string) ([]seedRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	switch sourceType {
	case SourceTypeCSV:
		return parseCSVSeed(f)
	case SourceTypeJSON:
		return parseJSONSeed(f)
	default:
		return nil, fmt.Errorf("unknown migration source type %q", sourceType)
	}
}

// parseCSVSeed reads channel_id[,title] rows, skipping a header row if one
// is present.
func parseCSVSeed(r io.Reader) ([]seedRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var records []seedRecord
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if len(row) == 0 {
			continue
		}

		id := strings.TrimSpace(row[0])
		if id == "" || strings.EqualFold(id, "channel_id") {
			continue
		}
		rec := seedRecord{ChannelID: id}
		if len(row) > 1 {
			rec.Title = strings.TrimSpace(row[1])
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseJSONSeed(r io.Reader) ([]seedRecord, error) {
	var raw []seedRecord
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json seed: %w", err)
	}

	records := raw[:0]
	for _, rec := range raw {
		if strings.TrimSpace(rec.ChannelID) != "" {
			records = append(records, rec)
		}
	}
	return records, nil
}
