package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"rplhub/internal/codec"
	apperrors "rplhub/internal/errors"
	"rplhub/internal/models"
	"rplhub/internal/repositories"
)

// EventPublisher receives a message after every successful upsert.
type EventPublisher interface {
	PublishSubmissionSaved(event models.SubmissionSavedEvent) error
}

// Cache is a best-effort byte cache. Errors are treated as misses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// SubmissionOptions configures a SubmissionStore.
type SubmissionOptions struct {
	ClassOptions            []string
	CohortOptions           []string
	RequireArtifactFilename bool
	Status                  codec.StatusOptions
}

// SubmissionOption sets an optional collaborator of a SubmissionStore.
type SubmissionOption func(*SubmissionStore)

// WithPublisher publishes a submission.saved event after each upsert.
func WithPublisher(p EventPublisher) SubmissionOption {
	return func(s *SubmissionStore) { s.publisher = p }
}

// WithCache enables cache-aside reads in Fetch.
func WithCache(c Cache, ttl time.Duration) SubmissionOption {
	return func(s *SubmissionStore) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithClock replaces time.Now as the source of LastUpdated.
func WithClock(now func() time.Time) SubmissionOption {
	return func(s *SubmissionStore) { s.now = now }
}

// SubmissionStore keeps at most one submission per username.
type SubmissionStore struct {
	repo      repositories.SubmissionRepository
	validate  *validator.Validate
	status    *codec.StatusPolicy
	classes   []string
	cohorts   []string
	requireFN bool

	publisher EventPublisher
	cache     Cache
	cacheTTL  time.Duration
	// writes counts completed upserts; Fetch only fills the cache when none
	// landed between its read and its Set.
	writes atomic.Uint64

	now    func() time.Time
	clock  sync.Mutex
	lastTS time.Time
}

// NewSubmissionStore creates a new SubmissionStore.
func NewSubmissionStore(repo repositories.SubmissionRepository, opts SubmissionOptions, extra ...SubmissionOption) (*SubmissionStore, error) {
	policy, err := codec.NewStatusPolicy(opts.Status)
	if err != nil {
		return nil, fmt.Errorf("status policy: %w", err)
	}
	if len(opts.ClassOptions) == 0 {
		return nil, fmt.Errorf("at least one class option is required")
	}

	s := &SubmissionStore{
		repo:      repo,
		status:    policy,
		classes:   append([]string(nil), opts.ClassOptions...),
		cohorts:   append([]string(nil), opts.CohortOptions...),
		requireFN: opts.RequireArtifactFilename,
		cacheTTL:  5 * time.Minute,
		now:       time.Now,
	}
	s.validate = newRecordValidator(s.classes, s.cohorts)
	for _, opt := range extra {
		opt(s)
	}
	return s, nil
}

// ClassOptions returns the accepted class labels in display order.
func (s *SubmissionStore) ClassOptions() []string {
	return append([]string(nil), s.classes...)
}

// CohortOptions returns the accepted cohort labels in display order.
func (s *SubmissionStore) CohortOptions() []string {
	return append([]string(nil), s.cohorts...)
}

// Fetch returns the user's submission, or nil when there is none.
func (s *SubmissionStore) Fetch(ctx context.Context, username string) (*models.SubmissionRecord, error) {
	key := cacheKey(username)
	if s.cache != nil {
		if data, _ := s.cache.Get(ctx, key); data != nil {
			var rec models.SubmissionRecord
			if err := json.Unmarshal(data, &rec); err == nil {
				return &rec, nil
			}
			log.Warn().Str("key", key).Msg("discarding undecodable cache entry")
		}
	}

	seen := s.writes.Load()
	row, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, storeError("fetch submission", err)
	}
	rec := s.toRecord(row)

	if s.cache != nil {
		if s.writes.Load() != seen {
			log.Debug().Str("key", key).Msg("skipping cache fill, submission changed during read")
		} else if data, err := json.Marshal(rec); err == nil {
			s.cache.Set(ctx, key, data, s.cacheTTL)
		}
	}
	return rec, nil
}

// Upsert validates rec and replaces the user's submission, creating it if
// needed. LastUpdated is assigned here; the caller's value is ignored.
func (s *SubmissionStore) Upsert(ctx context.Context, rec models.SubmissionRecord) (*models.SubmissionRecord, error) {
	// Username is the identity key and is matched exactly, never trimmed.
	rec.FullName = strings.TrimSpace(rec.FullName)
	rec.ClassName = strings.TrimSpace(rec.ClassName)
	rec.Cohort = strings.TrimSpace(rec.Cohort)
	rec.ArtifactLink = strings.TrimSpace(rec.ArtifactLink)
	rec.ArtifactFilename = strings.TrimSpace(rec.ArtifactFilename)
	rec.Teammates = codec.NormalizeTeammates(rec.Teammates)

	if err := s.validateRecord(&rec); err != nil {
		return nil, err
	}

	row := &models.SubmissionRow{
		Username:         rec.Username,
		FullName:         rec.FullName,
		ClassName:        rec.ClassName,
		Cohort:           rec.Cohort,
		Teammates:        codec.JoinTeammates(rec.Teammates),
		ArtifactLink:     rec.ArtifactLink,
		ArtifactFilename: rec.ArtifactFilename,
		Status:           models.StatusCell{Raw: s.status.Encode(rec.Done)},
		LastUpdated:      s.tick(),
	}
	if err := s.repo.Upsert(ctx, row); err != nil {
		return nil, storeError("upsert submission", err)
	}

	s.writes.Add(1)
	if s.cache != nil {
		s.cache.Delete(ctx, cacheKey(rec.Username))
	}
	saved := s.toRecord(row)
	s.publish(saved)

	log.Info().Str("username", saved.Username).Bool("done", saved.Done).Msg("submission saved")
	return saved, nil
}

// FetchAll returns every submission, normalized. It never writes.
func (s *SubmissionStore) FetchAll(ctx context.Context) ([]models.SubmissionRecord, error) {
	rows, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, storeError("list submissions", err)
	}
	records := make([]models.SubmissionRecord, 0, len(rows))
	for i := range rows {
		records = append(records, *s.toRecord(&rows[i]))
	}
	return records, nil
}

// Summary counts done and not-done submissions per class, sorted by class name.
func (s *SubmissionStore) Summary(ctx context.Context) ([]models.ClassSummary, error) {
	records, err := s.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(records), nil
}

// Summarize groups records by class name.
func Summarize(records []models.SubmissionRecord) []models.ClassSummary {
	byClass := make(map[string]*models.ClassSummary)
	for _, r := range records {
		sum, ok := byClass[r.ClassName]
		if !ok {
			sum = &models.ClassSummary{ClassName: r.ClassName}
			byClass[r.ClassName] = sum
		}
		if r.Done {
			sum.Done++
		} else {
			sum.NotDone++
		}
		sum.Total++
	}

	out := make([]models.ClassSummary, 0, len(byClass))
	for _, sum := range byClass {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClassName < out[j].ClassName })
	return out
}

func (s *SubmissionStore) toRecord(row *models.SubmissionRow) *models.SubmissionRecord {
	return &models.SubmissionRecord{
		Username:         row.Username,
		FullName:         row.FullName,
		ClassName:        row.ClassName,
		Cohort:           row.Cohort,
		Teammates:        codec.SplitTeammates(row.Teammates),
		ArtifactLink:     row.ArtifactLink,
		ArtifactFilename: row.ArtifactFilename,
		Done:             s.status.Decode(row.Status.Raw),
		LastUpdated:      row.LastUpdated,
	}
}

// tick returns the clock reading at millisecond precision (the coarsest any SQL
// dialect stores), bumped past the previous one so that successive upserts from
// this process never share a LastUpdated.
func (s *SubmissionStore) tick() time.Time {
	s.clock.Lock()
	defer s.clock.Unlock()

	t := s.now().Round(0).Truncate(time.Millisecond)
	if !t.After(s.lastTS) {
		t = s.lastTS.Add(time.Millisecond)
	}
	s.lastTS = t
	return t
}

func (s *SubmissionStore) publish(rec *models.SubmissionRecord) {
	if s.publisher == nil {
		return
	}
	event := models.SubmissionSavedEvent{
		Username:    rec.Username,
		ClassName:   rec.ClassName,
		Done:        rec.Done,
		LastUpdated: rec.LastUpdated,
	}
	if err := s.publisher.PublishSubmissionSaved(event); err != nil {
		log.Warn().Err(err).Str("username", rec.Username).Msg("failed to publish submission event")
	}
}

func cacheKey(username string) string {
	return "submission:" + username
}
