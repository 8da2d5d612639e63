package services_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rplhub/internal/codec"
	"rplhub/internal/db"
	apperrors "rplhub/internal/errors"
	"rplhub/internal/models"
	"rplhub/internal/repositories"
	"rplhub/internal/services"
)

var testClasses = []string{"XI RPL 1", "XI RPL 2", "XI RPL 3"}

// MockSubmissionRepository is a testify mock of repositories.SubmissionRepository.
type MockSubmissionRepository struct {
	mock.Mock
}

func (m *MockSubmissionRepository) GetByUsername(ctx context.Context, username string) (*models.SubmissionRow, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubmissionRow), args.Error(1)
}

func (m *MockSubmissionRepository) GetAll(ctx context.Context) ([]models.SubmissionRow, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.SubmissionRow), args.Error(1)
}

func (m *MockSubmissionRepository) Upsert(ctx context.Context, row *models.SubmissionRow) error {
	args := m.Called(ctx, row)
	return args.Error(0)
}

// MockPublisher is a testify mock of services.EventPublisher.
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishSubmissionSaved(event models.SubmissionSavedEvent) error {
	args := m.Called(event)
	return args.Error(0)
}

// memoryCache is a map-backed services.Cache that counts hits.
type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string][]byte)}
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if ok {
		c.hits++
	}
	return v, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func newSubmissionStore(t *testing.T, repo repositories.SubmissionRepository, extra ...services.SubmissionOption) *services.SubmissionStore {
	t.Helper()
	store, err := services.NewSubmissionStore(repo, services.SubmissionOptions{
		ClassOptions:  testClasses,
		CohortOptions: []string{"2024/2025", "2025/2026"},
		Status:        codec.DefaultStatusOptions(),
	}, extra...)
	require.NoError(t, err)
	return store
}

func aliceRecord(done bool) models.SubmissionRecord {
	return models.SubmissionRecord{
		Username:     "alice",
		FullName:     "Alice A",
		ClassName:    "XI RPL 1",
		Teammates:    []string{},
		ArtifactLink: "https://colab.example/x",
		Done:         done,
	}
}

func openServiceDB(t *testing.T) *repositories.GORMSubmissionRepository {
	t.Helper()
	gdb, err := db.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb))
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return repositories.NewGORMSubmissionRepository(gdb)
}

func TestAliceScenario(t *testing.T) {
	backends := map[string]func(t *testing.T) repositories.SubmissionRepository{
		"memory": func(*testing.T) repositories.SubmissionRepository { return repositories.NewMockSubmissionRepository() },
		"sqlite": func(t *testing.T) repositories.SubmissionRepository { return openServiceDB(t) },
	}
	for name, newRepo := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			creds := newCredentialStore(repositories.NewMockAccountRepository())
			subs := newSubmissionStore(t, newRepo(t))

			require.NoError(t, creds.Register(ctx, "alice", "pass1234"))
			ok, err := creds.Verify(ctx, "alice", "pass1234")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = creds.Verify(ctx, "alice", "wrong")
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = subs.Upsert(ctx, aliceRecord(false))
			require.NoError(t, err)
			first, err := subs.Fetch(ctx, "alice")
			require.NoError(t, err)
			require.NotNil(t, first)
			assert.False(t, first.Done)
			assert.Equal(t, "Alice A", first.FullName)
			assert.Empty(t, first.Teammates)

			_, err = subs.Upsert(ctx, aliceRecord(true))
			require.NoError(t, err)
			second, err := subs.Fetch(ctx, "alice")
			require.NoError(t, err)
			require.NotNil(t, second)
			assert.True(t, second.Done)
			assert.True(t, second.LastUpdated.After(first.LastUpdated))

			all, err := subs.FetchAll(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 1)
		})
	}
}

func TestSubmissionStore_FetchMissingIsNil(t *testing.T) {
	store := newSubmissionStore(t, repositories.NewMockSubmissionRepository())

	rec, err := store.Fetch(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSubmissionStore_LastUpdatedStrictlyIncreasesWithFrozenClock(t *testing.T) {
	ctx := context.Background()
	frozen := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	store := newSubmissionStore(t, repositories.NewMockSubmissionRepository(),
		services.WithClock(func() time.Time { return frozen }))

	var last time.Time
	for i := 0; i < 5; i++ {
		saved, err := store.Upsert(ctx, aliceRecord(i%2 == 0))
		require.NoError(t, err)
		assert.True(t, saved.LastUpdated.After(last), "upsert %d", i)
		last = saved.LastUpdated
	}
}

func TestSubmissionStore_UpsertIgnoresCallerTimestamp(t *testing.T) {
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	store := newSubmissionStore(t, repositories.NewMockSubmissionRepository(),
		services.WithClock(func() time.Time { return now }))

	rec := aliceRecord(false)
	rec.LastUpdated = time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	saved, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, now, saved.LastUpdated)
}

func TestSubmissionStore_TeammatesRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMockSubmissionRepository()
	store := newSubmissionStore(t, repo)

	rec := aliceRecord(false)
	rec.Teammates = []string{" Ana ", "", "Budi"}
	_, err := store.Upsert(ctx, rec)
	require.NoError(t, err)

	row, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Ana,Budi", row.Teammates)

	for _, stored := range []string{"Ana,Budi", "Ana\nBudi", "Ana\r\nBudi\n", " Ana , Budi "} {
		require.NoError(t, repo.Upsert(ctx, &models.SubmissionRow{Username: "budi", Teammates: stored}))
		got, err := store.Fetch(ctx, "budi")
		require.NoError(t, err)
		assert.Equal(t, []string{"Ana", "Budi"}, got.Teammates, "stored %q", stored)
	}
}

func TestSubmissionStore_LegacyStatusValues(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMockSubmissionRepository()
	store := newSubmissionStore(t, repo)

	cases := []struct {
		raw  any
		done bool
	}{
		{true, true},
		{false, false},
		{"TRUE", true},
		{"true", true},
		{"FALSE", false},
		{"Sudah Mengerjakan", true},
		{"  sudah mengerjakan ", true},
		{"Belum Mengerjakan", false},
		{"", false},
		{nil, false},
		{"yes", false},
	}
	for i, tc := range cases {
		username := fmt.Sprintf("user%02d", i)
		require.NoError(t, repo.Upsert(ctx, &models.SubmissionRow{Username: username, ClassName: "XI RPL 1", Status: models.StatusCell{Raw: tc.raw}}))

		got, err := store.Fetch(ctx, username)
		require.NoError(t, err)
		assert.Equal(t, tc.done, got.Done, "raw %#v", tc.raw)
	}
}

func TestSubmissionStore_WriteEncodings(t *testing.T) {
	cases := []struct {
		encoding codec.StatusEncoding
		done     any
		notDone  any
	}{
		{codec.EncodingTrueFalse, "TRUE", "FALSE"},
		{codec.EncodingBool, true, false},
		{codec.EncodingLabel, codec.DefaultDoneLabel, codec.DefaultNotDoneLabel},
	}
	for _, tc := range cases {
		t.Run(string(tc.encoding), func(t *testing.T) {
			ctx := context.Background()
			repo := repositories.NewMockSubmissionRepository()
			opts := codec.DefaultStatusOptions()
			opts.Write = tc.encoding
			store, err := services.NewSubmissionStore(repo, services.SubmissionOptions{ClassOptions: testClasses, Status: opts})
			require.NoError(t, err)

			saved, err := store.Upsert(ctx, aliceRecord(true))
			require.NoError(t, err)
			assert.True(t, saved.Done)
			row, err := repo.GetByUsername(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, tc.done, row.Status.Raw)

			saved, err = store.Upsert(ctx, aliceRecord(false))
			require.NoError(t, err)
			assert.False(t, saved.Done)
			row, err = repo.GetByUsername(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, tc.notDone, row.Status.Raw)
		})
	}
}

func TestSubmissionStore_ValidationReportsFirstFailingField(t *testing.T) {
	store := newSubmissionStore(t, repositories.NewMockSubmissionRepository())

	cases := []struct {
		name  string
		edit  func(r *models.SubmissionRecord)
		field string
		tag   string
	}{
		{"missing username", func(r *models.SubmissionRecord) { r.Username = " " }, "username", "required"},
		{"missing full name before bad class", func(r *models.SubmissionRecord) {
			r.FullName = ""
			r.ClassName = "XII TKJ"
		}, "fullName", "required"},
		{"unknown class", func(r *models.SubmissionRecord) { r.ClassName = "XII TKJ" }, "className", "classname"},
		{"unknown cohort", func(r *models.SubmissionRecord) { r.Cohort = "1999/2000" }, "cohort", "cohort"},
		{"missing link", func(r *models.SubmissionRecord) { r.ArtifactLink = "" }, "artifactLink", "required"},
		{"malformed link", func(r *models.SubmissionRecord) { r.ArtifactLink = "not a url" }, "artifactLink", "url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := aliceRecord(false)
			tc.edit(&rec)

			_, err := store.Upsert(context.Background(), rec)
			var verr *apperrors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.Equal(t, tc.tag, verr.Tag)
		})
	}

	// cohort is optional and artifact filename is not required by default
	_, err := store.Upsert(context.Background(), aliceRecord(false))
	assert.NoError(t, err)
}

func TestSubmissionStore_RequireArtifactFilename(t *testing.T) {
	store, err := services.NewSubmissionStore(repositories.NewMockSubmissionRepository(), services.SubmissionOptions{
		ClassOptions:            testClasses,
		RequireArtifactFilename: true,
	})
	require.NoError(t, err)

	_, err = store.Upsert(context.Background(), aliceRecord(false))
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "artifactFilename", verr.Field)

	rec := aliceRecord(false)
	rec.ArtifactFilename = "XI_RPL_1_Alice.ipynb"
	saved, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "XI_RPL_1_Alice.ipynb", saved.ArtifactFilename)
}

func TestSubmissionStore_FetchAllMatchesFetch(t *testing.T) {
	ctx := context.Background()
	store := newSubmissionStore(t, repositories.NewMockSubmissionRepository())

	students := []struct {
		username, class string
		done            bool
	}{
		{"alice", "XI RPL 1", true},
		{"budi", "XI RPL 1", false},
		{"citra", "XI RPL 2", true},
		{"dewi", "XI RPL 2", true},
		{"eko", "XI RPL 3", false},
	}
	for _, s := range students {
		rec := aliceRecord(s.done)
		rec.Username = s.username
		rec.ClassName = s.class
		_, err := store.Upsert(ctx, rec)
		require.NoError(t, err)
	}

	all, err := store.FetchAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, len(students))

	doneAll := 0
	for _, r := range all {
		if r.Done {
			doneAll++
		}
	}
	doneFetch := 0
	for _, s := range students {
		r, err := store.Fetch(ctx, s.username)
		require.NoError(t, err)
		if r.Done {
			doneFetch++
		}
	}
	assert.Equal(t, doneFetch, doneAll)

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.ClassSummary{
		{ClassName: "XI RPL 1", Done: 1, NotDone: 1, Total: 2},
		{ClassName: "XI RPL 2", Done: 2, NotDone: 0, Total: 2},
		{ClassName: "XI RPL 3", Done: 0, NotDone: 1, Total: 1},
	}, summary)
}

func TestSubmissionStore_StorageFailures(t *testing.T) {
	ctx := context.Background()
	repo := new(MockSubmissionRepository)
	store := newSubmissionStore(t, repo)

	cause := errors.New("disk on fire")
	repo.On("GetByUsername", ctx, "alice").Return(nil, cause)
	repo.On("GetAll", ctx).Return(nil, apperrors.Unavailable("list", cause))
	repo.On("Upsert", ctx, mock.AnythingOfType("*models.SubmissionRow")).Return(cause)

	rec, err := store.Fetch(ctx, "alice")
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)

	_, err = store.FetchAll(ctx)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)

	_, err = store.Summary(ctx)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)

	_, err = store.Upsert(ctx, aliceRecord(true))
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}

func TestSubmissionStore_PublishesEvents(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	pub := new(MockPublisher)
	store := newSubmissionStore(t, repositories.NewMockSubmissionRepository(),
		services.WithPublisher(pub),
		services.WithClock(func() time.Time { return now }))

	pub.On("PublishSubmissionSaved", models.SubmissionSavedEvent{
		Username: "alice", ClassName: "XI RPL 1", Done: true, LastUpdated: now,
	}).Return(nil).Once()
	_, err := store.Upsert(ctx, aliceRecord(true))
	require.NoError(t, err)
	pub.AssertExpectations(t)

	// a broker failure never fails the save
	pub.On("PublishSubmissionSaved", mock.Anything).Return(errors.New("broker down")).Once()
	saved, err := store.Upsert(ctx, aliceRecord(false))
	require.NoError(t, err)
	assert.False(t, saved.Done)
	pub.AssertExpectations(t)
}

func TestSubmissionStore_CacheAside(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryCache()
	store := newSubmissionStore(t, repositories.NewMockSubmissionRepository(), services.WithCache(cache, time.Minute))

	_, err := store.Upsert(ctx, aliceRecord(false))
	require.NoError(t, err)

	first, err := store.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, cache.hits)

	cached, err := store.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, first.FullName, cached.FullName)
	assert.True(t, first.LastUpdated.Equal(cached.LastUpdated))

	// upsert invalidates, so the next fetch sees the new status
	_, err = store.Upsert(ctx, aliceRecord(true))
	require.NoError(t, err)
	fresh, err := store.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, fresh.Done)
	assert.Equal(t, 1, cache.hits)
}

func TestSubmissionStore_ConcurrentUpsertsDifferentUsers(t *testing.T) {
	ctx := context.Background()
	store := newSubmissionStore(t, openServiceDB(t))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := aliceRecord(i%2 == 0)
			rec.Username = fmt.Sprintf("student%d", i%4)
			_, err := store.Upsert(ctx, rec)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := store.FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestNewSubmissionStore_RejectsBadOptions(t *testing.T) {
	_, err := services.NewSubmissionStore(repositories.NewMockSubmissionRepository(), services.SubmissionOptions{})
	assert.Error(t, err)

	_, err = services.NewSubmissionStore(repositories.NewMockSubmissionRepository(), services.SubmissionOptions{
		ClassOptions: testClasses,
		Status:       codec.StatusOptions{Write: "yaml"},
	})
	assert.Error(t, err)
}

func TestSubmissionStore_UsernameIsNotTrimmed(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMockSubmissionRepository()
	store := newSubmissionStore(t, repo)

	_, err := store.Upsert(ctx, aliceRecord(false))
	require.NoError(t, err)

	other := aliceRecord(true)
	other.Username = " alice"
	other.FullName = "Mallory"
	other.ArtifactLink = "https://evil.example/y"
	saved, err := store.Upsert(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, " alice", saved.Username)

	alice, err := store.Fetch(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, alice)
	assert.Equal(t, "Alice A", alice.FullName)
	assert.Equal(t, "https://colab.example/x", alice.ArtifactLink)

	padded, err := store.Fetch(ctx, " alice")
	require.NoError(t, err)
	require.NotNil(t, padded)
	assert.Equal(t, "Mallory", padded.FullName)

	all, err := store.FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSubmissionStore_FieldLengthLimits(t *testing.T) {
	store := newSubmissionStore(t, repositories.NewMockSubmissionRepository())

	cases := []struct {
		name  string
		edit  func(r *models.SubmissionRecord)
		field string
		tag   string
	}{
		{"long full name", func(r *models.SubmissionRecord) { r.FullName = strings.Repeat("a", 256) }, "fullName", "max"},
		{"long teammates", func(r *models.SubmissionRecord) {
			r.Teammates = []string{strings.Repeat("a", 20000), strings.Repeat("b", 20000)}
		}, "teammates", "joinedmax"},
		{"long link", func(r *models.SubmissionRecord) {
			r.ArtifactLink = "https://colab.example/" + strings.Repeat("x", 32767)
		}, "artifactLink", "max"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := aliceRecord(false)
			tc.edit(&rec)

			_, err := store.Upsert(context.Background(), rec)
			var verr *apperrors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.Equal(t, tc.tag, verr.Tag)
		})
	}

	rec := aliceRecord(false)
	rec.FullName = strings.Repeat("a", 255)
	rec.Teammates = []string{strings.Repeat("a", 16000), strings.Repeat("b", 16000)}
	_, err := store.Upsert(context.Background(), rec)
	assert.NoError(t, err)
}

// upsertDuringRead lands a write between the store's read and its cache fill.
type upsertDuringRead struct {
	repositories.SubmissionRepository
	once   sync.Once
	during func()
}

func (r *upsertDuringRead) GetByUsername(ctx context.Context, username string) (*models.SubmissionRow, error) {
	row, err := r.SubmissionRepository.GetByUsername(ctx, username)
	r.once.Do(r.during)
	return row, err
}

func TestSubmissionStore_CacheSkipsFillRacingUpsert(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryCache()
	repo := &upsertDuringRead{SubmissionRepository: repositories.NewMockSubmissionRepository()}
	store := newSubmissionStore(t, repo, services.WithCache(cache, time.Minute))

	_, err := store.Upsert(ctx, aliceRecord(false))
	require.NoError(t, err)
	repo.during = func() {
		_, err := store.Upsert(ctx, aliceRecord(true))
		require.NoError(t, err)
	}

	stale, err := store.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, stale.Done)

	fresh, err := store.Fetch(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, fresh.Done)
	assert.Equal(t, 0, cache.hits)
}
