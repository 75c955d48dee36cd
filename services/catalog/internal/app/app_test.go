package app

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"appcatalog/internal/metrics"
	"appcatalog/pkg/domain"
	"appcatalog/pkg/events"
	"appcatalog/pkg/store"
)

var fixedNow = time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type brokenStore struct{}

var errBackend = errors.New("connection refused")

func (brokenStore) List(context.Context, domain.Filter) ([]domain.App, error) { return nil, errBackend }
func (brokenStore) Get(context.Context, string) (domain.App, bool, error) {
	return domain.App{}, false, errBackend
}
func (brokenStore) Create(context.Context, domain.App) error { return errBackend }
func (brokenStore) Update(context.Context, string, store.Mutator) (domain.App, bool, error) {
	return domain.App{}, false, errBackend
}
func (brokenStore) Close() error { return nil }

func newTestApp(t *testing.T) (*App, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	a, err := New(Config{Store: store.NewMemoryStore(), Events: pub, Now: func() time.Time { return fixedNow }})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, pub
}

func mustCreate(t *testing.T, a *App, payload domain.NewApp) domain.App {
	t.Helper()
	app, err := a.CreateApp(context.Background(), payload)
	if err != nil {
		t.Fatalf("create %s: %v", payload.ID, err)
	}
	return app
}

func basic(id string) domain.NewApp {
	return domain.NewApp{ID: id, Name: "App " + id, DownloadURL: "https://dl.example.com/" + id}
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without store")
	}
	if _, err := New(Config{StoreConfig: store.Config{Backend: "etcd"}}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestNewOpensBackendFromConfig(t *testing.T) {
	m := metrics.New()
	a, err := New(Config{StoreConfig: store.Config{Backend: "memory"}, Metrics: m})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	mustCreate(t, a, basic("m"))
	if _, err := a.CreateApp(context.Background(), basic("m")); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("duplicate through instrumented store: %v", err)
	}
}

func TestCreateThenGetStartsAtZero(t *testing.T) {
	a, pub := newTestApp(t)
	mustCreate(t, a, domain.NewApp{
		ID:          "a1",
		Name:        "Alpha",
		Category:    "Automation",
		Tags:        []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11"},
		DownloadURL: "https://dl.example.com/a1",
	})
	got, ok, err := a.GetApp(context.Background(), "a1")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Downloads != 0 || got.Rating != 0 || got.RatingCount != 0 || len(got.Feedback) != 0 || got.Feedback == nil {
		t.Fatalf("unexpected counters: %+v", got)
	}
	if got.Category != domain.CategoryAutomation || len(got.Tags) != domain.MaxTags {
		t.Fatalf("record not normalized: category=%q tags=%d", got.Category, len(got.Tags))
	}
	if !got.LastUpdated.Equal(fixedNow) {
		t.Fatalf("lastUpdated = %v", got.LastUpdated)
	}
	if types := pub.types(); !reflect.DeepEqual(types, []string{events.TypeAppCreated}) {
		t.Fatalf("events = %v", types)
	}
}

func TestCreateRequiresFields(t *testing.T) {
	a, _ := newTestApp(t)
	tests := []struct {
		name    string
		payload domain.NewApp
		field   string
	}{
		{name: "id", payload: domain.NewApp{Name: "n", DownloadURL: "u"}, field: "id"},
		{name: "name", payload: domain.NewApp{ID: "x", DownloadURL: "u"}, field: "name"},
		{name: "blank download url", payload: domain.NewApp{ID: "x", Name: "n", DownloadURL: "  "}, field: "downloadUrl"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.CreateApp(context.Background(), tc.payload)
			if !errors.Is(err, ErrMissingField) {
				t.Fatalf("err = %v, want ErrMissingField", err)
			}
			if want := "missing required field: " + tc.field; err.Error() != want {
				t.Fatalf("err = %q, want %q", err, want)
			}
		})
	}
}

func TestCreateDuplicateID(t *testing.T) {
	a, _ := newTestApp(t)
	mustCreate(t, a, basic("dup"))
	if _, err := a.CreateApp(context.Background(), basic("dup")); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}
}

func TestConcurrentCreateHasOneWinner(t *testing.T) {
	a, _ := newTestApp(t)
	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, dups := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.CreateApp(context.Background(), basic("race"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrDuplicateID):
				dups++
			}
		}()
	}
	wg.Wait()
	if wins != 1 || dups != n-1 {
		t.Fatalf("wins=%d dups=%d", wins, dups)
	}
}

func TestRatingSequence(t *testing.T) {
	a, pub := newTestApp(t)
	mustCreate(t, a, basic("r"))
	var res RatingResult
	for _, score := range []float64{5, 3, 4} {
		var err error
		res, err = a.AddRating(context.Background(), "r", RatingInput{Rating: score, Comment: "ok"})
		if err != nil {
			t.Fatalf("rate %v: %v", score, err)
		}
	}
	if res.Rating != 4.0 || res.RatingCount != 3 {
		t.Fatalf("rating=%v count=%d", res.Rating, res.RatingCount)
	}
	if len(res.Feedback) != 3 {
		t.Fatalf("feedback entries = %d, want 3", len(res.Feedback))
	}
	first := res.Feedback[0]
	if first.Rating == nil || *first.Rating != 5 || first.User != domain.DefaultUser || first.Persona != domain.DefaultPersona {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if got := pub.types(); len(got) != 4 || got[3] != events.TypeAppRated {
		t.Fatalf("events = %v", got)
	}
}

func TestAddRatingRejectsOutOfRange(t *testing.T) {
	a, _ := newTestApp(t)
	mustCreate(t, a, basic("r"))
	for _, score := range []float64{0, 6, -1, 5.01, math.NaN(), math.Inf(1)} {
		if _, err := a.AddRating(context.Background(), "r", RatingInput{Rating: score}); !errors.Is(err, ErrInvalidRating) {
			t.Fatalf("score %v: err = %v, want ErrInvalidRating", score, err)
		}
	}
	got, _, _ := a.GetApp(context.Background(), "r")
	if got.RatingCount != 0 || len(got.Feedback) != 0 {
		t.Fatalf("rejected ratings must not mutate the record: %+v", got)
	}
}

func TestMutationsOnMissingApp(t *testing.T) {
	a, pub := newTestApp(t)
	ctx := context.Background()
	if _, err := a.AddRating(ctx, "ghost", RatingInput{Rating: 3}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rate: err = %v, want ErrNotFound", err)
	}
	if _, err := a.IncrementDownload(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("download: err = %v, want ErrNotFound", err)
	}
	if _, err := a.AddFeedback(ctx, "ghost", FeedbackInput{Comment: "hi"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("feedback: err = %v, want ErrNotFound", err)
	}
	if _, ok, err := a.GetApp(ctx, "ghost"); ok || err != nil {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if len(pub.types()) != 0 {
		t.Fatalf("no events expected for failed mutations")
	}
}

func TestConcurrentDownloadsAreNotLost(t *testing.T) {
	a, _ := newTestApp(t)
	mustCreate(t, a, basic("hot"))
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.IncrementDownload(context.Background(), "hot"); err != nil {
				t.Errorf("download: %v", err)
			}
		}()
	}
	wg.Wait()
	got, _, _ := a.GetApp(context.Background(), "hot")
	if got.Downloads != n {
		t.Fatalf("downloads = %d, want %d", got.Downloads, n)
	}
	res, err := a.IncrementDownload(context.Background(), "hot")
	if err != nil || res.Downloads != n+1 || res.DownloadURL != "https://dl.example.com/hot" {
		t.Fatalf("download result = %+v err=%v", res, err)
	}
}

func TestConcurrentRatingsAndFeedback(t *testing.T) {
	a, _ := newTestApp(t)
	mustCreate(t, a, basic("busy"))
	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = a.AddRating(context.Background(), "busy", RatingInput{Rating: 4})
		}()
		go func() {
			defer wg.Done()
			_, _ = a.AddFeedback(context.Background(), "busy", FeedbackInput{Comment: "c"})
		}()
	}
	wg.Wait()
	got, _, _ := a.GetApp(context.Background(), "busy")
	if got.RatingCount != n || got.Rating != 4 || len(got.Feedback) != 2*n {
		t.Fatalf("count=%d rating=%v feedback=%d", got.RatingCount, got.Rating, len(got.Feedback))
	}
}

func TestAddFeedbackReturnsEntry(t *testing.T) {
	a, _ := newTestApp(t)
	mustCreate(t, a, basic("f"))
	entry, err := a.AddFeedback(context.Background(), "f", FeedbackInput{User: "  ", Persona: "operator", Comment: "works"})
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	if entry.User != domain.DefaultUser || entry.Persona != "operator" || entry.Rating != nil || !entry.CreatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	got, _, _ := a.GetApp(context.Background(), "f")
	if len(got.Feedback) != 1 || got.Feedback[0].Comment != "works" {
		t.Fatalf("feedback not stored: %+v", got.Feedback)
	}
	if !got.LastUpdated.Equal(fixedNow) || got.RatingCount != 0 {
		t.Fatalf("feedback must not touch rating or lastUpdated: %+v", got)
	}
}

func TestListAppsFilters(t *testing.T) {
	a, _ := newTestApp(t)
	mustCreate(t, a, domain.NewApp{ID: "A", Name: "Alpha", Category: "Engineering", Tags: []string{"x"}, Description: "first", DownloadURL: "u"})
	mustCreate(t, a, domain.NewApp{ID: "B", Name: "Bravo", Category: "Safety", Tags: []string{"y"}, Description: "B-description-substring", DownloadURL: "u"})

	tests := []struct {
		filter domain.Filter
		want   string
	}{
		{filter: domain.Filter{Category: "Engineering"}, want: "A"},
		{filter: domain.Filter{Tag: "y"}, want: "B"},
		{filter: domain.Filter{Query: "b-description"}, want: "B"},
	}
	for _, tc := range tests {
		got, err := a.ListApps(context.Background(), tc.filter)
		if err != nil {
			t.Fatalf("list %+v: %v", tc.filter, err)
		}
		if len(got) != 1 || got[0].ID != tc.want {
			t.Fatalf("list %+v = %v, want [%s]", tc.filter, got, tc.want)
		}
	}
}

func TestCreateCoercesMiscasedCategory(t *testing.T) {
	a, _ := newTestApp(t)
	created := mustCreate(t, a, domain.NewApp{ID: "d1", Name: "Deployer", Category: "devops", DownloadURL: "u"})
	if created.Category != domain.CategoryGeneral {
		t.Fatalf("category = %q, want %q", created.Category, domain.CategoryGeneral)
	}
	got, err := a.ListApps(context.Background(), domain.Filter{Category: "general"})
	if err != nil || len(got) != 1 || got[0].ID != "d1" {
		t.Fatalf("filter by lower-case category: %v err=%v", got, err)
	}
}

func TestCategoriesAndStores(t *testing.T) {
	a, _ := newTestApp(t)
	mustCreate(t, a, domain.NewApp{ID: "a", Name: "A", Category: "Data", Store: "Field", DownloadURL: "u"})
	mustCreate(t, a, domain.NewApp{ID: "b", Name: "B", Category: "nonsense", DownloadURL: "u"})

	first, err := a.ListCategories(context.Background())
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	second, _ := a.ListCategories(context.Background())
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("categories not idempotent: %v vs %v", first, second)
	}
	want := append(domain.Categories(), domain.CategoryGeneral)
	if !reflect.DeepEqual(first, want) {
		t.Fatalf("categories = %v, want %v", first, want)
	}
	stores, err := a.ListStores(context.Background())
	if err != nil || !reflect.DeepEqual(stores, []string{"Field", "Main"}) {
		t.Fatalf("stores = %v err=%v", stores, err)
	}
}

func TestStatsEmptyCatalog(t *testing.T) {
	a, _ := newTestApp(t)
	got, err := a.GetStats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	want := domain.Stats{CategoryBreakdown: map[string]int{}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}
}

func TestStatsWeightedAverage(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	mustCreate(t, a, domain.NewApp{ID: "a", Name: "A", Category: "Data", DownloadURL: "u"})
	mustCreate(t, a, domain.NewApp{ID: "b", Name: "B", Category: "Data", DownloadURL: "u"})
	for _, r := range []float64{5, 5} {
		_, _ = a.AddRating(ctx, "a", RatingInput{Rating: r})
	}
	_, _ = a.AddRating(ctx, "b", RatingInput{Rating: 2})
	_, _ = a.IncrementDownload(ctx, "b")
	got, err := a.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if got.AverageRating != 4 || got.TotalDownloads != 1 || got.AppCount != 2 || got.CategoryBreakdown["Data"] != 2 {
		t.Fatalf("stats = %+v", got)
	}
}

func TestStoreFailuresPropagate(t *testing.T) {
	a, err := New(Config{Store: brokenStore{}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	checks := map[string]error{}
	_, checks["list"] = a.ListApps(ctx, domain.Filter{})
	_, _, checks["get"] = a.GetApp(ctx, "x")
	_, checks["create"] = a.CreateApp(ctx, basic("x"))
	_, checks["download"] = a.IncrementDownload(ctx, "x")
	_, checks["rate"] = a.AddRating(ctx, "x", RatingInput{Rating: 3})
	_, checks["stats"] = a.GetStats(ctx)
	for op, err := range checks {
		if !errors.Is(err, ErrStoreFailure) || !errors.Is(err, errBackend) {
			t.Fatalf("%s: err = %v, want store failure wrapping backend error", op, err)
		}
	}
	var se *StoreError
	if !errors.As(checks["download"], &se) || se.Op != "download" {
		t.Fatalf("expected StoreError with op, got %v", checks["download"])
	}
	if want := "store failure: download: connection refused"; checks["download"].Error() != want {
		t.Fatalf("message = %q, want %q", checks["download"], want)
	}
}

func TestDegradedListing(t *testing.T) {
	a, err := New(Config{Store: brokenStore{}, DegradeListErrors: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	apps, err := a.ListApps(context.Background(), domain.Filter{})
	if err != nil || apps == nil || len(apps) != 0 {
		t.Fatalf("apps=%v err=%v, want empty result", apps, err)
	}
	cats, err := a.ListCategories(context.Background())
	if err != nil || !reflect.DeepEqual(cats, domain.Categories()) {
		t.Fatalf("categories = %v err=%v", cats, err)
	}
	if _, _, err := a.GetApp(context.Background(), "x"); !errors.Is(err, ErrStoreFailure) {
		t.Fatalf("point reads still fail: %v", err)
	}
}

func TestEventFailureDoesNotFailMutation(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	var failed []string
	a, err := New(Config{
		Store:        store.NewMemoryStore(),
		Events:       pub,
		OnEventError: func(eventType string, _ error) { failed = append(failed, eventType) },
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := a.CreateApp(context.Background(), basic("e")); err != nil {
		t.Fatalf("create should succeed despite broker outage: %v", err)
	}
	if _, err := a.IncrementDownload(context.Background(), "e"); err != nil {
		t.Fatalf("download: %v", err)
	}
	if !reflect.DeepEqual(failed, []string{events.TypeAppCreated, events.TypeAppDownloaded}) {
		t.Fatalf("failed events = %v", failed)
	}
}
