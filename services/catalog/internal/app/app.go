package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"appcatalog/internal/metrics"
	"appcatalog/internal/util"
	"appcatalog/pkg/aggregate"
	"appcatalog/pkg/domain"
	"appcatalog/pkg/events"
	"appcatalog/pkg/store"
)

const eventTimeout = 2 * time.Second

// Config holds runtime dependencies for the catalog service.
type Config struct {
	// Store is used as is when set; otherwise StoreConfig selects a backend.
	Store       store.Store
	StoreConfig store.Config
	// Metrics, when set, instruments the store.
	Metrics *metrics.Metrics
	Events  events.Publisher
	// DegradeListErrors turns list-time store failures into empty results.
	DegradeListErrors bool
	// OnEventError is called when a best-effort event could not be published.
	OnEventError func(eventType string, err error)
	Now          func() time.Time
}

// App orchestrates the store and the aggregation rules.
type App struct {
	store        store.Store
	events       events.Publisher
	degradeLists bool
	onEventError func(string, error)
	now          func() time.Time
}

// RatingInput is a rating submission.
type RatingInput struct {
	Rating  float64
	Comment string
	User    string
	Persona string
}

// FeedbackInput is a comment without a score.
type FeedbackInput struct {
	Comment string
	User    string
	Persona string
}

// DownloadResult is returned by IncrementDownload.
type DownloadResult struct {
	DownloadURL string `json:"downloadUrl"`
	Downloads   int64  `json:"downloads"`
}

// RatingResult is the aggregate state after a rating.
type RatingResult struct {
	Rating      float64           `json:"rating"`
	RatingCount int64             `json:"ratingCount"`
	Feedback    []domain.Feedback `json:"feedback"`
}

// New constructs the service. A store is required.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if strings.TrimSpace(cfg.StoreConfig.Backend) == "" {
			return nil, errors.New("store or backend required")
		}
		var err error
		dataStore, err = store.Open(cfg.StoreConfig)
		if err != nil {
			return nil, fmt.Errorf("init %s store: %w", cfg.StoreConfig.Backend, err)
		}
	}
	if cfg.Metrics != nil {
		backend := strings.ToLower(strings.TrimSpace(cfg.StoreConfig.Backend))
		if backend == "" {
			backend = "custom"
		}
		dataStore = cfg.Metrics.InstrumentStore(dataStore, backend)
		if cfg.OnEventError == nil {
			cfg.OnEventError = func(eventType string, _ error) { cfg.Metrics.EventPublishFailed(eventType) }
		}
	}
	if cfg.Events == nil {
		cfg.Events = events.NopPublisher{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &App{
		store:        dataStore,
		events:       cfg.Events,
		degradeLists: cfg.DegradeListErrors,
		onEventError: cfg.OnEventError,
		now:          cfg.Now,
	}, nil
}

// Close releases the store and the event publisher.
func (a *App) Close() error {
	return errors.Join(a.store.Close(), a.events.Close())
}

// ListApps returns the filtered, sorted catalog.
func (a *App) ListApps(ctx context.Context, filter domain.Filter) ([]domain.App, error) {
	apps, err := a.store.List(ctx, filter)
	if err != nil {
		if a.degradeLists {
			util.LoggerFromContext(ctx).Warn("list apps degraded to empty result", "err", err)
			return []domain.App{}, nil
		}
		return nil, storeFailure("list", err)
	}
	if apps == nil {
		apps = []domain.App{}
	}
	return apps, nil
}

// GetApp returns the record, or ok=false when absent.
func (a *App) GetApp(ctx context.Context, id string) (domain.App, bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.App{}, false, nil
	}
	app, ok, err := a.store.Get(ctx, id)
	if err != nil {
		return domain.App{}, false, storeFailure("get", err)
	}
	return app, ok, nil
}

// CreateApp validates required fields, normalizes and inserts a new record.
func (a *App) CreateApp(ctx context.Context, payload domain.NewApp) (domain.App, error) {
	switch {
	case strings.TrimSpace(payload.ID) == "":
		return domain.App{}, missingField("id")
	case strings.TrimSpace(payload.Name) == "":
		return domain.App{}, missingField("name")
	case strings.TrimSpace(payload.DownloadURL) == "":
		return domain.App{}, missingField("downloadUrl")
	}
	app := domain.FromNewApp(payload, a.now())
	if err := a.store.Create(ctx, app); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return domain.App{}, ErrDuplicateID
		}
		return domain.App{}, storeFailure("create", err)
	}
	util.LoggerFromContext(ctx).Info("app created", "app_id", app.ID, "category", app.Category)
	a.publish(ctx, events.TypeAppCreated, app.ID, map[string]any{
		"name":     app.Name,
		"category": app.Category,
		"store":    app.Store,
	})
	return app, nil
}

// IncrementDownload adds one to the download counter.
func (a *App) IncrementDownload(ctx context.Context, id string) (DownloadResult, error) {
	app, err := a.update(ctx, "download", id, func(cur domain.App) domain.App {
		cur.Downloads++
		return cur
	})
	if err != nil {
		return DownloadResult{}, err
	}
	a.publish(ctx, events.TypeAppDownloaded, app.ID, map[string]any{"downloads": app.Downloads})
	return DownloadResult{DownloadURL: app.DownloadURL, Downloads: app.Downloads}, nil
}

// AddRating folds a score into the running average and logs it as feedback.
func (a *App) AddRating(ctx context.Context, id string, in RatingInput) (RatingResult, error) {
	score, err := domain.ValidateRating(in.Rating)
	if err != nil {
		return RatingResult{}, err
	}
	entry := domain.NewFeedback(in.User, in.Persona, in.Comment, &score, a.now())
	app, err := a.update(ctx, "rate", id, func(cur domain.App) domain.App {
		next := aggregate.ApplyRating(aggregate.RatingState{Rating: cur.Rating, RatingCount: cur.RatingCount}, score)
		cur.Rating, cur.RatingCount = next.Rating, next.RatingCount
		cur.Feedback = aggregate.AppendFeedback(cur.Feedback, entry)
		return cur
	})
	if err != nil {
		return RatingResult{}, err
	}
	a.publish(ctx, events.TypeAppRated, app.ID, map[string]any{
		"score":       score,
		"rating":      app.Rating,
		"ratingCount": app.RatingCount,
	})
	return RatingResult{Rating: app.Rating, RatingCount: app.RatingCount, Feedback: app.Feedback}, nil
}

// AddFeedback appends a comment and returns the stored entry.
func (a *App) AddFeedback(ctx context.Context, id string, in FeedbackInput) (domain.Feedback, error) {
	entry := domain.NewFeedback(in.User, in.Persona, in.Comment, nil, a.now())
	app, err := a.update(ctx, "feedback", id, func(cur domain.App) domain.App {
		cur.Feedback = aggregate.AppendFeedback(cur.Feedback, entry)
		return cur
	})
	if err != nil {
		return domain.Feedback{}, err
	}
	a.publish(ctx, events.TypeAppFeedback, app.ID, map[string]any{"persona": entry.Persona})
	return entry, nil
}

// ListCategories returns the fixed categories plus any others present.
func (a *App) ListCategories(ctx context.Context) ([]string, error) {
	apps, err := a.ListApps(ctx, domain.Filter{})
	if err != nil {
		return nil, err
	}
	return aggregate.Categories(apps), nil
}

// ListStores returns every distinct store present, sorted.
func (a *App) ListStores(ctx context.Context) ([]string, error) {
	apps, err := a.ListApps(ctx, domain.Filter{})
	if err != nil {
		return nil, err
	}
	return aggregate.Stores(apps), nil
}

// GetStats aggregates the whole catalog.
func (a *App) GetStats(ctx context.Context) (domain.Stats, error) {
	apps, err := a.ListApps(ctx, domain.Filter{})
	if err != nil {
		return domain.Stats{}, err
	}
	return aggregate.ComputeStats(apps), nil
}

func (a *App) update(ctx context.Context, op, id string, mutate store.Mutator) (domain.App, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.App{}, ErrNotFound
	}
	app, ok, err := a.store.Update(ctx, id, mutate)
	if err != nil {
		return domain.App{}, storeFailure(op, err)
	}
	if !ok {
		return domain.App{}, ErrNotFound
	}
	return app, nil
}

// publish is best effort; a broker outage never fails the mutation.
func (a *App) publish(ctx context.Context, eventType, appID string, data map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()
	if err := a.events.Publish(ctx, events.New(eventType, appID, a.now(), data)); err != nil {
		util.LoggerFromContext(ctx).Warn("publish event failed", "type", eventType, "app_id", appID, "err", err)
		if a.onEventError != nil {
			a.onEventError(eventType, err)
		}
	}
}
