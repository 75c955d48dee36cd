package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"appcatalog/pkg/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

const migrateLockID int64 = 61406140

const tagElements = "jsonb_array_elements_text(COALESCE(tags, '[]'::jsonb)) AS t(tag)"

type GormStoreOptions struct {
	Timeout time.Duration
}

type GormStoreOption func(*GormStoreOptions)

// WithGormTimeout bounds each store call.
func WithGormTimeout(d time.Duration) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.Timeout = d
	}
}

// GormStore implements Store using GORM + Postgres. Updates run inside a
// transaction holding a row lock on the record.
type GormStore struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, SkipDefaultTransaction: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&AppModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return NewGormStoreWithDB(db, options...), nil
}

// NewGormStoreWithDB wraps an already opened connection without migrating.
func NewGormStoreWithDB(db *gorm.DB, options ...GormStoreOption) *GormStore {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	return &GormStore{db: db, timeout: opts.Timeout}
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// List pushes the filter and ordering down to SQL.
func (s *GormStore) List(ctx context.Context, filter domain.Filter) ([]domain.App, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tx := s.db.WithContext(ctx).Model(&AppModel{})
	if c := strings.TrimSpace(filter.Category); c != "" {
		tx = tx.Where("LOWER(category) = LOWER(?)", c)
	}
	if st := strings.TrimSpace(filter.Store); st != "" {
		tx = tx.Where("store = ?", st)
	}
	if tag := strings.TrimSpace(filter.Tag); tag != "" {
		tx = tx.Where("EXISTS (SELECT 1 FROM "+tagElements+" WHERE LOWER(t.tag) = LOWER(?))", tag)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		like := "%" + escapeLike(q) + "%"
		tx = tx.Where("(name ILIKE ? OR description ILIKE ? OR EXISTS (SELECT 1 FROM "+tagElements+" WHERE t.tag ILIKE ?))", like, like, like)
	}
	var models []AppModel
	if err := tx.Order(orderClause(filter.Sort)).Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.App, 0, len(models))
	for _, m := range models {
		res = append(res, appFromModel(m))
	}
	return res, nil
}

func orderClause(key domain.SortKey) string {
	switch key {
	case domain.SortDownloads:
		return "downloads DESC, id ASC"
	case domain.SortRating:
		return "rating DESC, id ASC"
	case domain.SortUpdated:
		return "last_updated DESC, id ASC"
	default:
		return "LOWER(name) ASC, id ASC"
	}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Get retrieves an app.
func (s *GormStore) Get(ctx context.Context, id string) (domain.App, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var model AppModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.App{}, false, nil
		}
		return domain.App{}, false, err
	}
	return appFromModel(model), true, nil
}

// Create inserts the row; the primary key decides the single winner.
func (s *GormStore) Create(ctx context.Context, app domain.App) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	model := appToModel(domain.Normalize(app))
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateID
	}
	return nil
}

// Update locks the row with SELECT ... FOR UPDATE, applies mutate and writes back.
func (s *GormStore) Update(ctx context.Context, id string, mutate Mutator) (domain.App, bool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	var (
		out   domain.App
		found bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model AppModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		next := domain.Normalize(mutate(appFromModel(model)))
		next.ID = id
		row := appToModel(next)
		if err := tx.Model(&AppModel{}).Where("id = ?", id).Updates(map[string]any{
			"name":         row.Name,
			"category":     row.Category,
			"store":        row.Store,
			"tags":         row.Tags,
			"description":  row.Description,
			"download_url": row.DownloadURL,
			"update_info":  row.UpdateInfo,
			"downloads":    row.Downloads,
			"rating":       row.Rating,
			"rating_count": row.RatingCount,
			"feedback":     row.Feedback,
			"last_updated": row.LastUpdated,
		}).Error; err != nil {
			return err
		}
		out, found = next, true
		return nil
	})
	if err != nil {
		return domain.App{}, false, err
	}
	return out, found, nil
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
