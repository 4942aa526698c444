package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/makeasinger/genreswap/internal/model"
)

// JobRecord is the archived row of one terminal job.
type JobRecord struct {
	ID          string         `gorm:"primaryKey;type:varchar(64)"`
	Status      string         `gorm:"not null;type:text;index"`
	TargetGenre string         `gorm:"type:text"`
	OutputURL   string         `gorm:"type:text"`
	Error       string         `gorm:"type:text"`
	View        datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time
	CompletedAt time.Time `gorm:"index"`
}

func (JobRecord) TableName() string { return "job_history" }

// Postgres archives jobs through gorm. Publish is a database round trip;
// wrap it in fanout.Async before handing it to the registry.
type Postgres struct {
	db     *gorm.DB
	size   int
	logger *slog.Logger
}

// OpenPostgres connects, migrates the history table and keeps at most
// size rows after each Trim.
func OpenPostgres(dsn string, size int, logger *slog.Logger) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewPostgres(db, size, logger)
}

func NewPostgres(db *gorm.DB, size int, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 100
	}
	if err := db.AutoMigrate(&JobRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate job history: %w", err)
	}
	return &Postgres{db: db, size: size, logger: logger.With("component", "archive")}, nil
}

func (p *Postgres) Publish(ctx context.Context, view model.JobView) {
	if !view.Status.IsTerminal() {
		return
	}
	raw, err := json.Marshal(view)
	if err != nil {
		p.logger.Error("failed to marshal job view", "job_id", view.ID, "error", err)
		return
	}

	rec := JobRecord{
		ID:          view.ID,
		Status:      string(view.Status),
		TargetGenre: string(view.TargetGenre),
		View:        datatypes.JSON(raw),
		CreatedAt:   view.CreatedAt,
		CompletedAt: view.UpdatedAt,
	}
	if view.CompletedAt != nil {
		rec.CompletedAt = *view.CompletedAt
	}
	if view.Result != nil {
		rec.OutputURL = view.Result.OutputURL
	}
	if view.Error != nil {
		rec.Error = *view.Error
	}

	err = p.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		p.logger.Warn("failed to archive job", "job_id", view.ID, "error", err)
	}
}

func (p *Postgres) Recent(ctx context.Context, limit int) ([]model.JobView, error) {
	if limit <= 0 || limit > p.size {
		limit = p.size
	}
	var recs []JobRecord
	err := p.db.WithContext(ctx).
		Order("completed_at desc").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list job history: %w", err)
	}

	views := make([]model.JobView, 0, len(recs))
	for _, rec := range recs {
		var v model.JobView
		if err := json.Unmarshal(rec.View, &v); err != nil {
			p.logger.Warn("skipping unreadable history row", "job_id", rec.ID, "error", err)
			continue
		}
		views = append(views, v)
	}
	return views, nil
}

// Trim deletes rows beyond the configured size, oldest first.
func (p *Postgres) Trim(ctx context.Context) (int64, error) {
	var cutoff JobRecord
	err := p.db.WithContext(ctx).
		Order("completed_at desc").
		Offset(p.size - 1).
		Limit(1).
		Take(&cutoff).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to find history cutoff: %w", err)
	}

	res := p.db.WithContext(ctx).
		Where("completed_at < ?", cutoff.CompletedAt).
		Delete(&JobRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to trim job history: %w", res.Error)
	}
	return res.RowsAffected, nil
}
