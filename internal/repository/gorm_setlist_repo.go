package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/openworship/cast/internal/domain"
)

// SetlistModel is the persisted row. Items are stored as one JSON blob;
// replace semantics make per-item columns pointless.
type SetlistModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Items     []byte
	UpdatedAt time.Time
}

func (SetlistModel) TableName() string { return "setlists" }

type GormSetlistRepository struct {
	db *gorm.DB
}

// OpenDB opens the sqlite database and migrates the schema.
func OpenDB(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&SetlistModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func NewGormSetlistRepository(db *gorm.DB) *GormSetlistRepository {
	return &GormSetlistRepository{db: db}
}

func (r *GormSetlistRepository) Create(ctx context.Context, setlist *domain.Setlist) error {
	if setlist.ID == "" {
		setlist.ID = uuid.NewString()
	}
	model, err := toModel(setlist)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		log.Error().Err(err).Str("module", "repository").Msg("failed to create setlist")
		return err
	}
	log.Debug().Str("module", "repository").Str("setlist_id", setlist.ID).Msg("setlist created")
	return nil
}

func (r *GormSetlistRepository) Get(ctx context.Context, id string) (*domain.Setlist, error) {
	var model SetlistModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSetlistNotFound
		}
		log.Error().Err(err).Str("module", "repository").Str("setlist_id", id).Msg("failed to get setlist")
		return nil, err
	}
	return toDomain(&model)
}

// Replace overwrites the whole persisted list, PUT semantics.
func (r *GormSetlistRepository) Replace(ctx context.Context, setlist *domain.Setlist) error {
	model, err := toModel(setlist)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&SetlistModel{}).
		Where("id = ?", setlist.ID).
		Updates(map[string]any{"name": model.Name, "items": model.Items})
	if res.Error != nil {
		log.Error().Err(res.Error).Str("module", "repository").Str("setlist_id", setlist.ID).Msg("failed to replace setlist")
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSetlistNotFound
	}
	return nil
}

func (r *GormSetlistRepository) List(ctx context.Context) ([]domain.Setlist, error) {
	var models []SetlistModel
	if err := r.db.WithContext(ctx).Order("updated_at desc").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Setlist, 0, len(models))
	for i := range models {
		s, err := toDomain(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, nil
}

func toModel(s *domain.Setlist) (*SetlistModel, error) {
	items, err := json.Marshal(s.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	return &SetlistModel{ID: s.ID, Name: s.Name, Items: items}, nil
}

func toDomain(m *SetlistModel) (*domain.Setlist, error) {
	s := &domain.Setlist{ID: m.ID, Name: m.Name}
	if len(m.Items) > 0 {
		if err := json.Unmarshal(m.Items, &s.Items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
	}
	return s, nil
}
