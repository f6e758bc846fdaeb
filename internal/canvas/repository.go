package canvas

import (
	"context"
	"time"

	"cavvy/internal/domain"
	"cavvy/internal/utils"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CanvasRecord is the persisted form of a domain.Canvas. Sections and layout
// are stored as jsonb documents; the parent id is a plain indexed column so
// children can be found by back-reference.
type CanvasRecord struct {
	ID             string                                        `gorm:"primaryKey;type:varchar(64)"`
	UserID         uint64                                        `gorm:"index;not null"`
	Name           string                                        `gorm:"not null"`
	Description    string                                        `gorm:"type:text"`
	CanvasTypeID   string                                        `gorm:"type:varchar(128);not null"`
	Layout         datatypes.JSONType[*domain.Layout]            `gorm:"type:jsonb"`
	Theme          string                                        `gorm:"type:varchar(64)"`
	Sections       datatypes.JSONType[map[string]domain.Section] `gorm:"type:jsonb;not null"`
	ParentCanvasID *string                                       `gorm:"type:varchar(64);index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (CanvasRecord) TableName() string { return "canvases" }

func newRecord(c *domain.Canvas) *CanvasRecord {
	return &CanvasRecord{
		ID:             c.ID,
		UserID:         c.UserID,
		Name:           c.Name,
		Description:    c.Description,
		CanvasTypeID:   c.CanvasTypeID,
		Layout:         datatypes.NewJSONType(c.Layout),
		Theme:          c.Theme,
		Sections:       datatypes.NewJSONType(c.Sections),
		ParentCanvasID: c.ParentCanvasID,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func (r *CanvasRecord) toDomain() *domain.Canvas {
	sections := r.Sections.Data()
	if sections == nil {
		sections = map[string]domain.Section{}
	}
	return &domain.Canvas{
		ID:             r.ID,
		UserID:         r.UserID,
		Name:           r.Name,
		Description:    r.Description,
		CanvasTypeID:   r.CanvasTypeID,
		Layout:         r.Layout.Data(),
		Theme:          r.Theme,
		Sections:       sections,
		ParentCanvasID: r.ParentCanvasID,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (r *CanvasRecord) toSummary() domain.CanvasSummary {
	return domain.CanvasSummary{
		ID:             r.ID,
		UserID:         r.UserID,
		Name:           r.Name,
		CanvasTypeID:   r.CanvasTypeID,
		ParentCanvasID: r.ParentCanvasID,
		UpdatedAt:      r.UpdatedAt,
	}
}

var summaryColumns = []string{"id", "user_id", "name", "canvas_type_id", "parent_canvas_id", "updated_at"}

// Mutation edits a loaded canvas in place inside Repository.Update.
type Mutation func(c *domain.Canvas) error

type Repository interface {
	Create(ctx context.Context, c *domain.Canvas) error
	FindByID(ctx context.Context, userID uint64, id string) (*domain.Canvas, error)
	ListByUserID(ctx context.Context, userID uint64, page, pageSize int) ([]domain.CanvasSummary, utils.PageMeta, error)
	ListSummaries(ctx context.Context, userID uint64) ([]domain.CanvasSummary, error)
	ListChildren(ctx context.Context, userID uint64, parentID string) ([]domain.CanvasSummary, error)
	ExistingIDs(ctx context.Context, userID uint64, ids []string) ([]string, error)
	Update(ctx context.Context, userID uint64, id string, mutate Mutation) (*domain.Canvas, error)
	Delete(ctx context.Context, userID uint64, id string) error
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) Create(ctx context.Context, c *domain.Canvas) error {
	rec := newRecord(c)
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return err
	}
	c.CreatedAt = rec.CreatedAt
	c.UpdatedAt = rec.UpdatedAt
	return nil
}

func (r *RepositoryImpl) FindByID(ctx context.Context, userID uint64, id string) (*domain.Canvas, error) {
	var rec CanvasRecord
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return rec.toDomain(), nil
}

func (r *RepositoryImpl) ListByUserID(ctx context.Context, userID uint64, page, pageSize int) ([]domain.CanvasSummary, utils.PageMeta, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&CanvasRecord{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, utils.PageMeta{}, err
	}

	var records []CanvasRecord
	err := r.db.WithContext(ctx).
		Select(summaryColumns).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Offset(utils.Offset(page, pageSize)).
		Limit(pageSize).
		Find(&records).Error
	if err != nil {
		return nil, utils.PageMeta{}, err
	}

	return summaries(records), utils.NewPageMeta(total, page, pageSize), nil
}

func (r *RepositoryImpl) ListSummaries(ctx context.Context, userID uint64) ([]domain.CanvasSummary, error) {
	var records []CanvasRecord
	err := r.db.WithContext(ctx).
		Select(summaryColumns).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return summaries(records), nil
}

func (r *RepositoryImpl) ListChildren(ctx context.Context, userID uint64, parentID string) ([]domain.CanvasSummary, error) {
	var records []CanvasRecord
	err := r.db.WithContext(ctx).
		Select(summaryColumns).
		Where("user_id = ? AND parent_canvas_id = ?", userID, parentID).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return summaries(records), nil
}

// ExistingIDs returns the subset of ids that are stored for the user.
func (r *RepositoryImpl) ExistingIDs(ctx context.Context, userID uint64, ids []string) ([]string, error) {
	var found []string
	if len(ids) == 0 {
		return found, nil
	}
	err := r.db.WithContext(ctx).
		Model(&CanvasRecord{}).
		Where("user_id = ? AND id IN ?", userID, ids).
		Pluck("id", &found).Error
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Update loads the canvas under a row lock, applies mutate and writes the
// result back in the same transaction. A mutate error aborts the write.
func (r *RepositoryImpl) Update(ctx context.Context, userID uint64, id string, mutate Mutation) (*domain.Canvas, error) {
	var updated *domain.Canvas

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec CanvasRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", id, userID).
			First(&rec).Error; err != nil {
			return err
		}

		c := rec.toDomain()
		if err := mutate(c); err != nil {
			return err
		}

		next := newRecord(c)
		// identity and lineage are never rewritten
		next.ID = rec.ID
		next.UserID = rec.UserID
		next.ParentCanvasID = rec.ParentCanvasID
		next.CreatedAt = rec.CreatedAt
		next.UpdatedAt = time.Now().UTC()

		if err := tx.Model(&rec).
			Select("name", "description", "layout", "theme", "sections", "updated_at").
			Updates(next).Error; err != nil {
			return err
		}

		c.UpdatedAt = next.UpdatedAt
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *RepositoryImpl) Delete(ctx context.Context, userID uint64, id string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&CanvasRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func summaries(records []CanvasRecord) []domain.CanvasSummary {
	out := make([]domain.CanvasSummary, 0, len(records))
	for i := range records {
		out = append(out, records[i].toSummary())
	}
	return out
}
