package catalog

import (
	"context"
	"time"

	"cavvy/internal/domain"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SharedOwner is the owner id of the shared catalog.
const SharedOwner uint64 = 0

// CanvasTypeRecord is the persisted form of a domain.CanvasType. Shared and
// custom types live in the same table, told apart by OwnerID.
type CanvasTypeRecord struct {
	OwnerID       uint64                                         `gorm:"primaryKey;autoIncrement:false"`
	ID            string                                         `gorm:"primaryKey;type:varchar(128)"`
	Name          string                                         `gorm:"not null"`
	Icon          string
	Description   string
	DefaultLayout datatypes.JSONType[*domain.Layout]             `gorm:"type:jsonb"`
	Sections      datatypes.JSONType[[]domain.SectionDescriptor] `gorm:"type:jsonb;not null"`
	Tags          datatypes.JSONType[[]string]                   `gorm:"type:jsonb"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (CanvasTypeRecord) TableName() string { return "canvas_types" }

// AgentRecord is the persisted form of a domain.AIAgent, keyed like
// canvas types.
type AgentRecord struct {
	OwnerID        uint64                                `gorm:"primaryKey;autoIncrement:false"`
	ID             string                                `gorm:"primaryKey;type:varchar(128)"`
	Name           string                                `gorm:"not null"`
	SystemPrompt   string                                `gorm:"type:text"`
	SectionPrompts datatypes.JSONType[map[string]string] `gorm:"type:jsonb"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (AgentRecord) TableName() string { return "ai_agents" }

func typeRecord(ownerID uint64, t *domain.CanvasType) CanvasTypeRecord {
	return CanvasTypeRecord{
		OwnerID:       ownerID,
		ID:            t.ID,
		Name:          t.Name,
		Icon:          t.Icon,
		Description:   t.Description,
		DefaultLayout: datatypes.NewJSONType(t.DefaultLayout),
		Sections:      datatypes.NewJSONType(t.Sections),
		Tags:          datatypes.NewJSONType(t.Tags),
	}
}

func (r CanvasTypeRecord) toDomain() domain.CanvasType {
	return domain.CanvasType{
		ID:            r.ID,
		UserID:        r.OwnerID,
		Name:          r.Name,
		Icon:          r.Icon,
		Description:   r.Description,
		DefaultLayout: r.DefaultLayout.Data(),
		Sections:      r.Sections.Data(),
		Tags:          r.Tags.Data(),
		IsCustom:      r.OwnerID != SharedOwner,
	}
}

func agentRecord(ownerID uint64, a *domain.AIAgent) AgentRecord {
	return AgentRecord{
		OwnerID:        ownerID,
		ID:             a.ID,
		Name:           a.Name,
		SystemPrompt:   a.SystemPrompt,
		SectionPrompts: datatypes.NewJSONType(a.SectionPrompts),
	}
}

func (r AgentRecord) toDomain() domain.AIAgent {
	return domain.AIAgent{
		ID:             r.ID,
		UserID:         r.OwnerID,
		Name:           r.Name,
		SystemPrompt:   r.SystemPrompt,
		SectionPrompts: r.SectionPrompts.Data(),
		IsCustom:       r.OwnerID != SharedOwner,
	}
}

// Repository reads and writes one owner's catalog at a time. Owner
// SharedOwner is the shared catalog.
type Repository interface {
	ListTypes(ctx context.Context, ownerID uint64) ([]domain.CanvasType, error)
	SaveType(ctx context.Context, ownerID uint64, t *domain.CanvasType) error
	DeleteType(ctx context.Context, ownerID uint64, id string) error
	CountTypes(ctx context.Context, ownerID uint64) (int64, error)
	ListAgents(ctx context.Context, ownerID uint64) ([]domain.AIAgent, error)
	SaveAgent(ctx context.Context, ownerID uint64, a *domain.AIAgent) error
	DeleteAgent(ctx context.Context, ownerID uint64, id string) error
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) ListTypes(ctx context.Context, ownerID uint64) ([]domain.CanvasType, error) {
	var records []CanvasTypeRecord
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	types := make([]domain.CanvasType, 0, len(records))
	for _, rec := range records {
		types = append(types, rec.toDomain())
	}
	return types, nil
}

// SaveType upserts the whole type document (last write wins).
func (r *RepositoryImpl) SaveType(ctx context.Context, ownerID uint64, t *domain.CanvasType) error {
	rec := typeRecord(ownerID, t)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "icon", "description", "default_layout", "sections", "tags", "updated_at"}),
		}).
		Create(&rec).Error
}

func (r *RepositoryImpl) DeleteType(ctx context.Context, ownerID uint64, id string) error {
	res := r.db.WithContext(ctx).
		Where("owner_id = ? AND id = ?", ownerID, id).
		Delete(&CanvasTypeRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *RepositoryImpl) CountTypes(ctx context.Context, ownerID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&CanvasTypeRecord{}).
		Where("owner_id = ?", ownerID).
		Count(&count).Error
	return count, err
}

func (r *RepositoryImpl) ListAgents(ctx context.Context, ownerID uint64) ([]domain.AIAgent, error) {
	var records []AgentRecord
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	agents := make([]domain.AIAgent, 0, len(records))
	for _, rec := range records {
		agents = append(agents, rec.toDomain())
	}
	return agents, nil
}

func (r *RepositoryImpl) SaveAgent(ctx context.Context, ownerID uint64, a *domain.AIAgent) error {
	rec := agentRecord(ownerID, a)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "system_prompt", "section_prompts", "updated_at"}),
		}).
		Create(&rec).Error
}

func (r *RepositoryImpl) DeleteAgent(ctx context.Context, ownerID uint64, id string) error {
	res := r.db.WithContext(ctx).
		Where("owner_id = ? AND id = ?", ownerID, id).
		Delete(&AgentRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
