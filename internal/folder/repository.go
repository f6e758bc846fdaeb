package folder

import (
	"context"
	"time"

	"cavvy/internal/domain"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FolderRecord is the persisted form of a domain.Folder. The canvas
// membership map is a jsonb document.
type FolderRecord struct {
	ID        string                                             `gorm:"primaryKey;type:varchar(64)"`
	UserID    uint64                                             `gorm:"index;not null"`
	Name      string                                             `gorm:"not null"`
	ParentID  *string                                            `gorm:"type:varchar(64);index"`
	Canvases  datatypes.JSONType[map[string]domain.FolderCanvas] `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (FolderRecord) TableName() string { return "folders" }

func newRecord(f *domain.Folder) *FolderRecord {
	return &FolderRecord{
		ID:        f.ID,
		UserID:    f.UserID,
		Name:      f.Name,
		ParentID:  f.ParentID,
		Canvases:  datatypes.NewJSONType(f.Canvases),
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

func (r *FolderRecord) toDomain() *domain.Folder {
	canvases := r.Canvases.Data()
	if canvases == nil {
		canvases = map[string]domain.FolderCanvas{}
	}
	return &domain.Folder{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		ParentID:  r.ParentID,
		Canvases:  canvases,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Mutation edits the whole folder set of a user inside Repository.Update.
// It returns the ids of folders it changed.
type Mutation func(folders map[string]*domain.Folder) ([]string, error)

type Repository interface {
	ListByUserID(ctx context.Context, userID uint64) ([]domain.Folder, error)
	Create(ctx context.Context, f *domain.Folder) error
	Update(ctx context.Context, userID uint64, mutate Mutation) ([]domain.Folder, error)
	Delete(ctx context.Context, userID uint64, id string) error
}

type RepositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &RepositoryImpl{db: db}
}

func (r *RepositoryImpl) ListByUserID(ctx context.Context, userID uint64) ([]domain.Folder, error) {
	var records []FolderRecord
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	folders := make([]domain.Folder, 0, len(records))
	for i := range records {
		folders = append(folders, *records[i].toDomain())
	}
	return folders, nil
}

func (r *RepositoryImpl) Create(ctx context.Context, f *domain.Folder) error {
	rec := newRecord(f)
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return err
	}
	f.CreatedAt = rec.CreatedAt
	f.UpdatedAt = rec.UpdatedAt
	return nil
}

// Update locks every folder of the user, applies mutate and writes back the
// folders it reports as changed. Membership moves touch two folders, so the
// whole set is edited in one transaction.
func (r *RepositoryImpl) Update(ctx context.Context, userID uint64, mutate Mutation) ([]domain.Folder, error) {
	var changed []domain.Folder

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []FolderRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).
			Find(&records).Error; err != nil {
			return err
		}

		folders := make(map[string]*domain.Folder, len(records))
		for i := range records {
			folders[records[i].ID] = records[i].toDomain()
		}

		ids, err := mutate(folders)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, id := range ids {
			f, ok := folders[id]
			if !ok {
				continue
			}
			f.UpdatedAt = now
			if err := tx.Model(&FolderRecord{}).
				Where("id = ? AND user_id = ?", id, userID).
				Updates(map[string]any{
					"name":       f.Name,
					"parent_id":  f.ParentID,
					"canvases":   datatypes.NewJSONType(f.Canvases),
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
			changed = append(changed, *f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

func (r *RepositoryImpl) Delete(ctx context.Context, userID uint64, id string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&FolderRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
