package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/model"
)

// contractRow is the table layout. Conditions and actions are JSON text.
type contractRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"size:255;not null"`
	Conditions  string `gorm:"type:text;not null"`
	Actions     string `gorm:"type:text;not null"`
	State       string `gorm:"size:16;index;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExecutedAt  *time.Time
	ScheduledAt *time.Time `gorm:"index"`
}

func (contractRow) TableName() string { return "contracts" }

func toRow(c model.Contract) (contractRow, error) {
	conds, err := json.Marshal(c.Conditions)
	if err != nil {
		return contractRow{}, fmt.Errorf("encode conditions: %w", err)
	}
	acts, err := json.Marshal(c.Actions)
	if err != nil {
		return contractRow{}, fmt.Errorf("encode actions: %w", err)
	}
	return contractRow{
		ID:          c.ID,
		Name:        c.Name,
		Conditions:  string(conds),
		Actions:     string(acts),
		State:       string(c.State),
		CreatedAt:   c.Timestamps.CreatedAt,
		UpdatedAt:   c.Timestamps.UpdatedAt,
		ExecutedAt:  c.Timestamps.ExecutedAt,
		ScheduledAt: c.Timestamps.ScheduledAt,
	}, nil
}

func (r contractRow) toModel() (model.Contract, error) {
	c := model.Contract{
		ID:    r.ID,
		Name:  r.Name,
		State: model.State(r.State),
		Timestamps: model.Timestamps{
			CreatedAt:   r.CreatedAt,
			UpdatedAt:   r.UpdatedAt,
			ExecutedAt:  r.ExecutedAt,
			ScheduledAt: r.ScheduledAt,
		},
	}
	if err := json.Unmarshal([]byte(r.Conditions), &c.Conditions); err != nil {
		return model.Contract{}, fmt.Errorf("decode conditions of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Actions), &c.Actions); err != nil {
		return model.Contract{}, fmt.Errorf("decode actions of %s: %w", r.ID, err)
	}
	return c, nil
}

// GormStore persists contracts through gorm (MySQL in production).
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore migrates the contracts table and returns the store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&contractRow{}); err != nil {
		return nil, fmt.Errorf("migrate contracts: %w", err)
	}
	return newGormStore(db), nil
}

func newGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) Create(ctx context.Context, c model.Contract) (model.Contract, error) {
	c, err := prepare(c, uuid.NewString(), s.now())
	if err != nil {
		return model.Contract{}, err
	}
	row, err := toRow(c)
	if err != nil {
		return model.Contract{}, err
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&contractRow{}).Where("id = ?", c.ID).Count(&n).Error; err != nil {
		return model.Contract{}, err
	}
	if n > 0 {
		return model.Contract{}, errs.Validation("invalid contract", "id "+c.ID+" already exists")
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.Contract{}, fmt.Errorf("insert contract: %w", err)
	}
	return c, nil
}

func (s *GormStore) FindByID(ctx context.Context, id string) (model.Contract, error) {
	var row contractRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Contract{}, errs.NotFound("contract", id)
	}
	if err != nil {
		return model.Contract{}, err
	}
	return row.toModel()
}

// Find pushes state and schedule filters to SQL; condition matching runs in memory.
func (s *GormStore) Find(ctx context.Context, f Filter) ([]model.Contract, error) {
	q := s.db.WithContext(ctx).Model(&contractRow{})
	if f.State != "" {
		q = q.Where("state = ?", string(f.State))
	}
	if f.ScheduledBefore != nil {
		q = q.Where("scheduled_at IS NOT NULL AND scheduled_at <= ?", *f.ScheduledBefore)
	}
	var rows []contractRow
	if err := q.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Contract, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		if f.Matches(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *GormStore) UpdateByID(ctx context.Context, id string, p Patch) (model.Contract, error) {
	var out model.Contract
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row contractRow
		err := tx.First(&row, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.NotFound("contract", id)
		}
		if err != nil {
			return err
		}
		c, err := row.toModel()
		if err != nil {
			return err
		}
		p.apply(&c, s.now())
		if row, err = toRow(c); err != nil {
			return err
		}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (s *GormStore) DeleteByID(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&contractRow{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errs.NotFound("contract", id)
	}
	return nil
}
