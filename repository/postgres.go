package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rushteam/animerec/core"
	"github.com/rushteam/animerec/feature"
)

type catalogItemModel struct {
	ID            int64   `gorm:"primaryKey"`
	Title         string  `gorm:"not null"`
	Popularity    float64 `gorm:"not null;default:0;index"`
	RatingAvg     float64 `gorm:"not null;default:0"`
	RatingCount   int     `gorm:"not null;default:0"`
	FavoriteCount int     `gorm:"not null;default:0"`
	ViewCount     int     `gorm:"not null;default:0"`
	Completed     bool    `gorm:"not null;default:false"`
	Featured      bool    `gorm:"not null;default:false"`
	TypeID        int64   `gorm:"not null;default:0;index"`
}

func (catalogItemModel) TableName() string { return "catalog_items" }

type ratingModel struct {
	UserID    int64     `gorm:"primaryKey"`
	ItemID    int64     `gorm:"primaryKey;index"`
	Rating    float64   `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ratingModel) TableName() string { return "user_ratings" }

type preferenceModel struct {
	UserID int64   `gorm:"primaryKey"`
	ItemID int64   `gorm:"primaryKey"`
	Value  float64 `gorm:"not null"`
}

func (preferenceModel) TableName() string { return "user_preferences" }

type browseModel struct {
	UserID int64 `gorm:"primaryKey"`
	ItemID int64 `gorm:"primaryKey"`
	Count  int   `gorm:"not null;default:0"`
}

func (browseModel) TableName() string { return "user_browsing" }

type favoriteModel struct {
	UserID int64 `gorm:"primaryKey"`
	ItemID int64 `gorm:"primaryKey"`
}

func (favoriteModel) TableName() string { return "user_favorites" }

// Connect 打开 Postgres 连接并 ping。
func Connect(ctx context.Context, dsn string, maxConns int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}
	if maxConns > 0 {
		sqlDB.SetMaxOpenConns(maxConns)
		sqlDB.SetMaxIdleConns(maxConns / 2)
	}
	sqlDB.SetConnMaxIdleTime(15 * time.Minute)
	sqlDB.SetConnMaxLifetime(time.Hour)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Postgres 是基于 gorm 的 core.Repository 实现。
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate 创建/更新表结构。
func (p *Postgres) Migrate(ctx context.Context) error {
	return p.db.WithContext(ctx).AutoMigrate(
		&catalogItemModel{}, &ratingModel{}, &preferenceModel{}, &browseModel{}, &favoriteModel{},
	)
}

func (p *Postgres) GetItem(ctx context.Context, id int64) (core.CatalogItem, error) {
	var rec catalogItemModel
	if err := p.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.CatalogItem{}, core.ErrItemNotFound
		}
		return core.CatalogItem{}, err
	}
	return toCatalogItem(rec), nil
}

func (p *Postgres) ListItems(ctx context.Context, filter core.ItemFilter) ([]core.CatalogItem, error) {
	var recs []catalogItemModel
	if err := p.db.WithContext(ctx).Order("id ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]core.CatalogItem, 0, len(recs))
	for _, rec := range recs {
		it := toCatalogItem(rec)
		if filter != nil && !filter(it) {
			continue
		}
		out = append(out, it)
	}
	return out, nil
}

func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int64
	if err := p.db.WithContext(ctx).Model(&catalogItemModel{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

func (p *Postgres) ListInteractions(ctx context.Context, userID *int64) ([]core.Interaction, error) {
	q := p.db.WithContext(ctx).Order("user_id ASC, item_id ASC")
	if userID != nil {
		q = q.Where("user_id = ?", *userID)
	}
	var recs []ratingModel
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]core.Interaction, len(recs))
	for i, rec := range recs {
		out[i] = core.Interaction{UserID: rec.UserID, ItemID: rec.ItemID, Rating: rec.Rating, Timestamp: rec.UpdatedAt}
	}
	return out, nil
}

// UpsertInteraction 在一个事务里写入评分并重算条目聚合、偏好值和热度。
func (p *Postgres) UpsertInteraction(ctx context.Context, userID, itemID int64, rating float64) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item catalogItemModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", itemID).Take(&item).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("upsert interaction item %d: %w", itemID, core.ErrItemNotFound)
			}
			return err
		}

		rec := ratingModel{UserID: userID, ItemID: itemID, Rating: rating, UpdatedAt: time.Now().UTC()}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"rating", "updated_at"}),
		}).Create(&rec).Error; err != nil {
			return err
		}

		var agg struct {
			Avg   float64
			Count int
		}
		if err := tx.Model(&ratingModel{}).
			Select("COALESCE(AVG(rating), 0) AS avg, COUNT(*) AS count").
			Where("item_id = ?", itemID).
			Scan(&agg).Error; err != nil {
			return err
		}

		var maxes struct {
			RatingCount   int
			ViewCount     int
			FavoriteCount int
		}
		if err := tx.Model(&catalogItemModel{}).
			Select("MAX(rating_count) AS rating_count, MAX(view_count) AS view_count, MAX(favorite_count) AS favorite_count").
			Scan(&maxes).Error; err != nil {
			return err
		}
		m := feature.CatalogMax{
			RatingCount:   max(1, maxes.RatingCount, agg.Count),
			ViewCount:     max(1, maxes.ViewCount),
			FavoriteCount: max(1, maxes.FavoriteCount),
		}

		updated := toCatalogItem(item)
		updated.RatingAvg = agg.Avg
		updated.RatingCount = agg.Count
		updated.Popularity = feature.PopularityIndex(updated, m)
		if err := tx.Model(&catalogItemModel{}).Where("id = ?", itemID).Updates(map[string]any{
			"rating_avg":   updated.RatingAvg,
			"rating_count": updated.RatingCount,
			"popularity":   updated.Popularity,
		}).Error; err != nil {
			return err
		}

		var favCount int64
		if err := tx.Model(&favoriteModel{}).Where("user_id = ? AND item_id = ?", userID, itemID).Count(&favCount).Error; err != nil {
			return err
		}
		var browse browseModel
		if err := tx.Where("user_id = ? AND item_id = ?", userID, itemID).Take(&browse).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		pref := preferenceModel{UserID: userID, ItemID: itemID, Value: feature.PreferenceValue(rating, favCount > 0, browse.Count)}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&pref).Error
	})
}

func (p *Postgres) ListPreferences(ctx context.Context, userID int64) ([]core.Preference, error) {
	var recs []preferenceModel
	if err := p.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("value DESC, item_id ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]core.Preference, len(recs))
	for i, rec := range recs {
		out[i] = core.Preference{UserID: rec.UserID, ItemID: rec.ItemID, Value: rec.Value}
	}
	return out, nil
}

func (p *Postgres) ListBrowsing(ctx context.Context, userID int64) ([]core.Browse, error) {
	var recs []browseModel
	if err := p.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("count DESC, item_id ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]core.Browse, len(recs))
	for i, rec := range recs {
		out[i] = core.Browse{UserID: rec.UserID, ItemID: rec.ItemID, Count: rec.Count}
	}
	return out, nil
}

func toCatalogItem(rec catalogItemModel) core.CatalogItem {
	return core.CatalogItem{
		ID:            rec.ID,
		Title:         rec.Title,
		Popularity:    rec.Popularity,
		RatingAvg:     rec.RatingAvg,
		RatingCount:   rec.RatingCount,
		FavoriteCount: rec.FavoriteCount,
		ViewCount:     rec.ViewCount,
		Completed:     rec.Completed,
		Featured:      rec.Featured,
		TypeID:        rec.TypeID,
	}
}

var _ core.Repository = (*Postgres)(nil)
