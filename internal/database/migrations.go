package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/keepsake/backend/internal/gifts"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationNormalizeCategories = "2026-09-28_normalize_gift_categories"
	migrationBackfillSetupFlags  = "2026-09-28_backfill_setup_started"
	migrationBackfillCollections = "2026-10-02_backfill_empty_collections"
	migrationUniqueOrderIndex    = "2026-10-14_unique_order_index"

	orderIndexName = "idx_gift_records_order"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeCategories, apply: normalizeCategories},
		{name: migrationBackfillSetupFlags, apply: backfillSetupStarted},
		{name: migrationBackfillCollections, apply: backfillEmptyCollections},
		{name: migrationUniqueOrderIndex, apply: rebuildOrderIndex},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Imported rows carried mixed-case category values.
func normalizeCategories(db *gorm.DB) error {
	return db.Model(&gifts.Record{}).
		Where("project <> lower(trim(project)) OR product_type <> lower(trim(product_type))").
		Updates(map[string]any{
			"project":      gorm.Expr("lower(trim(project))"),
			"product_type": gorm.Expr("lower(trim(product_type))"),
		}).Error
}

// Records sealed before setup tracking existed are marked as set up.
func backfillSetupStarted(db *gorm.DB) error {
	return db.Model(&gifts.Record{}).
		Where("locked = ? AND setup_completed_at IS NOT NULL AND setup_started = ?", true, false).
		Update("setup_started", true).Error
}

func backfillEmptyCollections(db *gorm.DB) error {
	if err := db.Model(&gifts.Record{}).
		Where("messages IS NULL OR messages = 'null'").
		Update("messages", gorm.Expr("'[]'")).Error; err != nil {
		return err
	}
	return db.Model(&gifts.Record{}).
		Where("album_images IS NULL OR album_images = 'null'").
		Update("album_images", gorm.Expr("'[]'")).Error
}

// The order index predates idempotent intake and was not unique. AutoMigrate
// keeps an existing index by name, so it is rebuilt here.
func rebuildOrderIndex(db *gorm.DB) error {
	migrator := db.Migrator()
	if migrator.HasIndex(&gifts.Record{}, orderIndexName) {
		if err := migrator.DropIndex(&gifts.Record{}, orderIndexName); err != nil {
			return err
		}
	}
	return migrator.CreateIndex(&gifts.Record{}, orderIndexName)
}
