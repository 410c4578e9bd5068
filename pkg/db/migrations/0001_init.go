package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

// RunLog is one persisted automation run. Outputs and flags are the ordered
// caller-supplied entry sequences; context carries host and path details
// captured at acquisition.
type RunLog struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey"`
	AutomationID int64             `gorm:"type:bigint;not null;index"`
	StartedAt    time.Time         `gorm:"type:timestamptz;not null"`
	EndedAt      time.Time         `gorm:"type:timestamptz;not null"`
	DurationMS   int64             `gorm:"type:bigint;not null"`
	Origin       string            `gorm:"type:text;not null"`
	Context      datatypes.JSONMap `gorm:"type:jsonb"`
	Status       string            `gorm:"type:text;not null;index"`
	Outputs      datatypes.JSON    `gorm:"type:jsonb"`
	Flags        datatypes.JSON    `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (RunLog) TableName() string { return "automations.run_log" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS automations`); err != nil {
		return err
	}

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(&RunLog{})
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(&RunLog{})
}
