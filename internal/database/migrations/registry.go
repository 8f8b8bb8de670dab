package migrations

import (
	"gorm.io/gorm"

	"github.com/jmylchreest/lidarcap/internal/models"
)

// AllMigrations returns all registered migrations in order.
//   - 001: recordings and recording_streams tables
//   - 002: unique (recording_id, stream_id) index on recording_streams
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002StreamIndex(),
	}
}

func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create recording catalog tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Recording{},
				&models.RecordingStream{},
			)
		},
		Down: func(tx *gorm.DB) error {
			for _, table := range []string{"recording_streams", "recordings"} {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

const streamIndexName = "idx_recording_streams_recording_stream"

func migration002StreamIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Add unique recording stream index",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex("recording_streams", streamIndexName) {
				return nil
			}
			return tx.Exec("CREATE UNIQUE INDEX " + streamIndexName +
				" ON recording_streams (recording_id, stream_id)").Error
		},
		Down: func(tx *gorm.DB) error {
			if !tx.Migrator().HasIndex("recording_streams", streamIndexName) {
				return nil
			}
			return tx.Migrator().DropIndex("recording_streams", streamIndexName)
		},
	}
}
