package journal

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FlightRow is the authoritative record of a submitted flight.
type FlightRow struct {
	FlightID            string         `gorm:"column:flight_id;primaryKey"`
	SubmitTime          time.Time      `gorm:"column:submit_time;not null;index"`
	ClassName           string         `gorm:"column:class_name;not null"`
	Status              string         `gorm:"column:status;not null;index"`
	OwnerID             *string        `gorm:"column:owner_id;index"`
	CompletedTime       *time.Time     `gorm:"column:completed_time"`
	SerializedException *string        `gorm:"column:serialized_exception"`
	DebugInfo           datatypes.JSON `gorm:"column:debug_info;type:jsonb"`
}

func (FlightRow) TableName() string { return "flight" }

// FlightInputRow holds one input parameter, written once at creation.
type FlightInputRow struct {
	FlightID string `gorm:"column:flight_id;primaryKey"`
	Key      string `gorm:"column:key;primaryKey"`
	Value    string `gorm:"column:value;type:text"`
}

func (FlightInputRow) TableName() string { return "flight_input" }

// FlightLogRow is one step-attempt outcome the runner decided to persist.
type FlightLogRow struct {
	ID                  uuid.UUID `gorm:"type:uuid;column:id;primaryKey"`
	FlightID            string    `gorm:"column:flight_id;not null;index"`
	LogTime             time.Time `gorm:"column:log_time;not null;index"`
	StepIndex           int       `gorm:"column:step_index;not null"`
	Rerun               bool      `gorm:"column:rerun;not null"`
	Direction           string    `gorm:"column:direction;not null"`
	Succeeded           bool      `gorm:"column:succeeded;not null"`
	SerializedException *string   `gorm:"column:serialized_exception"`
	Status              string    `gorm:"column:status;not null"`
}

func (FlightLogRow) TableName() string { return "flight_log" }

// FlightWorkingRow snapshots one working-map entry at log time.
type FlightWorkingRow struct {
	LogID uuid.UUID `gorm:"type:uuid;column:log_id;primaryKey"`
	Key   string    `gorm:"column:key;primaryKey"`
	Value string    `gorm:"column:value;type:text"`
}

func (FlightWorkingRow) TableName() string { return "flight_working" }

// FlightPersistedRow holds one persisted-state entry, upserted independently
// of the step log.
type FlightPersistedRow struct {
	FlightID string `gorm:"column:flight_id;primaryKey"`
	Key      string `gorm:"column:key;primaryKey"`
	Value    string `gorm:"column:value;type:text"`
}

func (FlightPersistedRow) TableName() string { return "flight_persisted" }

// InstanceRow registers an engine instance. The id equals the name; the
// duplication is kept for schema compatibility.
type InstanceRow struct {
	InstanceID   string `gorm:"column:instance_id;primaryKey"`
	InstanceName string `gorm:"column:instance_name;uniqueIndex;not null"`
}

func (InstanceRow) TableName() string { return "stairway_instance" }

func allModels() []any {
	return []any{
		&FlightRow{},
		&FlightInputRow{},
		&FlightLogRow{},
		&FlightWorkingRow{},
		&FlightPersistedRow{},
		&InstanceRow{},
	}
}

// Migrate applies the engine-owned schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(allModels()...)
}

// DropAll removes every engine-owned table. Used by force-clean
// initialization only.
func DropAll(db *gorm.DB) error {
	return db.Migrator().DropTable(allModels()...)
}
