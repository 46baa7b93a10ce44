package journal

import (
	"context"

	"gorm.io/gorm"
)

// FindOrCreateInstance registers this engine instance in the shared store,
// tolerating a row left behind by a previous run under the same name. The
// instance id equals the name; the duplication is kept for schema
// compatibility.
func (j *Journal) FindOrCreateInstance(ctx context.Context, instanceName string) (string, error) {
	row := InstanceRow{InstanceID: instanceName, InstanceName: instanceName}
	err := runTransaction(ctx, j.log, j.db, serializableTx, func(tx *gorm.DB) error {
		var existing InstanceRow
		if err := tx.Where("instance_name = ?", instanceName).Limit(1).Find(&existing).Error; err != nil {
			return err
		}
		if existing.InstanceID != "" {
			row = existing
			return nil
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		if duplicateKeyError(err) {
			return instanceName, nil
		}
		return "", err
	}
	return row.InstanceID, nil
}

// ListInstances returns every registered instance id.
func (j *Journal) ListInstances(ctx context.Context) ([]string, error) {
	var ids []string
	err := runTransaction(ctx, j.log, j.db, readCommittedTx, func(tx *gorm.DB) error {
		ids = nil
		return tx.Model(&InstanceRow{}).Order("instance_id ASC").Pluck("instance_id", &ids).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
