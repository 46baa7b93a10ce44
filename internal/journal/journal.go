package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/stairway/flight"
	"github.com/yungbote/stairway/pkg/logger"
)

// Journal is the persistence DAO for the shared relational store. Every
// write runs in its own serializable transaction wrapped by the transient
// retry loop; no transaction stays open across step boundaries.
type Journal struct {
	db             *gorm.DB
	log            *logger.Logger
	objectCodec    flight.ObjectCodec
	exceptionCodec flight.ExceptionCodec
}

func New(db *gorm.DB, baseLog *logger.Logger, objectCodec flight.ObjectCodec, exceptionCodec flight.ExceptionCodec) *Journal {
	if objectCodec == nil {
		objectCodec = flight.JSONCodec{}
	}
	if exceptionCodec == nil {
		exceptionCodec = flight.JSONExceptionCodec{}
	}
	return &Journal{
		db:             db,
		log:            baseLog.With("component", "Journal"),
		objectCodec:    objectCodec,
		exceptionCodec: exceptionCodec,
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (j *Journal) encodeException(err error) (*string, error) {
	if err == nil {
		return nil, nil
	}
	s, encErr := j.exceptionCodec.Encode(err)
	if encErr != nil {
		return nil, encErr
	}
	return strPtr(s), nil
}

func (j *Journal) decodeException(s *string) error {
	if s == nil || *s == "" {
		return nil
	}
	decoded, err := j.exceptionCodec.Decode(*s)
	if err != nil {
		j.log.Warn("undecodable serialized exception", "error", err)
		return &flight.RecoveredError{Message: *s}
	}
	return decoded
}

func encodeDebugInfo(d *flight.DebugInfo) (datatypes.JSON, error) {
	if d.Empty() {
		return nil, nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode debug info: %w", err)
	}
	return datatypes.JSON(raw), nil
}

func decodeDebugInfo(raw datatypes.JSON) (*flight.DebugInfo, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var d flight.DebugInfo
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("decode debug info: %w", err)
	}
	return &d, nil
}

// Create inserts the flight row and its input rows. A flight id already
// present in the store fails with flight.ErrDuplicateFlightID.
func (j *Journal) Create(ctx context.Context, fc *flight.Context) error {
	debugJSON, err := encodeDebugInfo(fc.Debug)
	if err != nil {
		return err
	}
	row := FlightRow{
		FlightID:   fc.FlightID,
		SubmitTime: time.Now().UTC(),
		ClassName:  fc.ClassName,
		Status:     string(fc.Status),
		OwnerID:    strPtr(fc.OwnerID),
		DebugInfo:  debugJSON,
	}
	inputs := make([]FlightInputRow, 0, fc.Input.Len())
	for k, v := range fc.Input.Snapshot() {
		inputs = append(inputs, FlightInputRow{FlightID: fc.FlightID, Key: k, Value: v})
	}

	err = runTransaction(ctx, j.log, j.db, serializableTx, func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if len(inputs) > 0 {
			if err := tx.Create(&inputs).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if duplicateKeyError(err) {
			return fmt.Errorf("%w: %s", flight.ErrDuplicateFlightID, fc.FlightID)
		}
		return err
	}
	return nil
}

// Step appends a log entry and a snapshot of the working map under a fresh
// log id.
func (j *Journal) Step(ctx context.Context, fc *flight.Context) error {
	exc, err := j.encodeException(fc.Result.Err)
	if err != nil {
		return err
	}
	logRow := FlightLogRow{
		ID:                  uuid.New(),
		FlightID:            fc.FlightID,
		LogTime:             time.Now().UTC(),
		StepIndex:           fc.StepIndex,
		Rerun:               fc.Rerun,
		Direction:           string(fc.Direction),
		Succeeded:           fc.Result.Success(),
		SerializedException: exc,
		Status:              string(fc.Result.Status),
	}
	snapshot := fc.Working.Snapshot()
	working := make([]FlightWorkingRow, 0, len(snapshot))
	for k, v := range snapshot {
		working = append(working, FlightWorkingRow{LogID: logRow.ID, Key: k, Value: v})
	}

	return runTransaction(ctx, j.log, j.db, serializableTx, func(tx *gorm.DB) error {
		if err := tx.Create(&logRow).Error; err != nil {
			return err
		}
		if len(working) > 0 {
			if err := tx.Create(&working).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Exit records the disposition of a runner leaving a flight, dispatching on
// the context status. RUNNING is not a legal exit state.
func (j *Journal) Exit(ctx context.Context, fc *flight.Context) error {
	switch {
	case fc.Status.Terminal():
		return j.complete(ctx, fc)
	case fc.Status == flight.StatusReady,
		fc.Status == flight.StatusWaiting,
		fc.Status == flight.StatusReadyToRestart:
		return j.disown(ctx, fc)
	case fc.Status == flight.StatusQueued:
		return j.SetQueued(ctx, fc.FlightID)
	default:
		return fmt.Errorf("%w: cannot exit flight %s in status %s",
			flight.ErrInvalidTransition, fc.FlightID, fc.Status)
	}
}

// complete records the terminal status, exception and completion time and
// clears the owner. Guarded on RUNNING so replays are idempotent.
func (j *Journal) complete(ctx context.Context, fc *flight.Context) error {
	exc, err := j.encodeException(fc.Result.Err)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	return runTransaction(ctx, j.log, j.db, serializableTx, func(tx *gorm.DB) error {
		return tx.Model(&FlightRow{}).
			Where("flight_id = ? AND status = ?", fc.FlightID, string(flight.StatusRunning)).
			Updates(map[string]any{
				"status":               string(fc.Status),
				"owner_id":             nil,
				"completed_time":       now,
				"serialized_exception": exc,
			}).Error
	})
}

// disown releases ownership, parking the flight in a resumable status.
func (j *Journal) disown(ctx context.Context, fc *flight.Context) error {
	return runTransaction(ctx, j.log, j.db, serializableTx, func(tx *gorm.DB) error {
		return tx.Model(&FlightRow{}).
			Where("flight_id = ? AND status = ?", fc.FlightID, string(flight.StatusRunning)).
			Updates(map[string]any{
				"status":   string(fc.Status),
				"owner_id": nil,
			}).Error
	})
}

// SetQueued marks a flight QUEUED. The transition is only legal from an
// unowned READY row; anything else is left untouched, which makes duplicate
// enqueues harmless.
func (j *Journal) SetQueued(ctx context.Context, flightID string) error {
	return runTransaction(ctx, j.log, j.db, serializableTx, func(tx *gorm.DB) error {
		return tx.Model(&FlightRow{}).
			Where("flight_id = ? AND status = ? AND owner_id IS NULL",
				flightID, string(flight.StatusReady)).
			Update("status", string(flight.StatusQueued)).Error
	})
}

// Resume atomically claims an unowned resumable flight for instanceID and
// rebuilds its in-memory context. The bool reports whether this instance won
// the claim; two racing instances see exactly one winner.
func (j *Journal) Resume(ctx context.Context, instanceID, flightID string) (*flight.Context, bool, error) {
	var fc *flight.Context
	found := false
	err := runTransaction(ctx, j.log, j.db, serializableTx, func(tx *gorm.DB) error {
		fc = nil
		found = false
		var row FlightRow
		err := tx.
			Where("flight_id = ? AND owner_id IS NULL AND status IN ?", flightID, resumableStatuses()).
			Limit(1).
			Find(&row).Error
		if err != nil {
			return err
		}
		if row.FlightID == "" {
			return nil
		}
		res := tx.Model(&FlightRow{}).
			Where("flight_id = ? AND owner_id IS NULL AND status IN ?", flightID, resumableStatuses()).
			Updates(map[string]any{
				"status":   string(flight.StatusRunning),
				"owner_id": instanceID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		rebuilt, err := j.reconstruct(tx, &row)
		if err != nil {
			return err
		}
		rebuilt.OwnerID = instanceID
		rebuilt.Status = flight.StatusRunning
		fc = rebuilt
		found = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return fc, found, nil
}

func resumableStatuses() []string {
	return []string{
		string(flight.StatusWaiting),
		string(flight.StatusReady),
		string(flight.StatusQueued),
		string(flight.StatusReadyToRestart),
	}
}

// reconstruct rebuilds a context from the flight row, its input and
// persisted rows, and the log entry with the maximum log time. With no log
// entry the flight restarts from the top.
func (j *Journal) reconstruct(tx *gorm.DB, row *FlightRow) (*flight.Context, error) {
	var inputRows []FlightInputRow
	if err := tx.Where("flight_id = ?", row.FlightID).Find(&inputRows).Error; err != nil {
		return nil, err
	}
	inputRaw := make(map[string]string, len(inputRows))
	for _, r := range inputRows {
		inputRaw[r.Key] = r.Value
	}
	input := flight.RestoreFlightMap(inputRaw, j.objectCodec)
	input.Seal()

	var persistedRows []FlightPersistedRow
	if err := tx.Where("flight_id = ?", row.FlightID).Find(&persistedRows).Error; err != nil {
		return nil, err
	}
	persistedRaw := make(map[string]string, len(persistedRows))
	for _, r := range persistedRows {
		persistedRaw[r.Key] = r.Value
	}

	debug, err := decodeDebugInfo(row.DebugInfo)
	if err != nil {
		return nil, err
	}

	fc := &flight.Context{
		FlightID:  row.FlightID,
		ClassName: row.ClassName,
		Input:     input,
		Working:   flight.NewFlightMapWithCodec(j.objectCodec),
		Persisted: flight.RestoreFlightMap(persistedRaw, j.objectCodec),
		StepIndex: 0,
		Direction: flight.DirectionStart,
		Rerun:     false,
		Result:    flight.ResultSuccess(),
		Debug:     debug,
	}

	var logRow FlightLogRow
	err = tx.Where("flight_id = ?", row.FlightID).
		Order("log_time DESC").
		Limit(1).
		Find(&logRow).Error
	if err != nil {
		return nil, err
	}
	if logRow.ID == uuid.Nil {
		return fc, nil
	}

	var workingRows []FlightWorkingRow
	if err := tx.Where("log_id = ?", logRow.ID).Find(&workingRows).Error; err != nil {
		return nil, err
	}
	workingRaw := make(map[string]string, len(workingRows))
	for _, r := range workingRows {
		workingRaw[r.Key] = r.Value
	}

	fc.StepIndex = logRow.StepIndex
	fc.Direction = flight.Direction(logRow.Direction)
	fc.Rerun = logRow.Rerun
	fc.Result = flight.StepResult{
		Status: flight.StepStatus(logRow.Status),
		Err:    j.decodeException(logRow.SerializedException),
	}
	fc.Working = flight.RestoreFlightMap(workingRaw, j.objectCodec)
	return fc, nil
}

// DisownRecovery converts every RUNNING flight owned by oldInstanceID to an
// unowned READY and removes the registry row, all in one transaction.
// Returns the number of flights released.
func (j *Journal) DisownRecovery(ctx context.Context, oldInstanceID string) (int64, error) {
	var released int64
	err := runTransaction(ctx, j.log, j.db, serializableTx, func(tx *gorm.DB) error {
		res := tx.Model(&FlightRow{}).
			Where("owner_id = ? AND status = ?", oldInstanceID, string(flight.StatusRunning)).
			Updates(map[string]any{
				"status":   string(flight.StatusReady),
				"owner_id": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		released = res.RowsAffected
		return tx.Where("instance_id = ?", oldInstanceID).Delete(&InstanceRow{}).Error
	})
	if err != nil {
		return 0, err
	}
	return released, nil
}

// GetReadyFlights returns the ids of every unowned READY or READY_TO_RESTART
// flight. Runs serializable to interlock with concurrent state writers.
func (j *Journal) GetReadyFlights(ctx context.Context) ([]string, error) {
	var ids []string
	err := runTransaction(ctx, j.log, j.db, serializableTx, func(tx *gorm.DB) error {
		ids = nil
		return tx.Model(&FlightRow{}).
			Where("owner_id IS NULL AND status IN ?", []string{
				string(flight.StatusReady),
				string(flight.StatusReadyToRestart),
			}).
			Order("submit_time ASC").
			Pluck("flight_id", &ids).Error
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// StorePersistedState upserts each entry of the persisted-state map by key.
func (j *Journal) StorePersistedState(ctx context.Context, flightID string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	rows := make([]FlightPersistedRow, 0, len(values))
	for k, v := range values {
		rows = append(rows, FlightPersistedRow{FlightID: flightID, Key: k, Value: v})
	}
	return runTransaction(ctx, j.log, j.db, serializableTx, func(tx *gorm.DB) error {
		for i := range rows {
			res := tx.Model(&FlightPersistedRow{}).
				Where("flight_id = ? AND key = ?", rows[i].FlightID, rows[i].Key).
				Update("value", rows[i].Value)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				if err := tx.Create(&rows[i]).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Delete removes a flight and everything journaled for it. Absent ids are a
// no-op.
func (j *Journal) Delete(ctx context.Context, flightID string) error {
	return runTransaction(ctx, j.log, j.db, serializableTx, func(tx *gorm.DB) error {
		return deleteFlightCascade(tx, []string{flightID})
	})
}

// DeleteCompleted removes every terminal flight completed before olderThan.
// Returns the number of flights removed.
func (j *Journal) DeleteCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	var count int
	err := runTransaction(ctx, j.log, j.db, serializableTx, func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&FlightRow{}).
			Where("status IN ? AND completed_time < ?", []string{
				string(flight.StatusSuccess),
				string(flight.StatusError),
				string(flight.StatusFatal),
			}, olderThan.UTC()).
			Pluck("flight_id", &ids).Error
		if err != nil {
			return err
		}
		count = len(ids)
		if count == 0 {
			return nil
		}
		return deleteFlightCascade(tx, ids)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func deleteFlightCascade(tx *gorm.DB, flightIDs []string) error {
	if err := tx.Where("log_id IN (?)",
		tx.Model(&FlightLogRow{}).Select("id").Where("flight_id IN ?", flightIDs),
	).Delete(&FlightWorkingRow{}).Error; err != nil {
		return err
	}
	if err := tx.Where("flight_id IN ?", flightIDs).Delete(&FlightLogRow{}).Error; err != nil {
		return err
	}
	if err := tx.Where("flight_id IN ?", flightIDs).Delete(&FlightInputRow{}).Error; err != nil {
		return err
	}
	if err := tx.Where("flight_id IN ?", flightIDs).Delete(&FlightPersistedRow{}).Error; err != nil {
		return err
	}
	return tx.Where("flight_id IN ?", flightIDs).Delete(&FlightRow{}).Error
}

// GetFlightState reads the public state of one flight.
func (j *Journal) GetFlightState(ctx context.Context, flightID string) (*flight.State, error) {
	var state *flight.State
	err := runTransaction(ctx, j.log, j.db, readCommittedTx, func(tx *gorm.DB) error {
		var row FlightRow
		if err := tx.Where("flight_id = ?", flightID).Limit(1).Find(&row).Error; err != nil {
			return err
		}
		if row.FlightID == "" {
			return fmt.Errorf("%w: %s", flight.ErrFlightNotFound, flightID)
		}
		s, err := j.stateFromRow(tx, &row)
		if err != nil {
			return err
		}
		state = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (j *Journal) stateFromRow(tx *gorm.DB, row *FlightRow) (*flight.State, error) {
	var inputRows []FlightInputRow
	if err := tx.Where("flight_id = ?", row.FlightID).Find(&inputRows).Error; err != nil {
		return nil, err
	}
	inputRaw := make(map[string]string, len(inputRows))
	for _, r := range inputRows {
		inputRaw[r.Key] = r.Value
	}
	input := flight.RestoreFlightMap(inputRaw, j.objectCodec)
	input.Seal()

	var persistedRows []FlightPersistedRow
	if err := tx.Where("flight_id = ?", row.FlightID).Find(&persistedRows).Error; err != nil {
		return nil, err
	}
	progress := make(map[string]string, len(persistedRows))
	for _, r := range persistedRows {
		progress[r.Key] = r.Value
	}

	owner := ""
	if row.OwnerID != nil {
		owner = *row.OwnerID
	}
	return &flight.State{
		FlightID:      row.FlightID,
		ClassName:     row.ClassName,
		Status:        flight.Status(row.Status),
		OwnerID:       owner,
		SubmitTime:    row.SubmitTime,
		CompletedTime: row.CompletedTime,
		Input:         input,
		Progress:      progress,
		Exception:     j.decodeException(row.SerializedException),
	}, nil
}
