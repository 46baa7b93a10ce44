package stairway

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/stairway/flight"
	"github.com/yungbote/stairway/pkg/logger"
	"github.com/yungbote/stairway/queue"
)

const (
	defaultMaxParallelFlights = 20
	defaultMaxQueuedFlights   = 2
	defaultRetentionInterval  = time.Hour
)

// Config carries everything an engine instance needs. DB is required;
// everything else has a working default. A nil Transport keeps all execution
// on this instance.
type Config struct {
	// DB is the shared relational store holding the flight journal. All
	// instances of a fleet must point at the same database.
	DB *gorm.DB

	// InstanceName identifies this instance in the shared store for
	// ownership and recovery. Defaults to "stairway-<uuid>", which makes
	// every restart a fresh instance; give a stable name only when the
	// caller manages obsolete-instance cleanup itself.
	InstanceName string

	// MaxParallelFlights bounds concurrently executing flights.
	MaxParallelFlights int
	// MaxQueuedFlights bounds flights parked locally waiting for a slot
	// before submissions spill to the transport. Zero means the default;
	// a negative value allows no local backlog, so any submission that
	// finds every worker busy deflects to the transport.
	MaxQueuedFlights int

	// Transport distributes READY flights across instances. Optional.
	Transport queue.Transport

	// ObjectCodec serializes parameter-map values; defaults to JSON.
	ObjectCodec flight.ObjectCodec
	// ExceptionCodec serializes terminal errors into the journal.
	ExceptionCodec flight.ExceptionCodec

	// Hooks receive engine callbacks; see flight.Hook.
	Hooks []flight.Hook

	// CompletedFlightRetention enables periodic deletion of terminal
	// flights older than the given age. Zero disables retention.
	CompletedFlightRetention time.Duration
	// RetentionCheckInterval is how often the retention sweep runs.
	RetentionCheckInterval time.Duration

	Logger *logger.Logger

	// AppContext is handed through to flight factories and step bodies.
	AppContext any
}

func (c *Config) withDefaults() (Config, error) {
	out := *c
	if out.DB == nil {
		return out, fmt.Errorf("stairway: Config.DB is required")
	}
	if out.InstanceName == "" {
		out.InstanceName = "stairway-" + uuid.NewString()
	}
	if out.MaxParallelFlights <= 0 {
		out.MaxParallelFlights = defaultMaxParallelFlights
	}
	if out.MaxQueuedFlights == 0 {
		out.MaxQueuedFlights = defaultMaxQueuedFlights
	}
	if out.MaxQueuedFlights < 0 {
		out.MaxQueuedFlights = 0
	}
	if out.ObjectCodec == nil {
		out.ObjectCodec = flight.JSONCodec{}
	}
	if out.ExceptionCodec == nil {
		out.ExceptionCodec = flight.JSONExceptionCodec{}
	}
	if out.RetentionCheckInterval <= 0 {
		out.RetentionCheckInterval = defaultRetentionInterval
	}
	if out.Logger == nil {
		out.Logger = logger.NewNop()
	}
	return out, nil
}
