package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StageItemStart  Stage = "ITEM_START"
	StageItemDone   Stage = "ITEM_DONE"
	StageSourceDone Stage = "SOURCE_DONE"
	StageEnrichDone Stage = "ENRICH_DONE"
)

// OutcomeOK marks a successful source or enrichment call. Failures carry the
// error kind instead (timeout, not_found, rate_limited, ...).
const OutcomeOK = "ok"

// Event captures a single milestone of a batch run.
type Event struct {
	// RunID identifies the batch run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Item is the dedupe key of the NSN being processed.
	Item string
	// Source names the connector for SOURCE_DONE events.
	Source string
	// Outcome is OutcomeOK or an error kind.
	Outcome string
	// Status is the terminal item status for ITEM_DONE.
	Status string
	// Suppliers counts suppliers found by a source or kept for an item.
	Suppliers int64
	// Dur captures latency for source calls, items, and whole runs.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageItemStart:
		if e.Item == "" {
			return errors.New("item start requires item")
		}
	case StageItemDone:
		if e.Item == "" {
			return errors.New("item done requires item")
		}
		if e.Status == "" {
			return errors.New("item done requires status")
		}
	case StageSourceDone:
		if e.Item == "" || e.Source == "" {
			return errors.New("source done requires item and source")
		}
		if e.Outcome == "" {
			return errors.New("source done requires outcome")
		}
	case StageEnrichDone:
		if e.Outcome == "" {
			return errors.New("enrich done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Suppliers < 0 {
		return errors.New("suppliers must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID accepts a textual run id. Non-UUID ids are mapped onto a
// name-based UUID so that every run can still be keyed in the repository.
func ParseRunID(runID string) [16]byte {
	if id, err := uuid.Parse(runID); err == nil {
		return UUIDToBytes(id)
	}
	return UUIDToBytes(uuid.NewSHA1(uuid.NameSpaceURL, []byte("nsn-run:"+runID)))
}
