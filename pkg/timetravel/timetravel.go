// Package timetravel implements the reverse-debugger snapshot ring used by
// the driver's --interactive mode: a checkpoint of the whole Emulator every
// stateInterval instructions, evicted oldest-first once the ring fills, so
// stepping backward replays from the nearest checkpoint instead of keeping
// every instruction's history.
//
// Grounded on the original implementation's TimeTravel type (its own
// history map keyed by checkpoint index, same interval/limit constants),
// built strictly on top of pkg/emulator's Clone value-copy contract rather
// than reaching into CPU/Mem/Sys state directly (spec §9: "keep the
// profiler [and every driver layer] orthogonal to correctness").
package timetravel

import (
	"github.com/sirupsen/logrus"

	"github.com/rv64emu/rv64emu/pkg/emulator"
)

const (
	// stateInterval is how many guest instructions separate two snapshots.
	stateInterval = 10000
	// stateLimit bounds how many snapshots are retained; the oldest is
	// evicted once a new one would exceed it.
	stateLimit = 250
)

// TimeTravel wraps an *emulator.Emulator with a snapshot history that lets
// the driver step forward or backward by an arbitrary instruction delta.
type TimeTravel struct {
	Current *emulator.Emulator

	history      map[uint64]*emulator.Emulator
	smallestKey  uint64
	log          *logrus.Entry
}

// New seeds the history with a checkpoint of the emulator's starting
// state.
func New(e *emulator.Emulator, log *logrus.Entry) *TimeTravel {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	tt := &TimeTravel{
		Current: e.Clone(),
		history: map[uint64]*emulator.Emulator{0: e.Clone()},
		log:     log,
	}
	return tt
}

// Step advances by amount instructions (amount > 0) or rewinds by |amount|
// (amount < 0), taking snapshots as it crosses each stateInterval boundary
// going forward. Returns (exitCode, true) if the guest exited along the
// way.
func (tt *TimeTravel) Step(amount int32) (int, bool) {
	if amount >= 0 {
		return tt.stepForward(amount)
	}
	return tt.stepBackward(amount)
}

func (tt *TimeTravel) stepForward(amount int32) (int, bool) {
	for i := int32(0); i < amount; i++ {
		if err := tt.Current.Step(); err != nil {
			if tt.Current.Exited() {
				return tt.Current.ExitCode(), true
			}
			tt.Current.Sys.Stderr = append(tt.Current.Sys.Stderr, []byte(err.Error())...)
			return 0, false
		}

		instCount := tt.Current.CPU.InstCount
		checkpoint := instCount / stateInterval
		if instCount%stateInterval == 0 && checkpoint >= uint64(len(tt.history)) {
			tt.history[checkpoint] = tt.Current.Clone()
			tt.log.WithField("checkpoint", checkpoint).Debug("time-travel snapshot taken")
			if len(tt.history) > stateLimit {
				delete(tt.history, tt.smallestKey)
				tt.smallestKey++
			}
		}
	}
	return 0, false
}

func (tt *TimeTravel) stepBackward(amount int32) (int, bool) {
	newCount := int64(tt.Current.CPU.InstCount) + int64(amount)
	if newCount < 0 {
		return 0, false
	}
	checkpoint := uint64(newCount) / stateInterval
	remainder := uint64(newCount) % stateInterval

	base, ok := tt.history[checkpoint]
	if !ok {
		base = tt.history[tt.smallestKey]
	}
	tt.Current = base.Clone()
	tt.log.WithField("checkpoint", checkpoint).Debug("time-travel rewind")

	for i := uint64(0); i < remainder; i++ {
		if err := tt.Current.Step(); err != nil {
			if tt.Current.Exited() {
				return tt.Current.ExitCode(), true
			}
			return 0, false
		}
	}
	return 0, false
}
