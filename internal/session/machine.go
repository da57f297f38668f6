package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/looplab/fsm"
)

// Per-survey session states.
const (
	StateNone   = "none"
	StateActive = "active"
)

const (
	eventCreate     = "create"
	eventExpire     = "expire"
	eventInvalidate = "invalidate"
	eventComplete   = "complete"
)

func newMachine() *fsm.FSM {
	return fsm.NewFSM(
		StateNone,
		fsm.Events{
			{Name: eventCreate, Src: []string{StateNone}, Dst: StateActive},
			{Name: eventExpire, Src: []string{StateActive}, Dst: StateNone},
			{Name: eventInvalidate, Src: []string{StateActive}, Dst: StateNone},
			{Name: eventComplete, Src: []string{StateActive}, Dst: StateNone},
		},
		fsm.Callbacks{},
	)
}

// machines holds one state machine per survey id.
type machines struct {
	mu  sync.Mutex
	m   map[int]*fsm.FSM
	log *slog.Logger
}

func newMachines(log *slog.Logger) *machines {
	return &machines{m: map[int]*fsm.FSM{}, log: log}
}

func (ms *machines) get(surveyID int) *fsm.FSM {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	f, ok := ms.m[surveyID]
	if !ok {
		f = newMachine()
		ms.m[surveyID] = f
	}
	return f
}

func (ms *machines) fire(surveyID int, event string) {
	f := ms.get(surveyID)
	if !f.Can(event) {
		return
	}
	if err := f.Event(context.Background(), event); err != nil {
		var noop fsm.NoTransitionError
		if !errors.As(err, &noop) {
			ms.log.Debug("session state transition failed", "survey_id", surveyID, "event", event, "error", err)
		}
	}
}

func (ms *machines) state(surveyID int) string {
	return ms.get(surveyID).Current()
}

// reset returns every survey to StateNone.
func (ms *machines) reset() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, f := range ms.m {
		f.SetState(StateNone)
	}
}
