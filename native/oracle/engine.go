package oracle

import (
	"errors"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"escrowauction/core/events"
	"escrowauction/core/types"
)

const (
	EventTypeHistoryAdded = "oracle.history_added"

	MessageHistoryFound   = "History for user found"
	MessageHistoryMissing = "No history for user found"
)

var (
	errNilState = errors.New("oracle engine: state not configured")

	ErrUnauthorized   = errors.New("oracle: only the oracle owner can add histories")
	ErrInvalidHistory = errors.New("oracle: invalid history")
)

type engineState interface {
	OracleHistoryGet(user [20]byte) (*History, bool, error)
	OracleHistoryPut(user [20]byte, h *History) error
}

type oracleEvent struct {
	evt *types.Event
}

func (e oracleEvent) EventType() string   { return e.evt.Type }
func (e oracleEvent) Event() *types.Event { return e.evt }

// Lookup is the answer to a history query.
type Lookup struct {
	History *History
	Found   bool
	Message string
}

// Engine stores and serves credit histories. Only the configured owner may
// write.
type Engine struct {
	state   engineState
	emitter events.Emitter
	owner   [20]byte
}

// NewEngine creates an oracle engine owned by owner.
func NewEngine(owner [20]byte) *Engine {
	return &Engine{emitter: events.NoopEmitter{}, owner: owner}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Owner returns the address allowed to add histories.
func (e *Engine) Owner() [20]byte { return e.owner }

// AddHistory stores (or replaces) the history of user.
func (e *Engine) AddHistory(caller, user [20]byte, history *History) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller != e.owner {
		return ErrUnauthorized
	}
	if err := history.Validate(); err != nil {
		return err
	}
	if err := e.state.OracleHistoryPut(user, history.Clone()); err != nil {
		return err
	}
	e.emitter.Emit(oracleEvent{evt: &types.Event{
		Type: EventTypeHistoryAdded,
		Attributes: map[string]string{
			"user":    common.Address(user).Hex(),
			"credits": strconv.Itoa(len(history.Credits)),
		},
	}})
	return nil
}

// GetHistory looks up the history of user.
func (e *Engine) GetHistory(user [20]byte) (*Lookup, error) {
	history, found, err := e.History(user)
	if err != nil {
		return nil, err
	}
	if !found {
		return &Lookup{Message: MessageHistoryMissing}, nil
	}
	return &Lookup{History: history, Found: true, Message: MessageHistoryFound}, nil
}

// History returns a copy of the stored history of user.
func (e *Engine) History(user [20]byte) (*History, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	history, found, err := e.state.OracleHistoryGet(user)
	if err != nil || !found {
		return nil, false, err
	}
	return history.Clone(), true, nil
}
