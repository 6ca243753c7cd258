package events

import (
	"sync"

	"go.uber.org/zap"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit       EventType = "block_commit"
	EventTxExecuted        EventType = "tx_executed"
	EventAssetTransfer     EventType = "asset_transfer"
	EventCollectibleMinted EventType = "collectible_minted"
	EventPoolInit          EventType = "pool_init"
	EventStake             EventType = "stake"
	EventUnstake           EventType = "unstake"
	EventClaim             EventType = "claim"
	EventListForSale       EventType = "list_for_sale"
	EventBuy               EventType = "buy"
)

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Sink accepts events. Both Emitter and Buffer implement it.
type Sink interface {
	Emit(ev Event)
}

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      *zap.Logger
}

// NewEmitter creates an Emitter with no subscribers. A nil logger discards
// handler panic reports.
func NewEmitter(log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{handlers: make(map[EventType][]Handler), log: log.Named("events")}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("handler panicked",
						zap.String("event", string(ev.Type)),
						zap.String("tx_id", ev.TxID),
						zap.Any("panic", r))
				}
			}()
			h(ev)
		}()
	}
}

// Buffer queues events raised while a transaction executes. The executor
// flushes it after the transaction commits and drops it on rollback, so
// subscribers never observe effects that were reverted.
type Buffer struct {
	events []Event
}

// Emit queues ev.
func (b *Buffer) Emit(ev Event) {
	b.events = append(b.events, ev)
}

// Events returns the queued events in emission order.
func (b *Buffer) Events() []Event {
	return b.events
}

// Flush delivers queued events to dst in order and empties the buffer.
// A nil dst just empties it.
func (b *Buffer) Flush(dst Sink) {
	if dst != nil {
		for _, ev := range b.events {
			dst.Emit(ev)
		}
	}
	b.events = nil
}
