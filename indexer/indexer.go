// Package indexer maintains secondary indexes over committed transactions so
// clients can look up collectibles by holder and stakes by depositor without
// scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/storage"
)

const (
	prefixHolderCollectibles = "idx:holder:coll:"
	prefixDepositorStakes    = "idx:depositor:stake:"
)

// StakeRef locates a stake inside a pool.
type StakeRef struct {
	PoolID  string `json:"pool_id"`
	StakeID uint64 `json:"stake_id"`
}

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db  storage.DB
	log *zap.Logger
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter, log *zap.Logger) *Indexer {
	if log == nil {
		log = zap.NewNop()
	}
	idx := &Indexer{db: db, log: log.Named("indexer")}
	emitter.Subscribe(events.EventCollectibleMinted, idx.onCollectibleMinted)
	emitter.Subscribe(events.EventAssetTransfer, idx.onAssetTransfer)
	emitter.Subscribe(events.EventStake, idx.onStake)
	emitter.Subscribe(events.EventUnstake, idx.onUnstake)
	return idx
}

// CollectiblesByHolder returns the IDs of the collectibles held by holder.
// A pool vault address lists everything escrowed in that pool.
func (idx *Indexer) CollectiblesByHolder(holder string) ([]string, error) {
	return getList[string](idx.db, prefixHolderCollectibles+holder)
}

// StakesByDepositor returns the outstanding stakes of depositor.
func (idx *Indexer) StakesByDepositor(depositor string) ([]StakeRef, error) {
	return getList[StakeRef](idx.db, prefixDepositorStakes+depositor)
}

// ---- event handlers ----

func (idx *Indexer) onCollectibleMinted(ev events.Event) {
	owner, _ := ev.Data["owner"].(string)
	id, _ := ev.Data["collectible"].(string)
	if owner == "" || id == "" {
		return
	}
	idx.check(ev, addToList(idx.db, prefixHolderCollectibles+owner, id))
}

func (idx *Indexer) onAssetTransfer(ev events.Event) {
	if isColl, _ := ev.Data["collectible"].(bool); !isColl {
		return
	}
	from, _ := ev.Data["from"].(string)
	to, _ := ev.Data["to"].(string)
	id, _ := ev.Data["asset"].(string)
	if id == "" || from == "" || to == "" {
		return
	}
	if err := removeFromList(idx.db, prefixHolderCollectibles+from, id); err != nil {
		idx.check(ev, err)
		return
	}
	idx.check(ev, addToList(idx.db, prefixHolderCollectibles+to, id))
}

func (idx *Indexer) onStake(ev events.Event) {
	ref, depositor, ok := stakeRef(ev)
	if !ok {
		return
	}
	idx.check(ev, addToList(idx.db, prefixDepositorStakes+depositor, ref))
}

func (idx *Indexer) onUnstake(ev events.Event) {
	ref, depositor, ok := stakeRef(ev)
	if !ok {
		return
	}
	idx.check(ev, removeFromList(idx.db, prefixDepositorStakes+depositor, ref))
}

func (idx *Indexer) check(ev events.Event, err error) {
	if err != nil {
		idx.log.Warn("index update failed",
			zap.String("event", string(ev.Type)),
			zap.String("tx_id", ev.TxID),
			zap.Error(err))
	}
}

func stakeRef(ev events.Event) (StakeRef, string, bool) {
	pool, _ := ev.Data["pool_id"].(string)
	depositor, _ := ev.Data["depositor"].(string)
	id, ok := ev.Data["stake_id"].(uint64)
	if pool == "" || depositor == "" || !ok {
		return StakeRef{}, "", false
	}
	return StakeRef{PoolID: pool, StakeID: id}, depositor, true
}

// ---- list helpers ----

func getList[T any](db storage.DB, key string) ([]T, error) {
	data, err := db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return items, nil
}

func putList[T any](db storage.DB, key string, items []T) error {
	if len(items) == 0 {
		return db.Delete([]byte(key))
	}
	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return db.Set([]byte(key), data)
}

func addToList[T comparable](db storage.DB, key string, value T) error {
	items, err := getList[T](db, key)
	if err != nil {
		return err
	}
	if slices.Contains(items, value) {
		return nil
	}
	return putList(db, key, append(items, value))
}

func removeFromList[T comparable](db storage.DB, key string, value T) error {
	items, err := getList[T](db, key)
	if err != nil {
		return err
	}
	return putList(db, key, slices.DeleteFunc(items, func(v T) bool { return v == value }))
}
