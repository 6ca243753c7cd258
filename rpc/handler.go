package rpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/indexer"
	"github.com/tolelom/tolstake/metrics"
	"github.com/tolelom/tolstake/stakepool"
	"github.com/tolelom/tolstake/vm"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
	log     *zap.Logger
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, idx *indexer.Indexer, chainID string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, chainID: chainID, log: log.Named("rpc")}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	resp := h.dispatch(req)
	result := "ok"
	if resp.Error != nil {
		result = "failed"
	}
	method := req.Method
	if resp.Error != nil && resp.Error.Code == CodeMethodNotFound {
		method = "unknown"
	}
	metrics.RPCRequests.WithLabelValues(method, result).Inc()
	return resp
}

func (h *Handler) dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())

	case "getChainHead":
		return okResponse(req.ID, h.bc.Head())

	case "getBlock":
		return h.getBlock(req)

	case "getBalance":
		return h.getBalance(req)

	case "getCollectible":
		return h.getCollectible(req)

	case "getPool":
		return h.getPool(req)

	case "getStake":
		return h.getStake(req)

	case "getListing":
		return h.getListing(req)

	case "getRank":
		return h.getRank(req)

	case "getCollectiblesByHolder":
		return h.getCollectiblesByHolder(req)

	case "getStakesByDepositor":
		return h.getStakesByDepositor(req)

	case "sendTx":
		return h.sendTx(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return lookupError(req.ID, err)
	}
	if block == nil {
		return errResponse(req.ID, CodeNotFound, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
		Asset   string `json:"asset"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	if params.Asset == "" {
		params.Asset = core.NativeAsset
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	bal, err := h.state.GetBalance(params.Asset, params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{
		"address": params.Address,
		"asset":   params.Asset,
		"balance": bal,
		"nonce":   acc.Nonce,
	})
}

func (h *Handler) getCollectible(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	c, err := h.state.GetCollectible(params.ID)
	if err != nil {
		return lookupError(req.ID, err)
	}
	return okResponse(req.ID, c)
}

type poolParams struct {
	PoolID string `json:"pool_id"`
}

func (h *Handler) loadPool(req Request, params *poolParams) (*core.Pool, *Response) {
	if params.PoolID == "" {
		resp := errResponse(req.ID, CodeInvalidParams, "pool_id is required")
		return nil, &resp
	}
	pool, err := h.state.GetPool(params.PoolID)
	if err != nil {
		resp := lookupError(req.ID, err)
		return nil, &resp
	}
	return pool, nil
}

func (h *Handler) getPool(req Request) Response {
	var params poolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	pool, resp := h.loadPool(req, &params)
	if resp != nil {
		return *resp
	}
	return okResponse(req.ID, pool)
}

func (h *Handler) getStake(req Request) Response {
	var params struct {
		poolParams
		StakeID uint64 `json:"stake_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	pool, resp := h.loadPool(req, &params.poolParams)
	if resp != nil {
		return *resp
	}
	stake, err := stakepool.FindStake(pool, params.StakeID)
	if err != nil {
		return errResponse(req.ID, CodeNotFound, err.Error())
	}
	return okResponse(req.ID, stake)
}

func (h *Handler) getListing(req Request) Response {
	var params struct {
		poolParams
		ListingID uint64 `json:"listing_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	pool, resp := h.loadPool(req, &params.poolParams)
	if resp != nil {
		return *resp
	}
	if params.ListingID >= uint64(len(pool.Listings)) {
		return errResponse(req.ID, CodeNotFound, fmt.Sprintf("listing %d not found", params.ListingID))
	}
	return okResponse(req.ID, pool.Listings[params.ListingID])
}

func (h *Handler) getRank(req Request) Response {
	var params struct {
		poolParams
		Collectible string `json:"collectible"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	pool, resp := h.loadPool(req, &params.poolParams)
	if resp != nil {
		return *resp
	}
	rank, err := stakepool.RankOf(pool, params.Collectible)
	if err != nil {
		return errResponse(req.ID, CodeNotFound, err.Error())
	}
	return okResponse(req.ID, map[string]any{"collectible": params.Collectible, "rank": rank})
}

func (h *Handler) getCollectiblesByHolder(req Request) Response {
	var params struct {
		Holder string `json:"holder"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Holder == "" {
		return errResponse(req.ID, CodeInvalidParams, "holder is required")
	}
	ids, err := h.indexer.CollectiblesByHolder(params.Holder)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if ids == nil {
		ids = []string{}
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getStakesByDepositor(req Request) Response {
	var params struct {
		Depositor string `json:"depositor"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Depositor == "" {
		return errResponse(req.ID, CodeInvalidParams, "depositor is required")
	}
	refs, err := h.indexer.StakesByDepositor(params.Depositor)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if refs == nil {
		refs = []indexer.StakeRef{}
	}
	return okResponse(req.ID, refs)
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	if !vm.Registered(tx.Type) {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("unknown tx type %q", tx.Type))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	h.log.Debug("tx accepted", zap.String("tx_id", tx.ID), zap.String("type", string(tx.Type)))
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

func lookupError(id any, err error) Response {
	if errors.Is(err, core.ErrNotFound) {
		return errResponse(id, CodeNotFound, err.Error())
	}
	return errResponse(id, CodeInternalError, err.Error())
}
