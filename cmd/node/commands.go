package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tolelom/tolstake/config"
	"github.com/tolelom/tolstake/consensus"
	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/indexer"
	"github.com/tolelom/tolstake/logger"
	"github.com/tolelom/tolstake/rpc"
	"github.com/tolelom/tolstake/storage"
	"github.com/tolelom/tolstake/vm"
	"github.com/tolelom/tolstake/wallet"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/tolstake/vm/modules/asset"
	_ "github.com/tolelom/tolstake/vm/modules/economy"
	_ "github.com/tolelom/tolstake/vm/modules/market"
	_ "github.com/tolelom/tolstake/vm/modules/staking"
)

const devAlloc uint64 = 1_000_000_000_000_000

func newGenKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "genkey",
		Short: "Generate a validator key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			keyPath, _ := cmd.Flags().GetString("key")
			w, err := writeKey(keyPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "public key: %s\nsaved to: %s\n", w.PubKey(), keyPath)
			return nil
		},
	}
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a development config and validator key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			keyPath, _ := cmd.Flags().GetString("key")
			chainID, _ := cmd.Flags().GetString("chain-id")
			force, _ := cmd.Flags().GetBool("force")

			if !force {
				if _, err := os.Stat(cfgPath); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
				}
			}
			w, err := writeKey(keyPath)
			if err != nil {
				return err
			}

			cfg := config.DefaultConfig()
			if chainID != "" {
				cfg.Genesis.ChainID = chainID
			}
			cfg.Genesis.Timestamp = time.Now().Unix()
			cfg.Validators = []string{w.PubKey()}
			cfg.Genesis.Alloc[w.PubKey()] = devAlloc
			if err := config.Save(cfg, cfgPath); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validator: %s\nconfig: %s\nkey: %s\n", w.PubKey(), cfgPath, keyPath)
			return nil
		},
	}
	cmd.Flags().String("chain-id", "", "chain id (default tolstake-dev)")
	cmd.Flags().Bool("force", false, "overwrite an existing config")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node",
		RunE:  runNode,
	}
	cmd.Flags().String("data-dir", "", "data directory")
	cmd.Flags().Int("rpc-port", 0, "JSON-RPC port")
	cmd.Flags().String("rpc-auth-token", "", "require this bearer token on RPC requests")
	cmd.Flags().Bool("metrics", true, "serve Prometheus metrics at /metrics")
	cmd.Flags().Duration("block-interval", 0, "block production interval")
	cmd.Flags().Int("max-block-txs", 0, "max transactions per block")
	cmd.Flags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.Flags().String("log-file", "", "also write JSON logs to this rotated file")
	return cmd
}

func writeKey(path string) (*wallet.Wallet, error) {
	w, err := wallet.Generate("")
	if err != nil {
		return nil, err
	}
	if err := wallet.SaveKey(path, keystorePassword(), w.PrivKey()); err != nil {
		return nil, fmt.Errorf("save key: %w", err)
	}
	return w, nil
}

func runNode(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	keyPath, _ := cmd.Flags().GetString("key")

	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if keystorePassword() == "" {
		log.Warn("TOLSTAKE_PASSWORD not set, keystore uses an empty password")
	}
	privKey, err := wallet.LoadKey(keyPath, keystorePassword())
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}

	emitter := events.NewEmitter(log)
	idx := indexer.New(db, emitter, log)

	// ---- genesis block (if fresh chain) ----
	if bc.Tip() == nil {
		genesis, err := config.CreateGenesisBlock(cfg, state, privKey, emitter)
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		if err := bc.AddBlock(genesis); err != nil {
			return fmt.Errorf("add genesis: %w", err)
		}
		log.Info("genesis block committed", zap.String("hash", genesis.Hash))
	}

	mempool := core.NewMempool(cfg.Genesis.ChainID)
	exec := vm.NewExecutor(state, emitter,
		vm.WithChainID(cfg.Genesis.ChainID),
		vm.WithParams(cfg.Staking),
		vm.WithLogger(log))
	poa := consensus.New(cfg, bc, state, mempool, exec, emitter, privKey, log)

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(bc, mempool, state, idx, cfg.Genesis.ChainID, log)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken, cfg.Metrics, log)
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	defer func() {
		if err := rpcServer.Stop(); err != nil {
			log.Warn("rpc stop", zap.Error(err))
		}
	}()
	if cfg.RPCAuthToken != "" {
		log.Info("rpc bearer token authentication enabled")
	}

	if len(cfg.Validators) == 0 {
		return errors.New("no validators configured")
	}

	// ---- consensus loop ----
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poa.Run(cfg.BlockInterval, done)
	}()
	log.Info("consensus running",
		zap.String("validator", privKey.Public().Hex()),
		zap.String("chain_id", cfg.Genesis.ChainID),
		zap.Duration("block_interval", cfg.BlockInterval))

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")

	// Stop consensus first so no block is written while the DB closes.
	close(done)
	wg.Wait()
	log.Info("shutdown complete")
	return nil
}
