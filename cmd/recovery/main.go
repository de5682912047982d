// Command recovery runs the bridge recovery service: an HTTP API for
// kicking off recoveries of stuck USDC bridges plus a background loop that
// retries registered bridges until their attestation lands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"go.uber.org/zap"

	recovery "github.com/openbridge-labs/cctp-recovery"
	"github.com/openbridge-labs/cctp-recovery/pkg/attest"
	"github.com/openbridge-labs/cctp-recovery/pkg/detect"
	"github.com/openbridge-labs/cctp-recovery/pkg/extract"
	"github.com/openbridge-labs/cctp-recovery/pkg/mint"
	"github.com/openbridge-labs/cctp-recovery/pkg/reader"
	"github.com/openbridge-labs/cctp-recovery/pkg/store"
)

type recoverRequest struct {
	BurnTxHash string `json:"burn_tx_hash"`
	Recipient  string `json:"recipient"`
	// Amount is the burned amount in token base units, decimal string.
	Amount string `json:"amount"`
}

type recoverResponse struct {
	Success         bool   `json:"success"`
	Pending         bool   `json:"pending"`
	Message         string `json:"message"`
	BurnTxHash      string `json:"burn_tx_hash"`
	MessageHash     string `json:"message_hash,omitempty"`
	MintTxHash      string `json:"mint_tx_hash,omitempty"`
	Error           string `json:"error,omitempty"`
	Expired         bool   `json:"expired,omitempty"`
	ExpirationBlock uint64 `json:"expiration_block,omitempty"`
	CanRefund       bool   `json:"can_refund,omitempty"`
}

type bridgeResponse struct {
	BurnTxHash  string `json:"burn_tx_hash"`
	Recipient   string `json:"recipient"`
	Amount      string `json:"amount"`
	Status      string `json:"status"`
	MessageHash string `json:"message_hash,omitempty"`
	MintTxHash  string `json:"mint_tx_hash,omitempty"`
	CreatedAt   string `json:"created_at"`
	LastChecked string `json:"last_checked"`
}

func main() {
	lggr, err := logger.NewWith(func(config *zap.Config) {
		config.Development = false
		config.Encoding = "json"
	})
	if err != nil {
		panic(err)
	}
	lggr = logger.Sugared(lggr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	configPath := "recovery.toml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	if envConfig := os.Getenv("RECOVERY_CONFIG"); envConfig != "" {
		configPath = envConfig
	}
	cfg, err := recovery.LoadConfig(configPath)
	if err != nil {
		lggr.Errorw("Failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}

	keyHex := os.Getenv("RECOVERY_PRIVATE_KEY")
	if keyHex == "" {
		lggr.Errorw("RECOVERY_PRIVATE_KEY environment variable is required")
		os.Exit(1)
	}
	signingKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		lggr.Errorw("Failed to parse signing key", "error", err)
		os.Exit(1)
	}
	lggr.Infow("Recovery sender configured", "address", crypto.PubkeyToAddress(signingKey.PublicKey).Hex())

	sourceReader, err := reader.New(lggr, cfg.SourceChain.Name, cfg.SourceChain.RPCURLs)
	if err != nil {
		lggr.Errorw("Failed to create source chain reader", "error", err)
		os.Exit(1)
	}
	defer sourceReader.Close()

	destReader, err := reader.New(lggr, cfg.DestinationChain.Name, cfg.DestinationChain.RPCURLs)
	if err != nil {
		lggr.Errorw("Failed to create destination chain reader", "error", err)
		os.Exit(1)
	}
	defer destReader.Close()

	// Transaction submission goes through the primary destination endpoint
	// directly; failover only applies to reads.
	destBackend, err := ethclient.DialContext(ctx, cfg.DestinationChain.RPCURLs[0])
	if err != nil {
		lggr.Errorw("Failed to dial destination chain", "url", cfg.DestinationChain.RPCURLs[0], "error", err)
		os.Exit(1)
	}
	defer destBackend.Close()

	attestClient, err := attest.NewClient(lggr, cfg.AttestationClientConfig(), cfg.SourceChain.Domain)
	if err != nil {
		lggr.Errorw("Failed to create attestation client", "error", err)
		os.Exit(1)
	}

	minter, err := mint.New(lggr, destBackend, cfg.DestinationChain.TransmitterAddress(), big.NewInt(cfg.DestinationChain.ChainID))
	if err != nil {
		lggr.Errorw("Failed to create mint executor", "error", err)
		os.Exit(1)
	}

	var persistence recovery.Persistence
	if cfg.Registry.DBPath != "" {
		sqliteStore, err := store.NewSQLiteStore(lggr, cfg.Registry.DBPath)
		if err != nil {
			lggr.Errorw("Failed to open bridge store", "path", cfg.Registry.DBPath, "error", err)
			os.Exit(1)
		}
		defer sqliteStore.Close()
		persistence = sqliteStore
	} else {
		lggr.Warnw("No registry db_path configured, tracked bridges will not survive restarts")
	}

	registry := recovery.NewRegistry(lggr, persistence)
	orchestrator := recovery.NewOrchestrator(
		lggr,
		registry,
		extract.New(lggr, sourceReader),
		attestClient,
		detect.New(lggr, destReader, cfg.DestinationChain.TokenAddress(), cfg.DestinationChain.TransmitterAddress(), cfg.DestinationChain.ReceiptScanBlocks),
		detect.NewExpirationGuard(lggr, sourceReader),
		minter,
		recovery.NewLogNotifier(lggr),
	)

	runner := recovery.NewRunner(lggr, registry, orchestrator, signingKey,
		cfg.RecheckInterval(), cfg.Runner.MaxConcurrentRecoveries)
	go func() {
		if err := runner.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lggr.Errorw("Recovery runner exited", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/recover", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req recoverRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if len(req.BurnTxHash) != 66 || !common.IsHexAddress(req.Recipient) {
			http.Error(w, "burn_tx_hash and recipient are required", http.StatusBadRequest)
			return
		}
		amount := new(big.Int)
		if req.Amount != "" {
			if _, ok := amount.SetString(req.Amount, 10); !ok {
				http.Error(w, "amount must be a decimal string", http.StatusBadRequest)
				return
			}
		}

		result := orchestrator.Recover(r.Context(),
			common.HexToHash(req.BurnTxHash),
			common.HexToAddress(req.Recipient),
			amount,
			signingKey)

		writeJSON(w, lggr, toRecoverResponse(result))
	})

	mux.HandleFunc("/bridges", func(w http.ResponseWriter, r *http.Request) {
		bridges := registry.List()
		out := make([]bridgeResponse, 0, len(bridges))
		for _, b := range bridges {
			out = append(out, toBridgeResponse(b))
		}
		writeJSON(w, lggr, out)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // best-effort health body
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.Runner.ListenAddress,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Minute, // a recovery can poll attestations for a while
	}
	go func() {
		lggr.Infow("HTTP server starting", "address", cfg.Runner.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lggr.Errorw("HTTP server error", "error", err)
		}
	}()

	lggr.Infow("Bridge recovery service started",
		"sourceChain", cfg.SourceChain.Name,
		"destinationChain", cfg.DestinationChain.Name,
		"attestationAPI", cfg.Attestation.APIURL)

	<-sigCh
	lggr.Infow("Shutdown signal received, stopping")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		lggr.Errorw("HTTP server shutdown error", "error", err)
	}
	lggr.Infow("Bridge recovery service stopped")
}

func writeJSON(w http.ResponseWriter, lggr logger.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		lggr.Warnw("Failed to encode response", "error", err)
	}
}

func toRecoverResponse(result *recovery.RecoveryResult) recoverResponse {
	resp := recoverResponse{
		Success:    result.Success,
		Pending:    result.Pending,
		Message:    result.Message,
		BurnTxHash: result.BurnTxHash.Hex(),
	}
	if result.MessageHash != (common.Hash{}) {
		resp.MessageHash = result.MessageHash.Hex()
	}
	if result.MintTxHash != (common.Hash{}) {
		resp.MintTxHash = result.MintTxHash.Hex()
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	if result.Expiration != nil {
		resp.Expired = result.Expiration.Expired
		resp.ExpirationBlock = result.Expiration.ExpirationBlock
		resp.CanRefund = result.Expiration.CanRefund
	}
	return resp
}

func toBridgeResponse(b *recovery.PendingBridge) bridgeResponse {
	resp := bridgeResponse{
		BurnTxHash:  b.BurnTxHash.Hex(),
		Recipient:   b.Recipient.Hex(),
		Amount:      "0",
		Status:      string(b.Status),
		CreatedAt:   b.CreatedAt.Format(time.RFC3339),
		LastChecked: b.LastChecked.Format(time.RFC3339),
	}
	if b.Amount != nil {
		resp.Amount = b.Amount.String()
	}
	if b.MessageHash != (common.Hash{}) {
		resp.MessageHash = b.MessageHash.Hex()
	}
	if b.MintTxHash != (common.Hash{}) {
		resp.MintTxHash = b.MintTxHash.Hex()
	}
	return resp
}
