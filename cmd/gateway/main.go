// Command gateway runs one witness network's HTTP gateway process: the
// quorum aggregator, batch manager, and federation anchorer for exactly
// one config.NetworkConfig, fronted by internal/api/httpserver.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/witnessnet/gateway/internal/api/httpserver"
	"github.com/witnessnet/gateway/internal/attestation"
	"github.com/witnessnet/gateway/internal/batch"
	"github.com/witnessnet/gateway/internal/config"
	"github.com/witnessnet/gateway/internal/eventbus"
	"github.com/witnessnet/gateway/internal/federation"
	"github.com/witnessnet/gateway/internal/quorum"
	sharedconfig "github.com/witnessnet/gateway/internal/shared/config"
	"github.com/witnessnet/gateway/internal/store"
	"github.com/witnessnet/gateway/internal/store/memstore"
	"github.com/witnessnet/gateway/internal/store/mssqlexport"
)

func main() {
	ctx := context.Background()

	cfg, err := sharedconfig.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	network, err := config.LoadNetworkConfig(cfg.Server.NetworkConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load network config: %v\n", err)
		os.Exit(1)
	}
	if err := network.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid network config: %v\n", err)
		os.Exit(1)
	}

	var bus *eventbus.Bus
	bus, err = eventbus.NewBus(eventbus.Config{
		Host:         cfg.EventStore.Host,
		Port:         cfg.EventStore.Port,
		Insecure:     cfg.EventStore.Insecure,
		Username:     cfg.EventStore.Username,
		Password:     cfg.EventStore.Password,
		StreamPrefix: cfg.EventStore.StreamPrefix,
	})
	if err != nil {
		fmt.Printf("warning: event store not available: %v\n", err)
		fmt.Println("running without real-time event streaming...")
		bus = nil
	} else {
		defer bus.Close()
	}

	var st store.Store
	db, err := store.NewDB(ctx, cfg.Database.DSN())
	if err != nil {
		fmt.Printf("warning: database not available: %v\n", err)
		fmt.Println("running with in-memory store, no persistence across restarts...")
		st = memstore.New(nil)
	} else {
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "migration failed: %v\n", err)
			os.Exit(1)
		}
		var pub store.Publisher
		if bus != nil {
			pub = bus
		}
		st = store.NewPostgresStore(db, pub)
	}

	if err := seedTrustRecords(ctx, st, network); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed trust records: %v\n", err)
		os.Exit(1)
	}

	witnessClient := quorum.NewWitnessClient(cfg.Quorum.WitnessRatePerSecond, cfg.Quorum.WitnessRateBurst)

	var federationPublisher federation.EventPublisher
	var batchPublisher batch.EventPublisher
	if bus != nil {
		federationPublisher = bus
		batchPublisher = bus
	}

	anchorer := federation.New(network.NetworkID, network.Federation, st, federationPublisher, federation.Config{
		PeerTimeout: time.Duration(cfg.Federation.PeerTimeoutOrDefault()) * time.Second,
		MaxRetries:  cfg.Federation.MaxRetriesOrDefault(),
		QueueDepth:  cfg.Federation.QueueDepthOrDefault(),
	})

	batchPeriod := time.Duration(network.BatchPeriod()) * time.Second
	if cfg.Batch.TickSeconds > 0 {
		batchPeriod = time.Duration(cfg.Batch.TickSeconds) * time.Second
	}
	batchMgr := batch.New(network.NetworkID, st, anchorer, batchPublisher, batchPeriod)

	aggregator, err := quorum.New(ctx, network, st, witnessClient, batchMgr, cfg.Quorum.LockShardsOrDefault())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build quorum aggregator: %v\n", err)
		os.Exit(1)
	}

	batchCtx, cancelBatch := context.WithCancel(ctx)
	go func() {
		if err := batchMgr.Run(batchCtx); err != nil {
			fmt.Fprintf(os.Stderr, "batch manager stopped: %v\n", err)
		}
	}()
	anchorer.Start(batchCtx)
	defer cancelBatch()

	if cfg.Audit.MSSQLDSN != "" {
		exporter, err := mssqlexport.New(ctx, cfg.Audit.MSSQLDSN)
		if err != nil {
			fmt.Printf("warning: mssql audit sink not available: %v\n", err)
		} else {
			defer exporter.Close()
			if bus == nil {
				fmt.Println("warning: mssql audit sink configured but no event bus is running, skipping")
			} else {
				go func() {
					err := bus.Subscribe(batchCtx, network.NetworkID, func(ctx context.Context, event eventbus.Event) error {
						if event.Type != eventbus.AttestationCommitted {
							return nil
						}
						var signed attestation.SignedAttestation
						if err := json.Unmarshal(event.Data, &signed); err != nil {
							fmt.Printf("mssql audit: decode event: %v\n", err)
							return nil
						}
						if err := exporter.Export(ctx, signed); err != nil {
							fmt.Printf("mssql audit: export: %v\n", err)
						}
						return nil
					})
					if err != nil {
						fmt.Printf("mssql audit subscription stopped: %v\n", err)
					}
				}()
			}
		}
	}

	var subscriber httpserver.EventSubscriber
	if bus != nil {
		subscriber = bus
	}
	srv := httpserver.New(network, aggregator, batchMgr, st, subscriber, cfg.Auth)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		fmt.Println("shutting down gateway...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("gateway shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Printf("witness gateway serving network %q on :%d\n", network.NetworkID, cfg.Server.Port)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("gateway stopped")
}

// seedTrustRecords registers every witness and federation peer named in
// network as an active trust subject, unless a record already exists
// for it. Existing records are left untouched so a witness suspended
// or revoked through the admin endpoints stays that way across
// restarts; only subjects the store has never seen are registered.
func seedTrustRecords(ctx context.Context, st store.Store, network config.NetworkConfig) error {
	existing, err := st.TrustRecords(ctx, network.NetworkID)
	if err != nil {
		return fmt.Errorf("load existing trust records: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, r := range existing {
		known[r.SubjectID] = true
	}

	for _, w := range network.Witnesses {
		if known[w.WitnessID] {
			continue
		}
		key, err := w.PublicKeyBytes()
		if err != nil {
			return fmt.Errorf("witness %q public key: %w", w.WitnessID, err)
		}
		if err := st.PutTrustRecord(ctx, network.NetworkID, store.TrustRecord{
			SubjectID: w.WitnessID,
			PublicKey: key,
			Status:    store.TrustActive,
		}); err != nil {
			return fmt.Errorf("register witness %q: %w", w.WitnessID, err)
		}
	}

	for _, p := range network.Federation {
		if known[p.NetworkID] {
			continue
		}
		if err := st.PutTrustRecord(ctx, network.NetworkID, store.TrustRecord{
			SubjectID: p.NetworkID,
			Status:    store.TrustActive,
		}); err != nil {
			return fmt.Errorf("register federation peer %q: %w", p.NetworkID, err)
		}
	}
	return nil
}
