// Command tabletd is a standalone demo binary: it wires an embedded bbolt
// catalog, a small fake topology, and a coordinator behind both a gRPC
// listener and a grpc-gateway REST mux so an operator can trigger
// balance_tablets by hand while exercising the real allocator and catalog
// code. Grounded on the teacher's cmd-less layout plus the sibling
// DeltaLaboratory-shard and johnjansen-torua repos, which both ship a
// cmd/server entrypoint wiring config, logger, and storage before blocking
// on an interrupt signal.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/grpc-ecosystem/grpc-gateway/runtime"

	"github.com/jrife/tabletcore/config"
	"github.com/jrife/tabletcore/tablets"
	"github.com/jrife/tabletcore/tablets/alloc"
	"github.com/jrife/tabletcore/tablets/catalog"
	"github.com/jrife/tabletcore/tablets/coordinator"
	balancegrpc "github.com/jrife/tabletcore/tablets/coordinator/grpc"
	"github.com/jrife/tabletcore/tablets/topology"
)

func main() {
	dataDir := flag.String("data-dir", "data", "directory for the embedded catalog database")
	configPath := flag.String("config", "", "path to a YAML config file; built-in defaults are used if empty")
	httpAddr := flag.String("http-addr", "localhost:8090", "address for the debug REST mux")
	grpcAddr := flag.String("grpc-addr", "localhost:8091", "address for the gRPC listener")
	flag.Parse()

	logger, err := zap.NewDevelopment()

	if err != nil {
		panic(err)
	}

	defer logger.Sync()

	cfg := config.Default()

	if *configPath != "" {
		cfg, err = config.Load(*configPath)

		if err != nil {
			logger.Fatal("failed to load config", zap.String("path", *configPath), zap.Error(err))
		}
	}

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		logger.Fatal("failed to create data directory", zap.String("dir", *dataDir), zap.Error(err))
	}

	cat, err := catalog.Open(*dataDir + "/catalog.db")

	if err != nil {
		logger.Fatal("failed to open catalog", zap.Error(err))
	}

	defer cat.Close()

	topo := demoTopology()

	co := &coordinator.Coordinator{
		Catalog: cat,
		Guard:   coordinator.NewLocalGuard(),
		Allocator: &alloc.Allocator{
			Config: cfg.AllocatorConfig(),
			Logger: logger,
		},
		Logger: logger,
	}

	grpcServer := grpc.NewServer()
	balancegrpc.NewServer(co).Register(grpcServer)
	grpcListener, err := net.Listen("tcp", *grpcAddr)

	if err != nil {
		logger.Fatal("failed to listen for gRPC", zap.String("addr", *grpcAddr), zap.Error(err))
	}

	go func() {
		logger.Info("gRPC listening", zap.String("addr", *grpcAddr))

		if err := grpcServer.Serve(grpcListener); err != nil && err != grpc.ErrServerStopped {
			logger.Error("gRPC server exited", zap.Error(err))
		}
	}()

	gateway := runtime.NewServeMux()
	registerBalanceTabletsHandler(gateway, co, topo, logger)

	httpServer := &http.Server{
		Addr:              *httpAddr,
		Handler:           gateway,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("debug REST mux listening", zap.String("addr", *httpAddr))

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server exited", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	httpServer.Shutdown(ctx)
	grpcServer.GracefulStop()
}

// demoTopology builds a fixed three-host, single-DC topology so the
// standalone binary has something to balance against without a real
// gossip/membership collaborator. The process exposes no way to change it
// after startup.
func demoTopology() *topology.Static {
	return topology.NewStatic(
		topology.Host{ID: uuid.New(), DC: "dc1", Rack: "r1", State: topology.Normal, ShardCount: 4},
		topology.Host{ID: uuid.New(), DC: "dc1", Rack: "r2", State: topology.Normal, ShardCount: 4},
		topology.Host{ID: uuid.New(), DC: "dc1", Rack: "r3", State: topology.Normal, ShardCount: 4},
	)
}

// balanceTabletsResponse is the REST debug mux's response shape: the plan
// and resize decisions a call to BalanceAndCommit actually committed.
type balanceTabletsResponse struct {
	Migrations []migrationView             `json:"migrations"`
	Resize     map[string]tablets.ResizeDecision `json:"resize_decisions,omitempty"`
	Finalized  []string                    `json:"finalized,omitempty"`
}

type migrationView struct {
	Table  string `json:"table"`
	Tablet uint64 `json:"tablet"`
	Src    string `json:"src"`
	Dst    string `json:"dst"`
	Kind   string `json:"kind"`
}

// registerBalanceTabletsHandler wires POST /v1/balance_tablets directly
// against gateway using runtime.ServeMux.HandlePath, since no .proto for
// this service has been checked in yet - the same TODO the streaming gRPC
// frontend documents. This still exercises the real grpc-gateway mux
// rather than a plain net/http one.
func registerBalanceTabletsHandler(gateway *runtime.ServeMux, co *coordinator.Coordinator, topo topology.Topology, logger *zap.Logger) {
	gateway.HandlePath("POST", "/v1/balance_tablets", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
		plan, resize, err := co.BalanceAndCommit(r.Context(), topo, nil, nil)

		if err != nil {
			logger.Error("balance_tablets failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)

			return
		}

		resp := balanceTabletsResponse{Resize: map[string]tablets.ResizeDecision{}}

		for _, m := range plan {
			resp.Migrations = append(resp.Migrations, migrationView{
				Table:  m.Table.String(),
				Tablet: uint64(m.Tablet),
				Src:    m.Src.String(),
				Dst:    m.Dst.String(),
				Kind:   m.Kind.String(),
			})
		}

		for table, decision := range resize.Decisions {
			resp.Resize[table.String()] = decision
		}

		for _, table := range resize.Finalize {
			resp.Finalized = append(resp.Finalized, table.String())
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})
}
