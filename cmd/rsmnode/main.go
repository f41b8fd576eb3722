// Command rsmnode runs a local demo cohort:
// every agent in one process, attached to an in-memory ordered transport,
// observing a built-in price feed and settling against an in-memory ledger.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/petrel-net/petrel/ledger"
	"github.com/petrel-net/petrel/oracle"
	"github.com/petrel-net/petrel/oracleapp"
	"github.com/petrel-net/petrel/rsm"
	"github.com/petrel-net/petrel/rsm/rsmapp"
	"github.com/petrel-net/petrel/rsm/rsmdriver"
	"github.com/petrel-net/petrel/rsm/rsmp2p"
	"github.com/petrel-net/petrel/rsm/rsmp2p/rsmp2ptest"
	"github.com/petrel-net/petrel/rsm/rsmtest"
	"github.com/petrel-net/petrel/sigshare"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		nAgents       int
		actThreshold  float64
		roundTimeout  time.Duration
		resetPause    time.Duration
		keeperRetries uint32
		statusAddr    string
	)

	cmd := &cobra.Command{
		Use:   "rsmnode",
		Short: "Run a local price oracle cohort over an in-memory transport",

		RunE: func(cmd *cobra.Command, args []string) error {
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			return runDemo(ctx, log, demoConfig{
				Agents:        nAgents,
				ActThreshold:  actThreshold,
				RoundTimeout:  roundTimeout,
				ResetPause:    resetPause,
				KeeperRetries: keeperRetries,
				StatusAddr:    statusAddr,
			})
		},
	}

	cmd.Flags().IntVar(&nAgents, "agents", 4, "cohort size")
	cmd.Flags().Float64Var(&actThreshold, "act-threshold", 1.0, "agreed price at or above which the cohort transacts")
	cmd.Flags().DurationVar(&roundTimeout, "round-timeout", 10*time.Second, "deadline for collection and agreement rounds")
	cmd.Flags().DurationVar(&resetPause, "reset-pause", 5*time.Second, "idle time between periods")
	cmd.Flags().Uint32Var(&keeperRetries, "keeper-retries", 2, "keeper reassignments allowed per settlement round")
	cmd.Flags().StringVar(&statusAddr, "status-addr", "127.0.0.1:8631", "listen address for the status endpoint")

	return cmd
}

type demoConfig struct {
	Agents        int
	ActThreshold  float64
	RoundTimeout  time.Duration
	ResetPause    time.Duration
	KeeperRetries uint32
	StatusAddr    string
}

func runDemo(ctx context.Context, log *slog.Logger, cfg demoConfig) error {
	agents := rsmtest.DeterministicAgents(cfg.Agents)
	members := make([]rsm.Participant, len(agents))
	for i, a := range agents {
		members[i] = a.Addr
	}
	ps, err := rsm.NewParticipantSet(members)
	if err != nil {
		return err
	}

	feed := newDemoFeed(log.With("sys", "feed"))
	defer feed.Close()

	network := rsmp2ptest.NewNetwork(ctx, log.With("sys", "network"))
	defer network.Wait()

	// The status endpoint observes the committed stream
	// through its own transport connection,
	// the same way any external consumer would.
	observer := network.Connect()
	status := newStatusServer(ctx, log.With("sys", "status"), cfg.StatusAddr, observer)
	if status != nil {
		defer status.Wait()
	}

	pubKeys := make([]ed25519.PublicKey, ps.Len())
	privKeys := make([]ed25519.PrivateKey, ps.Len())
	for i := range pubKeys {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("failed to generate agent key: %w", err)
		}
		pubKeys[i], privKeys[i] = pub, priv
	}
	shares := oracleapp.NewInmemShares(pubKeys, ps.Threshold())

	params := oracleapp.Params{
		ActThreshold:  cfg.ActThreshold,
		SafeAddress:   "0x5afe5afe5afe5afe5afe5afe5afe5afe5afe5afe",
		TokenAddress:  "0x70ce70ce70ce70ce70ce70ce70ce70ce70ce70ce",
		TransferValue: 1,
	}
	builder := ledger.NewTxBuilder(params.SafeAddress)
	submitter := ledger.NewInmemSubmitter()

	app := rsmapp.PriceOracle(rsmapp.OracleConfig{
		Participants:    ps,
		RoundTimeout:    cfg.RoundTimeout,
		ValidateTimeout: cfg.RoundTimeout,
		FinalizeTimeout: cfg.RoundTimeout,
		ResetPause:      cfg.ResetPause,
	})

	nodes := make([]*oracleapp.Node, ps.Len())
	for i, a := range agents {
		feedClient := oracle.NewClient(log.With("sys", "oracle", "agent", a.Name), oracle.ClientConfig{
			BaseURL:        feed.URL(),
			RetryDelay:     250 * time.Millisecond,
			RequestTimeout: 2 * time.Second,
		})

		idx := ps.Index(a.Addr)
		node, err := oracleapp.NewNode(ctx, log.With("agent", a.Name), oracleapp.NodeConfig{
			Self:         a.Addr,
			Participants: ps,
			App:          app,
			Conn:         network.Connect(),
			Behaviours: oracleapp.Behaviours(
				params, feedClient, builder, submitter,
				sigshare.NewSigner(idx, privKeys[idx]), shares,
			),
			Retry: rsmdriver.RetryConfig{
				MaxAttempts:    3,
				RequestTimeout: 5 * time.Second,
				RetryDelay:     250 * time.Millisecond,
			},
			KeeperAllowedRetries: cfg.KeeperRetries,
		})
		if err != nil {
			return fmt.Errorf("failed to start node for %s: %w", a.Name, err)
		}
		nodes[i] = node
	}

	<-ctx.Done()
	for _, n := range nodes {
		n.Wait()
	}
	return nil
}

// demoFeed serves a slowly oscillating price over HTTP,
// routed with mux like any external feed would be.
type demoFeed struct {
	srv   *http.Server
	ln    net.Listener
	start time.Time
}

func newDemoFeed(log *slog.Logger) *demoFeed {
	f := &demoFeed{start: time.Now()}

	r := mux.NewRouter()
	r.HandleFunc("/price", f.handlePrice).Methods("GET")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		// The demo cannot run without its feed.
		panic(fmt.Errorf("failed to listen for demo feed: %w", err))
	}
	f.ln = ln
	f.srv = &http.Server{Handler: r}

	go func() {
		if err := f.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Info("Demo feed shutting down due to error", "err", err)
		}
	}()
	return f
}

func (f *demoFeed) URL() string {
	return "http://" + f.ln.Addr().String() + "/price"
}

func (f *demoFeed) Close() {
	_ = f.srv.Close()
}

func (f *demoFeed) handlePrice(w http.ResponseWriter, req *http.Request) {
	elapsed := time.Since(f.start).Seconds()
	price := 1.0 + 0.5*math.Sin(elapsed/30)
	json.NewEncoder(w).Encode(map[string]string{
		"price": fmt.Sprintf("%.4f", price),
	})
}

// statusServer exposes the committed stream's high-water mark over HTTP,
// for observability of the demo cohort.
type statusServer struct {
	mu        sync.Mutex
	lastRound string
	lastValue string
	committed uint64

	srv  *http.Server
	done chan struct{}
}

func newStatusServer(ctx context.Context, log *slog.Logger, addr string, observer rsmp2p.Connection) *statusServer {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Warn("Status endpoint disabled; failed to listen", "addr", addr, "err", err)
		return nil
	}

	s := &statusServer{done: make(chan struct{})}

	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods("GET")

	s.srv = &http.Server{
		Handler: r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	go s.observe(observer)
	go s.serve(log, ln)
	go s.waitForShutdown(ctx)

	log.Info("Status endpoint listening", "addr", ln.Addr().String())
	return s
}

func (s *statusServer) Wait() {
	<-s.done
}

func (s *statusServer) observe(observer rsmp2p.Connection) {
	for entry := range observer.Committed() {
		s.mu.Lock()
		s.lastRound = entry.Payload.RoundID
		s.lastValue = entry.Payload.Value
		s.committed++
		s.mu.Unlock()
	}
}

func (s *statusServer) serve(log *slog.Logger, ln net.Listener) {
	defer close(s.done)

	if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		log.Info("Status server shutting down due to error", "err", err)
	}
}

func (s *statusServer) waitForShutdown(ctx context.Context) {
	select {
	case <-s.done:
	case <-ctx.Done():
		_ = s.srv.Close()
	}
}

func (s *statusServer) handleStatus(w http.ResponseWriter, req *http.Request) {
	s.mu.Lock()
	resp := map[string]any{
		"last_round": s.lastRound,
		"last_value": s.lastValue,
		"committed":  s.committed,
	}
	s.mu.Unlock()

	json.NewEncoder(w).Encode(resp)
}
