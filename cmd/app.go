package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/fastusdc/cctp-relayer/internal/agoric"
	"github.com/fastusdc/cctp-relayer/internal/config"
	"github.com/fastusdc/cctp-relayer/internal/db"
	"github.com/fastusdc/cctp-relayer/internal/evm"
	"github.com/fastusdc/cctp-relayer/internal/http"
	"github.com/fastusdc/cctp-relayer/internal/metrics"
	"github.com/fastusdc/cctp-relayer/internal/noble"
	"github.com/fastusdc/cctp-relayer/internal/processor"
	"github.com/fastusdc/cctp-relayer/internal/state"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	DatabaseManager *db.DatabaseManager
	State           *state.State
	AgoricClient    *agoric.Client
	PolicyCache     *agoric.PolicyCache
	Queue           *agoric.SubmissionQueue
	Monitor         *agoric.Monitor
	Sweep           *noble.Sweep
	Watchers        []*evm.Watcher
	Liveness        *evm.LivenessMonitor
	HTTPServer      *http.HTTPServerImpl
}

func NewApplication() *Application {
	config.InitConfig()
	log.SetLevel(config.AppConfig.LogLevel)

	dbm := db.NewDatabaseManager()
	st := state.InitializeState(dbm)
	restoreGauges(st)

	client, err := agoric.NewClient()
	if err != nil {
		log.Fatalf("Failed to create destination client: %v", err)
	}

	accountNumber, sequence, err := client.QueryAccount(context.Background())
	if err != nil {
		log.Fatalf("Failed to query watcher account: %v", err)
	}
	st.Account.AccountNumber = accountNumber
	st.Account.SetSequence(sequence)
	log.Infof("Watcher account %s, account number %d, sequence %d", client.Address(), accountNumber, sequence)

	policyCache := agoric.NewPolicyCache(client, st)
	if err := policyCache.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load feed policy: %v", err)
	}

	resolver := noble.NewResolver(st)
	proc := processor.NewProcessor(st, resolver, policyCache)
	submitter := agoric.NewSubmitter(client, st)
	queue := agoric.NewSubmissionQueue(client, submitter)
	monitor := agoric.NewMonitor(client, st, queue)
	sweep := noble.NewSweep(st, resolver)

	var watchers []*evm.Watcher
	for _, chain := range config.AppConfig.Chains {
		watchers = append(watchers, evm.NewWatcher(chain, st, proc, policyCache, queue))
	}
	if len(watchers) == 0 {
		log.Fatal("No origin chains configured")
	}

	return &Application{
		DatabaseManager: dbm,
		State:           st,
		AgoricClient:    client,
		PolicyCache:     policyCache,
		Queue:           queue,
		Monitor:         monitor,
		Sweep:           sweep,
		Watchers:        watchers,
		Liveness:        evm.NewLivenessMonitor(st, watchers),
		HTTPServer:      http.NewHTTPServer(st),
	}
}

// restoreGauges reloads persisted counters into prometheus so restarts do not
// reset the exported series.
func restoreGauges(st *state.State) {
	m := metrics.Watcher()
	for _, chain := range config.AppConfig.Chains {
		if v, err := st.GetGaugeValue("events_count", chain.Name); err == nil {
			m.SetEventsCount(chain.Name, v)
		}
		if v, err := st.GetGaugeValue("total_amount", chain.Name); err == nil {
			m.SetTotalAmount(chain.Name, v)
		}
		if v, err := st.GetGaugeValue("reverted_tx_count", chain.Name); err == nil {
			m.SetRevertedTxCount(chain.Name, v)
		}
		if v, err := st.GetGaugeValue("current_block_range_amount", chain.Name); err == nil {
			m.SetBlockRangeAmount(chain.Name, v)
		}
	}
}

func (app *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.PolicyCache.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Monitor.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Sweep.Start(ctx)
	}()

	for _, watcher := range app.Watchers {
		w := watcher
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Liveness.Start(ctx)
	}()

	go app.HTTPServer.StartHTTPServer()

	<-stop
	log.Info("Receiving exit signal...")

	cancel()

	wg.Wait()
	log.Info("Watcher stopped")
}

func main() {
	app := NewApplication()
	app.Run()
}
