// Command chopin runs the reactor-driven HTTP core: one acceptor
// goroutine fanning out accepted connections to N worker goroutines
// (not pinned to a CPU), each holding its own PG connection, response cache and
// write batcher.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/mevdschee/chopin/config"
	"github.com/mevdschee/chopin/metrics"
	"github.com/mevdschee/chopin/netutil"
	"github.com/mevdschee/chopin/pgconn"
	"github.com/mevdschee/chopin/respcache"
	"github.com/mevdschee/chopin/router"
	"github.com/mevdschee/chopin/worker"
	"github.com/mevdschee/chopin/writebatch"
)

func main() {
	configPath := flag.String("config", "config.ini", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	metrics.Init()
	go func() {
		http.Handle("/metrics", metrics.Handler())
		log.Printf("[chopin] metrics endpoint at http://localhost%s/metrics", cfg.Metrics.Listen)
		if err := http.ListenAndServe(cfg.Metrics.Listen, nil); err != nil {
			log.Printf("[chopin] metrics server error: %v", err)
		}
	}()

	cache, err := respcache.New(respcache.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to create response cache: %v", err)
	}
	defer cache.Close()

	r := router.New()
	registerRoutes(r, cache)

	addr4, port, err := resolveListenAddr(cfg.HTTP.Listen)
	if err != nil {
		log.Fatalf("Failed to resolve listen address %q: %v", cfg.HTTP.Listen, err)
	}
	listenFD, err := netutil.ListenTCP(addr4, port)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.HTTP.Listen, err)
	}

	pipes := make([]*netutil.FDPipe, cfg.HTTP.Workers)
	workers := make([]*worker.Worker, cfg.HTTP.Workers)
	for i := range pipes {
		pipe, err := netutil.NewFDPipe()
		if err != nil {
			log.Fatalf("Failed to create worker %d intake pipe: %v", i, err)
		}
		pipes[i] = pipe

		w, err := worker.New(worker.Config{
			ID:                       i,
			Intake:                   pipe,
			Router:                   r,
			PG:                       pgconn.Config{Host: cfg.Postgres.Host, Port: cfg.Postgres.Port, User: cfg.Postgres.User, Password: cfg.Postgres.Password, Database: cfg.Postgres.Database},
			IdleTimeout:              cfg.HTTP.IdleTimeout,
			MaxRequestsPerConnection: cfg.HTTP.MaxRequestsPerConnection,
			SlabCapacity:             cfg.HTTP.SlabCapacity,
			ReadBufferSize:           16 * 1024,
			WriteBufferSize:          16 * 1024,
			WriteBatch:               writebatch.DefaultConfig(),
		})
		if err != nil {
			log.Fatalf("Failed to create worker %d: %v", i, err)
		}
		workers[i] = w
	}

	acceptor, err := worker.NewAcceptor(listenFD, pipes)
	if err != nil {
		log.Fatalf("Failed to create acceptor: %v", err)
	}

	var shutdown atomic.Bool
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		acceptor.Run(&shutdown)
	}()

	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			if err := w.Run(&shutdown); err != nil {
				log.Printf("[chopin] worker exited with error: %v", err)
			}
		}(w)
	}

	log.Printf("[chopin] listening on %s with %d workers. Press Ctrl+C to stop.", cfg.HTTP.Listen, cfg.HTTP.Workers)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("[chopin] shutting down...")
	shutdown.Store(true)
	wg.Wait()
	log.Println("[chopin] shutdown complete.")
}

// resolveListenAddr splits a "host:port" (or ":port") listen string
// into the 4-byte IPv4 address and port netutil.ListenTCP wants.
func resolveListenAddr(listen string) (addr [4]byte, port int, err error) {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return addr, 0, err
	}
	if host == "" {
		host = "0.0.0.0"
	}
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return addr, 0, fmt.Errorf("resolve host %q: %w", host, err)
		}
		ip = resolved.IP
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return addr, 0, fmt.Errorf("address %q is not IPv4", host)
	}
	copy(addr[:], ip4)

	var p int
	if _, err := fmt.Sscanf(portStr, "%d", &p); err != nil {
		return addr, 0, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return addr, p, nil
}
