package middleware

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// GracefulShutdown drains the HTTP server and runs registered teardown
// callbacks (cron stop, container flush) when the process receives a
// termination signal. The server drains first, then callbacks run in
// registration order, so in-flight audit appends finish ahead of store
// teardown.
type GracefulShutdown struct {
	mu           sync.Mutex
	server       *http.Server
	timeout      time.Duration
	shutdownChan chan struct{}
	callbacks    []func()
	once         sync.Once
}

func NewGracefulShutdown(server *http.Server, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GracefulShutdown{
		server:       server,
		timeout:      timeout,
		shutdownChan: make(chan struct{}),
	}
}

// OnShutdown registers a teardown callback.
func (g *GracefulShutdown) OnShutdown(callback func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks = append(g.callbacks, callback)
}

// ListenForSignals triggers Shutdown on SIGINT/SIGTERM/SIGQUIT.
func (g *GracefulShutdown) ListenForSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigChan
		log.Printf("received %v, shutting down", sig)
		g.Shutdown()
	}()
}

// Shutdown drains the server and then runs the callbacks. Safe to call more than
// once; only the first call acts.
func (g *GracefulShutdown) Shutdown() {
	g.once.Do(func() {
		g.mu.Lock()
		callbacks := append([]func(){}, g.callbacks...)
		g.mu.Unlock()

		if g.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
			defer cancel()
			if err := g.server.Shutdown(ctx); err != nil {
				log.Printf("server shutdown: %v", err)
			}
		}

		for _, callback := range callbacks {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Printf("panic in shutdown callback: %v", r)
					}
				}()
				callback()
			}()
		}

		close(g.shutdownChan)
	})
}

// Wait blocks until Shutdown completes.
func (g *GracefulShutdown) Wait() {
	<-g.shutdownChan
}
