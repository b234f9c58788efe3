// chatd is a headless chat client daemon: it runs the session and
// conversation state manager against MongoDB and exposes it to a local UI
// over a WebSocket, pushing session, summary and message updates as they
// happen.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/PaulBabatuyi/chatcore/internal/data"
	"github.com/PaulBabatuyi/chatcore/internal/db"
	"github.com/PaulBabatuyi/chatcore/internal/directory"
	"github.com/PaulBabatuyi/chatcore/internal/docstore"
	"github.com/PaulBabatuyi/chatcore/internal/identity"
	"github.com/PaulBabatuyi/chatcore/internal/ratelimit"
	"github.com/PaulBabatuyi/chatcore/internal/registry"
	"github.com/PaulBabatuyi/chatcore/internal/session"
	"github.com/PaulBabatuyi/chatcore/internal/stream"
)

var errUnknownOp = errors.New("unknown op")

// App bundles the wired manager components the connections act on.
type App struct {
	hub       *Hub
	gateway   *session.Gateway
	sessions  *session.Store
	directory *directory.Cache
	registry  *registry.Registry
	adapter   *stream.Adapter
}

func main() {
	// Read configuration from environment
	mongoURI := os.Getenv("MONGODB_URI")
	if mongoURI == "" {
		log.Fatal("MONGODB_URI must be set")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx := context.Background()

	// Initialize database
	dbClient, err := db.New(ctx, mongoURI)
	if err != nil {
		log.Fatalf("failed to connect to DB: %v", err)
	}
	defer func() {
		_ = dbClient.Close(ctx)
	}()

	// Ensure indexes exist
	if err := dbClient.CreateIndexes(ctx); err != nil {
		log.Fatalf("failed to create indexes: %v", err)
	}

	store := docstore.NewMongo(dbClient.Database())

	// RATE_LIMIT_RPM controls sign-in/sign-up attempts per minute per email.
	rateRPM := 10
	if v := os.Getenv("RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			rateRPM = n
		}
	}
	limits := ratelimit.NewLimiterStore(rateRPM, 3, 1*time.Minute)
	defer limits.Stop()

	provider := identity.NewLocal(store, identity.NewTokenManager(jwtSecret, 24*time.Hour))
	defer provider.Close()

	app := &App{
		hub:       NewHub(),
		gateway:   session.NewGateway(provider, store, session.WithRateLimit(limits)),
		sessions:  session.NewStore(provider, store),
		directory: directory.NewCache(store),
		registry:  registry.NewRegistry(store),
		adapter:   stream.NewAdapter(store),
	}
	defer app.sessions.Close()

	// Push session transitions to every attached UI, and keep a summaries
	// subscription alive while a user is signed in.
	var summariesMu sync.Mutex
	var cancelSummaries docstore.CancelFunc
	cancelSessions := app.sessions.Subscribe(func(sess data.Session) {
		summariesMu.Lock()
		defer summariesMu.Unlock()
		if cancelSummaries != nil {
			cancelSummaries()
			cancelSummaries = nil
		}
		payload := map[string]any{"state": sess.State.String()}
		if sess.User != nil {
			payload["user"] = sess.User
		}
		_ = app.hub.Broadcast(Event{Type: "session", Payload: payload})

		if sess.State != data.StateAuthenticated || sess.User == nil {
			return
		}
		cancel, err := app.registry.SubscribeToSummaries(ctx, *sess.User,
			func(s registry.Summaries) {
				_ = app.hub.Broadcast(Event{Type: "summaries", Payload: s})
			},
			func(err error) {
				log.Printf("summary stream failed: %v", err)
				_ = app.hub.Broadcast(Event{Type: "streamError", Error: err.Error()})
			})
		if err != nil {
			log.Printf("failed to subscribe to summaries: %v", err)
			return
		}
		cancelSummaries = cancel
	})
	defer cancelSessions()

	// Optionally resume a persisted session so the daemon comes back signed
	// in across restarts.
	if token := os.Getenv("SESSION_TOKEN"); token != "" {
		if _, err := provider.Resume(ctx, token); err != nil {
			log.Printf("session resume failed: %v", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", app.serveWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Printf("health check write error: %v", err)
		}
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: mux,
	}

	go func() {
		log.Printf("chatd listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server exit: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down chatd")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// userMessage maps an error onto the short text shown to the user.
func userMessage(err error) string {
	var ae *session.AuthError
	if errors.As(err, &ae) {
		return ae.Message()
	}
	return err.Error()
}
