// Command treecrdtd is the server shell kept for completeness per spec
// §6: exactly two routes, GET /health and WS /sync, with no other HTTP
// surface. It is a thin glue layer over the engine/session/syncpeer
// packages — the CLI argument parsing, JSON marshaling wrappers, and UI
// scaffolding around it are explicitly out of scope (spec §1).
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cybersemics/treecrdt-sub003/auth"
	"github.com/cybersemics/treecrdt-sub003/config"
	"github.com/cybersemics/treecrdt-sub003/engine"
	"github.com/cybersemics/treecrdt-sub003/ids"
	"github.com/cybersemics/treecrdt-sub003/obslog"
	"github.com/cybersemics/treecrdt-sub003/session"
	"github.com/cybersemics/treecrdt-sub003/syncpeer"
	"github.com/cybersemics/treecrdt-sub003/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("treecrdtd: load config: %w", err)
	}

	logger, err := obslog.NewProduction()
	if err != nil {
		return fmt.Errorf("treecrdtd: build logger: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("treecrdtd: generate server replica key: %w", err)
	}
	var replica ids.ReplicaId
	copy(replica[:], pub)
	signer := auth.LocalSigner{Private: priv}

	factory := session.NewEngineFactory(cfg.Store, replica, signer, logger, nil)
	mgr, err := session.NewManager(cfg.Session, factory, nil, logger)
	if err != nil {
		return fmt.Errorf("treecrdtd: build session manager: %w", err)
	}

	srv := &server{cfg: cfg, mgr: mgr, replica: replica, log: logger}

	r := chi.NewRouter()
	r.Get("/health", srv.handleHealth)
	r.Get("/sync", srv.handleSync)

	addr := fmt.Sprintf("%s:%d", cfg.Server.BindHost, cfg.Server.BindPort)
	httpServer := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("treecrdtd: listening", zap.String("addr", addr))
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("treecrdtd: serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("treecrdtd: shutting down")
		return httpServer.Shutdown(context.Background())
	}
	return nil
}

type server struct {
	cfg     *config.Config
	mgr     *session.Manager
	replica ids.ReplicaId
	log     obslog.Logger
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleSync upgrades the connection and runs one sync peer until the
// transport closes. A session open failure closes the socket with close
// code 1011 ("failed to open doc"), matching spec §6.
func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("docId")
	if docID == "" {
		http.Error(w, "missing docId", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("treecrdtd: ws upgrade failed", zap.Error(err))
		return
	}

	sess, err := s.mgr.Open(r.Context(), docID)
	if err != nil {
		s.log.Warn("treecrdtd: session open failed", zap.String("doc_id", docID), zap.Error(err))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "failed to open doc"))
		_ = conn.Close()
		return
	}
	defer sess.Release()

	transport := &wsTransport{conn: conn}
	filters := []syncpeer.FilterSubscription{{Filter: engine.AllFilter(), Subscribe: true}}
	peer := syncpeer.NewPeer(transport, wire.ProtobufV0Codec{}, sess.Engine(), s.replica, docID, filters, s.cfg.Peer, s.log, nil)

	sess.AttachPeer(peer)
	defer sess.DetachPeer(peer)

	if err := peer.Run(r.Context()); err != nil {
		s.log.Warn("treecrdtd: peer run ended", zap.String("doc_id", docID), zap.Error(err))
	}
}
