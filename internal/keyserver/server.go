package keyserver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

// Server answers fetch_key lookups over mutual-TLS HTTP, grounded on the
// teacher's OwnerServer/RendezvousServer graceful-shutdown http.Server
// pattern (cmd/owner.go, cmd/rendezvous.go): a signal-driven goroutine
// calls Shutdown with a bounded grace period instead of killing
// connections outright.
type Server struct {
	Addr         string
	Store        *Store
	ClientCAPool *tls.Config // carries the pool used to verify client certs
	limiter      *rate.Limiter
}

// NewServer constructs a Server. rps/burst bound the fetch_key rate,
// mirroring the teacher's use of golang.org/x/time/rate for FDO endpoint
// throttling.
func NewServer(addr string, store *Store, tlsConfig *tls.Config, rps float64, burst int) *Server {
	return &Server{
		Addr:         addr,
		Store:        store,
		ClientCAPool: tlsConfig,
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type fetchKeyResponse struct {
	SenderPub []byte `json:"sender_pub"`
}

func (s *Server) handleFetchKey(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	keyserverID := r.URL.Query().Get("keyserver_id")
	transactionID := r.URL.Query().Get("transaction_id")
	if keyserverID == "" || transactionID == "" {
		http.Error(w, "missing keyserver_id or transaction_id", http.StatusBadRequest)
		return
	}
	senderPub, err := s.Store.Get(keyserverID, transactionID)
	if err != nil {
		http.Error(w, "unknown transaction", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(fetchKeyResponse{SenderPub: senderPub})
}

func (s *Server) handlePutKey(w http.ResponseWriter, r *http.Request) {
	keyserverID := r.URL.Query().Get("keyserver_id")
	transactionID := r.URL.Query().Get("transaction_id")
	if keyserverID == "" || transactionID == "" {
		http.Error(w, "missing keyserver_id or transaction_id", http.StatusBadRequest)
		return
	}
	var req fetchKeyResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if err := s.Store.Put(keyserverID, transactionID, req.SenderPub); err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /fetch-key", s.handleFetchKey)
	mux.HandleFunc("PUT /fetch-key", s.handlePutKey)
	return mux
}

// Serve listens on Addr and blocks until a SIGINT/SIGTERM triggers a
// graceful shutdown with a five-second grace period.
func (s *Server) Serve() error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.handler(),
		TLSConfig:         s.ClientCAPool,
		ReadHeaderTimeout: 3 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		slog.Info("keyserver: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("keyserver: forced shutdown", "err", err)
		}
	}()

	lis, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	defer func() { _ = lis.Close() }()
	slog.Info("keyserver: listening", "addr", lis.Addr().String())

	if s.ClientCAPool != nil {
		return srv.ServeTLS(lis, "", "")
	}
	return srv.Serve(lis)
}
