// Package decoy serves the fake e-commerce API. Unlike the honeypots it is
// plain HTTP routing on net/http: its job is to look like a sloppy internal
// service, leak believable fake credentials, and report who came looking.
package decoy

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/decoynet/decoyd/internal/event"
	"github.com/decoynet/decoyd/internal/metrics"
	"github.com/decoynet/decoyd/internal/session"
)

// Product is one entry of the fake catalog.
type Product struct {
	ID    int     `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

var products = []Product{
	{ID: 1, Name: "Laptop Pro", Price: 999.99, Stock: 50},
	{ID: 2, Name: "Smartphone X", Price: 699.99, Stock: 100},
	{ID: 3, Name: "Tablet Air", Price: 499.99, Stock: 75},
	{ID: 4, Name: "Wireless Earbuds", Price: 149.99, Stock: 200},
}

// searchPatterns is the deliberately coarse substring set applied to the
// search endpoint's q field.
var searchPatterns = []string{"union", "select", "drop", "delete", "--", "or 1=1"}

// API is the decoy e-commerce service.
type API struct {
	Sink     *event.Sink
	Counters *metrics.Counters
	Log      zerolog.Logger
}

// Router assembles the chi routing tree.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
	}))
	r.Use(a.accessLog)

	r.Get("/api/products", a.listProducts)
	r.Get("/api/products/{id}", a.getProduct)
	r.Get("/api/health", a.health)
	r.Get("/api/config", a.config)
	r.Post("/api/login", a.login)
	r.Post("/api/search", a.search)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		a.sendJSON(w, http.StatusNotFound, map[string]any{"error": "Not found"})
	})

	return r
}

// ListenAndServe runs the API until ctx is cancelled.
func (a *API) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      a.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.Log.Info().Str("addr", addr).Msg("decoy API listening")
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.Counters.TotalRequests.Add(1)
		a.Log.Info().
			Str("client", clientIP(r)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request")
		next.ServeHTTP(w, r)
	})
}

func (a *API) listProducts(w http.ResponseWriter, r *http.Request) {
	a.sendJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		a.sendJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid product ID"})
		return
	}
	for _, p := range products {
		if p.ID == id {
			a.sendJSON(w, http.StatusOK, p)
			return
		}
	}
	a.sendJSON(w, http.StatusNotFound, map[string]any{"error": "Product not found"})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	a.sendJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

// config is the honey endpoint: it always answers with fake database
// credentials and reports the access.
func (a *API) config(w http.ResponseWriter, r *http.Request) {
	a.Counters.AttacksDetected.Add(1)
	a.emit(r, event.TypeSuspiciousAccess, map[string]any{"path": r.URL.Path})
	a.Log.Warn().Str("client", clientIP(r)).Str("path", r.URL.Path).Msg("suspicious access")

	a.sendJSON(w, http.StatusOK, map[string]any{
		"db_host": "db.internal.local",
		"db_user": "app_user",
		"db_name": "ecommerce",
		"api_key": "sk-fake-api-key-12345",
	})
}

// login records the submitted username and always fails.
func (a *API) login(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	creds := parseCredentials(body)

	a.emit(r, event.TypeLoginAttempt, map[string]any{"username": creds["username"]})
	a.Log.Warn().Str("client", clientIP(r)).Str("username", creds["username"]).Msg("login attempt")

	a.sendJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid credentials"})
}

// search inspects the q field with the coarse substring set.
func (a *API) search(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Q string `json:"q"`
	}
	_ = json.Unmarshal([]byte(readBody(r)), &payload)

	query := payload.Q
	a.emit(r, event.TypeSearchQuery, map[string]any{"query": truncate(query, event.MaxQueryLen)})

	lowered := strings.ToLower(query)
	for _, p := range searchPatterns {
		if strings.Contains(lowered, p) {
			a.Counters.InjectionsDetected.Add(1)
			a.emit(r, event.TypeSuspiciousAccess, map[string]any{
				"attack": "sql_injection",
				"query":  truncate(query, event.MaxQueryLen),
			})
			a.Log.Warn().Str("client", clientIP(r)).Str("query", truncate(query, event.MaxQueryLen)).Msg("sql injection attempt")
			break
		}
	}

	a.sendJSON(w, http.StatusOK, map[string]any{"results": []any{}})
}

func (a *API) emit(r *http.Request, t event.Type, detail map[string]any) {
	ip, port := remoteEndpoint(r)
	a.Sink.Emit(&event.Notice{
		Meta:   event.NewMeta(t, ip, port, session.DeriveID(ip, port, time.Now().UTC())),
		Detail: detail,
	})
}

func (a *API) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Log.Debug().Err(err).Msg("response write failed")
	}
}

// parseCredentials accepts either a JSON object or a form-encoded body.
func parseCredentials(body string) map[string]string {
	out := map[string]string{}
	if strings.HasPrefix(body, "{") {
		var m map[string]any
		if json.Unmarshal([]byte(body), &m) == nil {
			for k, v := range m {
				if s, ok := v.(string); ok {
					out[k] = s
				}
			}
			return out
		}
	}
	for _, pair := range strings.Split(body, "&") {
		if k, v, ok := strings.Cut(pair, "="); ok {
			out[k] = v
		}
	}
	return out
}

func readBody(r *http.Request) string {
	b, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	return string(b)
}

func clientIP(r *http.Request) string {
	ip, _, _ := net.SplitHostPort(r.RemoteAddr)
	if ip == "" {
		return r.RemoteAddr
	}
	return ip
}

func remoteEndpoint(r *http.Request) (string, int) {
	host, portStr, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
