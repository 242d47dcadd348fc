package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/api"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/auth"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/bookview"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/config"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/db"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/exchange"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/fees"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/memdb"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/models"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/notify"
	"github.com/Amir-Abdullah013/bitnex-global-website-sub001/internal/settlement"
)

// backend is everything the core needs from a store. Satisfied by both the
// Postgres store and the in-memory dev store.
type backend interface {
	exchange.OrderRepository
	exchange.BalanceReader
	exchange.PriceSource
	settlement.Store
	fees.Source
	auth.UserStore
	api.Store
	bookview.TradeReader
	SetFeeSchedule(ctx context.Context, s models.FeeSchedule) error
	Deposit(ctx context.Context, userID int64, quote, base decimal.Decimal) error
}

// memBackend adapts memdb's context-free setters to the backend interface.
type memBackend struct {
	*memdb.Store
}

func (m memBackend) SetFeeSchedule(ctx context.Context, s models.FeeSchedule) error {
	m.Store.SetFeeSchedule(s)
	return nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dev-friendly; tighten behind a gateway
	},
}

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type wsHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]bool
	log     *logrus.Entry
}

func newWSHub(log *logrus.Entry) *wsHub {
	return &wsHub{clients: make(map[*wsClient]bool), log: log}
}

func (h *wsHub) broadcast(data []byte) {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			c.conn.Close()
		}
	}
}

func (h *wsHub) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.mu.Lock()
			delete(h.clients, client)
			h.mu.Unlock()
			conn.Close()
			return
		}
	}
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	log := logrus.WithField("service", "exchange-core")

	var store backend
	if cfg.DevMode {
		log.Warn("running with in-memory store; all state is lost on exit")
		store = memBackend{memdb.New()}
	} else {
		database, err := db.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to database")
		}
		defer database.Close()
		if err := database.Migrate(ctx); err != nil {
			log.WithError(err).Fatal("failed to migrate database")
		}
		store = database
	}

	if err := store.SetFeeSchedule(ctx, models.FeeSchedule{
		MakerRatePct: cfg.MakerFeePct,
		TakerRatePct: cfg.TakerFeePct,
	}); err != nil {
		log.WithError(err).Fatal("failed to install fee schedule")
	}

	coordinator := settlement.NewCoordinator(store, store, cfg.FeeAccountID, log)
	engine := exchange.NewEngine(store, store, store, coordinator, log)
	if err := engine.Restore(ctx); err != nil {
		log.WithError(err).Fatal("failed to restore order book")
	}

	var cache bookview.Cache
	if cfg.RedisAddr != "" {
		rc, err := bookview.NewRedisCache(ctx, cfg.RedisAddr, log)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		defer rc.Close()
		cache = rc
	}
	view := bookview.New(engine, store, cache, log)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQP(cfg.AMQPURL, "trades", log)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to amqp")
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
	}

	hub := newWSHub(log)
	broadcastBook := func() {
		snap, err := view.Snapshot(ctx, 20)
		if err != nil {
			log.WithError(err).Warn("failed to snapshot book for broadcast")
			return
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return
		}
		hub.broadcast(data)
	}

	engine.OnTrade(func(t models.Trade) {
		view.Invalidate(ctx)
		notifier.TradeExecuted(ctx, t)
		broadcastBook()
	})

	authService := auth.NewAuthService(store, cfg.JWTSecret, cfg.TokenTTL)
	handler := api.NewHandler(engine, store, view, authService, log)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Get("/ws", hub.handle)
	handler.Routes(r)

	// Periodic broadcast keeps idle clients fresh even without trades.
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			broadcastBook()
		}
	}()

	log.WithField("addr", cfg.Addr).Info("starting server")
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}
