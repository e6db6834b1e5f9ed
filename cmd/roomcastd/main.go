// Command roomcastd runs a standalone roomcast server: websocket endpoint,
// metrics endpoint and optional MongoDB-backed message history.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/roomcast/roomcast"
	"github.com/roomcast/roomcast/config"
	"github.com/roomcast/roomcast/history"
	"github.com/roomcast/roomcast/logging"
	"github.com/roomcast/roomcast/metrics"
	"github.com/roomcast/roomcast/transport"
)

// chatMessage is the payload of the built-in chat-message event.
type chatMessage struct {
	Room string `json:"room" validate:"required"`
	Text string `json:"text" validate:"required,max=4096"`
}

// roomRequest is the payload of the built-in join/leave events.
type roomRequest struct {
	Room string `json:"room"`
	With string `json:"with"`
}

func main() {
	configPath := flag.String("config", "", "directory containing roomcast.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Init(logging.ParseLevel("info")).Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logging.Init(logging.ParseLevel(cfg.Log.Level))

	if cfg.Metrics.Enabled {
		metrics.StartServer(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store history.Store
	if cfg.Mongo.Enabled {
		mongoStore, err := history.NewMongoStore(ctx, history.MongoConfig{
			URI:              cfg.Mongo.URI,
			Database:         cfg.Mongo.Database,
			Collection:       cfg.Mongo.Collection,
			OperationTimeout: time.Duration(cfg.Mongo.OperationTimeout) * time.Second,
			MinPoolSize:      cfg.Mongo.MinPoolSize,
			MaxPoolSize:      cfg.Mongo.MaxPoolSize,
		}, log)
		if err != nil {
			log.Error("history store unavailable", "error", err)
			os.Exit(1)
		}
		store = mongoStore
	} else {
		store = history.NewMemoryStore(1000)
	}

	var policy roomcast.DefaultPolicy
	if cfg.Router.DefaultPolicy == "drop" {
		policy = roomcast.DropPolicy()
	} else {
		policy = roomcast.RebroadcastPolicy(cfg.Router.IncludeSelf)
	}

	hub := roomcast.NewHub(&roomcast.Options{
		Capacity:       cfg.Server.Capacity,
		HandlerTimeout: time.Duration(cfg.Router.HandlerTimeout) * time.Millisecond,
		DefaultPolicy:  policy,
		PersistEvents:  cfg.Router.PersistEvents,
		History:        store,
		Transport: &transport.Config{
			PingInterval:   time.Duration(cfg.Transport.PingInterval) * time.Second,
			PongTimeout:    time.Duration(cfg.Transport.PongTimeout) * time.Second,
			WriteTimeout:   time.Duration(cfg.Transport.WriteTimeout) * time.Second,
			MaxMessageSize: int64(cfg.Transport.MaxMessageSize),
			SendBuffer:     cfg.Transport.SendBuffer,
		},
		Logger: log,
	})

	registerBuiltins(hub)

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Path, hub)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	go func() {
		log.Info("roomcastd listening", "addr", cfg.Server.Addr, "path", cfg.Server.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = hub.Close()
	_ = store.Close(shutdownCtx)
}

// registerBuiltins wires the stock chat protocol: join/leave room
// management, pair rooms derived from two identities, and room-scoped chat
// messages that land in history.
func registerBuiltins(hub *roomcast.Hub) {
	hub.Schema("chat-message", func() interface{} { return &chatMessage{} })

	hub.OnEvent("join", func(ctx context.Context, sender *roomcast.Session, payload json.RawMessage) ([]roomcast.Outbound, error) {
		var req roomRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}

		room := roomcast.RoomID(req.Room)
		if req.With != "" {
			// Private pairing: both sides derive the same room.
			room = roomcast.DeriveRoomID(sender.Identity(), req.With)
		}
		if room == "" {
			return nil, nil
		}

		if err := hub.Join(sender.ID(), room); err != nil {
			return nil, err
		}

		notice := map[string]string{"session": string(sender.ID()), "room": string(room)}
		return []roomcast.Outbound{
			roomcast.ToRoom(room, "user-joined", notice).ExceptSender(sender.ID()),
			roomcast.ToSession(sender.ID(), "joined", notice),
		}, nil
	})

	hub.OnEvent("leave", func(ctx context.Context, sender *roomcast.Session, payload json.RawMessage) ([]roomcast.Outbound, error) {
		var req roomRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}

		room := roomcast.RoomID(req.Room)
		if err := hub.Leave(sender.ID(), room); err != nil {
			return nil, err
		}

		notice := map[string]string{"session": string(sender.ID()), "room": string(room)}
		return []roomcast.Outbound{
			roomcast.ToRoom(room, "user-left", notice),
		}, nil
	})

	hub.OnEvent("chat-message", func(ctx context.Context, sender *roomcast.Session, payload json.RawMessage) ([]roomcast.Outbound, error) {
		var msg chatMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, err
		}

		out := roomcast.ToRoom(roomcast.RoomID(msg.Room), "chat-message", msg).ExceptSender(sender.ID())
		return []roomcast.Outbound{out}, nil
	})

	hub.OnEvent("identify", func(ctx context.Context, sender *roomcast.Session, payload json.RawMessage) ([]roomcast.Outbound, error) {
		// Identity normally arrives from the external auth handshake; this
		// event exists for deployments that front their own auth.
		var req struct {
			Identity string `json:"identity"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		sender.SetIdentity(req.Identity)
		return nil, nil
	})
}
