package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-versus/auth"
	"github.com/tcriess/lightspeed-versus/config"
	"github.com/tcriess/lightspeed-versus/filter"
	"github.com/tcriess/lightspeed-versus/globals"
	"github.com/tcriess/lightspeed-versus/persistence"
	"github.com/tcriess/lightspeed-versus/registry"
	"github.com/tcriess/lightspeed-versus/session"
	"github.com/tcriess/lightspeed-versus/types"
	"github.com/tcriess/lightspeed-versus/ws"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

type roomsResponse struct {
	Connections int              `json:"connections"`
	Rooms       []types.RoomInfo `json:"rooms"`
}

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		panic(err)
	}
	var recorder session.Recorder
	if persister != nil {
		defer persister.Close()
		recorder = persister
	} else {
		globals.AppLogger.Warn("no persistence configured, matches will not be recorded")
	}

	verifier, err := auth.NewVerifier(globalConfig)
	if err != nil {
		panic(err)
	}
	scoreFilter, err := filter.NewScoreFilter(globalConfig.RoomConfig.ScoreFilter)
	if err != nil {
		panic(err)
	}

	reg := registry.New()
	hub := ws.NewHub(globalConfig.RoomConfig.SweepSpec)
	coordinator := session.NewCoordinator(reg, hub, recorder, session.Options{
		RecordTimeout:      globalConfig.PersistenceConfig.RecordTimeout,
		RoomTTL:            globalConfig.RoomConfig.TTL,
		EnforceHostActions: globalConfig.RoomConfig.EnforceHostActions,
		ScoreFilter:        scoreFilter,
	})

	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx, coordinator)
	}()

	srv := &http.Server{
		Addr:    globalConfig.Addr(),
		Handler: setupRoutes(ws.NewServer(hub, verifier, globalConfig.AllowedOrigins), hub, reg),
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-c
		globals.AppLogger.Info("shutting down", "signal", sig.String())
		cancel()
		<-hubDone
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			globals.AppLogger.Error("could not shut down http server", "error", err)
		}
	}()

	// start HTTP server
	globals.AppLogger.Info("listening", "addr", srv.Addr, "auth", globalConfig.AuthConfig.Policy, "persistence", globalConfig.PersistenceConfig.Type)
	if globalConfig.SSLCert != "" && globalConfig.SSLKey != "" {
		err = srv.ListenAndServeTLS(globalConfig.SSLCert, globalConfig.SSLKey)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		globals.AppLogger.Error("stopped listening", "error", err)
	}
	cancel()
	<-hubDone
	coordinator.Wait()
	globals.AppLogger.Info("bye")
}

func setupRoutes(socket http.Handler, hub *ws.Hub, reg *registry.Registry) http.Handler {
	router := mux.NewRouter()
	router.Handle("/socket", socket).Methods(http.MethodGet)
	router.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(roomsResponse{Connections: hub.NoClients(), Rooms: reg.Snapshot()})
		if err != nil {
			globals.AppLogger.Error("could not encode rooms", "error", err)
		}
	}).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return router
}
