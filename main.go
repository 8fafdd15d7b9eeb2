package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"orion/internal/config"
	"orion/internal/datagram"
	"orion/internal/httpapi"
	"orion/internal/lobby"
	"orion/internal/mediator"
	"orion/internal/router"
	"orion/internal/session"
	"orion/internal/wsserver"
)

func main() {
	cfg := config.Load(os.Args[1:])

	sessions := session.NewRegistry()
	lobbies := lobby.NewRegistry()

	udp, err := datagram.Listen(cfg.UDPAddr, sessions, lobbies)
	if err != nil {
		log.Fatalf("[datagram] %v", err)
	}
	defer udp.Close()

	udpPort := udpListenPort(cfg.UDPAddr)
	mediatorCfg := mediator.Config{
		ReminderInterval: cfg.ReminderInterval,
		CaptureTimeout:   cfg.CaptureTimeout,
		ConnectTimeout:   cfg.ConnectTimeout,
	}
	lobbies.SetMediatorFactory(func(l *lobby.Lobby, reg *lobby.Registry) lobby.MediatorHandle {
		return mediator.New(l, reg, udpPort, mediatorCfg)
	})

	r := router.New(sessions, lobbies)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			log.Printf("[http] %s %s %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = httpapi.JSONErrorHandler

	httpapi.New(r).Register(e)
	wsserver.New(sessions, lobbies, r).Register(e)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[main] shutting down...")
		cancel()
	}()

	go RunMetrics(ctx, sessions, lobbies, 30*time.Second)
	go udp.Run()

	go func() {
		if err := e.Start(cfg.HTTPAddr); err != nil {
			log.Printf("[http] server stopped: %v", err)
		}
	}()
	log.Printf("[main] listening: http=%s udp=%s", cfg.HTTPAddr, cfg.UDPAddr)

	<-ctx.Done()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	if err := e.Shutdown(shutCtx); err != nil {
		log.Printf("[main] http shutdown error: %v", err)
	}
	sessions.Shutdown()
	lobbies.Shutdown()
}

// udpListenPort extracts the numeric port from an addr of the form
// ":5990" or "host:5990", which is what members are told to target in
// ptpMediation_send (spec.md §4.4).
func udpListenPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
