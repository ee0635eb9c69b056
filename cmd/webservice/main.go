package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ohowland/cgc_powerflow/internal/pkg/root"
	"github.com/ohowland/cgc_powerflow/internal/pkg/webservice"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Println("[Main] .env:", err)
	}
	configPath := flag.String("config", os.Getenv("CGCPF_WEBSERVICE_CONFIG"), "webservice configuration file")
	flag.Parse()

	cfg := webservice.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = webservice.ReadConfig(*configPath); err != nil {
			log.Fatalln("[Main]", err)
		}
	}
	if addr, ok := os.LookupEnv("CGCPF_ADDR"); ok {
		cfg.Addr = addr
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	system := root.NewSystem()
	if err := system.AttachFromEnv(); err != nil {
		log.Fatalln("[Main]", err)
	}
	system.Start()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           webservice.NewServer(cfg, system.Publisher(), system.Store()).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Println("[Main] Starting Server on", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Println("[Main]", err)
			sigs <- syscall.SIGTERM
		}
	}()

	<-sigs
	log.Println("[Main] Stopping server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Println("[Main]", err)
	}
	system.Stop()
}
