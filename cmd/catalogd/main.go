package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mediavault/libcatalog/internal/config"
	"github.com/mediavault/libcatalog/internal/orchestrator"
)

const bannerArt = `
   _____      _        _                 _
  / ____|    | |      | |               | |
 | |     __ _| |_ __ _| | ___   __ _  __| |
 | |    / _' | __/ _' | |/ _ \ / _' |/ _' |
 | |___| (_| | || (_| | | (_) | (_| | (_| |
  \_____\__,_|\__\__,_|_|\___/ \__, |\__,_|
                                 __/ |
                                |___/
`

// catalogd is the standalone engine binary: it loads config from the
// environment, builds the full engine (registry, store, discoverer,
// parser, cache worker, thumbnailer, scheduler), runs the startup
// migration and then serves until an interrupt, mirroring the
// config->db->workers->scheduler wiring order of CineVault's own
// cmd/cinevault/main.go.
func main() {
	log.Print(bannerArt)

	opts := config.Load()

	engine, err := orchestrator.Build(opts)
	if err != nil {
		log.Fatalf("build engine: %v", err)
	}
	defer engine.Store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result, err := engine.Init(ctx, orchestrator.DefaultMigrations())
	if err != nil {
		log.Fatalf("init engine: %v", err)
	}
	log.Printf("engine init: %s", result)

	for _, root := range os.Args[1:] {
		engine.AddRoot(root)
	}

	engine.Scheduler.Start()
	defer engine.Scheduler.Stop()

	engine.Start()
	defer engine.Close()

	log.Print("catalogd running, press ctrl-c to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Print("shutting down")
}
