package main

import (
	"fmt"
	"log"

	"reactor-lab/internal/config"
	"reactor-lab/internal/db"
	"reactor-lab/internal/router"
	"reactor-lab/internal/service"
)

func main() {
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := db.InitDB(cfg); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	svcCtx := service.NewServiceContext(cfg)

	r := router.SetupRouter(svcCtx)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("server listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
