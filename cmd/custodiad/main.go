package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/custodia-dev/custodia/internal/api"
	"github.com/custodia-dev/custodia/internal/config"
	"github.com/custodia-dev/custodia/internal/engine"
	"github.com/custodia-dev/custodia/internal/logging"
	"github.com/custodia-dev/custodia/internal/server"
	"github.com/custodia-dev/custodia/internal/vault"
)

func main() {
	configPath := flag.String("config", "custodiad.toml", "path to the daemon config file")
	flag.Parse()

	log := logging.Init("custodiad")
	log.Info().Msg("starting Custodia daemon")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	masterKey, err := cfg.MasterKeyBytes()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid master key")
	}

	persister, err := engine.NewPersistence(cfg.DataDir, masterKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize persistence")
	}

	records, err := persister.LoadAll()
	if err != nil {
		log.Warn().Err(err).Msg("could not load existing records")
	}

	eng := engine.NewEngine(records, persister, engine.Options{Logger: log})
	log.Info().Int("records", len(records)).Msg("engine started")

	resolver := vault.SignerResolver{Trusted: cfg.TrustAsserted}
	if cfg.TrustAsserted {
		log.Warn().Msg("TRUSTED MODE: asserted signers are accepted without signature proofs")
	}

	router := server.NewRouter(eng, resolver)
	if !cfg.DisableTLS {
		cert, err := vault.GenerateSelfSignedCert()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to generate TLS certificate")
		}
		router.SetCertificate(cert)
		log.Info().Msg("TLS encryption enabled")
	} else {
		log.Info().Msg("TLS encryption disabled")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()
	h := &api.Handler{Engine: eng, Resolver: resolver}
	api.Register(r.Group("/api"), h)

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("HTTP management API listening")
		if err := r.Run(":" + cfg.HTTPPort); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("shutdown signal received, finalizing disk writes")
		eng.Wait()
		log.Info().Msg("persistence complete, exiting")
		os.Exit(0)
	}()

	log.Info().Str("port", cfg.Port).Msg("Custodia engine listening (TCP)")
	if err := router.Listen(cfg.Port); err != nil {
		select {
		case <-sigChan:
		default:
			log.Fatal().Err(err).Msg("TCP server failed")
		}
	}
}
