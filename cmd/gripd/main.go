package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenGripCore/internal/auth"
	"github.com/KevinKickass/OpenGripCore/internal/config"
	"github.com/KevinKickass/OpenGripCore/internal/system"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/gripd.yaml", "path to the YAML config")
	hashPassword := flag.String("hash-password", "", "print the argon2id hash for auth.operator_password_hash and exit")
	newMachineToken := flag.Bool("new-machine-token", false, "print a machine token and its hash for auth.machine_token_hashes and exit")
	development := flag.Bool("dev", false, "human readable debug logging")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := auth.NewPasswordHasher().HashPassword(*hashPassword)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}
		fmt.Println(hash)
		return
	}

	if *newMachineToken {
		token, hash, err := auth.NewMachineTokenGenerator().GenerateMachineToken()
		if err != nil {
			log.Fatalf("Failed to generate machine token: %v", err)
		}
		fmt.Printf("token: %s\nhash:  %s\n", token, hash)
		return
	}

	// Logger initialisieren
	newLogger := zap.NewProduction
	if *development {
		newLogger = zap.NewDevelopment
	}
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Config laden
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Config loaded successfully", zap.String("path", *configPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Hardware-Init ist der einzige fatale Fehler
	lifecycle, err := system.NewLifecycleManager(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize gripper", zap.Error(err))
	}

	if err := lifecycle.Start(); err != nil {
		logger.Error("Failed to start system", zap.Error(err))
		shutdown(lifecycle, cfg, logger)
		os.Exit(1)
	}

	logger.Info("OpenGripCore started successfully", zap.String("device_id", lifecycle.DeviceID()))

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	if err := shutdown(lifecycle, cfg, logger); err != nil {
		os.Exit(1)
	}

	logger.Info("OpenGripCore stopped successfully")
}

func shutdown(lifecycle *system.LifecycleManager, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
