// Package main provides the HelixDB CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/helixdb/pkg/config"
	"github.com/orneryd/helixdb/pkg/helix"
	"github.com/orneryd/helixdb/pkg/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "helixdb",
		Short: "HelixDB - embedded graph + vector database",
		Long: `HelixDB stores labelled nodes and edges alongside HNSW-indexed
vectors in one transactional environment, and serves compiled traversal
queries over HTTP.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("HelixDB v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HelixDB gateway",
		RunE:  runServe,
	}
	serveCmd.Flags().String("config", "helixdb.yaml", "Config file path")
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	serveCmd.Flags().Int("http-port", 0, "HTTP port (overrides config)")
	rootCmd.AddCommand(serveCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Initialise a new database directory",
		RunE:  runInit,
	}
	initCmd.Flags().String("config", "helixdb.yaml", "Config file path")
	initCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.AddCommand(initCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print table counts for a database directory",
		RunE:  runStats,
	}
	statsCmd.Flags().String("config", "helixdb.yaml", "Config file path")
	statsCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	rootCmd.AddCommand(statsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if cmd.Flags().Lookup("http-port") != nil {
		if port, _ := cmd.Flags().GetInt("http-port"); port != 0 {
			cfg.Server.Port = port
		}
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := helix.Open(cfg.DataDir, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	srv, err := server.New(db, cfg)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := helix.Open(cfg.DataDir, cfg)
	if err != nil {
		return err
	}
	if err := db.Close(); err != nil {
		return err
	}
	fmt.Printf("initialised database at %s\n", cfg.DataDir)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := helix.Open(cfg.DataDir, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	txn := db.Storage.BeginRo()
	defer txn.Rollback()
	stats, err := db.Storage.GetDBStats(txn)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
