package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/amend/pkg/api"
	"github.com/lemonberrylabs/amend/pkg/store"
	"github.com/lemonberrylabs/amend/pkg/ui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the script API over HTTP",
	Args:  cobra.NoArgs,
	RunE:  serve,
}

func init() {
	serveCmd.Flags().Int("port", 0, "HTTP server port (default 8789, env PORT)")
	serveCmd.Flags().String("host", "", "Bind address (default 0.0.0.0, env HOST)")
	serveCmd.Flags().String("scripts-dir", "", "Directory of update scripts to preload (env SCRIPTS_DIR)")
}

func serve(cmd *cobra.Command, args []string) error {
	output := &ui.Recorder{}
	dev, err := openDevice(cmd, output)
	if err != nil {
		return err
	}
	defer dev.Close()

	cfg := dev.cfg
	cfg.ApplyEnv()
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		cfg.Server.Port = v
	}
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		cfg.Server.Host = v
	}

	scriptsDir := os.Getenv("SCRIPTS_DIR")
	if v, _ := cmd.Flags().GetString("scripts-dir"); v != "" {
		scriptsDir = v
	}

	server := api.New(api.Options{
		Registry:    dev.reg,
		Permissions: dev.ctx.Permissions,
		Store:       store.New(),
		Output:      output,
	})

	if scriptsDir != "" {
		if err := server.LoadDir(scriptsDir); err != nil {
			log.Printf("Warning: failed to load scripts directory: %v", err)
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down amend server...")
		if err := server.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	log.Printf("amend listening on %s (%d roots)", cfg.Server.Addr(), len(cfg.Roots))
	if cfg.Package != "" {
		log.Printf("Update package: %s", cfg.Package)
	}
	return server.Listen(cfg.Server.Addr())
}
