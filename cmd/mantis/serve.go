package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"

	"github.com/allankoechke/mantis-sub000/core/backend"
	"github.com/allankoechke/mantis-sub000/core/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		router := mux.NewRouter()
		b, err := backend.New(&backend.Builder{
			Config: config,
			DB:     db,
			Router: router,
		})
		if err != nil {
			return err
		}
		defer b.Close()

		addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
		logger.Default().Infof("mantis listening on http://%s", addr)
		logger.Default().Infof("admin dashboard at http://%s/admin", addr)

		server := &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
		return server.ListenAndServe()
	},
}

func init() {
	flags := serveCmd.Flags()
	flags.StringVar(&config.Host, "host", config.Host, "listen address")
	flags.IntVar(&config.Port, "port", config.Port, "listen port")
	flags.IntVar(&config.PoolSize, "poolSize", config.PoolSize, "database connection pool size")
	rootCmd.AddCommand(serveCmd)
}
