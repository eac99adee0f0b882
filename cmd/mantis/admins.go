package main

import (
	"context"
	"fmt"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/allankoechke/mantis-sub000/core/backend"
	"github.com/allankoechke/mantis-sub000/core/entity"
	"github.com/allankoechke/mantis-sub000/core/logger"
	"github.com/allankoechke/mantis-sub000/core/validation"

	"github.com/gorilla/mux"
)

var (
	adminAdd string
	adminRm  string
)

var adminsCmd = &cobra.Command{
	Use:   "admins",
	Short: "manage admin accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if adminAdd == "" && adminRm == "" {
			return cmd.Help()
		}

		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		b, err := backend.New(&backend.Builder{
			Config: config,
			DB:     db,
			Router: mux.NewRouter(),
		})
		if err != nil {
			return err
		}
		defer b.Close()

		admins, _ := b.Entity("_admins")
		if adminAdd != "" {
			return addAdmin(admins, adminAdd)
		}
		return removeAdmin(admins, adminRm)
	},
}

func addAdmin(admins *entity.Entity, email string) error {
	email = strings.TrimSpace(email)
	if err := validation.Preset("@email", email); err != nil {
		return err
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("cannot read password: %v", err)
	}
	if err = validation.Preset("@password", string(password)); err != nil {
		return err
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("cannot read password: %v", err)
	}
	if string(password) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}

	record, err := admins.Create(context.Background(), entity.Record{
		"email":    email,
		"password": string(password),
	})
	if err != nil {
		return err
	}
	logger.Default().Infof("admin '%s' created with id %v", email, record["id"])
	return nil
}

// removeAdmin accepts either the record id or the email address.
func removeAdmin(admins *entity.Entity, idOrEmail string) error {
	ctx := context.Background()
	record, err := admins.QueryFromCols(ctx, strings.TrimSpace(idOrEmail), []string{"id", "email"})
	if err != nil {
		return fmt.Errorf("no admin matches '%s'", idOrEmail)
	}
	id, _ := record["id"].(string)
	if err = admins.Remove(ctx, id); err != nil {
		return err
	}
	logger.Default().Infof("admin %s removed", id)
	return nil
}

func init() {
	flags := adminsCmd.Flags()
	flags.StringVar(&adminAdd, "add", "", "create an admin account for the given email")
	flags.StringVar(&adminRm, "rm", "", "remove the admin with the given id or email")
	adminsCmd.MarkFlagsMutuallyExclusive("add", "rm")
	rootCmd.AddCommand(adminsCmd)
}
