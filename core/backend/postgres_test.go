package backend_test

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/allankoechke/mantis-sub000/core/backend"
	"github.com/allankoechke/mantis-sub000/core/client"
	"github.com/allankoechke/mantis-sub000/core/csql"
	"github.com/allankoechke/mantis-sub000/core/entity"
)

// TestPostgresBackend runs the end-to-end scenario against a real
// postgres container. It needs a docker daemon, so it only runs when
// MANTIS_TEST_POSTGRES is set.
func TestPostgresBackend(t *testing.T) {
	if os.Getenv("MANTIS_TEST_POSTGRES") == "" {
		t.Skip("set MANTIS_TEST_POSTGRES=1 to run the postgres integration test")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("mantis"),
		postgres.WithUsername("mantis"),
		postgres.WithPassword("mantis"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	db, err := csql.Open("postgres", dsn, 4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	config := backend.Defaults()
	config.DataDir = t.TempDir()
	config.JWTSecret = testSecret
	config.Database = "postgres"

	router := mux.NewRouter()
	b, err := backend.New(&backend.Builder{Config: config, DB: db, Router: router})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(b.Close)

	admins, _ := b.Entity("_admins")
	if _, err = admins.Create(ctx, entity.Record{
		"email":    "root@example.com",
		"password": "rootpass1",
	}); err != nil {
		t.Fatal(err)
	}

	c := client.NewWithRouter(router)
	status, env, err := c.Post("/api/v1/_admins/auth-with-password", map[string]string{
		"email":    "root@example.com",
		"password": "rootpass1",
	})
	if err != nil || status != http.StatusOK {
		t.Fatal("admin login failed:", status, err)
	}
	var login struct {
		Token string `json:"token"`
	}
	env.DecodeData(&login)
	admin := c.WithToken(login.Token)

	status, env, err = admin.Post("/api/v1/_tables", postsTable())
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusCreated {
		t.Fatal("table creation failed:", status, env.Error)
	}

	status, env, err = admin.Post("/api/v1/posts", map[string]interface{}{
		"title": "Hello Postgres",
		"views": 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, http.StatusCreated, status)
	var record map[string]interface{}
	env.DecodeData(&record)
	id, _ := record["id"].(string)

	status, env, _ = c.Get("/api/v1/posts/" + id)
	assert.Equal(t, http.StatusOK, status)

	status, _, _ = admin.Delete("/api/v1/posts/" + id)
	assert.Equal(t, http.StatusNoContent, status)
}
