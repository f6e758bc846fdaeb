package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"cavvy/internal/changefeed"
	"cavvy/internal/config"
	"cavvy/redis"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := newRootCommand()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{"serve", "migrate", "seed", "promote"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestPromote_RequiresEmail(t *testing.T) {
	cmd := newPromoteCommand(&app{})
	assert.Error(t, cmd.Args(cmd, nil))
	assert.NoError(t, cmd.Args(cmd, []string{"admin@example.com"}))
}

func testServices(t *testing.T) (*app, *services) {
	gin.SetMode(gin.TestMode)
	a := &app{
		cfg: config.Config{Environment: "test", GenerationWorkers: 1},
		log: zerolog.Nop(),
	}
	feed := changefeed.New(nil, zerolog.Nop())
	s := a.wire(nil, redis.NewCache(nil), feed)
	t.Cleanup(func() { s.pool.Shutdown(context.Background()) })
	return a, s
}

func TestRouter_Routes(t *testing.T) {
	a, s := testServices(t)
	router := a.newRouter(s)

	routes := map[string]bool{}
	for _, r := range router.Routes() {
		routes[r.Method+" "+r.Path] = true
	}

	for _, want := range []string{
		"POST /canvases",
		"PUT /canvases/:id/sections/:section",
		"DELETE /canvases/:id/generation",
		"PUT /folders/:id/canvases/:canvasId",
		"POST /folders/sweep",
		"GET /canvas-types",
		"PUT /admin/canvas-types/:id",
		"POST /dives/:id/new-type",
		"POST /dives/:id/confirm",
		"GET /ws/changes",
	} {
		assert.True(t, routes[want], "missing route %s", want)
	}
}

func TestRouter_RequiresToken(t *testing.T) {
	a, s := testServices(t)
	router := a.newRouter(s)

	for _, path := range []string{"/canvases", "/folders", "/profile"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		require.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.JSONEq(t, `{"error":"Authorization is not found!"}`, w.Body.String())
	}
}
