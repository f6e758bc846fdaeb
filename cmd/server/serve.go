package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cavvy/internal/auth"
	"cavvy/internal/canvas"
	"cavvy/internal/catalog"
	"cavvy/internal/changefeed"
	"cavvy/internal/db"
	"cavvy/internal/dive"
	"cavvy/internal/folder"
	"cavvy/internal/generation"
	"cavvy/internal/llm"
	"cavvy/internal/logger"
	"cavvy/internal/middleware"
	"cavvy/internal/user"
	"cavvy/internal/worker"
	"cavvy/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const generationQueue = 64

func newServeCommand(a *app) *cobra.Command {
	var skipMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(skipMigrate)
		},
	}
	cmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "do not migrate and seed on startup")

	return cmd
}

// services is the wired object graph behind the router.
type services struct {
	users      *user.DefaultService
	folders    *folder.DefaultService
	canvases   *canvas.DefaultService
	catalog    catalog.Service
	generation *generation.DefaultService
	dives      *dive.DefaultService
	feed       *changefeed.Feed
	pool       *worker.Pool
}

func (a *app) wire(conn *gorm.DB, cache *redis.Cache, feed *changefeed.Feed) *services {
	log := a.log
	s := &services{feed: feed}

	s.users = user.NewService(user.NewRepository(conn))

	canvasRepo := canvas.NewRepository(conn)
	index := canvas.NewIndex(canvasRepo, logger.Component(log, "canvas-index"))
	index.Attach(feed)

	s.folders = folder.NewService(folder.NewRepository(conn), index, feed, logger.Component(log, "folder"))
	s.canvases = canvas.NewService(canvasRepo, s.folders, index, feed, cache, a.cfg.SectionSaveDebounce, logger.Component(log, "canvas"))
	s.catalog = catalog.NewService(catalog.NewRepository(conn), s.users, cache, feed, logger.Component(log, "catalog"))

	model := llm.NewClient(llm.Options{
		BaseURL: a.cfg.LLMBaseURL,
		APIKey:  a.cfg.LLMAPIKey,
		Model:   a.cfg.LLMModel,
		Timeout: a.cfg.LLMTimeout,
	})

	s.pool = worker.NewPool(a.cfg.GenerationWorkers, generationQueue, logger.Component(log, "worker"))
	s.generation = generation.NewService(model, s.canvases, s.catalog, s.pool, feed, log)

	// statuses of deleted canvases are never asked for again
	feed.Subscribe(func(change changefeed.Change) {
		if change.Collection == changefeed.Canvases && change.Kind == changefeed.Removed {
			s.generation.Forget(change.DocumentID)
		}
	})

	registry := dive.NewRegistry(cache, a.cfg.DiveSessionTTL, logger.Component(log, "dive-registry"))
	s.dives = dive.NewService(registry, model, s.catalog, s.canvases, s.generation, feed, dive.Options{
		Parallel: a.cfg.DiveParallel,
	}, log)

	return s
}

func (a *app) newRouter(s *services) *gin.Engine {
	if a.cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}
	allowOrigin := func(r *http.Request) bool { return true }
	if a.cfg.Environment == "development" {
		corsConfig.AllowOriginFunc = func(origin string) bool { return true }
	} else {
		corsConfig.AllowOrigins = []string{a.cfg.FrontendAddress}
		allowOrigin = func(r *http.Request) bool {
			return r.Header.Get("Origin") == a.cfg.FrontendAddress
		}
	}
	router.Use(cors.New(corsConfig))

	authMiddleware := middleware.Auth{UserService: s.users}
	requireAuth := authMiddleware.AuthMiddleWare()
	optionalAuth := authMiddleware.OptionalAuth()

	userHandler := user.NewHandler(s.users)
	canvasHandler := canvas.NewHandler(s.canvases, s.catalog)
	folderHandler := folder.NewHandler(s.folders)
	catalogHandler := catalog.NewHandler(s.catalog)
	generationHandler := generation.NewHandler(s.generation)
	diveHandler := dive.NewHandler(s.dives)
	streamHandler := changefeed.NewStreamHandler(s.feed, allowOrigin)

	// User routes
	router.POST("/register", userHandler.Register)
	router.POST("/login", userHandler.Login)
	router.POST("/refresh", userHandler.RefreshToken)
	router.DELETE("/logout", requireAuth, userHandler.Logout)
	router.GET("/profile", requireAuth, userHandler.GetProfile)

	canvases := router.Group("/canvases", requireAuth)
	canvases.GET("", canvasHandler.List)
	canvases.POST("", canvasHandler.Create)
	canvases.GET("/:id", canvasHandler.Show)
	canvases.PATCH("/:id", canvasHandler.UpdateMetadata)
	canvases.DELETE("/:id", canvasHandler.Delete)
	canvases.GET("/:id/children", canvasHandler.Children)
	canvases.GET("/:id/ancestors", canvasHandler.Ancestors)
	canvases.GET("/:id/save-status", canvasHandler.SaveStatus)
	canvases.PUT("/:id/sections/:section", canvasHandler.UpdateSection)
	canvases.PUT("/:id/sections/:section/qas", canvasHandler.SetQuestionAnswers)
	canvases.GET("/:id/generation", generationHandler.Show)
	canvases.DELETE("/:id/generation", generationHandler.Cancel)

	folders := router.Group("/folders", requireAuth)
	folders.GET("", folderHandler.List)
	folders.POST("", folderHandler.Create)
	folders.POST("/sweep", folderHandler.Sweep)
	folders.DELETE("/:id", folderHandler.Delete)
	folders.PUT("/:id/canvases/:canvasId", folderHandler.MoveCanvas)

	// anonymous callers see the shared catalog only
	router.GET("/canvas-types", optionalAuth, catalogHandler.ListTypes)
	router.GET("/canvas-types/:id", optionalAuth, catalogHandler.ShowType)
	router.PUT("/canvas-types/:id", requireAuth, catalogHandler.SaveCustomType)
	router.DELETE("/canvas-types/:id", requireAuth, catalogHandler.DeleteCustomType)
	router.GET("/agents", optionalAuth, catalogHandler.ListAgents)
	router.PUT("/agents/:id", requireAuth, catalogHandler.SaveCustomAgent)

	admin := router.Group("/admin", requireAuth)
	admin.PUT("/canvas-types/:id", catalogHandler.SaveSharedType)
	admin.DELETE("/canvas-types/:id", catalogHandler.DeleteSharedType)
	admin.PUT("/agents/:id", catalogHandler.SaveSharedAgent)

	dives := router.Group("/dives", requireAuth)
	dives.POST("", diveHandler.Start)
	dives.GET("/:id", diveHandler.Show)
	dives.DELETE("/:id", diveHandler.Delete)
	dives.POST("/:id/select", diveHandler.Select)
	dives.DELETE("/:id/select", diveHandler.ClearSelection)
	dives.POST("/:id/new-type", diveHandler.CreateNewType)
	dives.POST("/:id/confirm", diveHandler.Confirm)

	router.GET("/ws/changes", requireAuth, streamHandler.Stream)

	return router
}

func (a *app) serve(skipMigrate bool) error {
	log := a.log
	auth.SetSecret(a.cfg.JWTSecret)

	conn, err := db.ConnectDb(a.cfg, log)
	if err != nil {
		return err
	}
	defer db.CloseDb(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !skipMigrate {
		if err := db.Migrate(conn, log); err != nil {
			return err
		}
		if err := db.SeedData(ctx, conn, log); err != nil {
			return err
		}
	}

	client := redis.NewClient(a.cfg.RedisAddress, log)
	if client != nil {
		defer client.Close()
	}
	cache := redis.NewCache(client)

	feed := changefeed.New(client, logger.Component(log, "changefeed"))
	go func() {
		if err := feed.Run(ctx); err != nil {
			log.Error().Err(err).Msg("change feed stopped")
		}
	}()

	s := a.wire(conn, cache, feed)

	// Server configuration
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", a.cfg.ServerPort),
		Handler: a.newRouter(s).Handler(),
	}

	// Start server
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("port", a.cfg.ServerPort).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server failed to start: %w", err)
	}
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	s.pool.Shutdown(shutdownCtx)
	if err := s.canvases.Flush(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("pending section writes lost")
	}

	log.Info().Msg("Server shutdown complete")
	return nil
}
