package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/eren/reddilite/internal/auth"
	"github.com/eren/reddilite/internal/config"
	"github.com/eren/reddilite/internal/message"
	"github.com/eren/reddilite/internal/middleware"
	"github.com/eren/reddilite/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	// ── PostgreSQL ────────────────────────────────────────────
	pgPool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("postgres connect: %v", err)
	}
	defer pgPool.Close()
	pgStore := store.NewPostgresStore(pgPool)
	if err := pgStore.Migrate(ctx); err != nil {
		log.Fatalf("postgres migrate: %v", err)
	}

	// ── MongoDB ──────────────────────────────────────────────
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("mongo connect: %v", err)
	}
	defer mongoClient.Disconnect(ctx)
	mongoDB := mongoClient.Database(cfg.MongoDB)
	mongoStore := store.NewMongoStore(mongoDB)

	// ── Redis ────────────────────────────────────────────────
	rdb, err := store.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatalf("redis connect: %v", err)
	}
	defer rdb.Close()
	denylist := auth.NewDenylist(rdb)

	// ── MinIO ────────────────────────────────────────────────
	minioStore, err := store.NewMinioStore(
		ctx, cfg.MinioEndpoint, cfg.MinioAccessKey,
		cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL,
	)
	if err != nil {
		log.Fatalf("minio connect: %v", err)
	}

	// ── AI client ────────────────────────────────────────────
	aiClient := message.NewAIClient(cfg.AIServiceURL, cfg.AITimeout)

	// ── Auth ─────────────────────────────────────────────────
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.TokenTTL)
	verifier := auth.NewVerifier(tokens, denylist)
	requireAuth := middleware.RequireAuth(verifier)

	// ── Handlers ─────────────────────────────────────────────
	authHandler := auth.NewHandler(pgStore, tokens, denylist, cfg.BcryptCost)
	messageHandler := message.NewHandler(mongoStore, mongoStore, minioStore, aiClient)

	// ── Router ───────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Auth routes
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.With(requireAuth).Post("/logout", authHandler.Logout)
		r.With(requireAuth).Get("/me", authHandler.Me)
	})

	// Message routes; reads are public, mutations require a valid token.
	r.Route("/api/messages", func(r chi.Router) {
		r.Get("/", messageHandler.List)
		r.With(requireAuth).Post("/", messageHandler.Create)
		r.With(requireAuth).Delete("/comments/{id}", messageHandler.DeleteComment)
		r.Get("/{id}/summarize", messageHandler.Summarize)
		r.Get("/{id}/comments", messageHandler.ListComments)
		r.With(requireAuth).Post("/{id}/comments", messageHandler.AddComment)
		r.With(requireAuth).Post("/{id}/vote", messageHandler.Vote)
		r.With(requireAuth).Put("/{id}", messageHandler.Update)
		r.With(requireAuth).Delete("/{id}", messageHandler.Delete)
	})

	// Image upload/serving
	r.With(requireAuth).Post("/api/uploads", messageHandler.UploadImage)
	r.Get("/api/images/{key}", messageHandler.GetImage)

	// ── Server ───────────────────────────────────────────────
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Printf("Backend listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	shutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	srv.Shutdown(shutCtx)
}
