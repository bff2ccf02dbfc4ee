package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/promptcraft/internal/api/handlers"
	"github.com/nikhilbhutani/promptcraft/internal/api/middleware"
	"github.com/nikhilbhutani/promptcraft/internal/audit"
	"github.com/nikhilbhutani/promptcraft/internal/auth"
	"github.com/nikhilbhutani/promptcraft/internal/cache"
	"github.com/nikhilbhutani/promptcraft/internal/chain"
	"github.com/nikhilbhutani/promptcraft/internal/config"
	"github.com/nikhilbhutani/promptcraft/internal/eval"
	"github.com/nikhilbhutani/promptcraft/internal/generation"
	"github.com/nikhilbhutani/promptcraft/internal/llm"
	"github.com/nikhilbhutani/promptcraft/internal/prompt"
	"github.com/nikhilbhutani/promptcraft/internal/queue"
)

const cachePrefix = "promptcraft:"

// Deps are the optional backends. Any of them may be nil; the routes that
// need a missing one answer 503 and everything else keeps working.
type Deps struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
	Queue *queue.Client
}

type Router struct {
	mux   *chi.Mux
	cfg   *config.Config
	deps  Deps
	jwt   *auth.JWTMiddleware
	llmGW llm.Gateway
	rl    *middleware.RateLimiter
	done  chan struct{}

	recorder *audit.Recorder
	auditSvc *audit.Service
}

func NewRouter(cfg *config.Config, deps Deps) *Router {
	rt := &Router{
		mux:  chi.NewRouter(),
		cfg:  cfg,
		deps: deps,
		jwt:  auth.NewJWTMiddleware(cfg.Auth.JWTSecret, cfg.Auth.SupabaseURL),
		rl:   middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		done: make(chan struct{}),
	}

	var store audit.Store
	if deps.DB != nil {
		rt.auditSvc = audit.NewService(deps.DB)
		store = rt.auditSvc
	}
	var enq audit.Enqueuer
	if deps.Queue != nil {
		enq = deps.Queue
	}
	rt.recorder = audit.NewRecorder(store, enq)

	var opts []llm.GatewayOption
	if rt.recorder.Enabled() {
		opts = append(opts, llm.WithUsageRecorder(rt.recorder))
	}
	rt.llmGW = llm.NewGateway(cfg.LLM, opts...)
	return rt
}

// Close stops background work started by Setup.
func (rt *Router) Close() {
	select {
	case <-rt.done:
	default:
		close(rt.done)
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.AllowedOrigins))
	go rt.rl.Run(rt.done)
	r.Use(rt.rl.Limit)

	health := handlers.NewHealthHandler(rt.pingers())
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	var genOpts []generation.Option
	if rt.deps.Redis != nil {
		genOpts = append(genOpts, generation.WithCache(cache.NewCache(rt.deps.Redis, cachePrefix), rt.cfg.LLM.CacheTTL))
	}
	genSvc := generation.NewService(rt.llmGW, rt.cfg.LLM, genOpts...)
	executor := chain.NewExecutor(rt.llmGW, rt.cfg.LLM.OpenAIModel)
	runner := eval.NewRunner(genSvc, rt.cfg.LLM.MaxParallelTests)

	var sessions handlers.SessionRecorder
	if rt.recorder.Enabled() {
		sessions = rt.recorder
	}
	var prompts handlers.PromptStore
	var history handlers.HistoryStore
	if rt.deps.DB != nil {
		prompts = prompt.NewService(rt.deps.DB)
		history = rt.auditSvc
	}

	genH := handlers.NewGenerationHandler(genSvc)
	chainH := handlers.NewChainHandler(executor)
	evalH := handlers.NewEvalHandler(runner, sessions)
	llmH := handlers.NewLLMHandler(rt.llmGW)
	promptH := handlers.NewPromptHandler(prompts)
	historyH := handlers.NewHistoryHandler(history)

	// Anonymous callers may use every generation route; a valid token only
	// attributes usage and test sessions to the user.
	r.Group(func(r chi.Router) {
		r.Use(rt.jwt.Optional)

		r.Post("/generate-prompt", genH.GeneratePrompt)
		r.Post("/generate-prompt-chain", genH.GenerateChain)
		r.Post("/improve-prompt", genH.ImprovePrompt)
		r.Post("/optimize-prompt", genH.OptimizePrompt)
		r.Post("/test-prompt", genH.TestPrompt)
		r.Post("/run-prompt-chain", chainH.RunChain)
		r.Post("/test-prompt-models", evalH.TestModels)
		r.Get("/models", llmH.Models)
	})

	r.Group(func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)

		r.Route("/prompts", func(r chi.Router) {
			r.Post("/", promptH.Create)
			r.Get("/", promptH.List)
			r.Get("/{id}", promptH.Get)
			r.Delete("/{id}", promptH.Delete)
			r.Post("/{id}/versions", promptH.CreateVersion)
			r.Get("/{id}/lineage", promptH.Lineage)
			r.Post("/{id}/render", promptH.RenderPrompt)
		})
		r.Get("/test-sessions", historyH.TestSessions)
		r.Get("/usage", historyH.Usage)
	})

	return r
}

func (rt *Router) pingers() map[string]handlers.Pinger {
	deps := map[string]handlers.Pinger{}
	if rt.deps.DB != nil {
		deps["database"] = rt.deps.DB
	}
	if rt.deps.Redis != nil {
		rdb := rt.deps.Redis
		deps["redis"] = handlers.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	return deps
}
