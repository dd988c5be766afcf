package tether

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aretw0/tether/internal/adapters/file"
	transport "github.com/aretw0/tether/internal/adapters/http"
	"github.com/aretw0/tether/internal/config"
	"github.com/aretw0/tether/internal/logging"
	"github.com/aretw0/tether/pkg/adapters/memory"
	"github.com/aretw0/tether/pkg/adapters/process"
	"github.com/aretw0/tether/pkg/adapters/redis"
	"github.com/aretw0/tether/pkg/dialogue"
	"github.com/aretw0/tether/pkg/domain"
	"github.com/aretw0/tether/pkg/graph"
	"github.com/aretw0/tether/pkg/models"
	"github.com/aretw0/tether/pkg/observability"
	"github.com/aretw0/tether/pkg/persistence/middleware"
	"github.com/aretw0/tether/pkg/pipeline"
	"github.com/aretw0/tether/pkg/ports"
	"github.com/aretw0/tether/pkg/prompts"
	"github.com/aretw0/tether/pkg/session"
	"github.com/cloudwego/eino/components/model"
	backend "github.com/redis/go-redis/v9"
)

// Version is stamped at build time.
var Version = "dev"

// App is the assembled orchestrator: one dialogue router and one pipeline
// supervisor sharing a checkpoint store, an interrupt registry and the
// per-session locks.
type App struct {
	Config     config.Config
	Store      ports.CheckpointStore
	Interrupts ports.InterruptRegistry
	Router     *dialogue.Router
	Supervisor *pipeline.Supervisor
	Tasks      *pipeline.TaskStore
	Metrics    *observability.Metrics

	logger   *slog.Logger
	client   *backend.Client
	sessions *session.Manager
}

// Option configures an App.
type Option func(*appOptions)

type appOptions struct {
	logger     *slog.Logger
	model      model.BaseChatModel
	client     *backend.Client
	classifier ports.OutcomeClassifier
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *appOptions) {
		o.logger = logger
	}
}

// WithModel injects the chat model instead of building one from the configuration.
func WithModel(m model.BaseChatModel) Option {
	return func(o *appOptions) {
		o.model = m
	}
}

// WithRedisClient injects the client used by the redis store driver.
func WithRedisClient(c *backend.Client) Option {
	return func(o *appOptions) {
		o.client = c
	}
}

// WithClassifier overrides the outcome classifier named by the configuration.
func WithClassifier(c ports.OutcomeClassifier) Option {
	return func(o *appOptions) {
		o.classifier = c
	}
}

// New wires the configuration into a running App.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	o := appOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}

	app := &App{Config: cfg, logger: o.logger, Metrics: observability.NewMetrics()}

	if err := app.openStorage(o.client); err != nil {
		return nil, err
	}

	m := o.model
	if m == nil {
		var err error
		if m, err = models.New(ctx, cfg.Model); err != nil {
			return nil, fmt.Errorf("failed to create model: %w", err)
		}
	}
	set, err := prompts.Load(cfg.Prompts.Path)
	if err != nil {
		return nil, err
	}

	sessionOpts := []session.Option{session.WithLogger(o.logger)}
	if cfg.Locking.Distributed {
		sessionOpts = append(sessionOpts,
			session.WithLocker(redis.NewLocker(app.client, app.prefix()+"lock:")),
			session.WithLockTTL(cfg.Locking.TTL),
		)
	}
	sessions := session.NewManager(sessionOpts...)
	app.sessions = sessions
	execOpts := []graph.ExecutorOption{graph.WithLifecycleHooks(app.Metrics.Hooks())}

	app.Tasks = pipeline.NewTaskStore(app.Store)
	intake := pipeline.NewIntake(m, set, app.Tasks, pipeline.WithIntakeLogger(o.logger))

	app.Router, err = dialogue.New(m, set, app.Store, app.Interrupts,
		dialogue.WithLogger(o.logger),
		dialogue.WithSessionManager(sessions),
		dialogue.WithPipelineNode(intake.Node),
		dialogue.WithExecutorOptions(execOpts...),
	)
	if err != nil {
		return nil, err
	}

	classifier := o.classifier
	if classifier == nil {
		if classifier, err = app.classifier(); err != nil {
			return nil, err
		}
	}
	app.Supervisor, err = pipeline.NewSupervisor(app.Store, app.Interrupts, classifier,
		pipeline.WithLogger(o.logger),
		pipeline.WithSessionManager(sessions),
		pipeline.WithLifetimeRetryCap(cfg.Pipeline.RetryCap),
		pipeline.WithExecutorOptions(execOpts...),
	)
	if err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) prefix() string {
	if a.Config.Store.Prefix != "" {
		return a.Config.Store.Prefix
	}
	return redis.DefaultPrefix
}

func (a *App) openStorage(client *backend.Client) error {
	cfg := a.Config
	var store ports.CheckpointStore
	switch cfg.Store.Driver {
	case config.StoreFile:
		store = file.New(cfg.Store.Dir)
		a.Interrupts = memory.NewRegistry()
	case config.StoreRedis:
		if client == nil {
			client = redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		}
		a.client = client
		store = redis.NewFromClient(client,
			redis.WithPrefix(a.prefix()+"checkpoint:"),
			redis.WithTTL(cfg.Store.TTL),
		)
		a.Interrupts = redis.NewRegistry(client,
			redis.WithRegistryPrefix(a.prefix()+"interrupt:"),
			redis.WithRegistryTTL(cfg.Store.TTL),
		)
	default:
		store = memory.NewStore()
		a.Interrupts = memory.NewRegistry()
	}

	var mws []middleware.Middleware
	if len(cfg.Privacy.MaskFields) > 0 {
		pii, err := middleware.NewPIIMiddleware(cfg.Privacy.MaskFields)
		if err != nil {
			return err
		}
		mws = append(mws, pii)
	}
	if cfg.Encryption.Key != "" {
		active, fallback, err := cfg.EncryptionKeys()
		if err != nil {
			return err
		}
		enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		})
		if err != nil {
			return err
		}
		mws = append(mws, enc)
	}
	a.Store = middleware.Chain(store, mws...)
	return nil
}

func (a *App) classifier() (ports.OutcomeClassifier, error) {
	cfg := a.Config.Pipeline
	random := pipeline.NewRandomClassifier(cfg.CompletionRate, nil)
	switch cfg.Classifier {
	case config.ClassifierRedis:
		return redis.NewJobStatusClassifier(a.client,
			redis.WithJobPrefix(a.prefix()+"job:"),
			redis.WithFallback(random),
		), nil
	case config.ClassifierProcess:
		jobs, err := process.LoadJobs(cfg.JobsFile)
		if err != nil {
			return nil, err
		}
		return process.NewClassifier(
			process.WithJobs(jobs),
			process.WithTimeout(cfg.JobTimeout),
			process.WithLogger(a.logger),
		), nil
	}
	return random, nil
}

// StartPipeline starts a run of the task collected in a chat session.
func (a *App) StartPipeline(ctx context.Context, sessionID, runID string) (*pipeline.Run, error) {
	task, err := a.Ready(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return a.Supervisor.Start(ctx, runID, task)
}

// Ready returns the completed task of a session. The configured working
// directory fills in a task that names none.
func (a *App) Ready(ctx context.Context, sessionID string) (domain.PipelineTaskState, error) {
	task, err := a.Tasks.Ready(ctx, sessionID)
	if err != nil {
		return task, err
	}
	if a.Config.Pipeline.WorkingDir != "" {
		task.Args.Set(domain.KeyWorkingDir, a.Config.Pipeline.WorkingDir)
	}
	return task, nil
}

// Sessions lists the keys of committed chat sessions, skipping task records
// and pipeline runs.
func (a *App) Sessions(ctx context.Context) ([]string, error) {
	keys, err := a.Store.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		cp, err := a.Store.Load(ctx, k)
		if err != nil {
			if errors.Is(err, domain.ErrCheckpointNotFound) {
				continue
			}
			return nil, err
		}
		if cp.Graph == dialogue.GraphName {
			out = append(out, k)
		}
	}
	return out, nil
}

// DeleteSession forgets a chat session and its task record.
func (a *App) DeleteSession(ctx context.Context, sessionID string) error {
	if err := a.Router.Reset(ctx, sessionID); err != nil {
		return err
	}
	return a.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return a.Tasks.Remove(ctx, sessionID)
	})
}

// Task returns the task collected so far in a session.
func (a *App) Task(ctx context.Context, sessionID string) (domain.PipelineTaskState, error) {
	return a.Tasks.Load(ctx, sessionID)
}

// DeleteTask clears the arguments collected in a session so the next chat
// turns can describe a new task. The conversation itself is kept.
func (a *App) DeleteTask(ctx context.Context, sessionID string) error {
	return a.sessions.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return a.Tasks.Delete(ctx, sessionID)
	})
}

// Handler returns the HTTP API of the App.
func (a *App) Handler() http.Handler {
	return transport.NewHandler(transport.Options{
		Chat:      a.Router,
		Pipelines: a.Supervisor,
		Tasks:     a,
		Metrics:   a.Metrics.Handler(),
		ModelName: a.Config.Model.Name,
		Version:   Version,
		Logger:    a.logger,
	})
}

// Close releases the Redis connection, if any.
func (a *App) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}
