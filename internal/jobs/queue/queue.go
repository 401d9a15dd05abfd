// Package queue hands generation jobs to asynq so they survive a process restart between
// recording and running. The dispatcher still owns execution and cancellation.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yungbote/nort-backend/internal/data/repos"
	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/jobs/dispatcher"
	"github.com/yungbote/nort-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/nort-backend/internal/pkg/errors"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
	"github.com/yungbote/nort-backend/internal/services"
)

const DefaultQueue = "chat"

// Runner is the part of the dispatcher the queue drives.
type Runner interface {
	Record(ctx context.Context, req services.GenerationRequest) (*types.GenerationJob, error)
	// Supersede makes job the participant's newest claim and cancels its in-flight run.
	Supersede(job *types.GenerationJob)
	// Submit runs job, or marks it cancelled when a newer claim exists.
	Submit(job *types.GenerationJob)
}

type taskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type payload struct {
	JobID uuid.UUID `json:"job_id"`
}

func NewTask(jobID uuid.UUID) (*asynq.Task, error) {
	b, err := json.Marshal(payload{JobID: jobID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(dispatcher.JobType, b), nil
}

func decodeTask(t *asynq.Task) (uuid.UUID, error) {
	var p payload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return uuid.Nil, fmt.Errorf("decode %s payload: %w", t.Type(), err)
	}
	if p.JobID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%s payload missing job_id", t.Type())
	}
	return p.JobID, nil
}

// Enqueuer records a job row and publishes its id as an asynq task.
type Enqueuer struct {
	log    *logger.Logger
	client taskClient
	runner Runner
	queue  string
}

func NewEnqueuer(log *logger.Logger, redis asynq.RedisConnOpt, runner Runner, queue string) *Enqueuer {
	return newEnqueuer(log, asynq.NewClient(redis), runner, queue)
}

func newEnqueuer(log *logger.Logger, client taskClient, runner Runner, queue string) *Enqueuer {
	if strings.TrimSpace(queue) == "" {
		queue = DefaultQueue
	}
	return &Enqueuer{
		log:    log.With("component", "AsynqEnqueuer"),
		client: client,
		runner: runner,
		queue:  queue,
	}
}

var _ services.Enqueuer = (*Enqueuer)(nil)

// Enqueue supersedes the participant's current run before publishing, so nothing older can
// persist a reply while the task waits in redis. It falls back to an in-process submit when
// the broker rejects the task, so a recorded job is never left queued with nothing to run it.
func (e *Enqueuer) Enqueue(ctx context.Context, req services.GenerationRequest) (*types.GenerationJob, error) {
	job, err := e.runner.Record(ctx, req)
	if err != nil {
		return nil, err
	}
	e.runner.Supersede(job)
	task, err := NewTask(job.ID)
	if err == nil {
		_, err = e.client.EnqueueContext(ctx, task, asynq.Queue(e.queue), asynq.MaxRetry(0))
	}
	if err != nil {
		e.log.Warn("Asynq enqueue failed, running in process", "job_id", job.ID, "error", err)
		e.runner.Submit(job)
	}
	return job, nil
}

func (e *Enqueuer) Close() error { return e.client.Close() }

type ServerConfig struct {
	Concurrency int
	// Queues is a weight list like "chat=3,default=1".
	Queues string
}

// Server consumes generate-next-turn tasks and submits the recorded job to the runner.
type Server struct {
	log     *logger.Logger
	server  *asynq.Server
	mux     *asynq.ServeMux
	jobRepo repos.GenerationJobRepo
	runner  Runner
}

func NewServer(log *logger.Logger, redis asynq.RedisConnOpt, cfg ServerConfig, jobRepo repos.GenerationJobRepo, runner Runner) *Server {
	log = log.With("component", "AsynqServer")
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	queues := ParseQueueWeights(cfg.Queues)
	if len(queues) == 0 {
		queues = map[string]int{DefaultQueue: 1}
	}
	srv := asynq.NewServer(redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      queues,
		Logger:      asynqLogger{log},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Warn("Asynq task failed", "type", task.Type(), "error", err)
		}),
	})
	s := &Server{log: log, server: srv, mux: asynq.NewServeMux(), jobRepo: jobRepo, runner: runner}
	s.mux.HandleFunc(dispatcher.JobType, s.HandleGenerate)
	return s
}

// HandleGenerate hands the job to the runner and returns. Terminal or missing jobs are acked,
// and the runner drops jobs that were superseded while queued.
func (s *Server) HandleGenerate(ctx context.Context, t *asynq.Task) error {
	id, err := decodeTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	job, err := s.jobRepo.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			s.log.Warn("Task for unknown job", "job_id", id)
			return nil
		}
		return err
	}
	if job.Terminal() {
		return nil
	}
	s.runner.Submit(job)
	return nil
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	s.log.Info("Asynq server started")
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}

// ParseQueueWeights parses "chat=3,default=1". A queue without a weight gets 1.
func ParseQueueWeights(s string) map[string]int {
	res := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		name := strings.TrimSpace(kv[0])
		if name == "" {
			continue
		}
		w := 1
		if len(kv) == 2 {
			if i, err := strconv.Atoi(strings.TrimSpace(kv[1])); err == nil && i > 0 {
				w = i
			}
		}
		res[name] = w
	}
	return res
}

type asynqLogger struct{ log *logger.Logger }

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(fmt.Sprint(args...)) }
