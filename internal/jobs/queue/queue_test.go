package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/nort-backend/internal/chat/protocol"
	"github.com/yungbote/nort-backend/internal/data/repos"
	"github.com/yungbote/nort-backend/internal/data/repos/testutil"
	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/jobs/dispatcher"
	"github.com/yungbote/nort-backend/internal/pkg/dbctx"
	"github.com/yungbote/nort-backend/internal/services"
)

type fakeRunner struct {
	mu         sync.Mutex
	superseded []uuid.UUID
	submitted  []uuid.UUID
}

func (r *fakeRunner) Supersede(job *types.GenerationJob) {
	r.mu.Lock()
	r.superseded = append(r.superseded, job.ID)
	r.mu.Unlock()
}

func (r *fakeRunner) Record(ctx context.Context, req services.GenerationRequest) (*types.GenerationJob, error) {
	return &types.GenerationJob{
		ID:               uuid.New(),
		ConversationID:   req.ConversationID,
		TriggerMessageID: req.TriggerMessageID,
		ParticipantID:    req.ParticipantID,
		Status:           types.JobStatusQueued,
	}, nil
}

func (r *fakeRunner) Submit(job *types.GenerationJob) {
	r.mu.Lock()
	r.submitted = append(r.submitted, job.ID)
	r.mu.Unlock()
}

type fakeClient struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (c *fakeClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.tasks = append(c.tasks, task)
	c.opts = append(c.opts, opts)
	return &asynq.TaskInfo{ID: "t1", Queue: DefaultQueue}, nil
}

func (c *fakeClient) Close() error { return nil }

func request() services.GenerationRequest {
	return services.GenerationRequest{ConversationID: uuid.New(), TriggerMessageID: uuid.New(), ParticipantID: uuid.New()}
}

func TestEnqueuePublishesJobID(t *testing.T) {
	runner := &fakeRunner{}
	client := &fakeClient{}
	e := newEnqueuer(testutil.Logger(t), client, runner, "")

	job, err := e.Enqueue(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, client.tasks, 1)
	assert.Equal(t, dispatcher.JobType, client.tasks[0].Type())

	id, err := decodeTask(client.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, job.ID, id)
	assert.Equal(t, []uuid.UUID{job.ID}, runner.superseded)
	assert.Empty(t, runner.submitted)
}

func TestEnqueueFallsBackToInProcess(t *testing.T) {
	runner := &fakeRunner{}
	e := newEnqueuer(testutil.Logger(t), &fakeClient{err: errors.New("redis down")}, runner, "chat")

	job, err := e.Enqueue(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{job.ID}, runner.submitted)
}

func TestHandleGenerate(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	jobRepo := repos.NewGenerationJobRepo(db, log)
	runner := &fakeRunner{}
	s := &Server{log: log, jobRepo: jobRepo, runner: runner}
	ctx := context.Background()

	rows, err := jobRepo.Create(dbctx.Context{Ctx: ctx}, []*types.GenerationJob{
		{ConversationID: uuid.New(), TriggerMessageID: uuid.New(), ParticipantID: uuid.New(), Status: types.JobStatusQueued},
		{ConversationID: uuid.New(), TriggerMessageID: uuid.New(), ParticipantID: uuid.New(), Status: types.JobStatusCompleted},
	})
	require.NoError(t, err)

	queued, err := NewTask(rows[0].ID)
	require.NoError(t, err)
	require.NoError(t, s.HandleGenerate(ctx, queued))

	done, err := NewTask(rows[1].ID)
	require.NoError(t, err)
	require.NoError(t, s.HandleGenerate(ctx, done))

	unknown, err := NewTask(uuid.New())
	require.NoError(t, err)
	require.NoError(t, s.HandleGenerate(ctx, unknown))

	assert.Equal(t, []uuid.UUID{rows[0].ID}, runner.submitted)

	err = s.HandleGenerate(ctx, asynq.NewTask(dispatcher.JobType, []byte("{")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

type generatorFunc func(ctx context.Context, in services.GenerateInput) (*services.GenerateReply, error)

func (f generatorFunc) GenerateReply(ctx context.Context, in services.GenerateInput) (*services.GenerateReply, error) {
	return f(ctx, in)
}

func waitJob(t *testing.T, jobRepo repos.GenerationJobRepo, id uuid.UUID, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		j, err := jobRepo.GetByID(dbctx.Context{Ctx: context.Background()}, id)
		return err == nil && j.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
}

func TestBrokeredEnqueueCancelsRunningJobImmediately(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ctx := context.Background()

	participantRepo := repos.NewParticipantRepo(db, log)
	messageRepo := repos.NewMessageRepo(db, log)
	jobRepo := repos.NewGenerationJobRepo(db, log)
	notify := services.NewConversationNotifier(nil)
	convs := services.NewConversationService(db, log,
		repos.NewConversationRepo(db, log), messageRepo, participantRepo,
		repos.NewConversationAccessRepo(db, log), repos.NewConversationGrantRepo(db, log))
	parts := services.NewParticipantService(db, log, participantRepo, messageRepo, notify)

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	gen := generatorFunc(func(ctx context.Context, in services.GenerateInput) (*services.GenerateReply, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			// ignores cancellation so the reply arrives after the newer enqueue
			started <- struct{}{}
			<-release
			return &services.GenerateReply{Reply: protocol.Reply{Content: "stale reply"}, Protocol: protocol.V1}, nil
		}
		return &services.GenerateReply{Reply: protocol.Reply{Content: "fresh reply"}, Protocol: protocol.V1}, nil
	})

	d := dispatcher.New(log, dispatcher.Config{Concurrency: 2}, jobRepo, convs, parts, gen, notify)
	runCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		_ = d.Run(runCtx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	user := testutil.SeedUser(t, ctx, db, "queue_"+uuid.NewString()[:8])
	persona := testutil.SeedPersona(t, ctx, db, user.ID, "me", true)
	conv := testutil.SeedConversation(t, ctx, db, user.ID, types.VisibilityPrivate)
	bot := testutil.SeedLLM(t, ctx, db, nil, "bot", false, types.LLMConfig{SystemPrompt: "s"})
	trigger, err := convs.CreateMessage(ctx, services.MessageInput{ConversationID: conv.ID, ParticipantID: persona.ID, Content: "hi"})
	require.NoError(t, err)
	req := services.GenerationRequest{ConversationID: conv.ID, TriggerMessageID: trigger.ID, ParticipantID: bot.ID}

	first, err := d.Enqueue(ctx, req)
	require.NoError(t, err)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first job never started")
	}

	client := &fakeClient{}
	e := newEnqueuer(log, client, d, "")
	queued, err := e.Enqueue(ctx, req)
	require.NoError(t, err)
	close(release)
	waitJob(t, jobRepo, first.ID, types.JobStatusCancelled)

	msgs, err := convs.GetConversationMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "superseded job persisted a reply")

	// a task that lost its claim while waiting in redis is dropped
	newest, err := e.Enqueue(ctx, req)
	require.NoError(t, err)
	s := &Server{log: log, jobRepo: jobRepo, runner: d}
	require.Len(t, client.tasks, 2)
	require.NoError(t, s.HandleGenerate(ctx, client.tasks[0]))
	waitJob(t, jobRepo, queued.ID, types.JobStatusCancelled)

	require.NoError(t, s.HandleGenerate(ctx, client.tasks[1]))
	waitJob(t, jobRepo, newest.ID, types.JobStatusCompleted)

	msgs, err = convs.GetConversationMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "fresh reply", msgs[1].Content)
}

func TestParseQueueWeights(t *testing.T) {
	assert.Equal(t, map[string]int{"chat": 3, "default": 1, "low": 1}, ParseQueueWeights("chat=3, default ,low=x,,=2"))
	assert.Empty(t, ParseQueueWeights(""))
}
