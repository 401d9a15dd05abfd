// Package dispatcher runs generate-next-turn jobs. Each participant has at most one current
// job: submitting another cancels the old one, and a cancelled job never persists its reply.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/nort-backend/internal/data/repos"
	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/observability"
	"github.com/yungbote/nort-backend/internal/pkg/dbctx"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
	"github.com/yungbote/nort-backend/internal/services"
)

const JobType = "generate-next-turn"

var ErrOrphanedJob = errors.New("orphaned job: trigger message not in conversation history")

var errSuperseded = errors.New("superseded by a newer job")

type Config struct {
	Concurrency   int
	MaxChainDepth int
	QueueSize     int
}

func (c Config) withDefaults() Config {
	if c.Concurrency < 1 {
		c.Concurrency = 4
	}
	if c.MaxChainDepth <= 0 {
		c.MaxChainDepth = 6
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

type run struct {
	job      *types.GenerationJob
	ctx      context.Context
	cancel   context.CancelFunc
	slot     *slot
	queued   time.Time
	released sync.Once
	finished sync.Once
}

// slot holds the participant's current run. mu also guards the persist step so a run that
// lost its slot can no longer write. latest is the newest job claimed for the participant;
// any other job reaching Submit is stale.
type slot struct {
	mu      sync.Mutex
	current *run
	latest  uuid.UUID
}

type Dispatcher struct {
	log           *logger.Logger
	cfg           Config
	jobRepo       repos.GenerationJobRepo
	conversations services.ConversationService
	participants  services.ParticipantService
	generator     services.GenerationService
	notify        services.ConversationNotifier

	root context.Context
	stop context.CancelFunc

	mu    sync.Mutex
	slots map[uuid.UUID]*slot

	queue     chan *run
	startOnce sync.Once
	wg        sync.WaitGroup
}

func New(
	log *logger.Logger,
	cfg Config,
	jobRepo repos.GenerationJobRepo,
	conversations services.ConversationService,
	participants services.ParticipantService,
	generator services.GenerationService,
	notify services.ConversationNotifier,
) *Dispatcher {
	cfg = cfg.withDefaults()
	root, stop := context.WithCancel(context.Background())
	return &Dispatcher{
		log:           log.With("component", "JobDispatcher"),
		cfg:           cfg,
		jobRepo:       jobRepo,
		conversations: conversations,
		participants:  participants,
		generator:     generator,
		notify:        notify,
		root:          root,
		stop:          stop,
		slots:         make(map[uuid.UUID]*slot),
		queue:         make(chan *run, cfg.QueueSize),
	}
}

// Enqueue records a queued job and submits it. It returns once the job is recorded.
func (d *Dispatcher) Enqueue(ctx context.Context, req services.GenerationRequest) (*types.GenerationJob, error) {
	job, err := d.Record(ctx, req)
	if err != nil {
		return nil, err
	}
	d.Supersede(job)
	d.Submit(job)
	return job, nil
}

// Record persists a queued job row without running it.
func (d *Dispatcher) Record(ctx context.Context, req services.GenerationRequest) (*types.GenerationJob, error) {
	if req.ConversationID == uuid.Nil || req.TriggerMessageID == uuid.Nil || req.ParticipantID == uuid.Nil {
		return nil, fmt.Errorf("incomplete generation request")
	}
	rows, err := d.jobRepo.Create(dbctx.Context{Ctx: ctx}, []*types.GenerationJob{{
		ConversationID:   req.ConversationID,
		TriggerMessageID: req.TriggerMessageID,
		ParticipantID:    req.ParticipantID,
		Depth:            req.Depth,
		Status:           types.JobStatusQueued,
	}})
	if err != nil {
		return nil, fmt.Errorf("record job: %w", err)
	}
	return rows[0], nil
}

func (d *Dispatcher) slotFor(participantID uuid.UUID) *slot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.slots[participantID]
	if !ok {
		s = &slot{}
		d.slots[participantID] = s
	}
	return s
}

// Supersede claims the participant for job: the in-flight run is cancelled and loses its
// right to persist, and only job may be submitted from now on. Call it once the job is
// recorded, before handing it to any queue.
func (d *Dispatcher) Supersede(job *types.GenerationJob) {
	s := d.slotFor(job.ParticipantID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = job.ID
	if prev := s.current; prev != nil && prev.job.ID != job.ID {
		d.log.Debug("Cancelling superseded job", "job_id", prev.job.ID, "participant_id", job.ParticipantID)
		prev.cancel()
		s.current = nil
	}
}

// Submit makes job the participant's current run, cancelling whatever ran before. A job
// that is no longer the participant's newest claim is marked cancelled instead.
func (d *Dispatcher) Submit(job *types.GenerationJob) {
	s := d.slotFor(job.ParticipantID)

	ctx, cancel := context.WithCancel(d.root)
	r := &run{job: job, ctx: ctx, cancel: cancel, slot: s, queued: time.Now()}

	s.mu.Lock()
	if s.latest != uuid.Nil && s.latest != job.ID {
		s.mu.Unlock()
		cancel()
		d.discard(job, errSuperseded)
		return
	}
	s.latest = job.ID
	if prev := s.current; prev != nil {
		d.log.Debug("Cancelling superseded job", "job_id", prev.job.ID, "participant_id", job.ParticipantID)
		prev.cancel()
	}
	s.current = r
	s.mu.Unlock()

	observability.Current().JobsActiveAdd(1)
	observability.Current().ObserveJob(types.JobStatusQueued, 0, false)

	select {
	case d.queue <- r:
	default:
		go func() {
			select {
			case d.queue <- r:
			case <-d.root.Done():
				d.finish(r, types.JobStatusCancelled, nil, d.root.Err())
			}
		}()
	}
}

// discard records a job that never got a run as cancelled.
func (d *Dispatcher) discard(job *types.GenerationJob, cause error) {
	d.log.Debug("Dropping stale job", "job_id", job.ID, "participant_id", job.ParticipantID)
	if _, err := d.jobRepo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: context.Background()}, job.ID,
		[]string{types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled},
		map[string]interface{}{"status": types.JobStatusCancelled, "finished_at": time.Now().UTC(), "error": cause.Error()},
	); err != nil {
		d.log.Warn("Record stale job failed", "job_id", job.ID, "error", err)
	}
	job.Status = types.JobStatusCancelled
	observability.Current().ObserveJob(types.JobStatusCancelled, 0, true)
}

// Start launches the worker pool. Workers stop when ctx is done.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		d.log.Info("Starting job dispatcher", "concurrency", d.cfg.Concurrency, "max_chain_depth", d.cfg.MaxChainDepth)
		go func() {
			<-ctx.Done()
			d.stop()
		}()
		for i := 0; i < d.cfg.Concurrency; i++ {
			d.wg.Add(1)
			go d.worker(i + 1)
		}
	})
}

// Run starts the pool and blocks until ctx is done and workers have exited.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.Start(ctx)
	<-ctx.Done()
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) worker(workerID int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.root.Done():
			d.log.Info("Dispatcher worker stopped", "worker_id", workerID)
			return
		case r := <-d.queue:
			d.safeProcess(workerID, r)
		}
	}
}

func (d *Dispatcher) safeProcess(workerID int, r *run) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("Job panic", "worker_id", workerID, "job_id", r.job.ID, "panic", rec)
			d.finish(r, types.JobStatusFailed, nil, fmt.Errorf("panic: %v", rec))
		}
	}()
	d.process(r)
}

func (d *Dispatcher) process(r *run) {
	job := r.job
	log := d.log.With("job_id", job.ID, "conversation_id", job.ConversationID, "participant_id", job.ParticipantID)
	if r.ctx.Err() != nil {
		d.finish(r, types.JobStatusCancelled, nil, errSuperseded)
		return
	}
	now := time.Now().UTC()
	changed, err := d.jobRepo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: r.ctx}, job.ID,
		[]string{types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled},
		map[string]interface{}{"status": types.JobStatusRunning, "started_at": now},
	)
	if err != nil {
		log.Warn("Mark job running failed", "error", err)
	} else if !changed {
		d.release(r)
		return
	}
	observability.Current().ObserveJob(types.JobStatusRunning, 0, false)

	participant, err := d.participants.GetParticipant(r.ctx, job.ParticipantID)
	if err != nil {
		d.fail(r, log, nil, err)
		return
	}
	if !participant.IsLLM() {
		d.fail(r, log, nil, fmt.Errorf("participant %s is not an llm", participant.ID))
		return
	}
	conv, err := d.conversations.GetConversation(r.ctx, job.ConversationID)
	if err != nil {
		d.fail(r, log, nil, err)
		return
	}
	history, err := d.conversations.GetConversationMessages(r.ctx, conv.ID)
	if err != nil {
		d.fail(r, log, nil, err)
		return
	}
	if !containsMessage(history, job.TriggerMessageID) {
		d.fail(r, log, nil, fmt.Errorf("%w: %s", ErrOrphanedJob, job.TriggerMessageID))
		return
	}

	nctx := context.WithoutCancel(r.ctx)
	d.notify.TypingStarted(nctx, conv.ID, participant)

	reply, err := d.generator.GenerateReply(r.ctx, services.GenerateInput{
		Messages:  history,
		Responder: participant,
	})
	if err != nil {
		d.fail(r, log, participant, err)
		return
	}

	msg, err := d.persist(r, services.MessageInput{
		ConversationID: conv.ID,
		ParticipantID:  participant.ID,
		Content:        reply.Content,
		ParentID:       &job.TriggerMessageID,
		Meta: types.MessageMeta{
			TargetParticipantID: reply.TargetParticipantID,
			ChainDepth:          job.Depth,
			Protocol:            string(reply.Protocol),
		},
	})
	if err != nil {
		d.fail(r, log, participant, err)
		return
	}

	if msg.FirstFromParticipant {
		d.notify.ParticipantAdded(nctx, conv.ID, participant)
	}
	d.notify.MessageAdded(nctx, msg)
	d.notify.TypingStopped(nctx, conv.ID, participant)
	d.finish(r, types.JobStatusCompleted, &msg.ID, nil)
	log.Info("Reply generated", "message_id", msg.ID, "depth", job.Depth)

	d.followUp(r, conv, history, participant, msg, reply.TargetParticipantID)
}

// persist writes the reply only while r is still the participant's current run.
func (d *Dispatcher) persist(r *run, in services.MessageInput) (*types.MessageView, error) {
	r.slot.mu.Lock()
	defer r.slot.mu.Unlock()
	if r.slot.current != r {
		return nil, errSuperseded
	}
	if err := r.ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", services.ErrCancelled, err)
	}
	return d.conversations.CreateMessage(r.ctx, in)
}

func (d *Dispatcher) followUp(r *run, conv *types.Conversation, history []*types.MessageView, speaker *types.Participant, msg *types.MessageView, target *uuid.UUID) {
	if target == nil || *target == speaker.ID {
		return
	}
	next := r.job.Depth + 1
	if next > d.cfg.MaxChainDepth {
		d.log.Info("Chain depth reached, not following up", "conversation_id", conv.ID, "depth", r.job.Depth)
		return
	}
	ctx := context.WithoutCancel(r.ctx)
	p, err := d.participants.GetParticipant(ctx, *target)
	if err != nil {
		d.log.Debug("Reply target not found", "target_id", *target, "error", err)
		return
	}
	if !services.CanUseLLM(p, conv.CreatedByUserID) {
		origin := d.chainOrigin(ctx, history, r.job.TriggerMessageID)
		if origin == nil || !services.CanUseLLM(p, *origin) {
			d.log.Debug("Reply target not usable in this chain", "target_id", p.ID, "conversation_id", conv.ID)
			return
		}
	}
	if _, err := d.Enqueue(ctx, services.GenerationRequest{
		ConversationID:   conv.ID,
		TriggerMessageID: msg.ID,
		ParticipantID:    p.ID,
		Depth:            next,
	}); err != nil {
		d.log.Warn("Follow-up enqueue failed", "conversation_id", conv.ID, "target_id", p.ID, "error", err)
	}
}

// chainOrigin walks up from the trigger to the human message that started the chain and
// returns its author's user id.
func (d *Dispatcher) chainOrigin(ctx context.Context, history []*types.MessageView, triggerID uuid.UUID) *uuid.UUID {
	byID := make(map[uuid.UUID]*types.MessageView, len(history))
	for _, m := range history {
		byID[m.ID] = m
	}
	m := byID[triggerID]
	for hops := 0; m != nil && hops <= len(history); hops++ {
		if m.ParticipantType == types.ParticipantTypeUser {
			author, err := d.participants.GetParticipant(ctx, m.ParticipantID)
			if err != nil {
				return nil
			}
			return author.UserID
		}
		if m.ParentID == nil {
			return nil
		}
		m = byID[*m.ParentID]
	}
	return nil
}

func (d *Dispatcher) fail(r *run, log *logger.Logger, typing *types.Participant, err error) {
	status := types.JobStatusFailed
	if r.ctx.Err() != nil || errors.Is(err, services.ErrCancelled) || errors.Is(err, errSuperseded) {
		status = types.JobStatusCancelled
	}
	ctx := context.WithoutCancel(r.ctx)
	if typing != nil {
		d.notify.TypingStopped(ctx, r.job.ConversationID, typing)
	}
	if status == types.JobStatusFailed {
		log.Warn("Generation job failed", "error", err)
		d.notify.Error(ctx, r.job.ConversationID, "generation_failed", "Could not generate a reply")
	} else {
		log.Debug("Generation job cancelled", "error", err)
	}
	d.finish(r, status, nil, err)
}

// finish records the run's outcome once. A later call, such as the panic handler firing
// after a completed run, is ignored.
func (d *Dispatcher) finish(r *run, status string, replyID *uuid.UUID, cause error) {
	r.finished.Do(func() { d.record(r, status, replyID, cause) })
}

func (d *Dispatcher) record(r *run, status string, replyID *uuid.UUID, cause error) {
	d.release(r)
	updates := map[string]interface{}{
		"status":      status,
		"finished_at": time.Now().UTC(),
	}
	if replyID != nil {
		updates["reply_message_id"] = *replyID
	}
	if cause != nil {
		updates["error"] = cause.Error()
	}
	ctx := context.WithoutCancel(r.ctx)
	if _, err := d.jobRepo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, r.job.ID,
		[]string{types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled}, updates); err != nil {
		d.log.Warn("Record job outcome failed", "job_id", r.job.ID, "status", status, "error", err)
	}
	r.job.Status = status
	observability.Current().ObserveJob(status, time.Since(r.queued), true)
}

// release clears r from its slot and frees its context. Only the first call counts.
func (d *Dispatcher) release(r *run) {
	r.released.Do(func() {
		r.slot.mu.Lock()
		if r.slot.current == r {
			r.slot.current = nil
		}
		r.slot.mu.Unlock()
		r.cancel()
		observability.Current().JobsActiveAdd(-1)
	})
}

// Current reports the id of the participant's queued or running job.
func (d *Dispatcher) Current(participantID uuid.UUID) (uuid.UUID, bool) {
	d.mu.Lock()
	s, ok := d.slots[participantID]
	d.mu.Unlock()
	if !ok {
		return uuid.Nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return uuid.Nil, false
	}
	return s.current.job.ID, true
}

func containsMessage(history []*types.MessageView, id uuid.UUID) bool {
	for _, m := range history {
		if m.ID == id {
			return true
		}
	}
	return false
}
