package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/nort-backend/internal/data/repos"
	"github.com/yungbote/nort-backend/internal/data/repos/testutil"
	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/realtime"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (e *recordingEmitter) Emit(ctx context.Context, ev realtime.Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *recordingEmitter) ofType(t realtime.EventType) []realtime.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []realtime.Event
	for _, ev := range e.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fakeEnqueuer struct {
	reqs []GenerationRequest
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, req GenerationRequest) (*types.GenerationJob, error) {
	f.reqs = append(f.reqs, req)
	return &types.GenerationJob{
		ID:               uuid.New(),
		ConversationID:   req.ConversationID,
		TriggerMessageID: req.TriggerMessageID,
		ParticipantID:    req.ParticipantID,
		Status:           types.JobStatusQueued,
	}, nil
}

// env wires the services over one fresh database.
type env struct {
	ctx           context.Context
	db            *gorm.DB
	emit          *recordingEmitter
	enqueuer      *fakeEnqueuer
	auth          AuthService
	conversations ConversationService
	participants  ParticipantService
	chat          ChatService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	userRepo := repos.NewUserRepo(db, log)
	tokenRepo := repos.NewUserTokenRepo(db, log)
	participantRepo := repos.NewParticipantRepo(db, log)
	messageRepo := repos.NewMessageRepo(db, log)

	emit := &recordingEmitter{}
	notify := NewConversationNotifier(emit)
	conversations := NewConversationService(db, log,
		repos.NewConversationRepo(db, log), messageRepo, participantRepo,
		repos.NewConversationAccessRepo(db, log), repos.NewConversationGrantRepo(db, log))
	participants := NewParticipantService(db, log, participantRepo, messageRepo, notify)
	enq := &fakeEnqueuer{}

	return &env{
		ctx:           context.Background(),
		db:            db,
		emit:          emit,
		enqueuer:      enq,
		auth:          NewAuthService(db, log, userRepo, tokenRepo, participantRepo, "test-secret", 0),
		conversations: conversations,
		participants:  participants,
		chat:          NewChatService(log, conversations, participants, notify, enq),
	}
}

// signup registers a user and returns it with its default persona.
func (e *env) signup(t *testing.T, username string) (*types.User, *types.Participant) {
	t.Helper()
	s, err := e.auth.Signup(e.ctx, username, "password123")
	if err != nil {
		t.Fatalf("signup %s: %v", username, err)
	}
	return s.User, s.Persona
}

func (e *env) llm(t *testing.T, owner *uuid.UUID, name string, private bool) *types.Participant {
	t.Helper()
	return testutil.SeedLLM(t, e.ctx, e.db, owner, name, private, types.LLMConfig{})
}

func (e *env) message(t *testing.T, convID, participantID uuid.UUID, parent *uuid.UUID, content string) *types.MessageView {
	t.Helper()
	m, err := e.conversations.CreateMessage(e.ctx, MessageInput{
		ConversationID: convID,
		ParticipantID:  participantID,
		Content:        content,
		ParentID:       parent,
	})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	return m
}
