package domain

import (
	"github.com/yungbote/nort-backend/internal/domain/auth"
	"github.com/yungbote/nort-backend/internal/domain/chat"
	"github.com/yungbote/nort-backend/internal/domain/jobs"
	"github.com/yungbote/nort-backend/internal/domain/user"
)

const (
	ParticipantTypeUser = chat.ParticipantTypeUser
	ParticipantTypeLLM  = chat.ParticipantTypeLLM

	VisibilityPrivate = chat.VisibilityPrivate
	VisibilityShared  = chat.VisibilityShared

	AccessRead  = chat.AccessRead
	AccessWrite = chat.AccessWrite

	JobStatusQueued    = jobs.JobStatusQueued
	JobStatusRunning   = jobs.JobStatusRunning
	JobStatusCompleted = jobs.JobStatusCompleted
	JobStatusFailed    = jobs.JobStatusFailed
	JobStatusCancelled = jobs.JobStatusCancelled
)

type User = user.User
type UserToken = auth.UserToken

type Participant = chat.Participant
type LLMConfig = chat.LLMConfig
type Conversation = chat.Conversation
type Message = chat.Message
type MessageMeta = chat.MessageMeta
type MessageView = chat.MessageView
type ConversationAccess = chat.ConversationAccess
type ConversationGrant = chat.ConversationGrant

type GenerationJob = jobs.GenerationJob

var (
	DecodeMessageMeta = chat.DecodeMessageMeta
	AccessRank        = chat.AccessRank
)
