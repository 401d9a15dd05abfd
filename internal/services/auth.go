package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/yungbote/nort-backend/internal/data/repos"
	types "github.com/yungbote/nort-backend/internal/domain"
	"github.com/yungbote/nort-backend/internal/pkg/ctxutil"
	"github.com/yungbote/nort-backend/internal/pkg/dbctx"
	pkgerrors "github.com/yungbote/nort-backend/internal/pkg/errors"
	"github.com/yungbote/nort-backend/internal/pkg/logger"
)

const DefaultAccessTTL = 7 * 24 * time.Hour

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

type Session struct {
	User      *types.User        `json:"user"`
	Persona   *types.Participant `json:"persona,omitempty"`
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
}

type AuthService interface {
	// Signup creates the user and its default persona, then logs in.
	Signup(ctx context.Context, username, password string) (*Session, error)
	Login(ctx context.Context, username, password string) (*Session, error)
	Logout(ctx context.Context) error
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
	SweepExpired(ctx context.Context) (int64, error)
	RunTokenSweeper(ctx context.Context, interval time.Duration) error
}

type authService struct {
	db              *gorm.DB
	log             *logger.Logger
	userRepo        repos.UserRepo
	userTokenRepo   repos.UserTokenRepo
	participantRepo repos.ParticipantRepo
	jwtSecretKey    []byte
	accessTTL       time.Duration
}

func NewAuthService(
	db *gorm.DB,
	log *logger.Logger,
	userRepo repos.UserRepo,
	userTokenRepo repos.UserTokenRepo,
	participantRepo repos.ParticipantRepo,
	jwtSecretKey string,
	accessTTL time.Duration,
) AuthService {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	return &authService{
		db:              db,
		log:             log.With("service", "AuthService"),
		userRepo:        userRepo,
		userTokenRepo:   userTokenRepo,
		participantRepo: participantRepo,
		jwtSecretKey:    []byte(jwtSecretKey),
		accessTTL:       accessTTL,
	}
}

func (as *authService) Signup(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if !usernamePattern.MatchString(username) {
		return nil, fmt.Errorf("%w: username must be 3-32 letters, digits, '.', '_' or '-'", pkgerrors.ErrInvalidArgument)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", pkgerrors.ErrInvalidArgument)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var session *Session
	err = as.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		exists, err := as.userRepo.UsernameExists(dbc, username)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: username already taken", pkgerrors.ErrConflict)
		}
		created, err := as.userRepo.Create(dbc, []*types.User{{Username: username, PasswordHash: string(hash)}})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		user := created[0]
		persona := &types.Participant{
			Name:      username,
			Type:      types.ParticipantTypeUser,
			UserID:    &user.ID,
			Private:   true,
			IsDefault: true,
		}
		if _, err := as.participantRepo.Create(dbc, []*types.Participant{persona}); err != nil {
			return fmt.Errorf("create default persona: %w", err)
		}
		token, expiresAt, err := as.issueToken(dbc, user.ID)
		if err != nil {
			return err
		}
		session = &Session{User: user, Persona: persona, Token: token, ExpiresAt: expiresAt}
		return nil
	})
	if err != nil {
		return nil, err
	}
	as.log.Info("User signed up", "user_id", session.User.ID)
	return session, nil
}

func (as *authService) Login(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", pkgerrors.ErrInvalidArgument)
	}
	dbc := dbctx.Context{Ctx: ctx}
	users, err := as.userRepo.GetByUsernames(dbc, []string{username})
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("%w: invalid username or password", pkgerrors.ErrUnauthorized)
	}
	user := users[0]
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: invalid username or password", pkgerrors.ErrUnauthorized)
	}
	token, expiresAt, err := as.issueToken(dbc, user.ID)
	if err != nil {
		return nil, err
	}
	persona, err := as.participantRepo.GetDefaultPersona(dbc, user.ID)
	if err != nil && !errors.Is(err, pkgerrors.ErrNotFound) {
		return nil, err
	}
	return &Session{User: user, Persona: persona, Token: token, ExpiresAt: expiresAt}, nil
}

func (as *authService) issueToken(dbc dbctx.Context, userID uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(as.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(as.jwtSecretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	if _, err := as.userTokenRepo.Create(dbc, []*types.UserToken{{
		UserID:      userID,
		AccessToken: signed,
		ExpiresAt:   expiresAt,
	}}); err != nil {
		return "", time.Time{}, fmt.Errorf("store token: %w", err)
	}
	return signed, expiresAt, nil
}

func (as *authService) Logout(ctx context.Context) error {
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.TokenString == "" {
		return pkgerrors.ErrUnauthorized
	}
	return as.userTokenRepo.FullDeleteByAccessTokens(dbctx.Context{Ctx: ctx}, []string{rd.TokenString})
}

// SetContextFromToken accepts a token only when its signature verifies and it has not been
// revoked by logout or expiry.
func (as *authService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return ctx, pkgerrors.ErrUnauthorized
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return as.jwtSecretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return ctx, fmt.Errorf("%w: %v", pkgerrors.ErrUnauthorized, err)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, fmt.Errorf("%w: bad subject", pkgerrors.ErrUnauthorized)
	}
	rows, err := as.userTokenRepo.GetByAccessTokens(dbctx.Context{Ctx: ctx}, []string{tokenString})
	if err != nil {
		return ctx, err
	}
	if len(rows) == 0 || rows[0].UserID != userID || rows[0].ExpiresAt.Before(time.Now()) {
		return ctx, fmt.Errorf("%w: token revoked or expired", pkgerrors.ErrUnauthorized)
	}
	return ctxutil.WithRequestData(ctx, &ctxutil.RequestData{TokenString: tokenString, UserID: userID}), nil
}

func (as *authService) SweepExpired(ctx context.Context) (int64, error) {
	return as.userTokenRepo.FullDeleteExpired(dbctx.Context{Ctx: ctx}, time.Now())
}

func (as *authService) RunTokenSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := as.SweepExpired(ctx)
			if err != nil {
				as.log.Warn("Token sweep failed", "error", err)
				continue
			}
			if n > 0 {
				as.log.Info("Expired tokens removed", "count", n)
			}
		}
	}
}
