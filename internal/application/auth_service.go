package application

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cortexahq/cortexa-auth/config"
	"github.com/cortexahq/cortexa-auth/internal/domain/entity"
	repo "github.com/cortexahq/cortexa-auth/internal/domain/repository"
	"github.com/cortexahq/cortexa-auth/pkg/helpers"
	"github.com/cortexahq/cortexa-auth/pkg/mailer"
	tpl "github.com/cortexahq/cortexa-auth/pkg/mailer/templates"
)

var (
	ErrEmailTaken         = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidOTP         = errors.New("invalid otp")
	ErrOTPExpired         = errors.New("otp expired")
)

// Service implements the registration, login and OTP verification flows.
// Mail delivery is best-effort: a failed enqueue is logged and never fails
// the calling operation.
type Service struct {
	Repo      repo.UserRepository
	JWT       *helpers.JWTManager
	Redis     *redis.Client
	Pub       *helpers.RabbitPublisher
	GCS       *storage.Client
	GCSBucket string
	Logger    *logrus.Logger
	Cfg       *config.Config
}

func NewService(r repo.UserRepository, jwt *helpers.JWTManager, rdb *redis.Client, pub *helpers.RabbitPublisher, gcs *storage.Client, gcsBucket string, logger *logrus.Logger, cfg *config.Config) *Service {
	return &Service{
		Repo:      r,
		JWT:       jwt,
		Redis:     rdb,
		Pub:       pub,
		GCS:       gcs,
		GCSBucket: gcsBucket,
		Logger:    logger,
		Cfg:       cfg,
	}
}

type RegisterInput struct {
	FullName        string
	Email           string
	Password        string
	ProfileImageURL string
}

// IssuedToken pairs a signed token with its expiry instant.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}

func sessionKey(userID string) string {
	return "user:session:" + userID
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Register creates an unverified user with a fresh OTP and sends the welcome
// email. The store enforces email uniqueness; the lookup beforehand only
// short-circuits the common case.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*entity.User, IssuedToken, error) {
	if _, err := s.Repo.GetByEmail(ctx, in.Email); err == nil {
		return nil, IssuedToken{}, ErrEmailTaken
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, IssuedToken{}, err
	}

	hash, err := helpers.HashPassword(in.Password)
	if err != nil {
		return nil, IssuedToken{}, err
	}
	code, err := helpers.GenOTPCode()
	if err != nil {
		return nil, IssuedToken{}, err
	}
	expiry := time.Now().Add(s.Cfg.OTPTTL)

	u := &entity.User{
		FullName:        in.FullName,
		Email:           in.Email,
		Password:        hash,
		ProfileImageURL: in.ProfileImageURL,
		OTP:             &code,
		OTPExpiry:       &expiry,
	}
	if err := s.Repo.Create(ctx, u); err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			// Lost the create race against a concurrent registration.
			return nil, IssuedToken{}, ErrEmailTaken
		}
		return nil, IssuedToken{}, err
	}

	s.enqueueWelcomeEmail(ctx, u, code)

	tok, err := s.issueToken(ctx, u)
	if err != nil {
		return nil, IssuedToken{}, err
	}
	return u, tok, nil
}

// Login validates email/password and issues a fresh token. Unknown email and
// wrong password are indistinguishable to the caller. Verification status is
// deliberately not checked; unverified users may log in.
func (s *Service) Login(ctx context.Context, email, password string) (*entity.User, IssuedToken, error) {
	u, err := s.Repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, IssuedToken{}, ErrInvalidCredentials
		}
		return nil, IssuedToken{}, err
	}
	if !helpers.CompareHashAndPassword(u.Password, password) {
		return nil, IssuedToken{}, ErrInvalidCredentials
	}
	tok, err := s.issueToken(ctx, u)
	if err != nil {
		return nil, IssuedToken{}, err
	}
	return u, tok, nil
}

// GetUserInfo looks up a user by id.
func (s *Service) GetUserInfo(ctx context.Context, userID string) (*entity.User, error) {
	u, err := s.Repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// VerifyOTP checks the submitted code against the stored one. The equality
// check runs before the expiry check, so an expired-but-wrong code reports
// invalid rather than expired. Success flips the one-way verified flag and
// clears both OTP fields.
func (s *Service) VerifyOTP(ctx context.Context, email, code string) (*entity.User, IssuedToken, error) {
	u, err := s.Repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, IssuedToken{}, ErrUserNotFound
		}
		return nil, IssuedToken{}, err
	}
	if u.OTP == nil || *u.OTP != code {
		return nil, IssuedToken{}, ErrInvalidOTP
	}
	if u.OTPExpiry != nil && u.OTPExpiry.Before(time.Now()) {
		return nil, IssuedToken{}, ErrOTPExpired
	}

	u.IsEmailVerified = true
	u.OTP = nil
	u.OTPExpiry = nil
	if err := s.Repo.Update(ctx, u); err != nil {
		return nil, IssuedToken{}, err
	}

	tok, err := s.issueToken(ctx, u)
	if err != nil {
		return nil, IssuedToken{}, err
	}
	return u, tok, nil
}

// UploadProfileImage stores the image in GCS and persists the public URL.
func (s *Service) UploadProfileImage(ctx context.Context, userID string, r io.Reader, filename, contentType string) (string, error) {
	if s.GCS == nil || s.GCSBucket == "" {
		return "", errors.New("gcs not configured")
	}
	u, err := s.Repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	id := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(filename))
	objectPath := filepath.ToSlash(filepath.Join("profiles", userID, id+ext))
	url, err := helpers.UploadObject(ctx, s.GCS, s.GCSBucket, objectPath, contentType, r)
	if err != nil {
		return "", err
	}
	u.ProfileImageURL = url
	if err := s.Repo.Update(ctx, u); err != nil {
		return "", err
	}
	if s.Redis != nil {
		s.Redis.HSet(ctx, sessionKey(u.ID), map[string]any{
			"profile_image_url": u.ProfileImageURL,
			"updated_at":        nowRFC3339(),
		})
	}
	return url, nil
}

// issueToken signs a token for the user and records session metadata in
// Redis. The cache is observational only; token validation never consults it.
func (s *Service) issueToken(ctx context.Context, u *entity.User) (IssuedToken, error) {
	token, exp, err := s.JWT.GenerateToken(u.ID)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("user_id", u.ID).Error("generate token failed")
		}
		return IssuedToken{}, err
	}

	if s.Redis != nil {
		fields := map[string]any{
			"user_id":           u.ID,
			"email":             u.Email,
			"full_name":         u.FullName,
			"profile_image_url": u.ProfileImageURL,
			"verified":          u.IsEmailVerified,
			"created_at":        nowRFC3339(),
		}
		key := sessionKey(u.ID)
		pipe := s.Redis.Pipeline()
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, 24*time.Hour)
		if _, rErr := pipe.Exec(ctx); rErr != nil && s.Logger != nil {
			s.Logger.WithError(rErr).WithField("key", key).Warn("redis pipeline failed")
		}
	}

	return IssuedToken{Token: token, ExpiresAt: exp}, nil
}

// enqueueWelcomeEmail publishes the OTP mail job. Failures are logged and
// swallowed so registration never depends on the mail relay.
func (s *Service) enqueueWelcomeEmail(ctx context.Context, u *entity.User, code string) {
	if s.Pub == nil || s.Cfg == nil || !s.Cfg.MailSendEnabled {
		return
	}
	job := mailer.EmailJob{
		To:       u.Email,
		Template: tpl.WelcomeOTP,
		Data: map[string]any{
			"Name":             u.FullName,
			"Email":            u.Email,
			"AppName":          s.Cfg.AppName,
			"Code":             code,
			"ExpiresInMinutes": int(s.Cfg.OTPTTL.Minutes()),
		},
	}
	if err := s.Pub.PublishJSON(ctx, job); err != nil && s.Logger != nil {
		s.Logger.WithError(err).WithField("email", u.Email).Warn("welcome email enqueue failed")
	}
}
