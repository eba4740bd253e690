package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/cortexahq/cortexa-auth/internal/application"
	"github.com/cortexahq/cortexa-auth/internal/domain/entity"
	"github.com/cortexahq/cortexa-auth/internal/interface/middleware"
	"github.com/cortexahq/cortexa-auth/pkg/helpers"
	"github.com/cortexahq/cortexa-auth/pkg/response"
	"github.com/cortexahq/cortexa-auth/pkg/validation"
)

// AuthHandler exposes registration, login, OTP verification and the
// authenticated user info endpoint.
type AuthHandler struct {
	Svc     *application.Service
	Logger  *logrus.Logger
	Cookies *helpers.Manager
}

func NewAuthHandler(svc *application.Service, logger *logrus.Logger, cookieDomain string, cookieSecure bool) *AuthHandler {
	return &AuthHandler{Svc: svc, Logger: logger, Cookies: helpers.NewCookie(cookieDomain, cookieSecure)}
}

// Presence is the only precondition; email syntax is not validated, matching
// the login and verification lookups which compare the raw string.
type registerRequest struct {
	FullName        string `json:"fullName" binding:"required"`
	Email           string `json:"email" binding:"required"`
	Password        string `json:"password" binding:"required"`
	ProfileImageURL string `json:"profileImageUrl"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type verifyOTPRequest struct {
	Email string `json:"email" binding:"required"`
	OTP   string `json:"otp" binding:"required"`
}

// userView shapes a user for clients. The password hash never leaves the
// service boundary.
func userView(u *entity.User) gin.H {
	return gin.H{
		"id":              u.ID,
		"fullName":        u.FullName,
		"email":           u.Email,
		"profileImageUrl": u.ProfileImageURL,
		"isEmailVerified": u.IsEmailVerified,
		"createdAt":       u.CreatedAt,
		"updatedAt":       u.UpdatedAt,
	}
}

// fail logs the underlying error and answers with a generic message. Raw
// error text stays in the logs, never in the response body.
func (h *AuthHandler) fail(c *gin.Context, msg string, err error) {
	if h.Logger != nil {
		h.Logger.WithError(err).WithField("path", c.FullPath()).Error(msg)
	}
	response.Error[any](c, http.StatusInternalServerError, msg, nil)
}

// Register POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "All fields are required", validation.ToDetails(err))
		return
	}

	u, tok, err := h.Svc.Register(c.Request.Context(), application.RegisterInput{
		FullName:        req.FullName,
		Email:           req.Email,
		Password:        req.Password,
		ProfileImageURL: req.ProfileImageURL,
	})
	if err != nil {
		if errors.Is(err, application.ErrEmailTaken) {
			response.Error[any](c, http.StatusBadRequest, "Email already in use", nil)
			return
		}
		h.fail(c, "Registration failed", err)
		return
	}

	h.Cookies.SetAccessToken(c, tok.Token, tok.ExpiresAt)
	response.Success(c, http.StatusCreated, gin.H{
		"user":  userView(u),
		"token": tok.Token,
	}, "Registered. Please verify your email using OTP sent to your inbox.", gin.H{"token_expires_at": tok.ExpiresAt})
}

// Login POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "All fields are required", validation.ToDetails(err))
		return
	}

	u, tok, err := h.Svc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, application.ErrInvalidCredentials) {
			response.Error[any](c, http.StatusBadRequest, "Invalid credentials", nil)
			return
		}
		h.fail(c, "Login failed", err)
		return
	}

	h.Cookies.SetAccessToken(c, tok.Token, tok.ExpiresAt)
	response.Success(c, http.StatusOK, gin.H{
		"id":    u.ID,
		"user":  userView(u),
		"token": tok.Token,
	}, "Login successful", gin.H{"token_expires_at": tok.ExpiresAt})
}

// GetUserInfo GET /api/auth/me (auth required)
func (h *AuthHandler) GetUserInfo(c *gin.Context) {
	uid := c.GetString(middleware.CtxUserIDKey)
	u, err := h.Svc.GetUserInfo(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, application.ErrUserNotFound) {
			response.Error[any](c, http.StatusNotFound, "User not found", nil)
			return
		}
		h.fail(c, "Failed to fetch user", err)
		return
	}
	response.Success(c, http.StatusOK, userView(u), "User info", nil)
}

// VerifyOTP POST /api/auth/verify-otp
func (h *AuthHandler) VerifyOTP(c *gin.Context) {
	var req verifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "All fields are required", validation.ToDetails(err))
		return
	}

	u, tok, err := h.Svc.VerifyOTP(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		switch {
		case errors.Is(err, application.ErrUserNotFound):
			response.Error[any](c, http.StatusBadRequest, "User not found", nil)
		case errors.Is(err, application.ErrInvalidOTP):
			response.Error[any](c, http.StatusBadRequest, "Invalid OTP", nil)
		case errors.Is(err, application.ErrOTPExpired):
			response.Error[any](c, http.StatusBadRequest, "OTP expired", nil)
		default:
			h.fail(c, "Verification failed", err)
		}
		return
	}

	h.Cookies.SetAccessToken(c, tok.Token, tok.ExpiresAt)
	response.Success(c, http.StatusOK, gin.H{
		"token": tok.Token,
		"user":  userView(u),
	}, "Email verified successfully", gin.H{"token_expires_at": tok.ExpiresAt})
}

// UploadProfileImage POST /api/profile/image (auth required, multipart)
func (h *AuthHandler) UploadProfileImage(c *gin.Context) {
	uid := c.GetString(middleware.CtxUserIDKey)

	fh, err := c.FormFile("image")
	if err != nil {
		response.Error[any](c, http.StatusBadRequest, "image file is required", nil)
		return
	}
	f, err := fh.Open()
	if err != nil {
		h.fail(c, "Upload failed", err)
		return
	}
	defer func() { _ = f.Close() }()

	contentType := fh.Header.Get("Content-Type")
	url, err := h.Svc.UploadProfileImage(c.Request.Context(), uid, f, fh.Filename, contentType)
	if err != nil {
		if errors.Is(err, application.ErrUserNotFound) {
			response.Error[any](c, http.StatusNotFound, "User not found", nil)
			return
		}
		h.fail(c, "Upload failed", err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"profileImageUrl": url}, "Profile image updated", nil)
}
