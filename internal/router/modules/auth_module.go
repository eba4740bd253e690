package modules

import (
	"github.com/gin-gonic/gin"

	handlers "github.com/cortexahq/cortexa-auth/internal/interface/http"
	"github.com/cortexahq/cortexa-auth/internal/interface/middleware"
	"github.com/cortexahq/cortexa-auth/pkg/helpers"
)

// AuthModule wires the auth handlers into routes.
// Public: POST /api/auth/register, POST /api/auth/login, POST /api/auth/verify-otp
// Protected: GET /api/auth/me, POST /api/profile/image
type AuthModule struct {
	Handler *handlers.AuthHandler
	JWT     *helpers.JWTManager
}

func NewAuthModule(h *handlers.AuthHandler, jwt *helpers.JWTManager) *AuthModule {
	return &AuthModule{Handler: h, JWT: jwt}
}

func (m *AuthModule) Register(rg *gin.RouterGroup) {
	rg.POST("/auth/register", m.Handler.Register)
	rg.POST("/auth/login", m.Handler.Login)
	rg.POST("/auth/verify-otp", m.Handler.VerifyOTP)

	auth := rg.Group("/")
	auth.Use(middleware.Auth(m.JWT))
	{
		auth.GET("/auth/me", m.Handler.GetUserInfo)
		auth.POST("/profile/image", m.Handler.UploadProfileImage)
	}
}
