package router

import "github.com/gin-gonic/gin"

// Module is a routable feature unit. Implementations attach their endpoints
// to the shared API group during startup wiring.
type Module interface {
	Register(rg *gin.RouterGroup)
}
