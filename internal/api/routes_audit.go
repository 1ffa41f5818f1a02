package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/orderdesk/orderdesk/internal/handlers"
)

func registerAuditRoutes(api *gin.RouterGroup, db *gorm.DB) error {
	handler, err := handlers.NewAuditHandler(db)
	if err != nil {
		return err
	}

	api.GET("/recovery/audit", handler.List)

	return nil
}
