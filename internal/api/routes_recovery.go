package api

import (
	"github.com/gin-gonic/gin"

	"github.com/orderdesk/orderdesk/internal/app"
	"github.com/orderdesk/orderdesk/internal/handlers"
	"github.com/orderdesk/orderdesk/internal/recovery"
	"github.com/orderdesk/orderdesk/pkg/mail"
)

func registerRecoveryRoutes(api *gin.RouterGroup, svc *recovery.Service, mailer mail.Mailer, cfg *app.Config) error {
	handler, err := handlers.NewRecoveryHandler(svc, mailer, cfg.Recovery.ResetURL)
	if err != nil {
		return err
	}

	grp := api.Group("/recovery")
	{
		grp.POST("/question", handler.RequestQuestion)
		grp.POST("/verify", handler.VerifyAnswer)
		grp.POST("/forgot-password", handler.ForgotPassword)
		grp.POST("/reset-password", handler.ResetPassword)
	}

	return nil
}
