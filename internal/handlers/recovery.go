package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orderdesk/orderdesk/internal/recovery"
	appErrors "github.com/orderdesk/orderdesk/pkg/errors"
	"github.com/orderdesk/orderdesk/pkg/logger"
	"github.com/orderdesk/orderdesk/pkg/mail"
	"github.com/orderdesk/orderdesk/pkg/metrics"
	"github.com/orderdesk/orderdesk/pkg/response"
)

// forgotPasswordAck is the uniform acknowledgement returned whether or not the
// email names an account.
const forgotPasswordAck = "If that email is registered, a password reset link has been sent."

// RecoveryHandler exposes the account-recovery flow over HTTP.
type RecoveryHandler struct {
	svc      *recovery.Service
	mailer   mail.Mailer
	resetURL string
	log      *zap.Logger
}

// NewRecoveryHandler wires the orchestrator and the outbound mailer. resetURL
// is the portal page the emailed link points at; the token and email are
// appended as query parameters.
func NewRecoveryHandler(svc *recovery.Service, mailer mail.Mailer, resetURL string) (*RecoveryHandler, error) {
	if svc == nil {
		return nil, errors.New("recovery handler: service is required")
	}
	return &RecoveryHandler{
		svc:      svc,
		mailer:   mailer,
		resetURL: strings.TrimRight(resetURL, "/"),
		log:      logger.WithModule("handlers.recovery"),
	}, nil
}

type requestQuestionRequest struct {
	Email        string `json:"email" validate:"required,email"`
	CaptchaToken string `json:"captcha_token"`
}

// POST /api/recovery/question
func (h *RecoveryHandler) RequestQuestion(c *gin.Context) {
	var req requestQuestionRequest
	if !bindAndValidate(c, &req) {
		return
	}

	question, err := h.svc.RequestQuestion(requestContext(c), recovery.RequestQuestionInput{
		Email:        req.Email,
		CaptchaToken: req.CaptchaToken,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
	if err != nil {
		metrics.RecoveryAttempts.WithLabelValues("question", "failure").Inc()
		h.writeError(c, err)
		return
	}

	metrics.RecoveryAttempts.WithLabelValues("question", "success").Inc()
	metrics.RecoverySessionsIssued.Inc()

	response.Success(c, http.StatusOK, gin.H{
		"security_question": question.SecurityQuestion,
		"session_token":     question.SessionToken,
	})
}

type verifyAnswerRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Answer       string `json:"answer" validate:"required"`
	SessionToken string `json:"session_token"`
	CaptchaToken string `json:"captcha_token"`
}

// POST /api/recovery/verify
func (h *RecoveryHandler) VerifyAnswer(c *gin.Context) {
	var req verifyAnswerRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.svc.VerifyAnswer(requestContext(c), recovery.VerifyAnswerInput{
		Email:        req.Email,
		Answer:       req.Answer,
		SessionToken: req.SessionToken,
		CaptchaToken: req.CaptchaToken,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
	if err != nil {
		metrics.RecoveryAttempts.WithLabelValues("verify", "failure").Inc()
		h.writeError(c, err)
		return
	}

	metrics.RecoveryAttempts.WithLabelValues("verify", "success").Inc()

	response.Success(c, http.StatusOK, gin.H{
		"reset_token": result.ResetToken,
		"email":       result.Email,
	})
}

type forgotPasswordRequest struct {
	Email        string `json:"email" validate:"required,email"`
	CaptchaToken string `json:"captcha_token"`
}

// POST /api/recovery/forgot-password
func (h *RecoveryHandler) ForgotPassword(c *gin.Context) {
	var req forgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	issue, err := h.svc.ForgotPassword(requestContext(c), recovery.ForgotPasswordInput{
		Email:        req.Email,
		CaptchaToken: req.CaptchaToken,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
	if err != nil {
		metrics.RecoveryAttempts.WithLabelValues("forgot", "failure").Inc()
		h.writeError(c, err)
		return
	}

	metrics.RecoveryAttempts.WithLabelValues("forgot", "success").Inc()

	if issue != nil {
		// Delivery failures are logged, never surfaced: the acknowledgement
		// must not change based on what happened after the lookup.
		switch err := h.sendResetMail(c, issue); {
		case err == nil:
			metrics.ResetMailSends.WithLabelValues("success").Inc()
		case errors.Is(err, mail.ErrSMTPDisabled):
			metrics.ResetMailSends.WithLabelValues("skipped").Inc()
			h.log.Debug("reset mail skipped, smtp disabled", zap.String("email", issue.User.Email))
		default:
			metrics.ResetMailSends.WithLabelValues("failure").Inc()
			h.log.Error("reset mail delivery failed",
				zap.String("email", issue.User.Email),
				zap.Error(err),
			)
		}
	}

	response.Success(c, http.StatusOK, gin.H{"message": forgotPasswordAck})
}

type resetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=128"`
}

// POST /api/recovery/reset-password
func (h *RecoveryHandler) ResetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	err := h.svc.ResetPassword(requestContext(c), recovery.ResetPasswordInput{
		Email:       req.Email,
		Token:       req.Token,
		NewPassword: req.NewPassword,
		IPAddress:   c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		metrics.RecoveryAttempts.WithLabelValues("reset", "failure").Inc()
		h.writeError(c, err)
		return
	}

	metrics.RecoveryAttempts.WithLabelValues("reset", "success").Inc()

	response.Success(c, http.StatusOK, gin.H{"message": "Password has been reset."})
}

func (h *RecoveryHandler) sendResetMail(c *gin.Context, issue *recovery.ResetIssue) error {
	if h.mailer == nil {
		return mail.ErrSMTPDisabled
	}

	link := fmt.Sprintf("%s?token=%s&email=%s",
		h.resetURL,
		url.QueryEscape(issue.ResetToken),
		url.QueryEscape(issue.User.Email),
	)

	body := fmt.Sprintf(
		"<p>Hello %s,</p><p>A password reset was requested for your account. "+
			"<a href=%q>Reset your password</a>. The link expires in one hour.</p>"+
			"<p>If you did not request this, you can ignore this message.</p>",
		issue.User.FirstName, link,
	)

	return h.mailer.Send(requestContext(c), mail.Message{
		To:      []string{issue.User.Email},
		Subject: "Password reset request",
		Body:    body,
		HTML:    true,
	})
}

// writeError maps orchestrator failures onto the API error vocabulary. All
// generic failures share one shape; only the lockout is specific.
func (h *RecoveryHandler) writeError(c *gin.Context, err error) {
	var locked *recovery.LockedOutError
	switch {
	case errors.As(err, &locked):
		response.ErrorWithDetails(c, appErrors.New(
			appErrors.ErrAccountLocked.Code,
			fmt.Sprintf("Too many failed attempts. Try again in %d minutes.", locked.WaitMinutes()),
			http.StatusLocked,
		), map[string]interface{}{"wait_minutes": locked.WaitMinutes()})
	case errors.Is(err, recovery.ErrCaptchaInvalid):
		response.Error(c, appErrors.ErrCaptchaInvalid)
	case errors.Is(err, recovery.ErrUserNotFound):
		response.Error(c, appErrors.New("USER_NOT_FOUND", "No account found for that email address", http.StatusNotFound))
	case errors.Is(err, recovery.ErrInvalidAttempt):
		response.Error(c, appErrors.ErrInvalidAttempt)
	case errors.Is(err, recovery.ErrResetTokenInvalid):
		response.Error(c, appErrors.ErrResetTokenInvalid)
	default:
		h.log.Error("recovery operation failed", zap.Error(err))
		response.Error(c, appErrors.ErrInternalServer)
	}
}
