// Package dashboard serves the local shell the browser frontend talks to:
// session state, login/logout/extend, unread counts, and metrics. The
// visual screens themselves live in the frontend and are not served here.
package dashboard

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/opsdesk/opsdesk/internal/authclient"
	"github.com/opsdesk/opsdesk/internal/messaging"
	"github.com/opsdesk/opsdesk/internal/session"
	"github.com/opsdesk/opsdesk/pkg/sessionwatch"
	"go.uber.org/zap"
)

// ShellDeps wires the shell routes to the session core.
type ShellDeps struct {
	Manager  *session.Manager
	Client   *authclient.Client
	Watcher  *sessionwatch.Watcher
	Metrics  *authclient.CounterMetrics
	Receipts messaging.ReadReceiptStore
	Logger   *zap.Logger
}

// MountShellRoutes registers the dashboard shell endpoints.
func MountShellRoutes(router gin.IRouter, deps ShellDeps) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router.GET("/healthz", func(contextGin *gin.Context) {
		contextGin.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/session", func(contextGin *gin.Context) {
		status := deps.Manager.Status()
		response := gin.H{
			"status":      string(status),
			"permissions": deps.Manager.Permissions(),
		}
		if user, ok := deps.Manager.User(); ok {
			response["user"] = user
		}
		if deps.Watcher != nil {
			response["warning_active"] = deps.Watcher.WarningActive()
			if remaining := deps.Watcher.Remaining(); remaining > 0 {
				response["expires_in_seconds"] = int(remaining.Seconds())
			}
		}
		contextGin.JSON(http.StatusOK, response)
	})

	router.POST("/session/login", func(contextGin *gin.Context) {
		var inbound struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil || strings.TrimSpace(inbound.Email) == "" {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}

		user, loginErr := deps.Manager.Login(contextGin.Request.Context(), inbound.Email, inbound.Password)
		if loginErr != nil {
			switch {
			case errors.Is(loginErr, authclient.ErrBadCredentials):
				contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
			case errors.Is(loginErr, authclient.ErrServerUnreachable):
				contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "server_unreachable"})
			default:
				logger.Error("login failed",
					zap.String("code", "dashboard.login.error"),
					zap.Error(loginErr))
				contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
			}
			return
		}
		contextGin.JSON(http.StatusOK, user)
	})

	router.POST("/session/logout", func(contextGin *gin.Context) {
		if logoutErr := deps.Manager.Logout(contextGin.Request.Context()); logoutErr != nil {
			logger.Warn("logout error",
				zap.String("code", "dashboard.logout.error"),
				zap.Error(logoutErr))
		}
		if deps.Receipts != nil {
			_ = deps.Receipts.Clear(contextGin.Request.Context())
		}
		contextGin.Status(http.StatusNoContent)
	})

	router.POST("/session/extend", func(contextGin *gin.Context) {
		var extendErr error
		if deps.Watcher != nil {
			extendErr = deps.Watcher.Extend(contextGin.Request.Context())
		} else {
			extendErr = deps.Client.Refresh(contextGin.Request.Context())
		}
		if extendErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session_expired"})
			return
		}
		contextGin.Status(http.StatusNoContent)
	})

	router.GET("/messages/unread", func(contextGin *gin.Context) {
		messages, fetchErr := deps.Client.FetchMessages(contextGin.Request.Context())
		if fetchErr != nil {
			abortForAPIError(contextGin, fetchErr)
			return
		}
		unreadCount, countErr := messaging.UnreadCount(contextGin.Request.Context(), messages, deps.Receipts)
		if countErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unread_count_failed"})
			return
		}
		contextGin.JSON(http.StatusOK, gin.H{"unread": unreadCount})
	})

	router.POST("/messages/read", func(contextGin *gin.Context) {
		var inbound struct {
			MessageIDs []string `json:"message_ids"`
		}
		if err := contextGin.BindJSON(&inbound); err != nil || len(inbound.MessageIDs) == 0 {
			contextGin.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_json"})
			return
		}
		if markErr := deps.Receipts.MarkRead(contextGin.Request.Context(), inbound.MessageIDs...); markErr != nil {
			contextGin.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "mark_read_failed"})
			return
		}
		contextGin.Status(http.StatusNoContent)
	})

	router.GET("/metrics", func(contextGin *gin.Context) {
		if deps.Metrics == nil {
			contextGin.JSON(http.StatusOK, gin.H{})
			return
		}
		contextGin.JSON(http.StatusOK, deps.Metrics.Snapshot())
	})
}

func abortForAPIError(contextGin *gin.Context, err error) {
	if errors.Is(err, authclient.ErrSessionExpired) {
		contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session_expired"})
		return
	}
	var apiError *authclient.APIError
	if errors.As(err, &apiError) {
		contextGin.AbortWithStatusJSON(apiError.StatusCode, gin.H{"error": "upstream_error"})
		return
	}
	contextGin.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "server_unreachable"})
}
