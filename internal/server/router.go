package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/habitnest/internal/achievements"
	"github.com/MarcoPoloResearchLab/habitnest/internal/apperrors"
	"github.com/MarcoPoloResearchLab/habitnest/internal/calendar"
	"github.com/MarcoPoloResearchLab/habitnest/internal/habits"
	"github.com/MarcoPoloResearchLab/habitnest/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	userIDContextKey         = "habitnest_user_id"
	accessTokenQueryParam    = "access_token"
	bearerPrefix             = "Bearer "
	tokenTypeBearer          = "Bearer"
	wildcardOrigin           = "*"
	errorUnauthorized        = "unauthorized"
	errorInvalidRequest      = "invalid_request"
	errorInternal            = "internal_error"
	tokenValidationMessage   = "token validation failed"
	requestFailedMessage     = "request failed"
	defaultHeartbeatInterval = 25 * time.Second
	triggerTimeout           = 10 * time.Second
)

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingAccounts      = errors.New("account service dependency required")
	errMissingHabitsService = errors.New("habits service dependency required")
	errMissingAchievements  = errors.New("achievements service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates access tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// AccountService registers and authenticates accounts.
type AccountService interface {
	Register(ctx context.Context, username, email, password string) (users.Account, error)
	Authenticate(ctx context.Context, username, password string) (users.Account, error)
}

// EvaluationTrigger runs an achievement pass for a user after a mutation.
type EvaluationTrigger interface {
	Fire(ctx context.Context, userID habits.UserID) ([]achievements.Key, error)
}

// Dependencies wires the HTTP surface. Trigger, Realtime and Background are optional.
type Dependencies struct {
	TokenManager      TokenManager
	Accounts          AccountService
	Habits            *habits.Service
	Achievements      *achievements.Service
	Trigger           EvaluationTrigger
	Realtime          *RealtimeDispatcher
	Background        *BackgroundTasks
	Location          *time.Location
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin router serving the API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.Habits == nil {
		return nil, errMissingHabitsService
	}
	if deps.Achievements == nil {
		return nil, errMissingAchievements
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	background := deps.Background
	if background == nil {
		background = NewBackgroundTasks()
	}
	location := deps.Location
	if location == nil {
		location = time.UTC
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		tokens:       deps.TokenManager,
		accounts:     deps.Accounts,
		habits:       deps.Habits,
		achievements: deps.Achievements,
		trigger:      deps.Trigger,
		realtime:     realtime,
		background:   background,
		location:     location,
		clock:        clock,
		heartbeat:    heartbeat,
		logger:       logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/habits", handler.handleListHabits)
	protected.POST("/habits", handler.handleCreateHabit)
	protected.PATCH("/habits/:id", handler.handleUpdateHabit)
	protected.DELETE("/habits/:id", handler.handleDeleteHabit)
	protected.GET("/habits/:id/history", handler.handleHabitHistory)
	protected.GET("/completions", handler.handleListCompletions)
	protected.POST("/completions", handler.handleCreateCompletion)
	protected.DELETE("/completions/:id", handler.handleDeleteCompletion)
	protected.GET("/achievements", handler.handleListAchievements)
	protected.GET("/progress/summary", handler.handleProgressSummary)
	protected.GET("/progress/weekdays", handler.handleWeekdayHistogram)
	protected.GET("/progress/calendar", handler.handleMonthCalendar)

	streaming := router.Group("/events")
	streaming.Use(handler.authorizeStream)
	streaming.GET("/stream", handler.handleEventStream)

	return router, nil
}

type httpHandler struct {
	tokens       TokenManager
	accounts     AccountService
	habits       *habits.Service
	achievements *achievements.Service
	trigger      EvaluationTrigger
	realtime     *RealtimeDispatcher
	background   *BackgroundTasks
	location     *time.Location
	clock        func() time.Time
	heartbeat    time.Duration
	logger       *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, wildcardOrigin) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	h.authorize(c, bearerToken(c))
}

// authorizeStream also accepts the token as a query parameter since EventSource cannot set headers.
func (h *httpHandler) authorizeStream(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		token = strings.TrimSpace(c.Query(accessTokenQueryParam))
	}
	h.authorize(c, token)
}

func (h *httpHandler) authorize(c *gin.Context, token string) {
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info(tokenValidationMessage, zap.Error(err))
		} else {
			h.logger.Warn(tokenValidationMessage, zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorUnauthorized})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
}

func (h *httpHandler) currentUser(c *gin.Context) (habits.UserID, bool) {
	userID, err := habits.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errorUnauthorized})
		return "", false
	}
	return userID, true
}

func (h *httpHandler) today() calendar.Day {
	return calendar.FromTime(h.clock(), h.location)
}

// fireTrigger starts an evaluation pass detached from the request. Its failures never change the response.
func (h *httpHandler) fireTrigger(ctx context.Context, userID habits.UserID) {
	if h.trigger == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	h.background.Go(func() {
		triggerCtx, cancel := context.WithTimeout(detached, triggerTimeout)
		defer cancel()
		if _, err := h.trigger.Fire(triggerCtx, userID); err != nil {
			h.logger.Debug("achievement trigger failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	})
}

func (h *httpHandler) respondError(c *gin.Context, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		h.logger.Error(requestFailedMessage, zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorInternal})
		return
	}
	status := statusForKind(appErr.Kind())
	if status >= http.StatusInternalServerError {
		h.logger.Error(requestFailedMessage, zap.String("path", c.FullPath()), zap.String("code", appErr.Code()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": appErr.Reason(), "code": appErr.Code()})
}

func statusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindConflict:
		return http.StatusConflict
	case apperrors.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondInvalidRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequest})
}
