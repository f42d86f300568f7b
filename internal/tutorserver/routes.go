package tutorserver

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/NavaneethWKT/Tuition-master-sub000/internal/auth"
)

// issuerKeyHeader carries the shared key required to mint client tokens.
const issuerKeyHeader = "X-Issuer-Key"

// InitRoutes registers the tutor backend routes. A nil issuer disables
// authentication on the websocket endpoint; an empty issuerKey disables
// the token endpoint.
func InitRoutes(e *echo.Echo, hub *Hub, issuer *auth.TokenIssuer, issuerKey string, logger *zap.Logger) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"service": "tutor-server",
			"clients": hub.ClientCount(),
		})
	})

	e.GET("/metrics", echo.WrapHandler(hub.metrics.Handler()))

	v1 := e.Group("/api/v1")
	v1.POST("/token", func(c echo.Context) error {
		return issueToken(c, issuer, issuerKey, logger)
	})

	e.GET("/ws/:client_id", func(c echo.Context) error {
		return websocketWithAuth(c, hub, issuer, logger)
	})
}

func issueToken(c echo.Context, issuer *auth.TokenIssuer, issuerKey string, logger *zap.Logger) error {
	if issuer == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "auth_disabled",
			Message: "Authentication is not enabled on this server",
		})
	}
	if issuerKey == "" {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "issuing_disabled",
			Message: "Token issuing is not enabled on this server",
		})
	}

	key := c.Request().Header.Get(issuerKeyHeader)
	if subtle.ConstantTimeCompare([]byte(key), []byte(issuerKey)) != 1 {
		logger.Warn("Token request rejected: bad issuer key", zap.String("remote", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_issuer_key",
			Message: "A valid " + issuerKeyHeader + " header is required",
		})
	}

	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		logger.Warn("Failed to bind token request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.ClientID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "client_id is required",
		})
	}
	if req.Role == "" {
		req.Role = auth.RoleStudent
	}

	token, expiresAt, err := issuer.GenerateClientToken(req.ClientID, req.UserID, req.Role)
	if err != nil {
		if errors.Is(err, auth.ErrRoleNotAllowed) {
			return c.JSON(http.StatusForbidden, ErrorResponse{
				Error:   "invalid_role",
				Message: err.Error(),
			})
		}
		logger.Error("Failed to generate client token", zap.String("client_id", req.ClientID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	logger.Info("Client token issued",
		zap.String("client_id", req.ClientID),
		zap.String("role", req.Role))

	return c.JSON(http.StatusOK, TokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		ClientID:  req.ClientID,
	})
}

// websocketWithAuth validates the bearer token, when auth is enabled, before
// handing the connection to the hub.
func websocketWithAuth(c echo.Context, hub *Hub, issuer *auth.TokenIssuer, logger *zap.Logger) error {
	clientID := c.Param("client_id")
	if clientID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_client_id",
			Message: "Client ID is required in the path",
		})
	}

	if issuer != nil {
		token := auth.BearerToken(c.Request().Header.Get("Authorization"))
		if token == "" {
			logger.Warn("WebSocket connection rejected: missing token", zap.String("client_id", clientID))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "missing_token",
				Message: "JWT token is required in Authorization header",
			})
		}

		claims, err := issuer.ValidateToken(token)
		if err != nil {
			logger.Warn("WebSocket connection rejected: invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}

		if claims.ClientID != clientID {
			logger.Warn("WebSocket connection rejected: client mismatch",
				zap.String("client_id", clientID),
				zap.String("token_client_id", claims.ClientID))
			return c.JSON(http.StatusForbidden, ErrorResponse{
				Error:   "client_mismatch",
				Message: "Token was not issued for this client",
			})
		}
	}

	logger.Info("WebSocket connection accepted", zap.String("client_id", clientID))
	return hub.ServeClient(c, clientID)
}
