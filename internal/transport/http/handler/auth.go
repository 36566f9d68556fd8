package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"studyrag/internal/app"
	"studyrag/internal/model"
	"studyrag/internal/transport/http/middleware"
	"studyrag/internal/transport/http/response"
)

type AuthHandler struct {
	authService *app.AuthService
	guard       *app.Guard
}

type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=64"`
	Email       string `json:"email" binding:"required,email,max=128"`
	Password    string `json:"password" binding:"required,min=8,max=128"`
	DisplayName string `json:"display_name" binding:"max=128"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func NewAuthHandler(authService *app.AuthService, guard *app.Guard) *AuthHandler {
	return &AuthHandler{authService: authService, guard: guard}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.authService.Register(c.Request.Context(), app.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrUsernameExists):
			response.Error(c, http.StatusBadRequest, response.CodeUsernameExists, err.Error())
		case errors.Is(err, app.ErrEmailExists):
			response.Error(c, http.StatusBadRequest, response.CodeEmailExists, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "register failed")
		}
		return
	}

	response.OK(c, gin.H{
		"access_token":  result.Pair.AccessToken,
		"refresh_token": result.Pair.RefreshToken,
		"user":          userView(result.User),
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.authService.Login(c.Request.Context(), app.LoginInput{
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		h.writeLoginError(c, err)
		return
	}

	response.OK(c, gin.H{
		"access_token":  result.Pair.AccessToken,
		"refresh_token": result.Pair.RefreshToken,
		"user":          userView(result.User),
	})
}

// Token is the OAuth2-style form variant of Login: it accepts
// application/x-www-form-urlencoded credentials and answers with the bare
// token-pair shape OAuth2 clients expect, outside the usual envelope.
func (h *AuthHandler) Token(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	if username == "" || password == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "username and password are required")
		return
	}

	result, err := h.authService.Login(c.Request.Context(), app.LoginInput{
		Username: username,
		Password: password,
	})
	if err != nil {
		h.writeLoginError(c, err)
		return
	}

	c.JSON(http.StatusOK, result.Pair)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	pair, err := h.authService.Rotate(c.Request.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, app.ErrTokenExpired):
			response.Error(c, http.StatusUnauthorized, response.CodeTokenExpired, "refresh token expired, please log in again")
		case errors.Is(err, app.ErrInvalidToken):
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid refresh token")
		case errors.Is(err, app.ErrForbidden):
			response.Error(c, http.StatusForbidden, response.CodeForbidden, "account is deactivated")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "refresh failed")
		}
		return
	}

	response.OK(c, pair)
}

func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "identity missing")
		return
	}

	user, err := h.authService.GetUserByID(c.Request.Context(), identity.SubjectID)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "user not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "fetch current user failed")
		return
	}

	response.OK(c, userView(user))
}

func (h *AuthHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	if err := h.authService.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, app.ErrInvalidInput) {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
			return
		}
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "logout failed")
		return
	}

	response.OK(c, gin.H{"logged_out": true})
}

func (h *AuthHandler) LogoutAll(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "identity missing")
		return
	}

	if err := h.authService.LogoutAll(c.Request.Context(), identity.SubjectID); err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "logout all failed")
		return
	}

	response.OK(c, gin.H{"logged_out": true})
}

func (h *AuthHandler) ListUsers(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "identity missing")
		return
	}
	if err := h.guard.RequireAdmin(identity); err != nil {
		response.Error(c, http.StatusForbidden, response.CodeForbidden, "admin role required")
		return
	}

	users, err := h.authService.ListUsers(c.Request.Context())
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list users failed")
		return
	}

	views := make([]gin.H, len(users))
	for i := range users {
		views[i] = userView(&users[i])
	}
	response.OK(c, views)
}

func (h *AuthHandler) GetUser(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "identity missing")
		return
	}
	if err := h.guard.RequireAdmin(identity); err != nil {
		response.Error(c, http.StatusForbidden, response.CodeForbidden, "admin role required")
		return
	}

	user, err := h.authService.GetUserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid user id")
		case errors.Is(err, app.ErrNotFound):
			response.Error(c, http.StatusNotFound, response.CodeNotFound, "user not found")
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "fetch user failed")
		}
		return
	}

	response.OK(c, userView(user))
}

func (h *AuthHandler) writeLoginError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidInput):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrInvalidCredential):
		response.Error(c, http.StatusUnauthorized, response.CodeInvalidCredentials, err.Error())
	case errors.Is(err, app.ErrForbidden):
		response.Error(c, http.StatusForbidden, response.CodeForbidden, "account is deactivated")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "login failed")
	}
}

func userView(user *model.User) gin.H {
	return gin.H{
		"id":           user.ID,
		"username":     user.Username,
		"email":        user.Email,
		"display_name": user.DisplayName,
		"role":         user.Role,
		"is_active":    user.Active,
		"created_at":   user.CreatedAt,
	}
}
