package handlers

import (
	"errors"
	"net/http"

	"mailwizz/internal/auth"

	"github.com/gin-gonic/gin"
)

func (h *Handler) respondWithLoginError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUserNotFound):
		h.respondWithError(c, http.StatusUnauthorized, "Invalid username or password")
	case errors.Is(err, auth.ErrUserInactive):
		h.respondWithError(c, http.StatusForbidden, "User account is inactive")
	default:
		h.respondWithError(c, http.StatusInternalServerError, "Login failed")
	}
}

// Login 后台用户登录
func (h *Handler) Login(c *gin.Context) {
	var req auth.LoginRequest
	if !h.bindJSON(c, &req) {
		return
	}

	response, err := h.authService.Login(&req)
	if err != nil {
		h.respondWithLoginError(c, err)
		return
	}

	h.respondWithSuccess(c, response, "Login successful")
}

// CustomerLogin 客户登录
func (h *Handler) CustomerLogin(c *gin.Context) {
	var req auth.CustomerLoginRequest
	if !h.bindJSON(c, &req) {
		return
	}

	response, err := h.authService.LoginCustomer(&req)
	if err != nil {
		h.respondWithLoginError(c, err)
		return
	}

	h.respondWithSuccess(c, response, "Login successful")
}

// Logout 登出，使当前token的缓存失效
func (h *Handler) Logout(c *gin.Context) {
	if token := auth.ExtractTokenFromHeader(c.GetHeader("Authorization")); token != "" {
		h.authService.Logout(token)
	}
	h.respondWithSuccess(c, nil, "Logout successful")
}

// GetCurrentUser 获取当前登录主体
func (h *Handler) GetCurrentUser(c *gin.Context) {
	principal, ok := h.getPrincipal(c)
	if !ok {
		return
	}

	if principal.IsCustomer() {
		customer, err := h.customers.GetCustomer(c.Request.Context(), principal.ID)
		if err != nil {
			h.respondWithServiceError(c, err)
			return
		}
		h.respondWithSuccess(c, customer)
		return
	}

	h.respondWithSuccess(c, principal)
}

// RefreshToken 刷新访问令牌
func (h *Handler) RefreshToken(c *gin.Context) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		h.respondWithError(c, http.StatusBadRequest, "Authorization header is required")
		return
	}

	token := auth.ExtractTokenFromHeader(authHeader)
	if token == "" {
		h.respondWithError(c, http.StatusBadRequest, "Invalid authorization header format")
		return
	}

	response, err := h.authService.RefreshToken(token)
	if err != nil {
		h.respondWithError(c, http.StatusUnauthorized, "Token refresh failed")
		return
	}

	h.respondWithSuccess(c, response, "Token refreshed successfully")
}

// ChangePasswordRequest 修改密码请求
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// ChangePassword 修改当前主体的密码
func (h *Handler) ChangePassword(c *gin.Context) {
	principal, ok := h.getPrincipal(c)
	if !ok {
		return
	}

	var req ChangePasswordRequest
	if !h.bindJSON(c, &req) {
		return
	}

	var err error
	if principal.IsCustomer() {
		err = h.authService.ChangeCustomerPassword(principal.ID, req.OldPassword, req.NewPassword)
	} else {
		err = h.authService.ChangePassword(principal.ID, req.OldPassword, req.NewPassword)
	}
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			h.respondWithError(c, http.StatusBadRequest, "Current password is incorrect")
		case errors.Is(err, auth.ErrUserNotFound):
			h.respondWithError(c, http.StatusNotFound, "User not found")
		default:
			h.respondWithError(c, http.StatusInternalServerError, "Failed to change password")
		}
		return
	}

	// 旧token失效
	h.authService.Logout(auth.ExtractTokenFromHeader(c.GetHeader("Authorization")))
	h.respondWithSuccess(c, nil, "Password changed successfully")
}
