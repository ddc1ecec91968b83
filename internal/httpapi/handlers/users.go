package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/suPer8Hu/orion-chat/internal/auth"
	"github.com/suPer8Hu/orion-chat/internal/common"
	"github.com/suPer8Hu/orion-chat/internal/models"
)

type signupReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
}

type loginReq struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func userBody(u *models.User) gin.H {
	return gin.H{
		"user_id": u.UserID,
		"email":   u.Email,
		"name":    u.Name,
	}
}

func (h *Handler) tokenBody(c *gin.Context, u *models.User) (gin.H, bool) {
	token, err := auth.SignJWT(u.UserID, h.Cfg.JWTSecret, h.Cfg.JWTTTL)
	if err != nil {
		h.Log.Error("sign token failed", "user_id", u.UserID, "error", err)
		common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "failed to sign token")
		return nil, false
	}
	return gin.H{
		"access_token": token,
		"token_type":   "bearer",
		"user":         userBody(u),
	}, true
}

func (h *Handler) Signup(c *gin.Context) {
	var req signupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeValidation, common.BindingMessage(err))
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	ctx := c.Request.Context()

	var cnt int64
	if err := h.DB.WithContext(ctx).Model(&models.User{}).Where("email = ?", email).Count(&cnt).Error; err != nil {
		h.Log.Error("check email failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "db error")
		return
	}
	if cnt > 0 {
		common.Fail(c, http.StatusBadRequest, common.CodeEmailTaken, "Email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "failed to hash password")
		return
	}

	user := models.User{
		UserID:       uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
	}
	if err := h.DB.WithContext(ctx).Create(&user).Error; err != nil {
		// lost a race on the unique email index
		common.Fail(c, http.StatusBadRequest, common.CodeEmailTaken, "Email already registered")
		return
	}

	body, ok := h.tokenBody(c, &user)
	if !ok {
		return
	}
	common.Created(c, body)
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, common.CodeValidation, common.BindingMessage(err))
		return
	}

	var user models.User
	err := h.DB.WithContext(c.Request.Context()).
		Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).
		First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		h.Log.Error("load user failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "db error")
		return
	}
	if err != nil || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		common.Fail(c, http.StatusUnauthorized, common.CodeBadCredentials, "Incorrect email or password")
		return
	}

	body, ok := h.tokenBody(c, &user)
	if !ok {
		return
	}
	common.OK(c, body)
}

func (h *Handler) Me(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, "user_id = ?", uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusUnauthorized, common.CodeUserNotFound, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, common.CodeInternal, "db error")
		return
	}
	common.OK(c, userBody(&user))
}

// UserExists backs the auth middleware's account check.
func (h *Handler) UserExists(ctx context.Context, userID string) (bool, error) {
	var n int64
	err := h.DB.WithContext(ctx).Model(&models.User{}).Where("user_id = ?", userID).Count(&n).Error
	return n > 0, err
}
