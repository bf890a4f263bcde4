package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/stockbook_backend/config"
	"github.com/mmdatafocus/stockbook_backend/utils"
)

const sessionTTL = 24 * time.Hour

type SessionUser struct {
	UserId   int    `json:"user_id"`
	UserName string `json:"user_name"`
	RoleId   int    `json:"role_id"`
}

type LoginInput struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Login verifies credentials and issues an opaque session token backed by
// Redis. Tokens expire after sessionTTL; there is no refresh.
func Login(ctx context.Context, input *LoginInput) (*LoginResult, error) {
	db := config.GetDB()

	var user User
	if err := db.WithContext(ctx).Where("username = ?", input.Username).Take(&user).Error; err != nil {
		return nil, utils.NewInvalidStateError("invalid username or password")
	}
	if err := utils.ComparePassword(user.Password, input.Password); err != nil {
		return nil, utils.NewInvalidStateError("invalid username or password")
	}

	token := uuid.NewString()
	session := SessionUser{UserId: user.ID, UserName: user.Name, RoleId: user.RoleId}
	if err := config.SetRedisObject("Token:"+token, session, sessionTTL); err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, User: user}, nil
}

func Logout(ctx context.Context, token string) error {
	return config.RemoveRedisKey("Token:" + token)
}

// ResolveSession returns the session bound to a token, if any.
func ResolveSession(ctx context.Context, token string) (*SessionUser, bool, error) {
	var session SessionUser
	found, err := config.GetRedisObject("Token:"+token, &session)
	if err != nil || !found {
		return nil, false, err
	}
	return &session, true, nil
}
