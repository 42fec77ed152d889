package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/phototheology/palace/internal/auth"
	"github.com/phototheology/palace/internal/models"
	"github.com/phototheology/palace/internal/store"
	"github.com/sirupsen/logrus"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// CreateUserHandler registers an account. The password is stored as an argon2id hash.
func CreateUserHandler(logger logrus.FieldLogger, st store.Store, hasher auth.Hasher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, logger, err, nil)
			return
		}
		email := strings.TrimSpace(req.Email)
		if _, err := mail.ParseAddress(email); err != nil {
			writeError(w, logger, badRequest("a valid email is required"), nil)
			return
		}
		if len(req.Password) < 8 {
			writeError(w, logger, badRequest("password must be at least 8 characters"), nil)
			return
		}

		hash, err := hasher.Hash(req.Password)
		if err != nil {
			writeError(w, logger, fmt.Errorf("hash password: %w", err), nil)
			return
		}
		u := &models.User{Email: email, Password: hash, Username: strings.TrimSpace(req.Username)}
		if err := st.CreateUser(r.Context(), u); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				writeJSON(w, http.StatusConflict, errorResponse{Error: "email already exists"})
				return
			}
			writeError(w, logger, err, logrus.Fields{"email": email})
			return
		}
		u.Password = ""
		writeJSON(w, http.StatusCreated, u)
	}
}

// LoginHandler checks email and password and returns a session token. The token
// is also set as the auth_token cookie.
//
// Request payload:
//
//	{
//	  "email": "someone@example.com",
//	  "password": "password"
//	}
//
// Response payload:
//
//	{
//	  "token": "{jwt}"
//	}
func LoginHandler(logger logrus.FieldLogger, st store.Store, sessions *auth.Sessions, hasher auth.Hasher, expire time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentialsRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, logger, err, nil)
			return
		}

		u, err := st.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				writeError(w, logger, err, nil)
				return
			}
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "authentication failed"})
			return
		}
		ok, err := hasher.Verify(req.Password, u.Password)
		if err != nil {
			logger.WithField("user", u.ID).WithError(err).Warn("stored password hash is unreadable")
		}
		if !ok {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "authentication failed"})
			return
		}

		token, err := sessions.Issue(u.ID)
		if err != nil {
			writeError(w, logger, fmt.Errorf("issue token: %w", err), logrus.Fields{"user": u.ID})
			return
		}
		cookie := &http.Cookie{
			Name:     auth.CookieName,
			Value:    token,
			HttpOnly: true,
			Path:     "/",
			SameSite: http.SameSiteLaxMode,
		}
		if expire > 0 {
			cookie.MaxAge = int(expire.Seconds())
		}
		http.SetCookie(w, cookie)
		writeJSON(w, http.StatusOK, loginResponse{Token: token})
	}
}
