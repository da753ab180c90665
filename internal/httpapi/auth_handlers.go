package api

import (
	"net/http"

	"github.com/fechatter/fechatter/internal/apiutil"
	"github.com/fechatter/fechatter/internal/auth"
	"github.com/fechatter/fechatter/internal/models"
)

type signupRequest struct {
	WorkspaceID   string `json:"workspace_id"`
	WorkspaceName string `json:"workspace_name"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	Fullname      string `json:"fullname"`
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"user"`
}

// handleSignup handles POST /api/signup. Supplying workspace_id joins an
// existing workspace (the invite flow spec.md mentions is otherwise
// unspecified — a caller who already resolved an invite to a workspace ID
// joins directly); supplying workspace_name instead creates a brand new
// workspace with the caller as its owner.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !apiutil.DecodeJSON(w, r, &req) {
		return
	}

	var pair auth.TokenPair
	var err error
	switch {
	case req.WorkspaceID != "":
		workspaceID, parseErr := models.ParseULID(req.WorkspaceID)
		if parseErr != nil {
			apiutil.WriteError(w, r, http.StatusBadRequest, "invalid_input", "workspace_id is not a valid identifier")
			return
		}
		pair, err = s.Auth.Signup(r.Context(), auth.SignupInput{
			WorkspaceID: workspaceID,
			Email:       req.Email,
			Password:    req.Password,
			Fullname:    req.Fullname,
		})
	case req.WorkspaceName != "":
		pair, err = s.Auth.SignupWorkspace(r.Context(), auth.SignupWorkspaceInput{
			WorkspaceName: req.WorkspaceName,
			Email:         req.Email,
			Password:      req.Password,
			Fullname:      req.Fullname,
		})
	default:
		apiutil.WriteError(w, r, http.StatusBadRequest, "invalid_input", "either workspace_id or workspace_name is required")
		return
	}
	if err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}

	apiutil.WriteJSON(w, http.StatusCreated, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         pair.User,
	})
}

type signinRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

// handleSignin handles POST /api/signin.
func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if !apiutil.DecodeJSON(w, r, &req) {
		return
	}
	workspaceID, err := models.ParseULID(req.WorkspaceID)
	if err != nil {
		apiutil.WriteError(w, r, http.StatusBadRequest, "invalid_input", "workspace_id is not a valid identifier")
		return
	}

	pair, err := s.Auth.Signin(r.Context(), workspaceID, req.Email, req.Password)
	if err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}

	apiutil.WriteJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		User:         pair.User,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// handleRefresh handles POST /api/refresh.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !apiutil.DecodeJSON(w, r, &req) {
		return
	}

	pair, err := s.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}

	apiutil.WriteJSON(w, http.StatusOK, map[string]string{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

// handleLogout handles POST /api/logout: revoke the refresh token the
// client presents in the body, not the access token used to authenticate
// the call.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !apiutil.DecodeJSON(w, r, &req) {
		return
	}
	if err := s.Auth.Logout(r.Context(), req.RefreshToken); err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteNoContent(w)
}

// handleLogoutAll handles POST /api/logout-all: revoke every refresh token
// for the authenticated user.
func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := mustClaims(w, r)
	if !ok {
		return
	}
	if err := s.Auth.LogoutAll(r.Context(), claims.UserID); err != nil {
		apiutil.WriteServiceError(w, r, s.Logger, err)
		return
	}
	apiutil.WriteNoContent(w)
}
