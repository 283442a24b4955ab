package api

import (
	"errors"
	"net/http"

	"github.com/xraph/forge"

	"github.com/xraph/courier"
)

func (a *API) register(ctx forge.Context, req *RegisterRequest) (*RegisterResponse, error) {
	u, err := a.eng.Accounts().Register(ctx.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, courier.ErrUserExists):
		return nil, forge.BadRequest("User already exists")
	case errors.Is(err, courier.ErrInvalidCredentials):
		return nil, forge.BadRequest("Email and password are required")
	case err != nil:
		return nil, forge.InternalError(err)
	}

	resp := &RegisterResponse{
		Message: "User registered successfully",
		UserID:  u.ID.String(),
	}
	return resp, ctx.JSON(http.StatusCreated, resp)
}

func (a *API) login(ctx forge.Context, req *LoginRequest) (*LoginResponse, error) {
	token, err := a.eng.Accounts().Login(ctx.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, courier.ErrUserNotFound):
		return nil, forge.NotFound("User not found")
	case errors.Is(err, courier.ErrInvalidCredentials):
		return nil, forge.BadRequest("Invalid credentials")
	case err != nil:
		return nil, forge.InternalError(err)
	}

	resp := &LoginResponse{Token: token}
	return resp, ctx.JSON(http.StatusOK, resp)
}
