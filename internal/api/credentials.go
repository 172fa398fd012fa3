package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/scrapeworks/osint-worker/api/types"
)

// createCredential handles POST /credentials. The secret is encrypted
// before it is stored and never appears in any response.
func createCredential(credentials CredentialManager) func(c echo.Context) error {
	return func(c echo.Context) error {
		req := types.CredentialRequest{}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Username) == "" || req.Secret == "" {
			return c.JSON(http.StatusBadRequest, types.APIError{
				Error: "name, username and secret are required",
				Code:  "validation",
			})
		}

		if _, err := credentials.Store(c.Request().Context(), req.Name, req.Username, req.Secret); err != nil {
			return errorResponse(c, err)
		}
		logrus.WithField("credential", req.Name).Info("Credential registered")
		return c.JSON(http.StatusCreated, types.StandardResponse{
			Status:  "success",
			Message: "credential stored",
		})
	}
}

// listCredentials handles GET /credentials. Secrets are never included.
func listCredentials(credentials CredentialManager) func(c echo.Context) error {
	return func(c echo.Context) error {
		views, err := credentials.List(c.Request().Context())
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, types.StandardResponse{
			Status: "success",
			Data:   views,
		})
	}
}

// rotateCredential handles POST /credentials/:name/rotate.
func rotateCredential(credentials CredentialManager) func(c echo.Context) error {
	return func(c echo.Context) error {
		req := types.CredentialRequest{}
		if err := c.Bind(&req); err != nil {
			return err
		}
		if req.Secret == "" {
			return c.JSON(http.StatusBadRequest, types.APIError{
				Error: "secret is required",
				Code:  "validation",
			})
		}

		name := c.Param("name")
		if err := credentials.Rotate(c.Request().Context(), name, req.Secret); err != nil {
			return errorResponse(c, err)
		}
		logrus.WithField("credential", name).Info("Credential rotated")
		return c.JSON(http.StatusOK, types.StandardResponse{
			Status:  "success",
			Message: "credential rotated",
		})
	}
}

// deactivateCredential handles DELETE /credentials/:name. Credentials
// are deactivated rather than removed so their history survives.
func deactivateCredential(credentials CredentialManager) func(c echo.Context) error {
	return func(c echo.Context) error {
		name := c.Param("name")
		if err := credentials.Deactivate(c.Request().Context(), name); err != nil {
			return errorResponse(c, err)
		}
		logrus.WithField("credential", name).Info("Credential deactivated")
		return c.JSON(http.StatusOK, types.StandardResponse{
			Status:  "success",
			Message: "credential deactivated",
		})
	}
}

// verifyCredential handles POST /credentials/:name/login: a direct
// login check that updates the credential's health counters.
func verifyCredential(orchestrator Orchestrator) func(c echo.Context) error {
	return func(c echo.Context) error {
		name := c.Param("name")
		if err := orchestrator.VerifyCredential(c.Request().Context(), name); err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, types.StandardResponse{
			Status:  "success",
			Message: "login verified",
		})
	}
}
