package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/dadanisme/shule/core"
	"github.com/dadanisme/shule/core/grading"
	"github.com/dadanisme/shule/core/identity"
)

type schoolApi struct {
	identitySvc *identity.Service
	gradingSvc  *grading.Service
	validate    *validator.Validate
	translator  ut.Translator
}

func registerSchoolAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := schoolApi{
		identitySvc: deps.IdentitySvc,
		gradingSvc:  deps.GradingSvc,
		validate:    deps.Validate,
		translator:  deps.Translator,
	}

	// all operator endpoints require an admin token
	ag := g.Group("", jwt, adminMiddleware())

	rg := ag.Group("/registrations")
	rg.GET("/pending", api.pendingRegistrations)
	rg.POST("/invite", api.invite)
	rg.POST("/:id/approve", api.approve)
	rg.POST("/:id/reject", api.reject)

	ag.POST("/schools/:id/recompute", api.recomputeSchool)
}

// Handlers

func (api *schoolApi) pendingRegistrations(ctx echo.Context) error {
	regs, err := api.identitySvc.PendingRegistrations(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing pending registrations")
	}
	return ctx.JSON(http.StatusOK, regs)
}

func (api *schoolApi) invite(ctx echo.Context) error {
	var data InviteRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to InviteRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	reg, err := api.identitySvc.Invite(ctx.Request().Context(), identity.Invitation{
		Email:      data.Email,
		Name:       data.Name,
		SchoolID:   data.SchoolID,
		SchoolName: data.SchoolName,
	})
	if err != nil {
		return errors.Wrap(err, "inviting email")
	}
	return ctx.JSON(http.StatusCreated, reg)
}

func (api *schoolApi) approve(ctx echo.Context) error {
	var data ApproveRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ApproveRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	reg, err := api.identitySvc.Approve(ctx.Request().Context(), ctx.Param("id"), data.SchoolID, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "approving registration")
	}
	return ctx.JSON(http.StatusOK, reg)
}

func (api *schoolApi) reject(ctx echo.Context) error {
	var data RejectRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RejectRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	reg, err := api.identitySvc.Reject(ctx.Request().Context(), ctx.Param("id"), claims.Subject, data.Reason)
	if err != nil {
		return errors.Wrap(err, "rejecting registration")
	}
	return ctx.JSON(http.StatusOK, reg)
}

func (api *schoolApi) recomputeSchool(ctx echo.Context) error {
	schoolID := ctx.Param("id")
	if err := api.gradingSvc.RecomputeSchool(ctx.Request().Context(), schoolID); err != nil {
		return errors.Wrapf(err, "recomputing school %s", schoolID)
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "school aggregates recomputed"})
}

type (
	InviteRequest struct {
		Email      string `json:"email" validate:"required,email"`
		Name       string `json:"name"`
		SchoolID   string `json:"schoolId" validate:"required"`
		SchoolName string `json:"schoolName" validate:"required"`
	}

	ApproveRequest struct {
		SchoolID string `json:"schoolId" validate:"required"`
	}

	RejectRequest struct {
		Reason string `json:"reason"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (ir *InviteRequest) Validate(validate *validator.Validate) error {
	ir.Email = core.CleanString(ir.Email, true /* lower */)
	ir.Name = core.CleanString(ir.Name)
	ir.SchoolID = core.CleanString(ir.SchoolID)
	ir.SchoolName = core.CleanString(ir.SchoolName)
	return validate.Struct(ir)
}

func (ar *ApproveRequest) Validate(validate *validator.Validate) error {
	ar.SchoolID = core.CleanString(ar.SchoolID)
	return validate.Struct(ar)
}

func (rr *RejectRequest) Validate(validate *validator.Validate) error {
	rr.Reason = core.CleanString(rr.Reason)
	return validate.Struct(rr)
}
