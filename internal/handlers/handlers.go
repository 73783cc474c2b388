package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bourraOmar/Tirelire/internal/auth"
	"github.com/bourraOmar/Tirelire/internal/kyc"
	"github.com/bourraOmar/Tirelire/internal/repository"
	"github.com/bourraOmar/Tirelire/internal/usecase"
)

// KycService is the verification surface consumed by the HTTP layer.
type KycService interface {
	Submit(ctx context.Context, userID string, in usecase.SubmitInput) (*repository.KycRecord, error)
	GetForUser(ctx context.Context, userID string) (*repository.KycRecord, error)
	GetByID(ctx context.Context, id string) (*repository.KycRecord, error)
	AdminVerify(ctx context.Context, recordID, idImage, selfieImage string) (*repository.KycRecord, error)
	EnsureVerified(ctx context.Context, userID string) (*repository.KycRecord, error)
	MetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// GroupService is the gated tontine-group surface consumed by the HTTP layer.
type GroupService interface {
	CreateGroup(ctx context.Context, creatorID string, in usecase.CreateGroupInput) (*repository.GroupRecord, error)
	Leaderboard(ctx context.Context, userID string, limit int) ([]*repository.GroupRecord, error)
}

type submitKycRequest struct {
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	NationalID  string `json:"nationalId"`
	IDImage     string `json:"idImage"`
	SelfieImage string `json:"selfieImage"`
}

type adminVerifyRequest struct {
	IDImage     string `json:"idImage"`
	SelfieImage string `json:"selfieImage"`
}

type createGroupRequest struct {
	Name        string  `json:"name"`
	Amount      float64 `json:"amount"`
	MemberLimit int     `json:"memberLimit"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, kycSvc KycService, groupSvc GroupService, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api", authMiddleware)

	api.POST("/kyc", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "authentication required"})
			return
		}

		var req submitKycRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
			return
		}

		rec, err := kycSvc.Submit(c.Request.Context(), userID, usecase.SubmitInput{
			FirstName:   req.FirstName,
			LastName:    req.LastName,
			NationalID:  req.NationalID,
			IDImage:     req.IDImage,
			SelfieImage: req.SelfieImage,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"message": "KYC submitted successfully", "kyc": rec})
	})

	api.GET("/kyc/me", func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"message": "authentication required"})
			return
		}

		rec, err := kycSvc.GetForUser(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"kyc": rec})
	})

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))

	admin.GET("/kyc/metrics", func(c *gin.Context) {
		summary, err := kycSvc.MetricsSummary(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	admin.GET("/kyc/:id", func(c *gin.Context) {
		rec, err := kycSvc.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"kyc": rec})
	})

	admin.POST("/kyc/:id/verify", func(c *gin.Context) {
		var req adminVerifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
			return
		}

		rec, err := kycSvc.AdminVerify(c.Request.Context(), c.Param("id"), req.IDImage, req.SelfieImage)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "KYC verification updated", "kyc": rec})
	})

	gated := api.Group("", RequireVerified(kycSvc))

	gated.POST("/groups", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())

		var req createGroupRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body"})
			return
		}

		rec, err := groupSvc.CreateGroup(c.Request.Context(), userID, usecase.CreateGroupInput{
			Name:        req.Name,
			Amount:      req.Amount,
			MemberLimit: req.MemberLimit,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, gin.H{"message": "group created", "group": rec})
	})

	gated.GET("/groups", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())

		groups, err := groupSvc.Leaderboard(c.Request.Context(), userID, 50)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"groups": groups})
	})

	gated.GET("/leaderboard", func(c *gin.Context) {
		userID, _ := auth.GetUserID(c.Request.Context())

		groups, err := groupSvc.Leaderboard(c.Request.Context(), userID, 20)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"leaderboard": groups})
	})
}

// RequireVerified blocks the request unless the authenticated user has
// passed verification. Downstream handlers never look at verification
// flags themselves.
func RequireVerified(kycSvc KycService) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.GetUserID(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "authentication required"})
			return
		}
		if _, err := kycSvc.EnsureVerified(c.Request.Context(), userID); err != nil {
			status, body := errorResponse(err)
			c.AbortWithStatusJSON(status, body)
			return
		}
		c.Next()
	}
}

func writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	c.JSON(status, body)
}

// errorResponse maps the closed pipeline error taxonomy onto HTTP statuses.
// Structured detail (missing fields, match distance/threshold) is forwarded
// verbatim so clients can render actionable feedback.
func errorResponse(err error) (int, gin.H) {
	var kycErr *kyc.Error
	if !errors.As(err, &kycErr) {
		return http.StatusInternalServerError, gin.H{"message": "server error"}
	}

	body := gin.H{"message": kycErr.Message}
	switch kycErr.Kind {
	case kyc.ErrValidation:
		body["missingFields"] = kycErr.MissingFields
		return http.StatusBadRequest, body
	case kyc.ErrImageSource, kyc.ErrNoFaceDetected:
		return http.StatusBadRequest, body
	case kyc.ErrMatchFailed:
		if kycErr.Match != nil {
			body["details"] = kycErr.Match
		}
		return http.StatusBadRequest, body
	case kyc.ErrNotFound:
		return http.StatusNotFound, body
	case kyc.ErrAccessDenied:
		return http.StatusForbidden, body
	case kyc.ErrModelUnavailable:
		return http.StatusServiceUnavailable, body
	default:
		return http.StatusInternalServerError, gin.H{"message": "server error"}
	}
}
