package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/treasury-service/internal/auth"
	"github.com/richardliu001/treasury-service/internal/service"
	"github.com/shopspring/decimal"
)

func RegisterHandlers(r *gin.Engine, svc *service.TransactionService, tokens *auth.Service) {
	v1 := r.Group("/v1")
	v1.Use(AuthMiddleware(tokens))
	{
		v1.POST("/transactions", createHandler(svc))
		v1.GET("/transactions", listHandler(svc))
		v1.GET("/transactions/:id", getHandler(svc))
		v1.PUT("/transactions/:id", updateHandler(svc))
		v1.DELETE("/transactions/:id", deleteHandler(svc))
		v1.POST("/transactions/:id/submit", submitHandler(svc))
		v1.POST("/transactions/:id/approve", approveHandler(svc))
		v1.PUT("/transactions/:id/status", setStatusHandler(svc))
		v1.PUT("/transactions/:id/proof", setProofHandler(svc))
		v1.GET("/transactions/:id/approvals", approvalsHandler(svc))
		v1.POST("/bulk/submit", bulkSubmitHandler(svc))
		v1.POST("/bulk/approve", bulkApproveHandler(svc))
		v1.POST("/proofs", uploadProofHandler(svc))
		v1.DELETE("/proofs", deleteProofHandler(svc))
		v1.POST("/logout", logoutHandler(tokens))
	}
}

// writeError maps service error classes onto status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrRevoked):
		status = http.StatusUnauthorized
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func actorID(c *gin.Context) uint64 { return c.GetUint64(ctxUserID) }

func idParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid transaction id")
		return 0, false
	}
	return id, true
}

type createReq struct {
	Amount           string  `json:"amount" binding:"required"`
	ProofReference   string  `json:"proof_reference"`
	UsersID          *uint64 `json:"users_id"`
	PaymentMethodsID uint64  `json:"payment_methods_id" binding:"required"`
	TransactionType  string  `json:"transaction_type" binding:"required"`
	IsSubmitted      bool    `json:"issubmitted"`
}

func createHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			badRequest(c, "invalid amount")
			return
		}
		owner := actorID(c)
		if req.UsersID != nil {
			owner = *req.UsersID
		}
		tx, err := svc.Create(c, actorID(c), service.CreateInput{
			Amount:           amt,
			ProofReference:   req.ProofReference,
			UsersID:          owner,
			PaymentMethodsID: req.PaymentMethodsID,
			TransactionType:  req.TransactionType,
			Submit:           req.IsSubmitted,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, tx)
	}
}

type updateReq struct {
	Amount           *string `json:"amount"`
	ProofReference   *string `json:"proof_reference"`
	PaymentMethodsID *uint64 `json:"payment_methods_id"`
	TransactionType  *string `json:"transaction_type"`
}

func updateHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var req updateReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		in := service.UpdateInput{
			ProofReference:   req.ProofReference,
			PaymentMethodsID: req.PaymentMethodsID,
			TransactionType:  req.TransactionType,
		}
		if req.Amount != nil {
			amt, err := decimal.NewFromString(*req.Amount)
			if err != nil {
				badRequest(c, "invalid amount")
				return
			}
			in.Amount = &amt
		}
		tx, err := svc.Update(c, actorID(c), id, in)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tx)
	}
}

func optionalUint(c *gin.Context, key string) (*uint64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+key)
		return nil, false
	}
	return &v, true
}

// optionalTime accepts RFC3339 or a bare date.
func optionalTime(c *gin.Context, key string, endOfDay bool) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		badRequest(c, "invalid "+key)
		return nil, false
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, true
}

func listHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := service.ListQuery{
			Status:          c.Query("status"),
			TransactionType: c.Query("transaction_type"),
		}
		var ok bool
		if q.UsersID, ok = optionalUint(c, "users_id"); !ok {
			return
		}
		if q.RecordedByID, ok = optionalUint(c, "recorded_by_id"); !ok {
			return
		}
		if q.PaymentMethodsID, ok = optionalUint(c, "payment_methods_id"); !ok {
			return
		}
		if q.From, ok = optionalTime(c, "date_from", false); !ok {
			return
		}
		if q.To, ok = optionalTime(c, "date_to", true); !ok {
			return
		}
		txs, err := svc.List(c, actorID(c), q)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, txs)
	}
}

func getHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		tx, err := svc.Get(c, actorID(c), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tx)
	}
}

func deleteHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		if err := svc.Delete(c, actorID(c), id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": id})
	}
}

func submitHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		tx, err := svc.Submit(c, actorID(c), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tx)
	}
}

type approveReq struct {
	Note *string `json:"note"`
}

func approveHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var req approveReq
		// the body is optional
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err.Error())
				return
			}
		}
		res, err := svc.Approve(c, actorID(c), id, req.Note)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type statusReq struct {
	Status string `json:"status" binding:"required"`
}

func setStatusHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var req statusReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		tx, err := svc.SetStatus(c, actorID(c), id, req.Status)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tx)
	}
}

type proofReq struct {
	URL string `json:"url" binding:"required"`
}

func setProofHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var req proofReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		tx, err := svc.SetProof(c, actorID(c), id, req.URL)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tx)
	}
}

func approvalsHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		list, err := svc.ListApprovals(c, actorID(c), id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	}
}

type bulkReq struct {
	TransactionIDs []uint64 `json:"transaction_ids" binding:"required"`
	Note           *string  `json:"note"`
}

func bulkSubmitHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req bulkReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := svc.BulkSubmit(c, actorID(c), req.TransactionIDs)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func bulkApproveHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req bulkReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := svc.BulkApprove(c, actorID(c), req.TransactionIDs, req.Note)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func uploadProofHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		fh, err := c.FormFile("file")
		if err != nil {
			badRequest(c, "file is required")
			return
		}
		contentType := fh.Header.Get("Content-Type")
		if !strings.HasPrefix(contentType, "image/") {
			badRequest(c, "only image files are accepted")
			return
		}
		f, err := fh.Open()
		if err != nil {
			writeError(c, err)
			return
		}
		defer f.Close()
		url, key, err := svc.UploadProof(c, actorID(c), fh.Filename, contentType, f)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"url": url, "key": key})
	}
}

func deleteProofHandler(svc *service.TransactionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req proofReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := svc.DeleteProof(c, actorID(c), req.URL); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": req.URL})
	}
}

func logoutHandler(tokens *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := tokens.Revoke(c, c.GetString(ctxToken)); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
