// Package api exposes the custody operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/custodia-dev/custodia/internal/engine"
	"github.com/custodia-dev/custodia/internal/vault"
	"github.com/custodia-dev/custodia/pkg/custody"
	"github.com/custodia-dev/custodia/pkg/schema"
	"github.com/custodia-dev/custodia/pkg/sdk"
)

type Handler struct {
	Engine   *engine.Engine
	Resolver vault.SignerResolver
}

// Register mounts all routes under the given router group.
func Register(r gin.IRouter, h *Handler) {
	r.POST("/accounts", h.Create)
	r.GET("/accounts", h.List)
	r.GET("/accounts/:key", h.Get)
	r.POST("/accounts/:key/owner", h.ChangeOwner)
	r.POST("/accounts/:key/guardian", h.ChangeGuardian)
	r.POST("/accounts/:key/guardian-backup", h.ChangeGuardianBackup)
	r.POST("/accounts/:key/execute", h.Execute)
	r.POST("/accounts/:key/upgrade", h.Upgrade)
	r.POST("/accounts/:key/escape/trigger-guardian", h.TriggerEscapeGuardian)
	r.POST("/accounts/:key/escape/trigger-owner", h.TriggerEscapeOwner)
	r.POST("/accounts/:key/escape/guardian", h.EscapeGuardian)
	r.POST("/accounts/:key/escape/owner", h.EscapeOwner)
	r.POST("/accounts/:key/escape/cancel", h.CancelEscape)
	r.GET("/audit", h.Audit)
}

// errStatus maps the custody error taxonomy onto HTTP statuses:
// authorization failures 403, precondition failures 409, missing
// records 404.
func errStatus(err error) int {
	switch {
	case errors.Is(err, custody.ErrNotEnoughApprovals),
		errors.Is(err, custody.ErrInvalidSignature):
		return http.StatusForbidden
	case errors.Is(err, custody.ErrEscapeGuardianInProgress),
		errors.Is(err, custody.ErrInvalidEscapeType),
		errors.Is(err, custody.ErrSecurityPeriodNotElapsed),
		errors.Is(err, custody.ErrNoEscapeInProgress),
		errors.Is(err, engine.ErrRecordExists):
		return http.StatusConflict
	case errors.Is(err, engine.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidSecurityPeriod),
		errors.Is(err, schema.ErrPayloadTooLarge):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(errStatus(err), gin.H{"error": err.Error()})
}

func (h *Handler) Create(c *gin.Context) {
	var params sdk.CreateParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key, err := h.Engine.Create(params.Owner, params.Guardian, params.SecurityPeriod)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"account": key})
}

func (h *Handler) List(c *gin.Context) {
	keys, err := h.Engine.Accounts()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, keys)
}

func (h *Handler) Get(c *gin.Context) {
	key, ok := h.recordKey(c)
	if !ok {
		return
	}
	rec, err := h.Engine.Account(key)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) Audit(c *gin.Context) {
	events, err := h.Engine.AuditTrail()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) ChangeOwner(c *gin.Context) {
	h.mutate(c, sdk.OpChangeOwner, func(key schema.RecordKey, raw json.RawMessage, signers []schema.Identity) error {
		var params sdk.ChangeOwnerParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return errBadParams(err)
		}
		return h.Engine.ChangeOwner(key, params.NewOwner, params.NewOwnerSignature, signers)
	})
}

func (h *Handler) ChangeGuardian(c *gin.Context) {
	h.mutate(c, sdk.OpChangeGuardian, func(key schema.RecordKey, raw json.RawMessage, signers []schema.Identity) error {
		var params sdk.ChangeGuardianParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return errBadParams(err)
		}
		return h.Engine.ChangeGuardian(key, params.NewGuardian, signers)
	})
}

func (h *Handler) ChangeGuardianBackup(c *gin.Context) {
	h.mutate(c, sdk.OpChangeGuardianBackup, func(key schema.RecordKey, raw json.RawMessage, signers []schema.Identity) error {
		var params sdk.ChangeGuardianBackupParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return errBadParams(err)
		}
		return h.Engine.ChangeGuardianBackup(key, params.NewBackup, signers)
	})
}

func (h *Handler) Execute(c *gin.Context) {
	h.mutate(c, sdk.OpExecute, func(key schema.RecordKey, raw json.RawMessage, signers []schema.Identity) error {
		var params sdk.ExecuteParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return errBadParams(err)
		}
		return h.Engine.Execute(key, params.Data, signers)
	})
}

func (h *Handler) Upgrade(c *gin.Context) {
	h.mutate(c, sdk.OpUpgrade, func(key schema.RecordKey, raw json.RawMessage, signers []schema.Identity) error {
		return h.Engine.Upgrade(key, signers)
	})
}

func (h *Handler) TriggerEscapeGuardian(c *gin.Context) {
	h.mutate(c, sdk.OpTriggerEscapeGuardian, func(key schema.RecordKey, raw json.RawMessage, signers []schema.Identity) error {
		return h.Engine.TriggerEscapeGuardian(key, signers)
	})
}

func (h *Handler) TriggerEscapeOwner(c *gin.Context) {
	h.mutate(c, sdk.OpTriggerEscapeOwner, func(key schema.RecordKey, raw json.RawMessage, signers []schema.Identity) error {
		return h.Engine.TriggerEscapeOwner(key, signers)
	})
}

func (h *Handler) EscapeGuardian(c *gin.Context) {
	h.mutate(c, sdk.OpEscapeGuardian, func(key schema.RecordKey, raw json.RawMessage, signers []schema.Identity) error {
		var params sdk.EscapeGuardianParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return errBadParams(err)
		}
		return h.Engine.EscapeGuardian(key, params.NewGuardian, signers)
	})
}

func (h *Handler) EscapeOwner(c *gin.Context) {
	h.mutate(c, sdk.OpEscapeOwner, func(key schema.RecordKey, raw json.RawMessage, signers []schema.Identity) error {
		var params sdk.EscapeOwnerParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return errBadParams(err)
		}
		return h.Engine.EscapeOwner(key, params.NewOwner, signers)
	})
}

func (h *Handler) CancelEscape(c *gin.Context) {
	h.mutate(c, sdk.OpCancelEscape, func(key schema.RecordKey, raw json.RawMessage, signers []schema.Identity) error {
		return h.Engine.CancelEscape(key, signers)
	})
}

type badParamsError struct{ err error }

func (e badParamsError) Error() string { return "invalid params: " + e.err.Error() }

func errBadParams(err error) error { return badParamsError{err: err} }

// mutate handles the shared shape of every gated operation: decode the
// request envelope, resolve the verified signer set, and run the
// operation against the engine.
func (h *Handler) mutate(c *gin.Context, op string, fn func(schema.RecordKey, json.RawMessage, []schema.Identity) error) {
	key, ok := h.recordKey(c)
	if !ok {
		return
	}

	var req sdk.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	signers := h.Resolver.Resolve(key, op, req.Params, req.Signers, req.Proofs)
	if err := fn(key, req.Params, signers); err != nil {
		var bad badParamsError
		if errors.As(err, &bad) {
			c.JSON(http.StatusBadRequest, gin.H{"error": bad.Error()})
			return
		}
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) recordKey(c *gin.Context) (schema.RecordKey, bool) {
	key, err := schema.ParseRecordKey(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return schema.RecordKey{}, false
	}
	return key, true
}
