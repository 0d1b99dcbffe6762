package service

import (
	"encoding/json"
	"time"

	"RelayPool/internal/biz"
	"RelayPool/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// AdminService serves the management API: settings, account lifecycle, and
// provisioning tasks.
type AdminService struct {
	settings    *biz.SettingsUsecase
	pool        *biz.Pool
	provisioner *biz.Provisioner
	sessions    biz.SessionCache
	logger      *log.Helper
}

// NewAdminService creates a new AdminService instance.
func NewAdminService(settings *biz.SettingsUsecase, pool *biz.Pool, provisioner *biz.Provisioner, sessions biz.SessionCache, logger log.Logger) *AdminService {
	return &AdminService{
		settings:    settings,
		pool:        pool,
		provisioner: provisioner,
		sessions:    sessions,
		logger:      log.NewHelper(logger),
	}
}

// RegisterRoutes attaches the admin routes to the HTTP server.
func (s *AdminService) RegisterRoutes(srv *http.Server) {
	r := srv.Route("/api")

	r.GET("/settings", s.getSettings)
	r.PUT("/settings", s.replaceSettings)

	r.GET("/accounts", s.listAccounts)
	r.POST("/accounts/import", s.importAccounts)
	r.DELETE("/accounts/{id}", s.deleteAccount)
	r.POST("/accounts/{id}/disable", s.disableAccount)
	r.POST("/accounts/{id}/enable", s.enableAccount)
	r.POST("/accounts/bulk-delete", s.bulkDeleteAccounts)

	r.POST("/register/tasks", s.startTask)
	r.GET("/register/tasks/current", s.currentTask)
	r.GET("/register/tasks/{id}", s.getTask)
	r.POST("/register/tasks/{id}/cancel", s.cancelTask)
}

func (s *AdminService) getSettings(ctx http.Context) error {
	return ctx.Result(200, s.settings.Get())
}

func (s *AdminService) replaceSettings(ctx http.Context) error {
	var in conf.Settings
	if err := ctx.Bind(&in); err != nil {
		return biz.ValidationError("invalid settings payload: %v", err)
	}
	out, err := s.settings.Replace(ctx, &in)
	if err != nil {
		s.logger.Errorw("failed to replace settings", "error", err)
		return err
	}
	return ctx.Result(200, out)
}

// accountView is the wire shape of one account. Credentials are masked.
type accountView struct {
	ID            string `json:"id"`
	Email         string `json:"email,omitempty"`
	SessionToken  string `json:"session_token"`
	Status        string `json:"status"`
	FailureCount  int    `json:"failure_count"`
	CooldownUntil string `json:"cooldown_until,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func maskToken(v string) string {
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "****" + v[len(v)-4:]
}

func toAccountView(a *biz.Account) accountView {
	v := accountView{
		ID:           a.ID,
		Email:        a.Email,
		SessionToken: maskToken(a.SessionToken),
		Status:       string(a.Status),
		FailureCount: a.FailureCount,
		CreatedAt:    a.CreatedAt.Format(time.RFC3339),
	}
	if !a.CooldownUntil.IsZero() {
		v.CooldownUntil = a.CooldownUntil.Format(time.RFC3339)
	}
	return v
}

func (s *AdminService) listAccounts(ctx http.Context) error {
	accounts := s.pool.List()
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, toAccountView(a))
	}
	return ctx.Result(200, map[string]interface{}{
		"accounts": views,
		"stats":    s.pool.Stats(),
	})
}

// accountPayload is one import item.
type accountPayload struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	SessionToken string `json:"session_token"`
	SessionIndex string `json:"session_index"`
	ConfigID     string `json:"config_id"`
	Status       string `json:"status"`
}

// importPayload accepts either a single account object or an array of them.
type importPayload struct {
	Accounts []accountPayload
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *importPayload) UnmarshalJSON(data []byte) error {
	var many []accountPayload
	if err := json.Unmarshal(data, &many); err == nil {
		p.Accounts = many
		return nil
	}
	var one accountPayload
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	p.Accounts = []accountPayload{one}
	return nil
}

func (s *AdminService) importAccounts(ctx http.Context) error {
	var in importPayload
	if err := ctx.Bind(&in); err != nil {
		return biz.ValidationError("invalid account payload: %v", err)
	}
	if len(in.Accounts) == 0 {
		return biz.ValidationError("no accounts in payload")
	}

	candidates := make([]biz.AccountCandidate, 0, len(in.Accounts))
	for _, a := range in.Accounts {
		candidates = append(candidates, biz.AccountCandidate{
			ID:           a.ID,
			Email:        a.Email,
			SessionToken: a.SessionToken,
			SessionIndex: a.SessionIndex,
			ConfigID:     a.ConfigID,
			Status:       biz.AccountStatus(a.Status),
		})
	}

	res, err := s.pool.UpsertBatch(ctx, candidates)
	if err != nil {
		s.logger.Errorw("account import failed", "error", err)
		return err
	}
	return ctx.Result(200, map[string]interface{}{
		"added":   res.Added,
		"updated": res.Updated,
		"skipped": res.Skipped,
	})
}

func (s *AdminService) deleteAccount(ctx http.Context) error {
	id := ctx.Vars().Get("id")
	if err := s.pool.Delete(ctx, id); err != nil {
		return err
	}
	s.sessions.Invalidate(ctx, id)
	return ctx.Result(200, map[string]interface{}{"deleted": 1})
}

func (s *AdminService) disableAccount(ctx http.Context) error {
	return s.setAccountStatus(ctx, biz.StatusDisabled)
}

func (s *AdminService) enableAccount(ctx http.Context) error {
	return s.setAccountStatus(ctx, biz.StatusActive)
}

func (s *AdminService) setAccountStatus(ctx http.Context, status biz.AccountStatus) error {
	id := ctx.Vars().Get("id")
	acct, err := s.pool.SetStatus(ctx, id, status)
	if err != nil {
		return err
	}
	if status == biz.StatusDisabled {
		s.sessions.Invalidate(ctx, id)
	}
	s.logger.Infow("account status changed", "account_id", id, "status", status)
	return ctx.Result(200, toAccountView(acct))
}

func (s *AdminService) bulkDeleteAccounts(ctx http.Context) error {
	var in struct {
		IDs []string `json:"ids"`
	}
	if err := ctx.Bind(&in); err != nil {
		return biz.ValidationError("invalid bulk delete payload: %v", err)
	}
	if len(in.IDs) == 0 {
		return biz.ValidationError("ids is required")
	}
	deleted, err := s.pool.DeleteBatch(ctx, in.IDs)
	if err != nil {
		return err
	}
	for _, id := range in.IDs {
		s.sessions.Invalidate(ctx, id)
	}
	return ctx.Result(200, map[string]interface{}{"deleted": deleted})
}

func (s *AdminService) startTask(ctx http.Context) error {
	var in struct {
		Count    int    `json:"count"`
		Provider string `json:"provider"`
	}
	if err := ctx.Bind(&in); err != nil {
		return biz.ValidationError("invalid task payload: %v", err)
	}
	task, err := s.provisioner.Start(in.Count, in.Provider)
	if err != nil {
		return err
	}
	s.logger.Infow("provisioning task started", "task_id", task.ID, "count", task.Count)
	return ctx.Result(200, task)
}

func (s *AdminService) currentTask(ctx http.Context) error {
	task := s.provisioner.Current()
	if task == nil {
		return ctx.Result(200, map[string]interface{}{"task": nil})
	}
	return ctx.Result(200, map[string]interface{}{"task": task})
}

func (s *AdminService) getTask(ctx http.Context) error {
	task, err := s.provisioner.Get(ctx.Vars().Get("id"))
	if err != nil {
		return err
	}
	return ctx.Result(200, task)
}

func (s *AdminService) cancelTask(ctx http.Context) error {
	var in struct {
		Reason string `json:"reason"`
	}
	// A body is optional on cancel.
	_ = ctx.Bind(&in)
	task, err := s.provisioner.Cancel(ctx.Vars().Get("id"), in.Reason)
	if err != nil {
		return err
	}
	return ctx.Result(200, task)
}
