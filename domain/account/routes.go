package account

import (
	"context"
	"net/http"
	"time"

	"hayatos/domain"
	httpx "hayatos/http"
	"hayatos/http/basic"
	"hayatos/logging"
	"hayatos/messaging"
	"hayatos/validation"
)

const quietHoursPattern = `^([01][0-9]|2[0-3]):[0-5][0-9]$`

// Module 账号路由、队列消费者与删除扫描
type Module struct {
	svc           *Service
	utils         *basic.HttpUtils
	sweepSchedule string

	privacy       *validation.Schema
	notifications *validation.Schema
	deletion      *validation.Schema
}

var (
	_ domain.IWorkerModule    = (*Module)(nil)
	_ domain.IScheduledModule = (*Module)(nil)
)

// NewModule 创建模块，sweepSchedule 为空时不注册删除扫描
func NewModule(svc *Service, sweepSchedule string) *Module {
	return &Module{
		svc:           svc,
		utils:         &basic.HttpUtils{},
		sweepSchedule: sweepSchedule,
		privacy: validation.NewSchema(
			validation.String("profile_visibility", validation.OneOf(Visibilities...)),
			validation.Bool("share_activity"),
			validation.Bool("analytics_opt_in"),
		),
		notifications: validation.NewSchema(
			validation.Bool("prayer_reminders"),
			validation.Bool("habit_reminders"),
			validation.Bool("azkar_reminders"),
			validation.String("email_digest", validation.OneOf(Digests...)),
			validation.String("quiet_hours_start", validation.Pattern(quietHoursPattern)),
			validation.String("quiet_hours_end", validation.Pattern(quietHoursPattern)),
		),
		deletion: validation.NewSchema(validation.String("reason", validation.MaxLen(500))),
	}
}

func (m *Module) GetName() string { return "account" }

func (m *Module) RegisterRoutes(group httpx.IRouteGroup) {
	g := group.Group("/account")
	g.GET("/privacy", m.getPrivacy)
	g.PUT("/privacy", m.putPrivacy)
	g.GET("/notifications", m.getNotifications)
	g.PUT("/notifications", m.putNotifications)
	g.POST("/export", m.requestExport)
	g.GET("/export/:id", m.getExport)
	g.GET("/delete", m.getDeletion)
	g.POST("/delete", m.requestDeletion)
	g.POST("/delete/cancel", m.cancelDeletion)
}

// RegisterWorkers 订阅导出与删除任务
func (m *Module) RegisterWorkers(t messaging.Transport) error {
	if err := t.Subscribe(MessageExport, messaging.HandlerFunc(m.svc.HandleExport)); err != nil {
		return err
	}
	return t.Subscribe(MessageDelete, messaging.HandlerFunc(m.svc.HandleDelete))
}

// RegisterSchedules 注册到期删除请求的扫描
func (m *Module) RegisterSchedules(s domain.Scheduler) error {
	if m.sweepSchedule == "" {
		return nil
	}
	_, err := s.AddFunc(m.sweepSchedule, m.sweep)
	return err
}

func (m *Module) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := m.svc.SweepDeletions(ctx)
	if err != nil {
		m.svc.logger.Error(ctx, "deletion sweep failed", logging.Error(err))
		return
	}
	if n > 0 {
		m.svc.logger.Info(ctx, "deletion sweep enqueued requests", logging.Int("count", n))
	}
}

func (m *Module) getPrivacy(ctx httpx.IHttpContext) error {
	p, err := httpx.RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	out, err := m.svc.Privacy(ctx.GetContext(), p)
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusOK, out)
}

func (m *Module) putPrivacy(ctx httpx.IHttpContext) error {
	p, in, err := m.body(ctx, m.privacy)
	if err != nil {
		return err
	}
	out, err := m.svc.UpdatePrivacy(ctx.GetContext(), p, in)
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusOK, out)
}

func (m *Module) getNotifications(ctx httpx.IHttpContext) error {
	p, err := httpx.RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	out, err := m.svc.Notifications(ctx.GetContext(), p)
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusOK, out)
}

func (m *Module) putNotifications(ctx httpx.IHttpContext) error {
	p, in, err := m.body(ctx, m.notifications)
	if err != nil {
		return err
	}
	out, err := m.svc.UpdateNotifications(ctx.GetContext(), p, in)
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusOK, out)
}

func (m *Module) requestExport(ctx httpx.IHttpContext) error {
	p, err := httpx.RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	job, err := m.svc.RequestExport(ctx.GetContext(), p)
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusAccepted, job)
}

func (m *Module) getExport(ctx httpx.IHttpContext) error {
	p, err := httpx.RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := m.utils.ParseID(ctx, "id")
	if err != nil {
		return err
	}
	job, err := m.svc.Export(ctx.GetContext(), p, id)
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusOK, job)
}

func (m *Module) getDeletion(ctx httpx.IHttpContext) error {
	p, err := httpx.RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	req, err := m.svc.Deletion(ctx.GetContext(), p)
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusOK, req)
}

func (m *Module) requestDeletion(ctx httpx.IHttpContext) error {
	p, in, err := m.body(ctx, m.deletion)
	if err != nil {
		return err
	}
	req, err := m.svc.RequestDeletion(ctx.GetContext(), p, in.String("reason"))
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusAccepted, req)
}

func (m *Module) cancelDeletion(ctx httpx.IHttpContext) error {
	p, err := httpx.RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	req, err := m.svc.CancelDeletion(ctx.GetContext(), p)
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusOK, req)
}

// body 校验 JSON 请求体，请求体可以为空
func (m *Module) body(ctx httpx.IHttpContext, schema *validation.Schema) (httpx.Principal, validation.Values, error) {
	p, err := httpx.RequirePrincipal(ctx)
	if err != nil {
		return p, validation.Values{}, err
	}
	raw, err := ctx.GetBody()
	if err != nil {
		return p, validation.Values{}, err
	}
	in, err := schema.ValidateJSON(raw)
	return p, in, err
}
