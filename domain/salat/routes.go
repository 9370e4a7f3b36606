package salat

import (
	"context"
	"net/http"

	"hayatos/data/query"
	"hayatos/domain"
	"hayatos/domain/action"
	httpx "hayatos/http"
	"hayatos/validation"
)

// Module salat 路由
type Module struct {
	svc     *Service
	list    *domain.ListEndpoint
	stats   *validation.Schema
	actions *action.Registry
}

var _ domain.IModule = (*Module)(nil)

// NewModule 创建模块
func NewModule(svc *Service, defaultLimit, maxLimit int) *Module {
	m := &Module{
		svc: svc,
		list: &domain.ListEndpoint{
			Schema: validation.NewSchema(append(query.PaginationFields(defaultLimit),
				validation.Date("from"),
				validation.Date("to"),
				validation.String("prayer", validation.OneOf(Prayers...)),
				validation.List("status", validation.OneOf(Statuses...)),
			)...),
			Builder: query.NewBuilder(
				query.RangeOn("prayer_date", "from", "to"),
				query.EqualsOn("prayer", "prayer"),
				query.InOn("status", "status"),
			),
			Compiler: query.NewCompiler(
				query.WithMaxLimit(maxLimit),
				query.WithSortable("prayer_date", "prayer", "status", "created_at", "updated_at"),
				query.WithDefaultSort(query.Desc("prayer_date")),
			),
		},
		stats: validation.NewSchema(validation.Date("from"), validation.Date("to")),
	}

	logSchema := validation.NewSchema(
		validation.Date("date"),
		validation.String("prayer", validation.Required(), validation.OneOf(Prayers...)),
		validation.String("status", validation.Required(), validation.OneOf(Statuses...)),
		validation.String("notes", validation.MaxLen(500)),
	)
	m.actions = action.NewRegistry("salat").
		Register("log", logSchema, action.HandlerFunc(func(ctx context.Context, p httpx.Principal, in validation.Values) (any, error) {
			date := svc.now()
			if in.Provided("date") {
				date = in.Date("date")
			}
			return svc.Record(ctx, p, LogInput{
				Date:   date,
				Prayer: in.String("prayer"),
				Status: in.String("status"),
				Notes:  in.String("notes"),
			})
		})).
		Register("delete", validation.NewSchema(validation.Int("id", validation.Required(), validation.Min(1))),
			action.HandlerFunc(func(ctx context.Context, p httpx.Principal, in validation.Values) (any, error) {
				id := int64(in.Int("id"))
				if err := svc.Delete(ctx, p, id); err != nil {
					return nil, err
				}
				return map[string]any{"id": id, "deleted": true}, nil
			}))
	return m
}

func (m *Module) GetName() string { return "salat" }

func (m *Module) RegisterRoutes(group httpx.IRouteGroup) {
	g := group.Group("/salat")
	g.GET("/logs", m.listLogs)
	g.POST("/logs", m.dispatch)
	g.GET("/stats", m.statsHandler)
}

func (m *Module) listLogs(ctx httpx.IHttpContext) error {
	p, err := httpx.RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	d, err := m.list.Compile(ctx)
	if err != nil {
		return err
	}
	res, err := m.svc.List(ctx.GetContext(), p, d)
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusOK, res)
}

func (m *Module) dispatch(ctx httpx.IHttpContext) error {
	p, err := httpx.RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	body, err := ctx.GetBody()
	if err != nil {
		return err
	}
	out, err := m.actions.Dispatch(ctx.GetContext(), p, body)
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusOK, out)
}

func (m *Module) statsHandler(ctx httpx.IHttpContext) error {
	p, err := httpx.RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	values, err := m.stats.ValidateQuery(ctx.GetQueryParams())
	if err != nil {
		return err
	}
	res, err := m.svc.Stats(ctx.GetContext(), p, values.Date("from"), values.Date("to"))
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusOK, res)
}
