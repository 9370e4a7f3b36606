package habit

import (
	"context"
	"net/http"
	"time"

	"hayatos/data/query"
	"hayatos/domain"
	"hayatos/domain/action"
	httpx "hayatos/http"
	"hayatos/http/basic"
	"hayatos/validation"
)

var colorPattern = `^#[0-9a-fA-F]{6}$`

// Module habits 路由
type Module struct {
	svc     *Service
	list    *domain.ListEndpoint
	actions *action.Registry
	utils   *basic.HttpUtils
}

var _ domain.IModule = (*Module)(nil)

// NewModule 创建模块，defaultLimit/maxLimit 来自查询配置
func NewModule(svc *Service, defaultLimit, maxLimit int) *Module {
	m := &Module{svc: svc, utils: &basic.HttpUtils{}}
	m.list = &domain.ListEndpoint{
		Schema: validation.NewSchema(append(query.PaginationFields(defaultLimit),
			validation.String("status", validation.OneOf(StatusActive, StatusArchived, "all"), validation.Default(StatusActive)),
			validation.String("frequency", validation.OneOf(string(Daily), string(Weekly))),
			validation.String("q", validation.MaxLen(100)),
		)...),
		Builder: query.NewBuilder(
			query.EqualsOn("status", "status").Unless("all"),
			query.EqualsOn("frequency", "frequency"),
			query.SearchOn("q", "name", "description"),
		),
		Compiler: query.NewCompiler(
			query.WithMaxLimit(maxLimit),
			query.WithSortable("name", "created_at", "updated_at", "frequency", "status", "target_count"),
			query.WithDefaultSort(query.Desc("created_at")),
		),
	}
	m.actions = m.registry()
	return m
}

func (m *Module) GetName() string { return "habits" }

func (m *Module) RegisterRoutes(group httpx.IRouteGroup) {
	g := group.Group("/habits")
	g.GET("", m.listHabits)
	g.GET("/:id", m.getHabit)
	g.POST("", m.dispatch)
}

// Actions action 分派表
func (m *Module) Actions() *action.Registry { return m.actions }

func (m *Module) listHabits(ctx httpx.IHttpContext) error {
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

func (m *Module) getHabit(ctx httpx.IHttpContext) error {
	p, err := httpx.RequirePrincipal(ctx)
	if err != nil {
		return err
	}
	id, err := m.utils.ParseID(ctx, "id")
	if err != nil {
		return err
	}
	h, err := m.svc.Get(ctx.GetContext(), p, id)
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusOK, h)
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

func idField() validation.Field {
	return validation.Int("id", validation.Required(), validation.Min(1))
}

func (m *Module) registry() *action.Registry {
	r := action.NewRegistry("habits")

	r.Register("create", validation.NewSchema(
		validation.String("name", validation.Required(), validation.MinLen(1), validation.MaxLen(100)),
		validation.String("description", validation.MaxLen(500)),
		validation.String("frequency", validation.OneOf(string(Daily), string(Weekly)), validation.Default(string(Daily))),
		validation.Int("target_count", validation.Min(1), validation.Max(100), validation.Default(1)),
		validation.String("color", validation.Pattern(colorPattern)),
	), action.HandlerFunc(func(ctx context.Context, p httpx.Principal, in validation.Values) (any, error) {
		return m.svc.Create(ctx, p, CreateInput{
			Name:        in.String("name"),
			Description: in.String("description"),
			Frequency:   Frequency(in.String("frequency")),
			TargetCount: in.Int("target_count"),
			Color:       in.String("color"),
		})
	}))

	r.Register("update", validation.NewSchema(
		idField(),
		validation.String("name", validation.MinLen(1), validation.MaxLen(100)),
		validation.String("description", validation.MaxLen(500)),
		validation.String("frequency", validation.OneOf(string(Daily), string(Weekly))),
		validation.Int("target_count", validation.Min(1), validation.Max(100)),
		validation.String("color", validation.Pattern(colorPattern)),
	), action.HandlerFunc(func(ctx context.Context, p httpx.Principal, in validation.Values) (any, error) {
		up := UpdateInput{ID: int64(in.Int("id"))}
		if in.Provided("name") {
			v := in.String("name")
			up.Name = &v
		}
		if in.Provided("description") {
			v := in.String("description")
			up.Description = &v
		}
		if in.Provided("frequency") {
			v := Frequency(in.String("frequency"))
			up.Frequency = &v
		}
		if in.Provided("target_count") {
			v := in.Int("target_count")
			up.TargetCount = &v
		}
		if in.Provided("color") {
			v := in.String("color")
			up.Color = &v
		}
		return m.svc.Update(ctx, p, up)
	}))

	r.Register("archive", validation.NewSchema(idField()),
		action.HandlerFunc(func(ctx context.Context, p httpx.Principal, in validation.Values) (any, error) {
			return m.svc.Archive(ctx, p, int64(in.Int("id")))
		}))

	completion := validation.NewSchema(idField(), validation.Date("date"))
	r.Register("complete", completion,
		action.HandlerFunc(func(ctx context.Context, p httpx.Principal, in validation.Values) (any, error) {
			return m.svc.Complete(ctx, p, int64(in.Int("id")), m.dateOrToday(in))
		}))
	r.Register("uncomplete", completion,
		action.HandlerFunc(func(ctx context.Context, p httpx.Principal, in validation.Values) (any, error) {
			return m.svc.Uncomplete(ctx, p, int64(in.Int("id")), m.dateOrToday(in))
		}))
	return r
}

func (m *Module) dateOrToday(in validation.Values) time.Time {
	if in.Provided("date") {
		return in.Date("date")
	}
	return m.svc.now()
}
