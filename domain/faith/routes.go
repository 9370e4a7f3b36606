package faith

import (
	"net/http"

	"hayatos/domain"
	httpx "hayatos/http"
)

// Module faith 路由，内容公开，不要求登录
type Module struct {
	svc *Service
}

var _ domain.IModule = (*Module)(nil)

// NewModule 创建模块
func NewModule(svc *Service) *Module { return &Module{svc: svc} }

func (m *Module) GetName() string { return "faith" }

func (m *Module) RegisterRoutes(group httpx.IRouteGroup) {
	g := group.Group("/faith")
	g.GET("/search", m.search)
	g.GET("/azkar", m.listAzkar)
}

func (m *Module) search(ctx httpx.IHttpContext) error {
	values, err := m.svc.search.Schema.ValidateQuery(ctx.GetQueryParams())
	if err != nil {
		return err
	}
	req, err := SearchRequestFrom(values)
	if err != nil {
		return err
	}
	res, err := m.svc.Search(ctx.GetContext(), req)
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusOK, res)
}

func (m *Module) listAzkar(ctx httpx.IHttpContext) error {
	d, err := m.svc.azkar.Compile(ctx)
	if err != nil {
		return err
	}
	res, err := m.svc.Azkar(ctx.GetContext(), d)
	if err != nil {
		return err
	}
	return domain.Respond(ctx, http.StatusOK, res)
}
