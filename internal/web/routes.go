package web

// Route is one entry of the static route table. The first entry whose Path
// equals the request path wins; "*" matches anything.
type Route struct {
	Path      string
	Name      string
	Icon      string
	Redirect  string
	Component string
	Access    string
	NoLayout  bool
	// Child routes are reached through their parent and stay out of the menu.
	Child bool
}

const accessCanAdmin = "canAdmin"

// Page components.
const (
	componentLogin    = "login"
	componentRegister = "register"
	componentAdd      = "add"
	componentAddAsync = "add_async"
	componentMyChart  = "my_chart"
	componentWelcome  = "welcome"
	componentAdmin    = "admin"
	componentNotFound = "404"
)

var Routes = []Route{
	{Path: "/user/login", Component: componentLogin, NoLayout: true},
	{Path: "/user/register", Component: componentRegister, NoLayout: true},
	{Path: "/", Redirect: "/add"},
	{Path: "/add", Name: "分析数据", Icon: "barChart", Component: componentAdd},
	{Path: "/add_async", Name: "分析数据（异步）", Icon: "barChart", Component: componentAddAsync},
	{Path: "/myChart", Name: "我的图表", Icon: "pieChart", Component: componentMyChart},
	{Path: "/welcome", Name: "欢迎", Icon: "smile", Component: componentWelcome},
	{Path: "/admin", Name: "管理页面", Icon: "crown", Access: accessCanAdmin, Redirect: "/admin/sub-page"},
	{Path: "/admin/sub-page", Name: "二级菜单页", Access: accessCanAdmin, Component: componentAdmin, Child: true},
	// shadowed by the first "/" entry
	{Path: "/", Redirect: "/welcome"},
	{Path: "*", Component: componentNotFound, NoLayout: true},
}

// Resolve returns the first route matching path.
func Resolve(path string) Route {
	for _, r := range Routes {
		if r.Path == path || r.Path == "*" {
			return r
		}
	}
	return Route{Path: "*", Component: componentNotFound, NoLayout: true}
}

type MenuItem struct {
	Path   string
	Name   string
	Icon   string
	Active bool
}

// Menu lists the named top-level routes visible to the caller.
func Menu(current string, canAdmin bool) []MenuItem {
	var items []MenuItem
	seen := make(map[string]bool)
	for _, r := range Routes {
		if r.Name == "" || r.Child || seen[r.Path] {
			continue
		}
		if r.Access == accessCanAdmin && !canAdmin {
			continue
		}
		seen[r.Path] = true
		items = append(items, MenuItem{
			Path:   r.Path,
			Name:   r.Name,
			Icon:   r.Icon,
			Active: r.Path == current || (r.Redirect != "" && r.Redirect == current),
		})
	}
	return items
}
