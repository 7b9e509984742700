package page

import (
	"fmt"
	"net/url"
	"strconv"

	gomponents "maragu.dev/gomponents"
	html "maragu.dev/gomponents/html"
)

// HTMLOptions controls the web rendering of the page.
type HTMLOptions struct {
	Title        string
	Alerts       []string
	UploadAction string
	QueryAction  string
	// Link builds the href for a table view. Defaults to QueryLink("/").
	Link func(View) string
}

// QueryLink returns a Link function that encodes a view as sort, dir and p
// query parameters on path.
func QueryLink(path string) func(View) string {
	return func(v View) string {
		q := url.Values{}
		if v.SortBy != "" {
			q.Set("sort", v.SortBy)
			if v.Desc {
				q.Set("dir", "desc")
			} else {
				q.Set("dir", "asc")
			}
		}
		if v.Page > 1 {
			q.Set("p", strconv.Itoa(v.Page))
		}
		if len(q) == 0 {
			return path
		}
		return path + "?" + q.Encode()
	}
}

// ParseView reads a view from sort, dir and p query parameters.
func ParseView(q url.Values, pageSize int) View {
	p, _ := strconv.Atoi(q.Get("p"))
	return View{
		SortBy:   q.Get("sort"),
		Desc:     q.Get("dir") == "desc",
		Page:     p,
		PageSize: pageSize,
	}
}

// RenderHTML renders the whole page for s.
func RenderHTML(s Snapshot, v View, o HTMLOptions) gomponents.Node {
	if o.Title == "" {
		o.Title = "Upload and Query"
	}
	if o.UploadAction == "" {
		o.UploadAction = "/ui/upload"
	}
	if o.QueryAction == "" {
		o.QueryAction = "/ui/query"
	}
	if o.Link == nil {
		o.Link = QueryLink("/")
	}

	alerts := make([]gomponents.Node, 0, len(o.Alerts))
	for _, msg := range o.Alerts {
		alerts = append(alerts, html.Div(html.Class("alert"), html.Role("alert"), gomponents.Text(msg)))
	}

	uploadLabel := "Upload"
	if s.Uploading {
		uploadLabel = "Uploading..."
	}

	return html.Doctype(html.HTML(
		html.Lang("en"),
		html.Head(
			html.Meta(html.Charset("utf-8")),
			html.Meta(html.Name("viewport"), html.Content("width=device-width, initial-scale=1")),
			html.TitleEl(gomponents.Text(o.Title)),
			html.StyleEl(gomponents.Raw(stylesheet)),
		),
		html.Body(
			html.Main(
				html.Class("layout"),
				html.H1(gomponents.Text(o.Title)),
				gomponents.Group(alerts),
				html.Div(
					html.Class("card"),
					html.H2(gomponents.Text("Upload CSV")),
					html.Form(
						html.Method("post"),
						html.Action(o.UploadAction),
						html.EncType("multipart/form-data"),
						html.Input(html.Type("file"), html.Name("file"), html.Accept(".csv")),
						html.Button(
							html.Type("submit"),
							html.Class("btn btn-primary"),
							gomponents.If(s.Uploading, html.Disabled()),
							gomponents.Text(uploadLabel),
						),
					),
				),
				html.Div(
					html.Class("card"),
					html.H2(gomponents.Text("SQL Query")),
					html.Form(
						html.Method("post"),
						html.Action(o.QueryAction),
						html.Textarea(
							html.Name("query"),
							html.Rows("4"),
							html.Placeholder("SELECT * FROM csv_files;"),
							gomponents.Text(s.QueryText),
						),
						html.Button(html.Type("submit"), html.Class("btn btn-primary"), gomponents.Text("Execute Query")),
					),
				),
				ResultNode(BuildTable(s.Result, v), o.Link),
			),
		),
	))
}

// ResultNode renders the result card, or nothing when t is nil.
func ResultNode(t *Table, link func(View) string) gomponents.Node {
	if t == nil {
		return nil
	}

	headers := make([]gomponents.Node, 0, len(t.Columns))
	for _, c := range t.Columns {
		next := View{SortBy: c.Name, PageSize: t.PageSize}
		marker := ""
		if c.Name == t.SortBy {
			next.Desc = !t.Desc
			marker = " ▲"
			if t.Desc {
				marker = " ▼"
			}
		}
		headers = append(headers, html.Th(html.A(html.Href(link(next)), gomponents.Text(c.Name+marker))))
	}

	rows := make([]gomponents.Node, 0, len(t.Rows))
	for i, r := range t.Rows {
		class := "row-odd"
		if i%2 == 1 {
			class = "row-even"
		}
		cells := make([]gomponents.Node, 0, len(r))
		for _, cell := range r {
			cells = append(cells, html.Td(gomponents.Text(cell)))
		}
		rows = append(rows, html.Tr(html.Class(class), gomponents.Group(cells)))
	}

	return html.Div(
		html.Class("card table-wrap"),
		html.H2(gomponents.Text("Query Results")),
		html.Table(
			html.Class("striped"),
			html.THead(html.Tr(gomponents.Group(headers))),
			html.TBody(gomponents.Group(rows)),
		),
		pagination(t, link),
	)
}

func pagination(t *Table, link func(View) string) gomponents.Node {
	at := func(page int) View {
		return View{SortBy: t.SortBy, Desc: t.Desc, Page: page, PageSize: t.PageSize}
	}
	nav := []gomponents.Node{html.Class("pagination")}
	if t.Page > 1 {
		nav = append(nav, html.A(html.Href(link(at(t.Page-1))), gomponents.Text("« Prev")))
	}
	nav = append(nav, html.Span(gomponents.Text(fmt.Sprintf("Page %d of %d (%d rows)", t.Page, t.Pages, t.Total))))
	if t.Page < t.Pages {
		nav = append(nav, html.A(html.Href(link(at(t.Page+1))), gomponents.Text("Next »")))
	}
	return html.Nav(nav...)
}

const stylesheet = `
body { font-family: system-ui, sans-serif; margin: 0; background: #f6f8fa; color: #1f2328; }
.layout { max-width: 1100px; margin: 0 auto; padding: 24px; }
.card { background: #fff; border: 1px solid #d0d7de; border-radius: 6px; padding: 16px; margin-bottom: 16px; }
.alert { border: 1px solid #d4a72c; background: #fff8c5; border-radius: 6px; padding: 8px 12px; margin-bottom: 12px; }
textarea { width: 100%; font-family: ui-monospace, monospace; margin-bottom: 8px; }
.btn { padding: 6px 14px; border-radius: 6px; border: 1px solid #1f883d; background: #1f883d; color: #fff; cursor: pointer; }
.btn[disabled] { opacity: 0.6; cursor: default; }
.table-wrap { overflow-x: auto; }
table.striped { border-collapse: collapse; width: 100%; }
table.striped th, table.striped td { border-bottom: 1px solid #d0d7de; padding: 6px 10px; text-align: left; }
table.striped th a { color: inherit; text-decoration: none; }
table.striped tr.row-even { background: #f6f8fa; }
.pagination { display: flex; gap: 12px; margin-top: 12px; align-items: center; }
`
