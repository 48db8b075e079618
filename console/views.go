package console

import (
	"bytes"
	"html/template"
	"net/http"

	"go.uber.org/zap"

	"github.com/gowool/aml-rbac/nav"
	"github.com/gowool/aml-rbac/session"
)

const layoutHTML = `{{define "layout"}}<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}} · AML Engine</title></head>
<body>
{{if .User.Username}}<header>
<strong>AML Engine</strong>
<span>Welcome, {{if .User.Name}}{{.User.Name}}{{else}}{{.User.Username}}{{end}} ({{.User.Role.Name}})</span>
<form method="post" action="/logout"><button type="submit">Logout</button></form>
</header>
<nav><ul>{{range .Nav}}<li><a href="{{.Path}}">{{.Label}}</a></li>{{end}}</ul></nav>
{{end}}<main>
<h1>{{.Title}}</h1>
{{if .Error}}<p role="alert">{{.Error}}</p>{{end}}
{{template "content" .}}
</main>
</body>
</html>{{end}}`

const contentHTML = `{{define "content"}}{{if .Login}}<form method="post" action="/login">
<label>Username <input name="username" autocomplete="username" required></label>
<label>Password <input name="password" type="password" autocomplete="current-password" required></label>
<button type="submit">Sign in</button>
</form>{{else}}{{range .Buttons}}<form method="{{.Method}}" action="{{.Path}}"><button type="submit">{{.Label}}</button></form>
{{end}}{{end}}{{end}}`

var templates = template.Must(template.New("console").Parse(layoutHTML + contentHTML))

// button is an inline action rendered only for roles allowed to use it.
type button struct {
	Label  string
	Method string
	Path   string
}

type pageData struct {
	Title   string
	User    session.User
	Nav     []nav.Entry
	Buttons []button
	Error   string
	Login   bool
}

func (c *Console) render(w http.ResponseWriter, status int, data pageData) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "layout", data); err != nil {
		c.logger.Error("failed to render page", zap.String("title", data.Title), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
