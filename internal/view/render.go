package view

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/xela07ax/release-approval-gate/internal/domain"
)

// Links — адреса кнопок решения. Пустая ссылка не выводится.
type Links struct {
	Continue string
	Pause    string
	Rollback string
}

var page = template.Must(template.New("approval").Funcs(template.FuncMap{
	"ts": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Release {{.Req.ReleaseID}} approval</title>
</head>
<body>
<h1>Release {{.Req.ReleaseID}}</h1>
<dl>
<dt>Execution</dt><dd>{{.Req.ExecutionID}}</dd>
<dt>Recommendation</dt><dd>{{.Req.Recommendation}}</dd>
<dt>Status</dt><dd class="status">{{.Req.Status}}</dd>
<dt>Requested</dt><dd>{{ts .Req.CreatedAt}}</dd>
{{- with .Req.DecidedAt}}
<dt>Decided</dt><dd>{{ts .}}</dd>
{{- end}}
</dl>
{{- if .Pending}}
<ul class="decisions">
{{- with .Links.Continue}}
<li><a href="{{.}}">CONTINUE</a></li>
{{- end}}
{{- with .Links.Pause}}
<li><a href="{{.}}">PAUSE</a></li>
{{- end}}
{{- with .Links.Rollback}}
<li><a href="{{.}}">ROLLBACK</a></li>
{{- end}}
</ul>
{{- else}}
<p>This release has already been decided.</p>
{{- end}}
</body>
</html>
`))

// RenderApproval — чистая функция: заявка и ссылки на входе, HTML на выходе.
func RenderApproval(req *domain.ApprovalRequest, links Links) ([]byte, error) {
	if req == nil {
		return nil, fmt.Errorf("view: nil approval request")
	}
	var buf bytes.Buffer
	err := page.Execute(&buf, struct {
		Req     *domain.ApprovalRequest
		Links   Links
		Pending bool
	}{Req: req, Links: links, Pending: req.IsPending()})
	if err != nil {
		return nil, fmt.Errorf("view: render approval %s: %w", req.ID, err)
	}
	return buf.Bytes(), nil
}
