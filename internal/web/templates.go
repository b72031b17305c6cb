package web

import (
	"html/template"
)

type pageData struct {
	Title   string
	Version string
	Docs    []string
	Current string
	Content template.HTML
}

const layoutTemplate = `
{{define "header"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}} · Satya Ledger</title>
<style>
body { font-family: sans-serif; margin: 0; display: flex; }
nav { width: 14rem; padding: 1rem; background: #f4f1ea; min-height: 100vh; }
nav a.current { font-weight: bold; }
main { flex: 1; padding: 1rem 2rem; max-width: 60rem; }
footer { color: #888; font-size: 0.8rem; margin-top: 2rem; }
</style>
</head>
<body>
<nav>
<h3>Documents</h3>
<ul>
{{range .Docs}}<li><a href="/docs/{{.}}"{{if eq . $.Current}} class="current"{{end}}>{{.}}</a></li>
{{else}}<li>No documents</li>
{{end}}</ul>
<p><a href="/metrics">metrics</a> · <a href="/api/health">health</a></p>
</nav>
<main>
{{end}}

{{define "footer"}}<footer>Satya Ledger {{.Version}}</footer>
</main>
</body>
</html>
{{end}}

{{define "docs-list"}}{{template "header" .}}
<h1>Documentation</h1>
<p>Operator guide and API reference for the disbursement ledger.</p>
{{template "footer" .}}{{end}}

{{define "doc"}}{{template "header" .}}
{{.Content}}
{{template "footer" .}}{{end}}
`

// parseTemplates parses the page layouts compiled into the binary.
func parseTemplates() (*template.Template, error) {
	return template.New("web").Parse(layoutTemplate)
}
