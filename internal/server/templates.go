package server

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"date": func(t interface{ Format(string) string }) string {
		return t.Format("2006-01-02 15:04")
	},
}).ParseFS(templateFS, "templates/*.html"))
