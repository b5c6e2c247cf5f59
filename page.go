package main

import (
	"embed"
	"html/template"
	"log"
	"net/http"
)

//go:embed web/index.html
var pageFS embed.FS

var hostPage = template.Must(template.ParseFS(pageFS, "web/index.html"))

type hostPageData struct {
	Title        string
	SessionsPath string
}

func hostPageHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := hostPage.Execute(w, hostPageData{Title: "Embedded report", SessionsPath: "/sessions"}); err != nil {
		log.Printf("page: render failed: %v", err)
	}
}
