package server

import (
	"embed"
	"html/template"
	"io/fs"
)

//go:embed templates/*
var templateFiles embed.FS

func TemplateFilesFS() fs.FS {
	subFS, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		panic("Failed to create templates sub filesystem: " + err.Error())
	}
	return subFS
}

// ParseTemplate parses name together with the shared layout.
func ParseTemplate(name string) (*template.Template, error) {
	return template.New("layout.html").ParseFS(TemplateFilesFS(), "layout.html", name)
}
