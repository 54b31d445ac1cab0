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

// ParseTemplate parses a template from the embedded filesystem
func ParseTemplate(name string) (*template.Template, error) {
	content, err := fs.ReadFile(TemplateFilesFS(), name)
	if err != nil {
		return nil, err
	}
	return template.New(name).Parse(string(content))
}

// mustParseTemplate is ParseTemplate for templates that ship with the binary
func mustParseTemplate(name string) *template.Template {
	tmpl, err := ParseTemplate(name)
	if err != nil {
		panic("Failed to parse " + name + " template: " + err.Error())
	}
	return tmpl
}

var (
	loadingTemplate       = mustParseTemplate("loading.html")
	oauthCompleteTemplate = mustParseTemplate("oauth_complete.html")
)

// loadingPage is the placeholder served while a session is still hydrating
type loadingPage struct {
	AppName        string
	RefreshSeconds int
}

// oauthCompletePage finishes a popup OAuth attempt
type oauthCompletePage struct {
	AppName     string
	Success     bool
	Error       string
	ContinueURL string
}
