package notify

import (
	"embed"
	"text/template"

	"github.com/valyala/bytebufferpool"
)

//go:embed templates/*.html
var embedFS embed.FS

var mailTemplates = template.Must(template.ParseFS(embedFS, "templates/*.html"))

func renderTemplate(name string, data interface{}) (string, error) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := mailTemplates.ExecuteTemplate(buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
