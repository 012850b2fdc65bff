package webdistributor

import (
	"embed"
	"path"
	"strings"
	"text/template"
)

// LiveCertDir is where the ACME client places issued certificates, one directory per certificate name.
const LiveCertDir = "/var/lib/acme-redirect/live"

const (
	virtualHostTemplate = "nginx.conf.tpl"
	acmeTemplate        = "acme-redirect.conf.tpl"
)

//go:embed templates/*.tpl
var templateFS embed.FS

var templateFuncs = template.FuncMap{
	"live": func(name, file string) string { return path.Join(LiveCertDir, name, file) },
}

var templates = template.Must(template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.tpl"))

// RenderVirtualHost produces the nginx server blocks proxying from to the upstream URL to. If loginFile is not
// empty the proxied location requires HTTP basic auth against that password file.
func RenderVirtualHost(from, to, loginFile string) (string, error) {
	return render(virtualHostTemplate, struct {
		From      string
		To        string
		LoginFile string
	}{from, to, loginFile})
}

// RenderAcme produces an acme-redirect certificate declaration for the given name.
func RenderAcme(namespace string) (string, error) {
	return render(acmeTemplate, struct {
		Namespace string
	}{namespace})
}

func render(name string, data interface{}) (string, error) {
	builder := &strings.Builder{}
	if err := templates.ExecuteTemplate(builder, name, data); err != nil {
		return "", err
	}
	return builder.String(), nil
}
