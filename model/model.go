package model

import (
	"path/filepath"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	// DefaultHome is the working root used when a registry is first created.
	DefaultHome = "/etc/web-distributor"
	// DefaultAcmeRedirectConfigs is the ACME client's config directory used when a registry is first created.
	DefaultAcmeRedirectConfigs = "/etc/acme-redirect.d"

	nginxDir       = "nginx"
	loginGroupsDir = "login_groups"
)

// Registry is the persisted description of every route this host proxies.
type Registry struct {
	// Home is the root for generated web server configs and password files.
	Home string `toml:"home" yaml:"home" validate:"required,startswith=/"`
	// AcmeRedirectConfigs is the directory shared with the ACME client.
	AcmeRedirectConfigs string `toml:"acme_redirect_configs" yaml:"acme_redirect_configs" validate:"required,startswith=/"`
	// Routes maps a source domain to the upstream URL it is proxied to. Keys end up in file names, so they must be
	// plain host names.
	Routes map[string]string `toml:"routes" yaml:"routes" validate:"dive,keys,required,hostname_rfc1123,endkeys,required"`
	// LoginGroups maps a source domain to the login group protecting it. Group names are file names in the login
	// group directory.
	LoginGroups map[string]string `toml:"login_groups" yaml:"login_groups" validate:"dive,keys,required,hostname_rfc1123,endkeys,required,excludesall=/,startsnotwith=."`
}

// NewRegistry returns an empty registry using the default paths.
func NewRegistry() *Registry {
	return &Registry{
		Home:                DefaultHome,
		AcmeRedirectConfigs: DefaultAcmeRedirectConfigs,
		Routes:              make(map[string]string),
		LoginGroups:         make(map[string]string),
	}
}

// EnsureMaps replaces nil maps with empty ones, so documents that omit a table can be mutated safely.
func (r *Registry) EnsureMaps() {
	if r.Routes == nil {
		r.Routes = make(map[string]string)
	}
	if r.LoginGroups == nil {
		r.LoginGroups = make(map[string]string)
	}
}

// Sources returns the source domains of all routes in sorted order.
func (r *Registry) Sources() []string {
	sources := maps.Keys(r.Routes)
	slices.Sort(sources)
	return sources
}

// BoundGroups returns the distinct login groups referenced by any binding, sorted.
func (r *Registry) BoundGroups() []string {
	seen := make(map[string]bool)
	for _, g := range r.LoginGroups {
		seen[g] = true
	}
	groups := maps.Keys(seen)
	slices.Sort(groups)
	return groups
}

// UnbindGroup removes every binding that references the given group and returns the affected sources.
func (r *Registry) UnbindGroup(group string) []string {
	var unbound []string
	for source, g := range r.LoginGroups {
		if g == group {
			unbound = append(unbound, source)
			delete(r.LoginGroups, source)
		}
	}
	slices.Sort(unbound)
	return unbound
}

// NginxDir is the directory holding the current generation of virtual host files.
func (r *Registry) NginxDir() string {
	return filepath.Join(r.Home, nginxDir)
}

// LoginGroupsDir is the directory holding one password file per login group.
func (r *Registry) LoginGroupsDir() string {
	return filepath.Join(r.Home, loginGroupsDir)
}

// LoginFile returns the password file protecting the given source, or "" if the route is not bound.
func (r *Registry) LoginFile(source string) string {
	if group, ok := r.LoginGroups[source]; ok {
		return filepath.Join(r.LoginGroupsDir(), group)
	}
	return ""
}
