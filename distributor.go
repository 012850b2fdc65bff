package webdistributor

import (
	"net/url"
	"strings"

	"github.com/csmith/webdistributor/model"
	"go.uber.org/zap"
	"golang.org/x/net/idna"
)

// Route is a single proxied domain as shown to the user.
type Route struct {
	Source     string
	Target     string
	LoginGroup string
}

// Distributor applies commands to the registry and keeps the password files and generated output in step with it.
// Every mutating command saves the registry before regenerating output.
type Distributor struct {
	logger    *zap.SugaredLogger
	store     *RegistryStore
	generator *Generator
	groups    *LoginGroups
	registry  *model.Registry
}

// Open loads (or creates) the registry at path and makes sure every login group it references has a password file.
func Open(logger *zap.SugaredLogger, path string) (*Distributor, error) {
	store := NewRegistryStore(logger, path)
	registry, err := store.Load()
	if err != nil {
		return nil, err
	}

	groups := NewLoginGroups(logger, registry.LoginGroupsDir())
	if err := groups.Init(); err != nil {
		return nil, err
	}
	if _, err := groups.EnsureGroups(registry.BoundGroups()); err != nil {
		return nil, err
	}

	return &Distributor{
		logger:    logger,
		store:     store,
		generator: NewGenerator(logger),
		groups:    groups,
		registry:  registry,
	}, nil
}

// Registry returns the in-memory registry.
func (d *Distributor) Registry() *model.Registry {
	return d.registry
}

// Generate rewrites the output directories from the current registry.
func (d *Distributor) Generate() error {
	return d.generator.Generate(d.registry)
}

// commit persists the registry and then regenerates output from it.
func (d *Distributor) commit() error {
	if err := d.store.Save(d.registry); err != nil {
		return err
	}
	return d.Generate()
}

// AddRoute proxies domain to target. Replacing an existing route requires force.
func (d *Distributor) AddRoute(domain, target string, force bool) error {
	source, err := NormaliseDomain(domain)
	if err != nil {
		return err
	}
	if err := ValidateTarget(target); err != nil {
		return err
	}

	if existing, ok := d.registry.Routes[source]; ok && !force {
		return precondition(ErrRouteExists, "There already exists a route from %s to %s. To override, use --force.", source, existing)
	}

	d.logger.Infof("Routing %s to %s", source, target)
	d.registry.Routes[source] = target
	return d.commit()
}

// RemoveRoute stops proxying domain. A login group binding for it is left in place and takes effect again if the
// route is re-added; use DisableLoginGroup to drop it.
func (d *Distributor) RemoveRoute(domain string) error {
	source, ok := d.findRoute(domain)
	if !ok {
		return precondition(ErrRouteMissing, "Can't remove %s, it doesn't exist.", domain)
	}

	d.logger.Infof("Removing route %s", source)
	delete(d.registry.Routes, source)
	return d.commit()
}

// Routes lists every route, sorted by source domain.
func (d *Distributor) Routes() []Route {
	var routes []Route
	for _, source := range d.registry.Sources() {
		routes = append(routes, Route{
			Source:     source,
			Target:     d.registry.Routes[source],
			LoginGroup: d.registry.LoginGroups[source],
		})
	}
	return routes
}

// CreateLoginGroup creates an empty login group. Nothing is regenerated: an unbound group affects no output.
func (d *Distributor) CreateLoginGroup(group string) error {
	if err := ValidateGroupName(group); err != nil {
		return err
	}
	return d.groups.Create(group)
}

// RemoveLoginGroup deletes a login group and unbinds it from every route that used it.
func (d *Distributor) RemoveLoginGroup(group string) error {
	if err := ValidateGroupName(group); err != nil {
		return err
	}
	if err := d.groups.Remove(group); err != nil {
		return err
	}

	for _, source := range d.registry.UnbindGroup(group) {
		d.logger.Infof("Login group %s no longer protects %s", group, source)
	}
	return d.commit()
}

// LoginGroups lists the names of all login groups.
func (d *Distributor) LoginGroups() ([]string, error) {
	return d.groups.List()
}

// ApplyLoginGroup protects the route for domain with group. Replacing an existing binding requires force.
func (d *Distributor) ApplyLoginGroup(domain, group string, force bool) error {
	if err := ValidateGroupName(group); err != nil {
		return err
	}
	if err := d.groups.requireGroup(group); err != nil {
		return err
	}

	source, ok := d.findRoute(domain)
	if !ok {
		return precondition(ErrRouteMissing, "No route with source domain %s exists.", domain)
	}

	if existing, ok := d.registry.LoginGroups[source]; ok && !force {
		return precondition(ErrBindingExists, "There already exists an active login group (%s) for %s. To override, use --force.", existing, source)
	}

	d.logger.Infof("Applying login group %s to %s", group, source)
	d.registry.LoginGroups[source] = group
	return d.commit()
}

// DisableLoginGroup removes the login group binding from the route for domain.
func (d *Distributor) DisableLoginGroup(domain string) error {
	source, ok := d.findBinding(domain)
	if !ok {
		return precondition(ErrBindingMissing, "No login group is active for %s.", domain)
	}

	d.logger.Infof("Disabling login group %s for %s", d.registry.LoginGroups[source], source)
	delete(d.registry.LoginGroups, source)
	return d.commit()
}

// AddLogin sets the password for name in group. Password files are only referenced by path in the generated
// output, so nothing is regenerated.
func (d *Distributor) AddLogin(group, name, password string, force bool) error {
	if err := ValidateGroupName(group); err != nil {
		return err
	}
	if err := ValidateLoginName(name); err != nil {
		return err
	}
	return d.groups.AddLogin(group, name, password, force)
}

// RevokeLogin removes name from group.
func (d *Distributor) RevokeLogin(group, name string) error {
	if err := ValidateGroupName(group); err != nil {
		return err
	}
	return d.groups.RevokeLogin(group, name)
}

// HasLogin reports whether name already has an entry in group. It fails if the group does not exist.
func (d *Distributor) HasLogin(group, name string) (bool, error) {
	if err := ValidateGroupName(group); err != nil {
		return false, err
	}
	if err := d.groups.requireGroup(group); err != nil {
		return false, err
	}
	lines, err := d.groups.read(group)
	if err != nil {
		return false, err
	}
	return hasLogin(lines, name), nil
}

// findRoute looks up domain as given, then in its normalised form.
func (d *Distributor) findRoute(domain string) (string, bool) {
	return find(d.registry.Routes, domain)
}

func (d *Distributor) findBinding(domain string) (string, bool) {
	return find(d.registry.LoginGroups, domain)
}

func find(m map[string]string, domain string) (string, bool) {
	if _, ok := m[domain]; ok {
		return domain, true
	}
	if normalised, err := NormaliseDomain(domain); err == nil {
		if _, ok := m[normalised]; ok {
			return normalised, true
		}
	}
	return "", false
}

// NormaliseDomain converts domain to its lower-case ASCII form and checks it is a valid host name.
func NormaliseDomain(domain string) (string, error) {
	ascii, err := idna.Lookup.ToASCII(strings.TrimSuffix(domain, "."))
	if err != nil {
		return "", precondition(ErrInvalidInput, "%s is not a valid domain name: %v", domain, err)
	}
	if err := validate.Var(ascii, "required,hostname_rfc1123"); err != nil {
		return "", precondition(ErrInvalidInput, "%s is not a valid domain name.", domain)
	}
	return ascii, nil
}

// ValidateTarget checks that target is an absolute URL with a scheme and a host.
func ValidateTarget(target string) error {
	if err := validate.Var(target, "required,url"); err != nil {
		return precondition(ErrInvalidInput, "%s is not a valid target URL.", target)
	}
	if u, err := url.Parse(target); err != nil || u.Host == "" {
		return precondition(ErrInvalidInput, "%s is not a valid target URL, it needs a scheme and a host.", target)
	}
	return nil
}

// groupNameRule matches the validate tag on model.Registry.LoginGroups values.
const groupNameRule = "required,excludesall=/,startsnotwith=."

// ValidateGroupName checks that group can be used as a file name in the login group directory.
func ValidateGroupName(group string) error {
	if err := validate.Var(group, groupNameRule); err != nil {
		return precondition(ErrInvalidInput, "%q is not a valid login group name.", group)
	}
	return nil
}

// ValidateLoginName checks that name can be stored as a single `name:hash` line.
func ValidateLoginName(name string) error {
	if err := validate.Var(name, "required,excludesall=:"); err != nil || strings.ContainsAny(name, "\r\n") {
		return precondition(ErrInvalidInput, "%q is not a valid login name.", name)
	}
	return nil
}
