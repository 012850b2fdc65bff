package webdistributor

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jxskiss/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/exp/slices"
)

const (
	// BcryptCost is the work factor used for new password hashes.
	BcryptCost   = 5
	passwordMode = 0640
)

// LoginGroups manages a directory of htpasswd-style files, one per login group. Each line in a file is
// `name:bcrypt-hash`.
type LoginGroups struct {
	logger *zap.SugaredLogger
	dir    string
	cost   int
}

// NewLoginGroups creates a store for password files in dir.
func NewLoginGroups(logger *zap.SugaredLogger, dir string) *LoginGroups {
	return &LoginGroups{
		logger: logger,
		dir:    dir,
		cost:   BcryptCost,
	}
}

// Dir returns the directory holding the password files.
func (l *LoginGroups) Dir() string {
	return l.dir
}

// Path returns the password file for the named group.
func (l *LoginGroups) Path(group string) string {
	return filepath.Join(l.dir, group)
}

// Init creates the password file directory if needed.
func (l *LoginGroups) Init() error {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return errors.WithMessagef(err, "create login group directory %s", l.dir)
	}
	return nil
}

// List returns the names of all login groups, sorted.
func (l *LoginGroups) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, errors.WithMessagef(err, "list login groups in %s", l.dir)
	}

	var groups []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && !strings.HasPrefix(entry.Name(), ".") {
			groups = append(groups, entry.Name())
		}
	}
	slices.Sort(groups)
	return groups, nil
}

// Exists reports whether a password file for the group is present.
func (l *LoginGroups) Exists(group string) (bool, error) {
	info, err := os.Stat(l.Path(group))
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, errors.WithMessagef(err, "stat login group %s", group)
	}
	return info.Mode().IsRegular(), nil
}

// Create writes an empty password file for the group. It fails if the group already exists.
func (l *LoginGroups) Create(group string) error {
	exists, err := l.Exists(group)
	if err != nil {
		return err
	}
	if exists {
		return precondition(ErrGroupExists, "Login group %s already exists.", group)
	}
	return l.create(group)
}

func (l *LoginGroups) create(group string) error {
	l.logger.Infof("Creating login group %s", group)
	return writeFileAtomic(l.Path(group), nil, passwordMode)
}

// EnsureGroups creates an empty password file for every named group that does not have one, and returns the
// groups that were created.
func (l *LoginGroups) EnsureGroups(groups []string) ([]string, error) {
	var created []string
	for _, group := range groups {
		exists, err := l.Exists(group)
		if err != nil {
			return created, err
		}
		if exists {
			continue
		}
		l.logger.Warnf("Login group %s is applied to a route but has no password file", group)
		if err := l.create(group); err != nil {
			return created, err
		}
		created = append(created, group)
	}
	return created, nil
}

// Remove deletes the password file of the group. It fails if the group does not exist.
func (l *LoginGroups) Remove(group string) error {
	if err := l.requireGroup(group); err != nil {
		return err
	}
	l.logger.Infof("Removing login group %s", group)
	if err := os.Remove(l.Path(group)); err != nil {
		return errors.WithMessagef(err, "remove login group %s", group)
	}
	return nil
}

// Logins returns the names with an entry in the group's password file, in file order.
func (l *LoginGroups) Logins(group string) ([]string, error) {
	lines, err := l.read(group)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range lines {
		if i := strings.IndexByte(line, ':'); i > 0 {
			names = append(names, line[:i])
		}
	}
	return names, nil
}

// AddLogin hashes the password and stores it for name. An existing entry for name is a conflict unless force is
// set, in which case it is replaced.
func (l *LoginGroups) AddLogin(group, name, password string, force bool) error {
	if err := l.requireGroup(group); err != nil {
		return err
	}

	lines, err := l.read(group)
	if err != nil {
		return err
	}

	if hasLogin(lines, name) && !force {
		return precondition(ErrLoginExists, "There already exists a login for %s in login group %s. To override, use --force.", name, group)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), l.cost)
	if err != nil {
		return errors.WithMessagef(err, "hash password for %s", name)
	}

	lines = append(withoutLogin(lines, name), name+":"+string(hash))
	l.logger.Infof("Setting login %s in login group %s", name, group)
	return l.write(group, lines)
}

// RevokeLogin removes every entry for name from the group. It fails if there is none.
func (l *LoginGroups) RevokeLogin(group, name string) error {
	if err := l.requireGroup(group); err != nil {
		return err
	}

	lines, err := l.read(group)
	if err != nil {
		return err
	}

	if !hasLogin(lines, name) {
		return precondition(ErrLoginMissing, "No login with %s exists in login group %s.", name, group)
	}

	l.logger.Infof("Revoking login %s from login group %s", name, group)
	return l.write(group, withoutLogin(lines, name))
}

func (l *LoginGroups) requireGroup(group string) error {
	exists, err := l.Exists(group)
	if err != nil {
		return err
	}
	if !exists {
		return precondition(ErrGroupMissing, "Login group %s doesn't exist.", group)
	}
	return nil
}

// read returns the non-empty lines of the group's password file.
func (l *LoginGroups) read(group string) ([]string, error) {
	b, err := os.ReadFile(l.Path(group))
	if err != nil {
		return nil, errors.WithMessagef(err, "read login group %s", group)
	}

	var lines []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func (l *LoginGroups) write(group string, lines []string) error {
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	return writeFileAtomic(l.Path(group), []byte(content), passwordMode)
}

// isLoginFor matches on the full name up to the separator, so "alice" never matches "alice2:...".
func isLoginFor(line, name string) bool {
	return strings.HasPrefix(line, name+":")
}

func hasLogin(lines []string, name string) bool {
	for _, line := range lines {
		if isLoginFor(line, name) {
			return true
		}
	}
	return false
}

func withoutLogin(lines []string, name string) []string {
	res := lines[:0:0]
	for _, line := range lines {
		if !isLoginFor(line, name) {
			res = append(res, line)
		}
	}
	return res
}
