package webdistributor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/csmith/webdistributor/model"
	"github.com/jxskiss/errors"
	"go.uber.org/zap"
)

const (
	// OwnedPrefix marks files in the ACME directory that belong to us.
	OwnedPrefix = "web-distributor"
	// BackupPrefix marks our backup and archive directories inside the ACME directory.
	BackupPrefix = "web-distributor-old"

	nginxSuffix  = ".nginx"
	outputMode   = 0644
	nginxBackup  = "nginx-old"
	nginxArchive = "nginx-old-"
)

// Generator rewrites the nginx and ACME output directories from a registry. Every run keeps the previous
// generation in an "-old" slot and moves any older one to an "-old-<timestamp>" archive.
type Generator struct {
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewGenerator creates a generator that timestamps archives with the current time.
func NewGenerator(logger *zap.SugaredLogger) *Generator {
	return &Generator{
		logger: logger,
		now:    time.Now,
	}
}

// Generate writes both output directories. The web server configs are complete before the ACME configs are touched.
func (g *Generator) Generate(registry *model.Registry) error {
	ts := Timestamp(g.now())
	g.logger.Debugf("Generating configuration, archive timestamp %s", ts)

	if err := g.generateWebserverConfigs(registry, ts); err != nil {
		return err
	}
	return g.generateAcmeConfigs(registry, ts)
}

// Timestamp formats t as fractional seconds since the Unix epoch.
func Timestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.Unix())+float64(t.Nanosecond())/float64(time.Second), 'f', -1, 64)
}

// IsOwned reports whether a file in the ACME directory is managed by us. Our backup slots are excluded.
func IsOwned(name string) bool {
	return strings.HasPrefix(name, OwnedPrefix) && !strings.HasPrefix(name, BackupPrefix)
}

// VirtualHostFile is the name of the nginx config for a source domain.
func VirtualHostFile(source string) string {
	return source + nginxSuffix
}

// AcmeFile is the name of the ACME config for a source domain.
func AcmeFile(source string) string {
	return fmt.Sprintf("%s.%s.conf", OwnedPrefix, source)
}

func (g *Generator) generateWebserverConfigs(registry *model.Registry, ts string) error {
	current := registry.NginxDir()
	backup := filepath.Join(registry.Home, nginxBackup)
	archive := filepath.Join(registry.Home, nginxArchive+ts)

	if err := g.rotate(current, backup, archive); err != nil {
		return err
	}

	if err := os.MkdirAll(current, 0755); err != nil {
		return errors.WithMessagef(err, "create %s", current)
	}

	for _, source := range registry.Sources() {
		content, err := RenderVirtualHost(source, registry.Routes[source], registry.LoginFile(source))
		if err != nil {
			return errors.WithMessagef(err, "render virtual host for %s", source)
		}
		if err := g.write(filepath.Join(current, VirtualHostFile(source)), content); err != nil {
			return err
		}
	}

	g.logger.Infof("Wrote %d nginx configs to %s", len(registry.Routes), current)
	return nil
}

func (g *Generator) generateAcmeConfigs(registry *model.Registry, ts string) error {
	dir := registry.AcmeRedirectConfigs
	backup := filepath.Join(dir, BackupPrefix)
	archive := filepath.Join(dir, BackupPrefix+"-"+ts)

	if moved, err := renameIfExists(backup, archive); err != nil {
		return err
	} else if moved {
		g.logger.Infof("Archived %s to %s", backup, archive)
	}

	if err := os.MkdirAll(backup, 0755); err != nil {
		return errors.WithMessagef(err, "create %s", backup)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.WithMessagef(err, "list %s", dir)
	}

	for _, entry := range entries {
		if !IsOwned(entry.Name()) {
			g.logger.Debugf("Leaving %s alone, not ours", entry.Name())
			continue
		}
		from := filepath.Join(dir, entry.Name())
		to := filepath.Join(backup, entry.Name())
		if err := os.Rename(from, to); err != nil {
			return errors.WithMessagef(err, "couldn't move %s to %s", from, to)
		}
		g.logger.Debugf("Moved %s to %s", from, to)
	}

	for _, source := range registry.Sources() {
		content, err := RenderAcme(source)
		if err != nil {
			return errors.WithMessagef(err, "render acme config for %s", source)
		}
		if err := g.write(filepath.Join(dir, AcmeFile(source)), content); err != nil {
			return err
		}
	}

	g.logger.Infof("Wrote %d acme-redirect configs to %s", len(registry.Routes), dir)
	return nil
}

// rotate shifts the three slots: backup moves to archive, then current moves to backup. Missing slots are skipped.
func (g *Generator) rotate(current, backup, archive string) error {
	if moved, err := renameIfExists(backup, archive); err != nil {
		return err
	} else if moved {
		g.logger.Infof("Archived %s to %s", backup, archive)
	}

	if moved, err := renameIfExists(current, backup); err != nil {
		return err
	} else if moved {
		g.logger.Debugf("Moved %s to %s", current, backup)
	}
	return nil
}

func (g *Generator) write(target, content string) error {
	g.logger.Debugf("Writing %s", target)
	if err := os.WriteFile(target, []byte(content), outputMode); err != nil {
		return errors.WithMessagef(err, "write %s", target)
	}
	return nil
}
