package webdistributor

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/csmith/webdistributor/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testTime = time.Unix(1700000000, 250000000)

func newTestGenerator() *Generator {
	g := NewGenerator(zap.NewNop().Sugar())
	g.now = func() time.Time { return testTime }
	return g
}

func newTestRegistry(t *testing.T) *model.Registry {
	t.Helper()
	dir := t.TempDir()
	registry := model.NewRegistry()
	registry.Home = filepath.Join(dir, "home")
	registry.AcmeRedirectConfigs = filepath.Join(dir, "acme-redirect.d")
	return registry
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestTimestamp(t *testing.T) {
	tests := []struct {
		name string
		time time.Time
		want string
	}{
		{"whole seconds", time.Unix(1700000000, 0), "1700000000"},
		{"fractional", time.Unix(1700000000, 250000000), "1700000000.25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Timestamp(tt.time); got != tt.want {
				t.Errorf("Timestamp() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsOwned(t *testing.T) {
	tests := []struct {
		name string
		file string
		want bool
	}{
		{"route config", "web-distributor.app.example.com.conf", true},
		{"bare prefix", "web-distributor", true},
		{"other prefix variant", "web-distributor-extra.conf", true},
		{"backup slot", "web-distributor-old", false},
		{"archive slot", "web-distributor-old-1700000000.25", false},
		{"other tenant", "other.conf", false},
		{"prefix in middle", "my-web-distributor.conf", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOwned(tt.file); got != tt.want {
				t.Errorf("IsOwned() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGenerator_EmptyRegistry(t *testing.T) {
	registry := newTestRegistry(t)

	require.NoError(t, newTestGenerator().Generate(registry))

	assert.Empty(t, listDir(t, registry.NginxDir()))
	assert.Equal(t, []string{"web-distributor-old"}, listDir(t, registry.AcmeRedirectConfigs))
	assert.Empty(t, listDir(t, filepath.Join(registry.AcmeRedirectConfigs, "web-distributor-old")))
}

func TestGenerator_WritesRoutes(t *testing.T) {
	registry := newTestRegistry(t)
	registry.Routes["app.example.com"] = "http://10.0.0.5:8080"
	registry.Routes["blog.example.com"] = "http://10.0.0.6:2368"
	registry.LoginGroups["app.example.com"] = "staff"

	require.NoError(t, newTestGenerator().Generate(registry))

	assert.Equal(t, []string{"app.example.com.nginx", "blog.example.com.nginx"}, listDir(t, registry.NginxDir()))

	app := readFile(t, filepath.Join(registry.NginxDir(), "app.example.com.nginx"))
	assert.Contains(t, app, "server_name app.example.com;")
	assert.Contains(t, app, "proxy_pass http://10.0.0.5:8080;")
	assert.Contains(t, app, "auth_basic_user_file "+filepath.Join(registry.Home, "login_groups", "staff")+";")

	blog := readFile(t, filepath.Join(registry.NginxDir(), "blog.example.com.nginx"))
	assert.NotContains(t, blog, "auth_basic")

	assert.Equal(t, []string{
		"web-distributor-old",
		"web-distributor.app.example.com.conf",
		"web-distributor.blog.example.com.conf",
	}, listDir(t, registry.AcmeRedirectConfigs))
	assert.Contains(t, readFile(t, filepath.Join(registry.AcmeRedirectConfigs, "web-distributor.app.example.com.conf")), `name = "app.example.com"`)
}

func TestGenerator_NginxSlots(t *testing.T) {
	tests := []struct {
		name          string
		currentExists bool
		backupExists  bool
	}{
		{"no slots", false, false},
		{"current only", true, false},
		{"backup only", false, true},
		{"current and backup", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := newTestRegistry(t)
			registry.Routes["new.example.com"] = "http://127.0.0.1:1"

			current := registry.NginxDir()
			backup := filepath.Join(registry.Home, "nginx-old")
			archive := filepath.Join(registry.Home, "nginx-old-1700000000.25")

			if tt.currentExists {
				writeFile(t, filepath.Join(current, "current.example.com.nginx"), "current")
			}
			if tt.backupExists {
				writeFile(t, filepath.Join(backup, "backup.example.com.nginx"), "backup")
			}

			require.NoError(t, newTestGenerator().Generate(registry))

			assert.Equal(t, []string{"new.example.com.nginx"}, listDir(t, current))

			if tt.currentExists {
				assert.Equal(t, []string{"current.example.com.nginx"}, listDir(t, backup))
				assert.Equal(t, "current", readFile(t, filepath.Join(backup, "current.example.com.nginx")))
			} else {
				_, err := os.Stat(backup)
				assert.True(t, os.IsNotExist(err), "backup slot should be empty")
			}

			if tt.backupExists {
				assert.Equal(t, []string{"backup.example.com.nginx"}, listDir(t, archive))
			} else {
				_, err := os.Stat(archive)
				assert.True(t, os.IsNotExist(err), "archive slot should not be created")
			}
		})
	}
}

func TestGenerator_AcmeOwnership(t *testing.T) {
	registry := newTestRegistry(t)
	registry.Routes["app.example.com"] = "http://10.0.0.5:8080"
	acme := registry.AcmeRedirectConfigs

	writeFile(t, filepath.Join(acme, "other.conf"), "[cert]\nname = \"other\"\n")
	writeFile(t, filepath.Join(acme, "web-distributor.gone.example.com.conf"), "stale")
	writeFile(t, filepath.Join(acme, "web-distributor.app.example.com.conf"), "previous")

	require.NoError(t, newTestGenerator().Generate(registry))

	assert.Equal(t, []string{
		"other.conf",
		"web-distributor-old",
		"web-distributor.app.example.com.conf",
	}, listDir(t, acme))
	assert.Equal(t, "[cert]\nname = \"other\"\n", readFile(t, filepath.Join(acme, "other.conf")))

	backup := filepath.Join(acme, "web-distributor-old")
	assert.Equal(t, []string{"web-distributor.app.example.com.conf", "web-distributor.gone.example.com.conf"}, listDir(t, backup))
	assert.Equal(t, "previous", readFile(t, filepath.Join(backup, "web-distributor.app.example.com.conf")))
}

func TestGenerator_AcmeArchivesPreviousBackup(t *testing.T) {
	registry := newTestRegistry(t)
	acme := registry.AcmeRedirectConfigs
	writeFile(t, filepath.Join(acme, "web-distributor-old", "web-distributor.old.example.com.conf"), "old")
	writeFile(t, filepath.Join(acme, "web-distributor-old-1600000000", "web-distributor.older.example.com.conf"), "older")

	require.NoError(t, newTestGenerator().Generate(registry))

	assert.Equal(t, []string{
		"web-distributor-old",
		"web-distributor-old-1600000000",
		"web-distributor-old-1700000000.25",
	}, listDir(t, acme))
	assert.Empty(t, listDir(t, filepath.Join(acme, "web-distributor-old")))
	assert.Equal(t, []string{"web-distributor.old.example.com.conf"}, listDir(t, filepath.Join(acme, "web-distributor-old-1700000000.25")))
	assert.Equal(t, []string{"web-distributor.older.example.com.conf"}, listDir(t, filepath.Join(acme, "web-distributor-old-1600000000")))
}

func TestGenerator_Idempotent(t *testing.T) {
	registry := newTestRegistry(t)
	registry.Routes["app.example.com"] = "http://10.0.0.5:8080"
	registry.Routes["blog.example.com"] = "http://10.0.0.6:2368"
	registry.LoginGroups["blog.example.com"] = "staff"

	g := newTestGenerator()
	require.NoError(t, g.Generate(registry))

	first := make(map[string]string)
	for _, name := range listDir(t, registry.NginxDir()) {
		first[name] = readFile(t, filepath.Join(registry.NginxDir(), name))
	}
	firstAcme := readFile(t, filepath.Join(registry.AcmeRedirectConfigs, AcmeFile("app.example.com")))

	g.now = func() time.Time { return testTime.Add(time.Second) }
	require.NoError(t, g.Generate(registry))

	second := make(map[string]string)
	for _, name := range listDir(t, registry.NginxDir()) {
		second[name] = readFile(t, filepath.Join(registry.NginxDir(), name))
	}
	assert.Equal(t, first, second)
	assert.Equal(t, firstAcme, readFile(t, filepath.Join(registry.AcmeRedirectConfigs, AcmeFile("app.example.com"))))
}

func TestGenerator_ArchiveCollisionFails(t *testing.T) {
	registry := newTestRegistry(t)
	acme := registry.AcmeRedirectConfigs
	writeFile(t, filepath.Join(acme, "web-distributor-old", "a"), "a")
	writeFile(t, filepath.Join(acme, "web-distributor-old-1700000000.25", "b"), "b")

	err := newTestGenerator().Generate(registry)
	assert.Error(t, err)
	assert.False(t, IsPrecondition(err))
	assert.Equal(t, "b", readFile(t, filepath.Join(acme, "web-distributor-old-1700000000.25", "b")))
	assert.Equal(t, "a", readFile(t, filepath.Join(acme, "web-distributor-old", "a")))
}
