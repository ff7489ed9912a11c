package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ppiankov/grantwatch/internal/config"
	"github.com/spf13/cobra"
)

func runDoctor(t *testing.T, fetchPages bool) (string, error) {
	t.Helper()

	old := doctorFetch
	t.Cleanup(func() { doctorFetch = old })
	doctorFetch = fetchPages

	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return captureStdout(t, func() error { return doctorAction(cmd, nil) })
}

func TestDoctorActionAllChecksPass(t *testing.T) {
	env := setupRun(t)

	out, err := runDoctor(t, true)
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "[ OK ] config.yaml (1 sources, json storage)")
	requireContains(t, out, "[ OK ] webhook ($DISCORD_WEBHOOK_URL is set)")
	requireContains(t, out, "[ OK ] seen store (0 links)")
	requireContains(t, out, "[ OK ] extractors (1 sources)")
	requireContains(t, out, "[INFO] JIA: 2 entries")
	requireContains(t, out, "All checks passed.")

	if got := len(env.webhook.posts()); got != 0 {
		t.Errorf("doctor must not post, got %d", got)
	}
}

func TestDoctorActionMissingWebhook(t *testing.T) {
	setupRun(t)
	t.Setenv(config.DefaultWebhookEnv, "")

	out, err := runDoctor(t, false)
	if err == nil {
		t.Fatal("expected doctor to fail without webhook")
	}
	requireContains(t, out, "[FAIL] webhook")
	requireContains(t, out, "[ OK ] seen store")
}

func TestDoctorActionCorruptSeenStore(t *testing.T) {
	env := setupRun(t)
	writeFile(t, filepath.Join(env.dir, "posted.json"), "{not json")

	out, err := runDoctor(t, false)
	if err == nil {
		t.Fatal("expected doctor to fail on a corrupt seen-set")
	}
	requireContains(t, out, "[FAIL] seen store: load seen-set")
}

func TestDoctorActionBadConfig(t *testing.T) {
	dir := t.TempDir()
	writeTestConfig(t, dir, "sources: []\n")
	useConfigDir(t, dir)

	out, err := runDoctor(t, false)
	if err == nil {
		t.Fatal("expected doctor to fail on invalid config")
	}
	requireContains(t, out, "[ OK ] config directory")
	requireContains(t, out, "[FAIL] config.yaml")
}

func TestInitActionWritesExampleFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfg")
	useConfigDir(t, dir)

	out, err := captureStdout(t, func() error { return initAction(nil, nil) })
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	requireContains(t, out, "Initialized "+dir+" with 2 config files.")

	// The example config must load as written.
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if len(cfg.Sources) == 0 {
		t.Error("example config has no sources")
	}
	sources, err := config.LoadSourcesCSV(filepath.Join(dir, exampleSitesFile))
	if err != nil || len(sources) != 1 {
		t.Fatalf("example site list: %v (%d sources)", err, len(sources))
	}

	out, err = captureStdout(t, func() error { return initAction(nil, nil) })
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	requireContains(t, out, "already initialized")
}
