package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
)

func testPromotion(env, version string) domain.Promotion {
	return domain.NewPromotion(uuid.New(), "release", "deploy-"+env, env, version)
}

// --- Recorder / Multi Tests ---

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	_ = r.Notify(context.Background(), testPromotion("dev", "v1"))
	_ = r.Notify(context.Background(), testPromotion("prod", "v1"))

	got := r.Promotions()
	if len(got) != 2 || got[0].Environment != "dev" || got[1].Environment != "prod" {
		t.Errorf("unexpected promotions: %+v", got)
	}

	r.Err = errors.New("down")
	if err := r.Notify(context.Background(), testPromotion("qa", "v1")); err == nil {
		t.Error("expected configured error")
	}
	if len(r.Promotions()) != 2 {
		t.Error("failed notify must not be recorded")
	}
}

func TestMulti_StopsOnFirstError(t *testing.T) {
	first := NewRecorder()
	failing := NotifierFunc(func(context.Context, domain.Promotion) error {
		return ErrNotify
	})
	last := NewRecorder()

	err := Multi{first, failing, last}.Notify(context.Background(), testPromotion("dev", "v1"))
	if !errors.Is(err, ErrNotify) {
		t.Fatalf("expected ErrNotify, got %v", err)
	}
	if len(first.Promotions()) != 1 || len(last.Promotions()) != 0 {
		t.Error("expected delivery to stop after failing notifier")
	}
}

// --- MQNotifier Tests ---

type fakePublisher struct {
	got []domain.Promotion
	err error
}

func (f *fakePublisher) PublishPromotion(_ context.Context, promo domain.Promotion) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, promo)
	return nil
}

func TestMQNotifier(t *testing.T) {
	pub := &fakePublisher{}
	n := NewMQNotifier(pub)

	if err := n.Notify(context.Background(), testPromotion("prod", "v2")); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(pub.got) != 1 || pub.got[0].Version != "v2" {
		t.Errorf("unexpected published promotions: %+v", pub.got)
	}

	pub.err = errors.New("channel closed")
	if err := n.Notify(context.Background(), testPromotion("prod", "v2")); !errors.Is(err, ErrNotify) {
		t.Errorf("expected ErrNotify, got %v", err)
	}
}

// --- WebhookNotifier Tests ---

func TestWebhookNotifier_Success(t *testing.T) {
	var received domain.Promotion
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL)
	n.Headers = map[string]string{"Authorization": "Bearer token"}

	promo := testPromotion("dev", "v1.2.3")
	if err := n.Notify(context.Background(), promo); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if received.Version != "v1.2.3" || received.Environment != "dev" {
		t.Errorf("unexpected body: %+v", received)
	}
	if auth != "Bearer token" {
		t.Errorf("expected custom header, got %q", auth)
	}
}

func TestWebhookNotifier_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "environment locked", http.StatusConflict)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL).Notify(context.Background(), testPromotion("prod", "v1"))
	if !errors.Is(err, ErrNotify) {
		t.Fatalf("expected ErrNotify, got %v", err)
	}
	if !strings.Contains(err.Error(), "409") {
		t.Errorf("expected status in error, got %v", err)
	}
}

// --- ValuesNotifier Tests ---

const devValues = `# dev values
replicaCount: 2
image:
  repository: ghcr.io/acme/app
  tag: v0.9.0 # current
`

func TestValuesNotifier_RewritesTag(t *testing.T) {
	dir := t.TempDir()
	n := NewValuesNotifier(dir, nil)
	path := n.ValuesFile("dev")
	if err := os.WriteFile(path, []byte(devValues), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := n.Notify(context.Background(), testPromotion("dev", "v1.0.0")); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	data, _ := os.ReadFile(path)
	out := string(data)
	for _, want := range []string{"# dev values", "replicaCount: 2", "repository: ghcr.io/acme/app", "tag: v1.0.0"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in values file:\n%s", want, out)
		}
	}
}

func TestValuesNotifier_NumericLookingVersionStaysString(t *testing.T) {
	dir := t.TempDir()
	n := NewValuesNotifier(dir, nil)
	if err := os.WriteFile(n.ValuesFile("qa"), []byte("image: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := n.Notify(context.Background(), testPromotion("qa", "1.10")); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	data, _ := os.ReadFile(n.ValuesFile("qa"))
	var values struct {
		Image struct {
			Tag any `yaml:"tag"`
		} `yaml:"image"`
	}
	if err := yaml.Unmarshal(data, &values); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if values.Image.Tag != "1.10" {
		t.Errorf("expected string tag 1.10, got %#v", values.Image.Tag)
	}
}

func TestValuesNotifier_Errors(t *testing.T) {
	n := NewValuesNotifier(t.TempDir(), nil)

	if err := n.Notify(context.Background(), testPromotion("prod", "")); !errors.Is(err, ErrMissingVersion) {
		t.Errorf("expected ErrMissingVersion, got %v", err)
	}
	if err := n.Notify(context.Background(), testPromotion("prod", "v1")); !errors.Is(err, ErrNotify) {
		t.Errorf("expected ErrNotify for missing values file, got %v", err)
	}
}

func TestSetYAMLValue_CreatesPath(t *testing.T) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte("name: app\n"), &root); err != nil {
		t.Fatal(err)
	}

	changed, err := SetYAMLValue(&root, []string{"image", "tag"}, "v3")
	if err != nil || !changed {
		t.Fatalf("expected change, got changed=%v err=%v", changed, err)
	}

	changed, err = SetYAMLValue(&root, []string{"image", "tag"}, "v3")
	if err != nil || changed {
		t.Errorf("expected no change on same value, got changed=%v err=%v", changed, err)
	}

	if _, err := SetYAMLValue(&root, []string{"name", "tag"}, "v3"); err == nil {
		t.Error("expected error when walking into a scalar")
	}
}

func TestValuesNotifier_GitCommit(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	git := func(args ...string) string {
		t.Helper()
		out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
		return strings.TrimSpace(string(out))
	}

	git("init", "-q")
	git("config", "user.email", "ci@example.com")
	git("config", "user.name", "ci")
	git("config", "commit.gpgsign", "false")
	if err := os.WriteFile(filepath.Join(dir, "values-dev.yaml"), []byte(devValues), 0o644); err != nil {
		t.Fatal(err)
	}
	git("add", ".")
	git("commit", "-q", "-m", "init")

	n := NewValuesNotifier(dir, nil)
	n.Git.Enabled = true

	if err := n.Notify(context.Background(), testPromotion("dev", "v1.1.0")); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	subject := git("log", "-1", "--format=%s")
	if !strings.HasPrefix(subject, "promote dev to v1.1.0") {
		t.Errorf("unexpected commit subject %q", subject)
	}
}

func TestValuesNotifier_PushFailureRepeatsOnRetry(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	dir := t.TempDir()
	git := func(dir string, args ...string) string {
		t.Helper()
		out, err := exec.Command("git", append([]string{"-C", dir}, args...)...).CombinedOutput()
		if err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
		return strings.TrimSpace(string(out))
	}

	git(dir, "init", "-q")
	git(dir, "config", "user.email", "ci@example.com")
	git(dir, "config", "user.name", "ci")
	git(dir, "config", "commit.gpgsign", "false")
	if err := os.WriteFile(filepath.Join(dir, "values-dev.yaml"), []byte(devValues), 0o644); err != nil {
		t.Fatal(err)
	}
	git(dir, "add", ".")
	git(dir, "commit", "-q", "-m", "init")

	n := NewValuesNotifier(dir, nil)
	n.Git.Enabled = true
	n.Git.Push = true
	n.Git.Remote = "deploy"
	n.Git.Branch = "main"

	// remote deploy ещё не настроен: commit проходит, push падает.
	if err := n.Notify(context.Background(), testPromotion("dev", "v1.1.0")); !errors.Is(err, ErrNotify) {
		t.Fatalf("expected ErrNotify on failed push, got %v", err)
	}
	if err := n.Notify(context.Background(), testPromotion("dev", "v1.1.0")); !errors.Is(err, ErrNotify) {
		t.Fatalf("retry must fail while push keeps failing, got %v", err)
	}
	if count := git(dir, "rev-list", "--count", "HEAD"); count != "2" {
		t.Errorf("expected exactly one promotion commit, got %s commits", count)
	}

	bare := t.TempDir()
	git(bare, "init", "-q", "--bare")
	git(dir, "remote", "add", "deploy", bare)

	if err := n.Notify(context.Background(), testPromotion("dev", "v1.1.0")); err != nil {
		t.Fatalf("retry after remote recovered failed: %v", err)
	}
	if subject := git(bare, "log", "-1", "--format=%s", "main"); !strings.HasPrefix(subject, "promote dev to v1.1.0") {
		t.Errorf("promotion commit not pushed, remote head %q", subject)
	}
}

func TestValuesNotifier_GitFailureNotMaskedOnRetry(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	// Каталог без репозитория: файл переписывается, git add падает.
	dir := t.TempDir()
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))
	if err := os.WriteFile(filepath.Join(dir, "values-dev.yaml"), []byte(devValues), 0o644); err != nil {
		t.Fatal(err)
	}
	n := NewValuesNotifier(dir, nil)
	n.Git.Enabled = true

	for attempt := 1; attempt <= 2; attempt++ {
		if err := n.Notify(context.Background(), testPromotion("dev", "v1.1.0")); !errors.Is(err, ErrNotify) {
			t.Fatalf("attempt %d: expected ErrNotify, got %v", attempt, err)
		}
	}
}
