package launch

import (
	"strings"
	"testing"
)

func TestCommonArgsFrom(t *testing.T) {
	cfg := Config{
		Ignore:    []string{"a.t1", "a.t2"},
		Only:      []string{"b.t3"},
		Partial:   true,
		Verbose:   true,
		BlockSize: 4096,
	}
	args := commonArgs(cfg, "from", true, 0)
	joined := strings.Join(args, " ")
	for _, want := range []string{"--role=from", "--leader=true", "--block-size=4096", "--ignore=a.t1", "--ignore=a.t2", "--only=b.t3", "--partial", "--verbose"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected args to contain %q, got %q", want, joined)
		}
	}
	if strings.Contains(joined, "--workers=") {
		t.Errorf("from-side args should not include --workers, got %q", joined)
	}
	if strings.Contains(joined, "--trace") || strings.Contains(joined, "--rollback-after") || strings.Contains(joined, "--compress") {
		t.Errorf("unset bool flags should not appear, got %q", joined)
	}
}

func TestCommonArgsTo(t *testing.T) {
	args := commonArgs(Config{}, "to", false, 4)
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "--role=to") || !strings.Contains(joined, "--workers=4") {
		t.Fatalf("expected role/workers flags, got %q", joined)
	}
	if strings.Contains(joined, "--leader=") {
		t.Errorf("to-side args should not include --leader, got %q", joined)
	}
}

func TestHelperPath(t *testing.T) {
	if got := helperPath("", "mysql"); got != "ks_mysql" {
		t.Errorf("got %q", got)
	}
	if got := helperPath("/usr/local/bin", "postgres"); got != "/usr/local/bin/ks_postgres" {
		t.Errorf("got %q", got)
	}
}

func TestConfigWorkersDefault(t *testing.T) {
	if (Config{}).workers() != 1 {
		t.Fatal("expected default workers of 1")
	}
	if (Config{Workers: 5}).workers() != 5 {
		t.Fatal("expected explicit workers to be honored")
	}
}
