package workermain

import "testing"

func TestParseArgsPositionalFields(t *testing.T) {
	cfg, err := parseArgs([]string{"alice", "-", "db.example.com", "5432", "widgets", "--role=from", "--leader=true"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if cfg.user != "alice" || cfg.password != "" || cfg.host != "db.example.com" || cfg.port != 5432 || cfg.database != "widgets" {
		t.Fatalf("unexpected positional fields: %+v", cfg)
	}
	if cfg.role != roleFrom || !cfg.leader {
		t.Fatalf("unexpected role/leader: %+v", cfg)
	}
}

func TestParseArgsRepeatableIgnoreOnly(t *testing.T) {
	cfg, err := parseArgs([]string{"u", "-", "h", "-", "d",
		"--role=to", "--workers=3",
		"--ignore=a.t1", "--ignore=a.t2",
		"--only=b.t3",
	})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if cfg.workers != 3 {
		t.Fatalf("expected workers=3, got %d", cfg.workers)
	}
	if len(cfg.ignore) != 2 || cfg.ignore[0] != "a.t1" || cfg.ignore[1] != "a.t2" {
		t.Fatalf("unexpected ignore list: %v", cfg.ignore)
	}
	if len(cfg.only) != 1 || cfg.only[0] != "b.t3" {
		t.Fatalf("unexpected only list: %v", cfg.only)
	}
}

func TestParseArgsRejectsTooFewPositionalFields(t *testing.T) {
	if _, err := parseArgs([]string{"u", "-", "h", "-"}); err == nil {
		t.Fatal("expected error for missing database field")
	}
}

func TestParseArgsInvalidPort(t *testing.T) {
	if _, err := parseArgs([]string{"u", "-", "h", "notaport", "d"}); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestToSetEmptyIsNil(t *testing.T) {
	if toSet(nil) != nil {
		t.Fatal("expected nil set for empty input")
	}
	s := toSet([]string{"a", "b"})
	if !s["a"] || !s["b"] || len(s) != 2 {
		t.Fatalf("unexpected set: %v", s)
	}
}
