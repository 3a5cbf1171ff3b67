package prworker

import (
	"testing"
)

func TestSplitRepo(t *testing.T) {
	owner, repo, err := splitRepo("acme/widgets")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if owner != "acme" || repo != "widgets" {
		t.Fatalf("got owner=%q repo=%q", owner, repo)
	}
}

func TestSplitRepoRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "acme", "acme/", "/widgets"} {
		if _, _, err := splitRepo(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestSplitRepoKeepsExtraSlashesInRepoName(t *testing.T) {
	owner, repo, err := splitRepo("acme/widgets/extra")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if owner != "acme" || repo != "widgets/extra" {
		t.Fatalf("got owner=%q repo=%q", owner, repo)
	}
}
