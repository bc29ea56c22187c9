package deletion

import (
	"strings"
	"testing"
)

func TestHashItemsDeterministic(t *testing.T) {
	a := []Item{
		{Store: "objectstore", Kind: "object", Identifier: "jobs/job_1/structure.pdb"},
		{Store: "primary", Kind: "job", Identifier: "job_1"},
		{Store: "cache", Kind: "key", Identifier: "rexsyn:job:job_1"},
	}
	b := []Item{
		{Store: "cache", Kind: "key", Identifier: "rexsyn:job:job_1"},
		{Store: "objectstore", Kind: "object", Identifier: "jobs/job_1/structure.pdb"},
		{Store: "primary", Kind: "job", Identifier: "job_1"},
	}

	ha, hb := HashItems(a), HashItems(b)
	if ha != hb {
		t.Errorf("hash differs across orderings: %s vs %s", ha, hb)
	}
	if !strings.HasPrefix(ha, "sha256:") {
		t.Errorf("hash = %q, want sha256: prefix", ha)
	}
}

func TestHashItemsSensitiveToContent(t *testing.T) {
	base := []Item{{Store: "primary", Kind: "job", Identifier: "job_1"}}
	other := []Item{{Store: "primary", Kind: "job", Identifier: "job_2"}}

	if HashItems(base) == HashItems(other) {
		t.Error("different item sets must not collide")
	}
}

func TestHashItemsDoesNotMutateInput(t *testing.T) {
	items := []Item{
		{Store: "b", Kind: "x", Identifier: "2"},
		{Store: "a", Kind: "x", Identifier: "1"},
	}
	_ = HashItems(items)
	if items[0].Store != "b" {
		t.Error("input slice was reordered")
	}
}

func TestHashItemsEmpty(t *testing.T) {
	if h := HashItems(nil); !strings.HasPrefix(h, "sha256:") {
		t.Errorf("empty set hash = %q", h)
	}
}
