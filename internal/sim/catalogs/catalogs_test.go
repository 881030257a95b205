package catalogs

import (
	"testing"
)

func TestLoadTestdata(t *testing.T) {
	c, err := Load("testdata")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := c.Price("IRON_INGOT"); got != 256 {
		t.Fatalf("price=%d", got)
	}
	if got := c.Price("UNKNOWN"); got != 0 {
		t.Fatalf("unknown price=%d", got)
	}
	if got := c.MaxStack("IRON_PICKAXE"); got != 1 {
		t.Fatalf("pickaxe stack=%d", got)
	}
	if got := c.MaxStack("IRON_INGOT"); got != DefaultMaxStack {
		t.Fatalf("ingot stack=%d", got)
	}
	if c.Items.Digest == "" || c.Recipes.Digest == "" {
		t.Fatalf("expected digests")
	}
	if len(c.Items.Palette) != len(c.Items.Defs) || c.Items.Palette[0] != "BEDROCK" {
		t.Fatalf("palette not sorted: %v", c.Items.Palette)
	}
}

func TestRecipeNeedsMergesDuplicates(t *testing.T) {
	c, err := Load("testdata")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	needs := c.Recipes.ByID["iron_pickaxe"].Needs()
	if len(needs) != 2 {
		t.Fatalf("needs=%v", needs)
	}
	if needs[0] != (ItemCount{Item: "IRON_INGOT", Count: 3}) || needs[1] != (ItemCount{Item: "STICK", Count: 2}) {
		t.Fatalf("needs=%v", needs)
	}
	out, ok := c.Recipes.ByID["iron_block"].PrimaryOutput()
	if !ok || out.Item != "IRON_BLOCK" {
		t.Fatalf("primary output=%v %v", out, ok)
	}
}

func TestSchemaRejectsBadItems(t *testing.T) {
	var ic ItemCatalog
	if err := parseItems([]byte(`[{"id":"X","emc":-1}]`), &ic); err == nil {
		t.Fatalf("expected schema error for negative emc")
	}
	if err := parseItems([]byte(`[{"id":"X","emc":1,"color":"red"}]`), &ic); err == nil {
		t.Fatalf("expected schema error for unknown field")
	}
	if err := parseItems([]byte(`[{"id":"X","emc":1},{"id":"X","emc":2}]`), &ic); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestSchemaRejectsEmptyRecipeInputs(t *testing.T) {
	var rc RecipeCatalog
	raw := `[{"recipe_id":"r","inputs":[],"outputs":[{"item":"A","count":1}]}]`
	if err := parseRecipes([]byte(raw), &rc); err == nil {
		t.Fatalf("expected schema error")
	}
}
