package catalogs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/items.schema.json
var itemsSchema string

//go:embed schemas/recipes.schema.json
var recipesSchema string

type Catalogs struct {
	Items   ItemCatalog
	Recipes RecipeCatalog
}

type ItemCatalog struct {
	Palette []string
	Defs    map[string]ItemDef
	Digest  string
}

type ItemDef struct {
	ID string `json:"id"`
	// EMC is the value of one unit; zero means the item cannot be bought with EMC.
	EMC      int64 `json:"emc"`
	MaxStack int   `json:"max_stack,omitempty"`
}

type RecipeCatalog struct {
	ByID   map[string]RecipeDef
	Digest string
}

type RecipeDef struct {
	RecipeID string      `json:"recipe_id"`
	Inputs   []ItemCount `json:"inputs"`
	Outputs  []ItemCount `json:"outputs"`
}

type ItemCount struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

const DefaultMaxStack = 64

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	if err := loadRecipes(filepath.Join(configDir, "recipes.json"), &c.Recipes); err != nil {
		return nil, err
	}
	return &c, nil
}

// Price is the EMC value of one unit of item (0 when unknown or unpriced).
func (c *Catalogs) Price(item string) int64 {
	if c == nil {
		return 0
	}
	return c.Items.Defs[item].EMC
}

func (c *Catalogs) MaxStack(item string) int {
	if c == nil {
		return DefaultMaxStack
	}
	if d, ok := c.Items.Defs[item]; ok && d.MaxStack > 0 {
		return d.MaxStack
	}
	return DefaultMaxStack
}

// Needs merges duplicate inputs, keeping first-appearance order.
func (r RecipeDef) Needs() []ItemCount {
	idx := map[string]int{}
	out := make([]ItemCount, 0, len(r.Inputs))
	for _, in := range r.Inputs {
		if in.Item == "" || in.Count <= 0 {
			continue
		}
		if i, ok := idx[in.Item]; ok {
			out[i].Count += in.Count
			continue
		}
		idx[in.Item] = len(out)
		out = append(out, in)
	}
	return out
}

// PrimaryOutput returns the first output; bulk crafting is bounded by its stack size.
func (r RecipeDef) PrimaryOutput() (ItemCount, bool) {
	for _, o := range r.Outputs {
		if o.Item != "" && o.Count > 0 {
			return o, true
		}
	}
	return ItemCount{}, false
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

const schemaBase = "https://matterlink.ai/schemas/"

func compileSchema(name, src string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaBase+name, strings.NewReader(src)); err != nil {
		return nil, err
	}
	return c.Compile(schemaBase + name)
}

func validateRaw(name, schemaSrc string, raw []byte) error {
	s, err := compileSchema(name, schemaSrc)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	return s.Validate(doc)
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return parseItems(raw, out)
}

func parseItems(raw []byte, out *ItemCatalog) error {
	if err := validateRaw("items.schema.json", itemsSchema, raw); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.Digest = sha256Hex(raw)

	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	out.Defs = map[string]ItemDef{}
	for _, d := range defs {
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("items.json: duplicate id %q", d.ID)
		}
		out.Defs[d.ID] = d
	}
	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	return nil
}

func loadRecipes(path string, out *RecipeCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return parseRecipes(raw, out)
}

func parseRecipes(raw []byte, out *RecipeCatalog) error {
	if err := validateRaw("recipes.schema.json", recipesSchema, raw); err != nil {
		return fmt.Errorf("recipes.json: %w", err)
	}
	out.Digest = sha256Hex(raw)

	var defs []RecipeDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("recipes.json: %w", err)
	}
	out.ByID = map[string]RecipeDef{}
	for _, r := range defs {
		if _, dup := out.ByID[r.RecipeID]; dup {
			return fmt.Errorf("recipes.json: duplicate recipe_id %q", r.RecipeID)
		}
		out.ByID[r.RecipeID] = r
	}
	return nil
}
