// Package schema holds the immutable catalog of tables the assistant may
// query. The validator's whitelist and the SQL agent's prompt both derive
// from this one object, so the two can never drift apart.
package schema

import (
	"fmt"
	"strings"
)

// Column describes a single column of a catalog table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Table describes a catalog table, in the shape the /tables endpoint returns.
type Table struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Columns     []Column `json:"columns"`
}

// Catalog is the process-wide description of the banking schema. It is built
// once at startup and never mutated afterwards, so concurrent reads are safe.
type Catalog struct {
	tables  []Table
	byName  map[string]Table
	allowed map[string]struct{}
	prompt  string
}

// NewCatalog builds the catalog for the fixed banking schema.
func NewCatalog() *Catalog {
	tables := []Table{
		{
			Name:        "customers",
			Description: "Customer information including name and email",
			Columns: []Column{
				{Name: "id", Type: "integer"},
				{Name: "name", Type: "text"},
				{Name: "email", Type: "text"},
				{Name: "created_at", Type: "timestamptz"},
			},
		},
		{
			Name:        "accounts",
			Description: "Bank accounts associated with customers",
			Columns: []Column{
				{Name: "id", Type: "integer"},
				{Name: "customer_id", Type: "integer references customers(id)"},
				{Name: "account_number", Type: "text"},
				{Name: "balance", Type: "numeric(15,2)"},
				{Name: "created_at", Type: "timestamptz"},
			},
		},
		{
			Name:        "transactions",
			Description: "All banking transactions (credits and debits)",
			Columns: []Column{
				{Name: "id", Type: "integer"},
				{Name: "account_id", Type: "integer references accounts(id)"},
				{Name: "type", Type: "text, one of 'credit' or 'debit'"},
				{Name: "amount", Type: "numeric(15,2)"},
				{Name: "created_at", Type: "timestamptz"},
			},
		},
	}
	return newCatalog(tables)
}

// NewCatalogFromTables builds a catalog from an explicit table list. Used by
// tests that need a narrower or different schema.
func NewCatalogFromTables(tables []Table) *Catalog {
	return newCatalog(tables)
}

func newCatalog(tables []Table) *Catalog {
	c := &Catalog{
		tables:  tables,
		byName:  make(map[string]Table, len(tables)),
		allowed: make(map[string]struct{}, len(tables)),
	}
	for i := range tables {
		name := strings.ToLower(tables[i].Name)
		tables[i].Name = name
		c.byName[name] = tables[i]
		c.allowed[name] = struct{}{}
	}
	c.prompt = renderPrompt(tables)
	return c
}

// AllowedTables returns the whitelist of queryable table names in canonical
// lowercase form. The returned map is shared; callers must not mutate it.
func (c *Catalog) AllowedTables() map[string]struct{} {
	return c.allowed
}

// TableNames returns the table names in declaration order.
func (c *Catalog) TableNames() []string {
	names := make([]string, len(c.tables))
	for i, t := range c.tables {
		names[i] = t.Name
	}
	return names
}

// TableExists reports whether the catalog contains the named table.
// Lookup is case-insensitive.
func (c *Catalog) TableExists(name string) bool {
	_, ok := c.byName[strings.ToLower(name)]
	return ok
}

// Tables returns the full table descriptors for the /tables endpoint.
func (c *Catalog) Tables() []Table {
	return c.tables
}

// PromptText renders the schema as markdown for injection into LLM prompts.
func (c *Catalog) PromptText() string {
	return c.prompt
}

func renderPrompt(tables []Table) string {
	var b strings.Builder
	b.WriteString("# Banking Database Schema\n\n")
	for _, t := range tables {
		fmt.Fprintf(&b, "## Table: %s\n", t.Name)
		fmt.Fprintf(&b, "Description: %s\n", t.Description)
		b.WriteString("Columns:\n")
		for _, col := range t.Columns {
			fmt.Fprintf(&b, "  - %s: %s\n", col.Name, col.Type)
		}
		b.WriteString("\n")
	}
	return b.String()
}
