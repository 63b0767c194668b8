package sqlguard

import (
	"regexp"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v5"
)

var lexicalTableRe = regexp.MustCompile(`(?i)\b(?:from|join)\s+([a-zA-Z_][a-zA-Z0-9_]*)`)

// extractTables returns the distinct, lowercased table names a statement
// references. It prefers a real parse so aliases, subqueries, CTEs and set
// operations are all covered; when the statement does not parse it falls back
// to a lexical FROM/JOIN scan so that malformed-but-plausible SQL still gets a
// table-authorization verdict instead of slipping through.
func extractTables(sql string) []string {
	if tables, ok := extractTablesAST(sql); ok {
		return tables
	}
	return extractTablesLexical(sql)
}

func extractTablesAST(sql string) ([]string, bool) {
	result, err := pg_query.Parse(sql)
	if err != nil || len(result.Stmts) == 0 {
		return nil, false
	}

	seen := make(map[string]struct{})
	for _, stmt := range result.Stmts {
		walkNode(stmt.Stmt, func(node *pg_query.Node) {
			rv, ok := node.Node.(*pg_query.Node_RangeVar)
			if !ok || rv.RangeVar == nil {
				return
			}
			name := strings.ToLower(rv.RangeVar.Relname)
			if rv.RangeVar.Schemaname != "" {
				name = strings.ToLower(rv.RangeVar.Schemaname) + "." + name
			}
			if name != "" {
				seen[name] = struct{}{}
			}
		})
	}
	return sortedKeys(seen), true
}

func extractTablesLexical(sql string) []string {
	seen := make(map[string]struct{})
	for _, m := range lexicalTableRe.FindAllStringSubmatch(sql, -1) {
		seen[strings.ToLower(m[1])] = struct{}{}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// walkNode visits every node of the subset of the parse tree that can carry a
// table reference.
func walkNode(node *pg_query.Node, visit func(*pg_query.Node)) {
	if node == nil {
		return
	}
	visit(node)

	switch n := node.Node.(type) {
	case *pg_query.Node_SelectStmt:
		s := n.SelectStmt
		if s == nil {
			return
		}
		for _, t := range s.TargetList {
			walkNode(t, visit)
		}
		for _, f := range s.FromClause {
			walkNode(f, visit)
		}
		walkNode(s.WhereClause, visit)
		for _, g := range s.GroupClause {
			walkNode(g, visit)
		}
		walkNode(s.HavingClause, visit)
		for _, o := range s.SortClause {
			walkNode(o, visit)
		}
		walkNode(s.LimitOffset, visit)
		walkNode(s.LimitCount, visit)
		if s.WithClause != nil {
			for _, cte := range s.WithClause.Ctes {
				walkNode(cte, visit)
			}
		}
		if s.Larg != nil {
			walkNode(&pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: s.Larg}}, visit)
		}
		if s.Rarg != nil {
			walkNode(&pg_query.Node{Node: &pg_query.Node_SelectStmt{SelectStmt: s.Rarg}}, visit)
		}

	case *pg_query.Node_JoinExpr:
		if n.JoinExpr != nil {
			walkNode(n.JoinExpr.Larg, visit)
			walkNode(n.JoinExpr.Rarg, visit)
			walkNode(n.JoinExpr.Quals, visit)
		}

	case *pg_query.Node_RangeSubselect:
		if n.RangeSubselect != nil {
			walkNode(n.RangeSubselect.Subquery, visit)
		}

	case *pg_query.Node_SubLink:
		if n.SubLink != nil {
			walkNode(n.SubLink.Subselect, visit)
		}

	case *pg_query.Node_CommonTableExpr:
		if n.CommonTableExpr != nil {
			walkNode(n.CommonTableExpr.Ctequery, visit)
		}

	case *pg_query.Node_FuncCall:
		if n.FuncCall != nil {
			for _, a := range n.FuncCall.Args {
				walkNode(a, visit)
			}
		}

	case *pg_query.Node_AExpr:
		if n.AExpr != nil {
			walkNode(n.AExpr.Lexpr, visit)
			walkNode(n.AExpr.Rexpr, visit)
		}

	case *pg_query.Node_BoolExpr:
		if n.BoolExpr != nil {
			for _, a := range n.BoolExpr.Args {
				walkNode(a, visit)
			}
		}

	case *pg_query.Node_ResTarget:
		if n.ResTarget != nil {
			walkNode(n.ResTarget.Val, visit)
		}
	}
}
