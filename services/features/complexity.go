// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package features

import (
	"context"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// languageSpec describes how cyclomatic complexity is counted for one grammar.
type languageSpec struct {
	name      string
	language  func() *sitter.Language
	functions map[string]bool
	decisions map[string]bool
	// logical lists the binary_expression operators that add a branch.
	logical map[string]bool
}

func nodeSet(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

var (
	goSpec = &languageSpec{
		name:      "go",
		language:  golang.GetLanguage,
		functions: nodeSet("function_declaration", "method_declaration", "func_literal"),
		decisions: nodeSet("if_statement", "for_statement", "expression_case", "type_case", "communication_case"),
		logical:   nodeSet("&&", "||"),
	}
	pythonSpec = &languageSpec{
		name:      "python",
		language:  python.GetLanguage,
		functions: nodeSet("function_definition", "lambda"),
		decisions: nodeSet("if_statement", "elif_clause", "for_statement", "while_statement", "except_clause",
			"with_statement", "assert_statement", "conditional_expression", "for_in_clause", "if_clause",
			"boolean_operator", "case_clause"),
	}
	javascriptSpec = &languageSpec{
		name:     "javascript",
		language: javascript.GetLanguage,
		functions: nodeSet("function_declaration", "function", "function_expression", "arrow_function",
			"method_definition", "generator_function_declaration", "generator_function"),
		decisions: nodeSet("if_statement", "for_statement", "for_in_statement", "while_statement", "do_statement",
			"switch_case", "catch_clause", "ternary_expression"),
		logical: nodeSet("&&", "||", "??"),
	}
)

var specsByExtension = map[string]*languageSpec{
	".go":  goSpec,
	".py":  pythonSpec,
	".js":  javascriptSpec,
	".jsx": javascriptSpec,
	".mjs": javascriptSpec,
	".cjs": javascriptSpec,
}

// Complexity is the result of analyzing one file.
type Complexity struct {
	Total float64
	// Structural is true when Total is a sum of cyclomatic complexities and
	// false when it is the line-length heuristic.
	Structural bool
	Language   string
}

// ComplexityAnalyzer computes per-file complexity. It is safe for concurrent
// use; each call creates its own parser.
type ComplexityAnalyzer struct {
	logger *slog.Logger
}

// NewComplexityAnalyzer creates an analyzer. A nil logger uses slog.Default.
func NewComplexityAnalyzer(logger *slog.Logger) *ComplexityAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ComplexityAnalyzer{logger: logger}
}

// Analyze returns the complexity of content. Files in a supported language are
// parsed and the cyclomatic complexity of every function is summed. Anything
// else, or a file that does not parse cleanly, falls back to the heuristic.
func (a *ComplexityAnalyzer) Analyze(ctx context.Context, path string, content []byte) Complexity {
	ls, ok := specsByExtension[strings.ToLower(filepath.Ext(path))]
	if !ok || !utf8.Valid(content) {
		return Complexity{Total: HeuristicComplexity(string(content))}
	}

	parser := sitter.NewParser()
	parser.SetLanguage(ls.language())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		a.logger.Debug("complexity parse failed, using heuristic",
			slog.String("file_path", path),
			slog.String("error", err.Error()))
		return Complexity{Total: HeuristicComplexity(string(content))}
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil || root.HasError() {
		a.logger.Debug("source contains syntax errors, using heuristic",
			slog.String("file_path", path))
		return Complexity{Total: HeuristicComplexity(string(content))}
	}

	return Complexity{
		Total:      float64(sumFunctions(root, ls)),
		Structural: true,
		Language:   ls.name,
	}
}

// sumFunctions visits every node and adds the complexity of each function it
// finds, nested functions included.
func sumFunctions(n *sitter.Node, ls *languageSpec) int {
	total := 0
	if ls.functions[n.Type()] {
		total += 1 + countDecisions(n, ls, true)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child != nil {
			total += sumFunctions(child, ls)
		}
	}
	return total
}

// countDecisions counts branch points under n without entering nested
// functions, which sumFunctions scores on their own.
func countDecisions(n *sitter.Node, ls *languageSpec, root bool) int {
	if !root && ls.functions[n.Type()] {
		return 0
	}
	count := 0
	if ls.decisions[n.Type()] {
		count++
	}
	if n.Type() == "binary_expression" && ls.logical != nil {
		if op := n.ChildByFieldName("operator"); op != nil && ls.logical[op.Type()] {
			count++
		}
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if child := n.Child(i); child != nil {
			count += countDecisions(child, ls, false)
		}
	}
	return count
}

// HeuristicComplexity is the sum of the lengths of every trimmed line.
func HeuristicComplexity(content string) float64 {
	total := 0
	for _, line := range strings.Split(content, "\n") {
		total += utf8.RuneCountInString(strings.TrimSpace(line))
	}
	return float64(total)
}

// RiskScore maps a total complexity onto the bounded [0, 10] score used as
// cvss3_base_score.
func RiskScore(total float64) float64 {
	return math.Min(10.0, total/10.0)
}
