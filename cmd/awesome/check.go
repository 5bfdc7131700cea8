package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

var classGlobalPattern = regexp.MustCompile(`^__[A-Za-z0-9_]+_class$`)

type lintWarning struct {
	Line    int
	Name    string
	Message string
}

func checkCommand(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(new(flagErrorSink))
	opts := bindCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	remaining := fs.Args()
	if len(remaining) == 0 {
		return errors.New("awesome check: script path required")
	}
	config, err := opts.resolve(fs)
	if err != nil {
		return err
	}
	s, err := openSession(context.Background(), config)
	if err != nil {
		return err
	}
	published := make(map[string]struct{})
	for _, name := range s.runtime.Classes().Names() {
		published[name] = struct{}{}
	}
	s.Close()

	total := 0
	for _, path := range remaining {
		scriptPath, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve script path: %w", err)
		}
		file, err := os.Open(scriptPath)
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		chunk, err := parse.Parse(file, scriptPath)
		_ = file.Close()
		if err != nil {
			return fmt.Errorf("check parse failed: %w", err)
		}
		for _, warning := range checkChunk(chunk, published) {
			fmt.Printf("%s:%d: %s (%s)\n", scriptPath, max(warning.Line, 1), warning.Message, warning.Name)
			total++
		}
	}
	if total == 0 {
		fmt.Println("No issues found")
		return nil
	}
	return fmt.Errorf("check found %d issue(s)", total)
}

// checkChunk reports writes that replace a published class global, locals
// that shadow one, and reads of class globals nothing published.
func checkChunk(chunk []ast.Stmt, published map[string]struct{}) []lintWarning {
	c := &classChecker{published: published}
	c.stmts(chunk)
	sort.SliceStable(c.warnings, func(i, j int) bool {
		if c.warnings[i].Line != c.warnings[j].Line {
			return c.warnings[i].Line < c.warnings[j].Line
		}
		return c.warnings[i].Name < c.warnings[j].Name
	})
	return c.warnings
}

type classChecker struct {
	published map[string]struct{}
	warnings  []lintWarning
}

func (c *classChecker) warn(line int, name, message string) {
	c.warnings = append(c.warnings, lintWarning{Line: line, Name: name, Message: message})
}

func (c *classChecker) stmts(stmts []ast.Stmt) {
	for _, stmt := range stmts {
		c.stmt(stmt)
	}
}

func (c *classChecker) stmt(stmt ast.Stmt) {
	switch s := stmt.(type) {
	case *ast.AssignStmt:
		for _, lhs := range s.Lhs {
			if ident, ok := lhs.(*ast.IdentExpr); ok {
				if classGlobalPattern.MatchString(ident.Value) {
					c.warn(ident.Line(), ident.Value, "assignment replaces a class global")
				}
				continue
			}
			c.expr(lhs)
		}
		c.exprs(s.Rhs)
	case *ast.LocalAssignStmt:
		for _, name := range s.Names {
			if classGlobalPattern.MatchString(name) {
				c.warn(s.Line(), name, "local shadows a class global")
			}
		}
		c.exprs(s.Exprs)
	case *ast.FuncCallStmt:
		c.expr(s.Expr)
	case *ast.DoBlockStmt:
		c.stmts(s.Stmts)
	case *ast.WhileStmt:
		c.expr(s.Condition)
		c.stmts(s.Stmts)
	case *ast.RepeatStmt:
		c.stmts(s.Stmts)
		c.expr(s.Condition)
	case *ast.IfStmt:
		c.expr(s.Condition)
		c.stmts(s.Then)
		c.stmts(s.Else)
	case *ast.NumberForStmt:
		c.expr(s.Init)
		c.expr(s.Limit)
		c.expr(s.Step)
		c.stmts(s.Stmts)
	case *ast.GenericForStmt:
		c.exprs(s.Exprs)
		c.stmts(s.Stmts)
	case *ast.FuncDefStmt:
		if ident, ok := s.Name.Func.(*ast.IdentExpr); ok && classGlobalPattern.MatchString(ident.Value) {
			c.warn(s.Line(), ident.Value, "function definition replaces a class global")
		} else {
			c.expr(s.Name.Func)
		}
		c.expr(s.Name.Receiver)
		c.expr(s.Func)
	case *ast.ReturnStmt:
		c.exprs(s.Exprs)
	}
}

func (c *classChecker) exprs(exprs []ast.Expr) {
	for _, expr := range exprs {
		c.expr(expr)
	}
}

func (c *classChecker) expr(expr ast.Expr) {
	switch e := expr.(type) {
	case nil:
	case *ast.IdentExpr:
		if !classGlobalPattern.MatchString(e.Value) {
			return
		}
		if _, ok := c.published[e.Value]; !ok {
			c.warn(e.Line(), e.Value, "class is not published")
		}
	case *ast.AttrGetExpr:
		c.expr(e.Object)
		c.expr(e.Key)
	case *ast.TableExpr:
		for _, field := range e.Fields {
			c.expr(field.Key)
			c.expr(field.Value)
		}
	case *ast.FuncCallExpr:
		c.expr(e.Func)
		c.expr(e.Receiver)
		c.exprs(e.Args)
	case *ast.LogicalOpExpr:
		c.expr(e.Lhs)
		c.expr(e.Rhs)
	case *ast.RelationalOpExpr:
		c.expr(e.Lhs)
		c.expr(e.Rhs)
	case *ast.StringConcatOpExpr:
		c.expr(e.Lhs)
		c.expr(e.Rhs)
	case *ast.ArithmeticOpExpr:
		c.expr(e.Lhs)
		c.expr(e.Rhs)
	case *ast.UnaryMinusOpExpr:
		c.expr(e.Expr)
	case *ast.UnaryNotOpExpr:
		c.expr(e.Expr)
	case *ast.UnaryLenOpExpr:
		c.expr(e.Expr)
	case *ast.FunctionExpr:
		c.stmts(e.Stmts)
	}
}
