package policy

import (
	"strings"
	"testing"

	"github.com/rickchristie/sqlgate-mcp/internal/classify"
	"github.com/rickchristie/sqlgate-mcp/internal/errs"
)

func mustParse(t *testing.T, tables, columns string) *Policy {
	t.Helper()
	p, err := New(splitCSV(tables), splitCSV(columns))
	if err != nil {
		t.Fatalf("New(%q, %q) failed: %v", tables, columns, err)
	}
	return p
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func extract(t *testing.T, sql string) []string {
	t.Helper()
	tokens, err := classify.Tokenize(sql)
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	var out []string
	for _, ref := range ExtractTables(tokens) {
		out = append(out, ref.String())
	}
	return out
}

func assertExtracted(t *testing.T, sql string, want ...string) {
	t.Helper()
	got := extract(t, sql)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("ExtractTables(%q) = %v, want %v", sql, got, want)
	}
}

func TestEmptyWhitelistAllowsAll(t *testing.T) {
	t.Parallel()
	p := mustParse(t, "", "")
	if p.RestrictsTables() || p.RestrictsColumns() {
		t.Fatal("empty whitelists must not restrict")
	}
	if !p.TableAllowed("public", "anything") || !p.ColumnAllowed("anything", "col") {
		t.Fatal("empty whitelists must allow everything")
	}
	if err := p.CheckSQL("SELECT * FROM secrets"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTableWhitelistCaseInsensitive(t *testing.T) {
	t.Parallel()
	p := mustParse(t, "DEPARTMENTS, hr.Employees", "")
	if !p.TableAllowed("public", "departments") {
		t.Error("departments should be allowed in any schema")
	}
	if !p.TableAllowed("HR", "employees") {
		t.Error("hr.employees should be allowed")
	}
	if p.TableAllowed("public", "employees") {
		t.Error("public.employees should not be allowed")
	}
	if !p.TableAllowed("", "employees") {
		t.Error("unqualified employees may resolve to hr.employees and should be admitted")
	}
	if p.TableAllowed("", "salaries") {
		t.Error("unqualified salaries matches no entry")
	}
	if got := strings.Join(p.Tables(), ","); got != "DEPARTMENTS,HR.EMPLOYEES" {
		t.Errorf("unexpected Tables(): %s", got)
	}
}

func TestColumnWhitelist(t *testing.T) {
	t.Parallel()
	p := mustParse(t, "", "EMPLOYEES.ID, employees.email")
	if !p.ColumnAllowed("employees", "ID") || !p.ColumnAllowed("Employees", "Email") {
		t.Error("whitelisted columns should be allowed")
	}
	if p.ColumnAllowed("EMPLOYEES", "SALARY") {
		t.Error("SALARY should be suppressed")
	}
	if p.ColumnAllowed("DEPARTMENTS", "ID") {
		t.Error("tables without listed columns report none")
	}
	if got := strings.Join(p.Columns(), ","); got != "EMPLOYEES.EMAIL,EMPLOYEES.ID" {
		t.Errorf("unexpected Columns(): %s", got)
	}
}

func TestInvalidColumnEntry(t *testing.T) {
	t.Parallel()
	for _, entry := range []string{"EMPLOYEES", "EMPLOYEES.", ".ID", "A.B.C"} {
		if _, err := New(nil, []string{entry}); err == nil {
			t.Errorf("expected error for column entry %q", entry)
		}
	}
}

func TestAllowAll(t *testing.T) {
	t.Parallel()
	p := AllowAll()
	if p.RestrictsTables() || p.RestrictsColumns() {
		t.Fatal("AllowAll must not restrict")
	}
}

// --- Statement checks ---

func TestCheckDeniesConfidentMatch(t *testing.T) {
	t.Parallel()
	p := mustParse(t, "DEPARTMENTS", "")
	err := p.CheckSQL("SELECT * FROM EMPLOYEES")
	if !errs.IsPolicyViolation(err) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if !strings.Contains(err.Error(), "access to table EMPLOYEES is not allowed") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestCheckAllowsWhitelisted(t *testing.T) {
	t.Parallel()
	p := mustParse(t, "DEPARTMENTS,EMPLOYEES", "")
	for _, sql := range []string{
		"SELECT * FROM departments",
		"SELECT e.name FROM employees e JOIN departments d ON d.id = e.department_id",
		"SELECT * FROM public.employees",
		`SELECT * FROM "EMPLOYEES"`,
	} {
		if err := p.CheckSQL(sql); err != nil {
			t.Fatalf("expected %q to be allowed, got %v", sql, err)
		}
	}
}

func TestCheckAdmitsUnqualifiedNameOfQualifiedEntry(t *testing.T) {
	t.Parallel()
	p := mustParse(t, "sales.orders", "")
	if err := p.CheckSQL("SELECT * FROM orders"); err != nil {
		t.Fatalf("expected unqualified orders to be admitted, got %v", err)
	}
	if err := p.CheckSQL("SELECT * FROM public.orders"); !errs.IsPolicyViolation(err) {
		t.Fatalf("expected public.orders to be denied, got %v", err)
	}
}

func TestCheckDeniesJoinedTable(t *testing.T) {
	t.Parallel()
	p := mustParse(t, "EMPLOYEES", "")
	if err := p.CheckSQL("SELECT * FROM employees e LEFT JOIN salaries s ON s.emp = e.id"); err == nil {
		t.Fatal("expected salaries to be denied")
	}
	if err := p.CheckSQL("SELECT * FROM employees WHERE id IN (SELECT emp FROM salaries)"); err == nil {
		t.Fatal("expected salaries in a subquery to be denied")
	}
}

func TestCheckAdmitsUncertainReferences(t *testing.T) {
	t.Parallel()
	p := mustParse(t, "EMPLOYEES", "")
	for _, sql := range []string{
		"SELECT * FROM generate_series(1, 10) g",
		"WITH recent AS (SELECT * FROM employees) SELECT * FROM recent",
		"SELECT EXTRACT(YEAR FROM hire_date) FROM employees",
		"SELECT a IS DISTINCT FROM b FROM employees",
		"SELECT 'FROM secrets' FROM employees",
	} {
		if err := p.CheckSQL(sql); err != nil {
			t.Fatalf("expected %q to be admitted, got %v", sql, err)
		}
	}
}

func TestCheckDeniesTableShadowedByItsOwnCTE(t *testing.T) {
	t.Parallel()
	p := mustParse(t, "DEPARTMENTS", "")
	for _, sql := range []string{
		"WITH secrets AS (SELECT * FROM secrets) SELECT * FROM secrets",
		"WITH a AS (SELECT * FROM b), b AS (SELECT 1) SELECT * FROM a",
		"SELECT * FROM (WITH secrets AS (SELECT 1) SELECT * FROM secrets) s, secrets",
	} {
		err := p.CheckSQL(sql)
		if !errs.IsPolicyViolation(err) {
			t.Fatalf("expected %q to be denied, got %v", sql, err)
		}
	}
	for _, sql := range []string{
		"WITH a AS (SELECT * FROM departments), b AS (SELECT * FROM a) SELECT * FROM b",
		"WITH RECURSIVE t(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM t WHERE n < 5) SELECT * FROM t",
	} {
		if err := p.CheckSQL(sql); err != nil {
			t.Fatalf("expected %q to be admitted, got %v", sql, err)
		}
	}
}

// --- Extraction ---

func TestExtractTables(t *testing.T) {
	t.Parallel()
	assertExtracted(t, "SELECT * FROM employees", "employees")
	assertExtracted(t, "SELECT * FROM hr.employees AS e, departments d WHERE e.d = d.id", "hr.employees", "departments")
	assertExtracted(t, "SELECT * FROM a JOIN b USING (id) CROSS JOIN c", "a", "b", "c")
	assertExtracted(t, "SELECT * FROM (SELECT * FROM inner_t) s, outer_t", "inner_t", "outer_t")
	assertExtracted(t, "SELECT * FROM ONLY parent", "parent")
	assertExtracted(t, "SELECT * FROM a, LATERAL (SELECT * FROM b WHERE b.x = a.x) l", "a", "b")
	assertExtracted(t, `SELECT * FROM "Mixed Case"`, "Mixed Case")
	assertExtracted(t, "SELECT * FROM employees e JOIN employees m ON m.id = e.manager_id", "employees")
	assertExtracted(t, "WITH RECURSIVE t(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM t) SELECT * FROM t")
	assertExtracted(t, "WITH x AS MATERIALIZED (SELECT * FROM base) SELECT * FROM x", "base")
	assertExtracted(t, "WITH x AS (SELECT * FROM x) SELECT * FROM x", "x")
	assertExtracted(t, "SELECT SUBSTRING(name FROM 1 FOR 3), TRIM(BOTH FROM name) FROM people", "people")
}
