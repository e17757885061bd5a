package storage

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/hakari/internal/model"
)

// AlgorithmSelect is the column list shared by every algorithm query. It
// expects the aliases a (algorithms), d (datasets) and s (active status).
const AlgorithmSelect = `SELECT a.id, a.name, a.endpoint, a.description, a.version, a.created_by, a.created_at,
	a.dataset_id, d.name, d.region, s.status
	FROM algorithms a
	LEFT JOIN datasets d ON d.id = a.dataset_id
	LEFT JOIN algorithm_statuses s ON s.algorithm_id = a.id AND s.active`

// Placeholder renders the n-th (1-based) bind parameter for a dialect.
type Placeholder func(n int) string

// DollarPlaceholder renders Postgres-style $n parameters.
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// QuestionPlaceholder renders SQLite-style ? parameters.
func QuestionPlaceholder(int) string { return "?" }

// BuildAlgorithmWhere renders the WHERE clause for an algorithm filter.
// Empty filter fields are skipped. The returned clause is empty when no
// field is set, otherwise it starts with " WHERE ".
func BuildAlgorithmWhere(f model.AlgorithmFilter, ph Placeholder) (string, []any) {
	var conds []string
	var args []any
	// add renders each ? in cond as the dialect's next placeholder.
	add := func(cond string, vals ...any) {
		parts := strings.Split(cond, "?")
		var b strings.Builder
		for i, p := range parts {
			b.WriteString(p)
			if i < len(parts)-1 {
				args = append(args, vals[i])
				b.WriteString(ph(len(args)))
			}
		}
		conds = append(conds, b.String())
	}

	if f.Classifier != "" {
		add("(a.name = ? OR a.endpoint = ?)", f.Classifier, f.Classifier)
	}
	if f.Endpoint != "" {
		add("a.endpoint = ?", f.Endpoint)
	}
	if f.Version != "" {
		add("a.version = ?", f.Version)
	}
	if f.Dataset != "" {
		add("d.name = ?", f.Dataset)
	}
	if f.Region != "" {
		add("d.region = ?", f.Region)
	}
	if f.Status != nil {
		add("s.status = ?", string(*f.Status))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
