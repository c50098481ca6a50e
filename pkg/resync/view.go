package resync

import (
	"fmt"
	"sort"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// plan is the per-peer batch of statements produced for one table.
type plan struct {
	PublicStatements  map[string][]sqlexec.Statement // peer UUID -> statements
	HistoryStatements map[string][]sqlexec.Statement
}

func newPlan() *plan {
	return &plan{
		PublicStatements:  make(map[string][]sqlexec.Statement),
		HistoryStatements: make(map[string][]sqlexec.Statement),
	}
}

// buildPlan implements §4.F.5-6: walk the unified (modified_date, uuid)
// view in descending time order, resolving same-timestamp conflicts to the
// peer that sorts first by UUID (the documented tie-break), and emit the
// minimal set of writes needed to bring every peer to that state.
func buildPlan(meta tableMeta, peers map[string]peerData, order []string) *plan {
	unified := unify(peers, order)

	p := newPlan()
	visited := make(map[string]map[string]bool) // peer -> uuid -> seen

	for _, pair := range unified {
		for _, peerUUID := range order {
			data, ok := peers[peerUUID]
			if !ok {
				continue
			}
			if visited[peerUUID] == nil {
				visited[peerUUID] = make(map[string]bool)
			}

			if !visited[peerUUID][pair.UUID] {
				visited[peerUUID][pair.UUID] = true
				emitFirstEncounter(meta, p, peerUUID, data, pair)
				continue
			}

			if !meta.HasHistory {
				continue
			}
			key := timeKey{pair.UUID, pair.ModifiedDate}
			if _, already := data.Known[key]; already {
				continue
			}
			p.HistoryStatements[peerUUID] = append(p.HistoryStatements[peerUUID], historyInsertStatement(meta, pair))
		}
	}

	return p
}

// emitFirstEncounter handles the newest-timestamp-per-uuid case: compare
// against the peer's current public row (or insert if it has none).
func emitFirstEncounter(meta tableMeta, p *plan, peerUUID string, data peerData, pair snapshot) {
	if !data.ExistsPublic[pair.UUID] {
		p.PublicStatements[peerUUID] = append(p.PublicStatements[peerUUID], publicInsertStatement(meta, pair))
		return
	}

	current := data.CurrentValues[pair.UUID]
	if valuesEqual(current.Values, pair.Values) && current.ModifiedDate.Equal(pair.ModifiedDate) {
		return
	}
	p.PublicStatements[peerUUID] = append(p.PublicStatements[peerUUID], publicUpdateStatement(meta, pair))
}

// unifiedPair is a distinct (modified_date, uuid) combination across all
// peers, carrying the tie-broken proposed value.
type unifiedPair = snapshot

// unify merges every peer's known (uuid, modified_date) pairs into one
// ordered list, descending by modified_date, with the proposed value for
// each pair taken from the first peer (in the given stable order) that has
// it, per §4.F.6's tie-break.
func unify(peers map[string]peerData, order []string) []unifiedPair {
	seen := make(map[timeKey]bool)
	var pairs []timeKey

	for _, peerUUID := range order {
		data, ok := peers[peerUUID]
		if !ok {
			continue
		}
		for key := range data.Known {
			if !seen[key] {
				seen[key] = true
				pairs = append(pairs, key)
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if !pairs[i].ModifiedDate.Equal(pairs[j].ModifiedDate) {
			return pairs[i].ModifiedDate.After(pairs[j].ModifiedDate)
		}
		return pairs[i].UUID < pairs[j].UUID
	})

	out := make([]unifiedPair, 0, len(pairs))
	for _, key := range pairs {
		for _, peerUUID := range order {
			data, ok := peers[peerUUID]
			if !ok {
				continue
			}
			if s, ok := data.Known[key]; ok {
				out = append(out, s)
				break
			}
		}
	}
	return out
}

// valuesEqual compares two value maps with the edge-case rule from §4.F's
// notes: NULLs compare as NULL to NULL, never as the literal string "NULL".
func valuesEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			return false
		}
		if av == nil || bv == nil {
			if av == nil && bv == nil {
				continue
			}
			return false
		}
		if fmt.Sprintf("%v", av) != fmt.Sprintf("%v", bv) {
			return false
		}
	}
	return true
}

func sortedColumns(values map[string]any) []string {
	cols := make([]string, 0, len(values))
	for k := range values {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func publicInsertStatement(meta tableMeta, s snapshot) sqlexec.Statement {
	return insertStatement("public", meta, s)
}

func historyInsertStatement(meta tableMeta, s snapshot) sqlexec.Statement {
	return insertStatement("history", meta, s)
}

func insertStatement(schema string, meta tableMeta, s snapshot) sqlexec.Statement {
	cols := []string{meta.UUIDColumn}
	args := []any{s.UUID}
	placeholders := []string{"$1"}

	for i, c := range sortedColumns(s.Values) {
		cols = append(cols, c)
		args = append(args, normalizeValue(s.Values[c]))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
	}
	cols = append(cols, "modified_date")
	args = append(args, s.ModifiedDate)
	placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))

	sql := fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES (%s)", schema, meta.Table,
		join(cols, ", "), join(placeholders, ", "))
	return sqlexec.Statement{SQL: sql, Args: args}
}

func publicUpdateStatement(meta tableMeta, s snapshot) sqlexec.Statement {
	var sets []string
	var args []any
	for _, c := range sortedColumns(s.Values) {
		args = append(args, normalizeValue(s.Values[c]))
		sets = append(sets, fmt.Sprintf("%s = $%d", c, len(args)))
	}
	args = append(args, s.ModifiedDate)
	sets = append(sets, fmt.Sprintf("modified_date = $%d", len(args)))
	args = append(args, s.UUID)

	sql := fmt.Sprintf("UPDATE public.%s SET %s WHERE %s = $%d", meta.Table, join(sets, ", "), meta.UUIDColumn, len(args))
	return sqlexec.Statement{SQL: sql, Args: args}
}

// normalizeValue passes a value through unchanged, so a NULL (nil) is
// written back as NULL rather than as the string "NULL". Missing or unknown
// values are not replaced with empty strings.
func normalizeValue(v any) any {
	if v == nil {
		return nil
	}
	return v
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
