package upsert

import (
	"context"
	"fmt"
	"strings"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

// OUI is an IEEE organisationally unique identifier prefix, used to label
// the vendor of a discovered MAC address.
type OUI struct {
	UUID   string
	Prefix string
	Name   string
}

// UpsertOUI inserts or updates an ouis row. Prefixes are stored lower-case
// and separator-free, matching NormalizeMAC's output shape.
func UpsertOUI(ctx context.Context, ex *sqlexec.Executor, o OUI) (Result, error) {
	prefix := strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(o.Prefix))
	if len(prefix) != 6 {
		return Result{}, fmt.Errorf("upsert: oui prefix %q must be 6 hex characters", o.Prefix)
	}

	spec := Spec{
		Table:      "ouis",
		HistoryOK:  true,
		UUIDColumn: "oui_uuid",
		UUID:       o.UUID,
		NaturalKey: map[string]any{"oui_prefix": prefix},
		Values: Fields{
			"oui_prefix": prefix,
			"oui_name":   o.Name,
		},
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}
