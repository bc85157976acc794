package plugin

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/lix/internal/ir"
)

// ApplyChangeSet rebuilds file's bytes from changes. Changes are grouped
// by plugin key and each plugin applies its group in turn, starting from
// file.Data. Changes owned by lix itself are skipped.
//
// Errors from the registry (PluginNotFoundError,
// PluginDoesNotSupportApplyError) and from plugins are returned as is;
// nothing is retried.
func ApplyChangeSet(ctx context.Context, reg *Registry, file File, changes []ir.Change) ([]byte, error) {
	groups := map[string][]ir.Change{}
	for _, c := range changes {
		if c.PluginKey == ir.LixPlugin {
			continue
		}
		groups[c.PluginKey] = append(groups[c.PluginKey], c)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := file.Data
	for _, k := range keys {
		p, err := reg.Lookup(k)
		if err != nil {
			return nil, err
		}
		applier, ok := p.(Applier)
		if !ok {
			return nil, &PluginDoesNotSupportApplyError{Key: k}
		}
		out, err := applier.ApplyChanges(ctx, ApplyInput{
			File:    File{ID: file.ID, Path: file.Path, Data: data},
			Changes: groups[k],
		})
		if err != nil {
			return nil, fmt.Errorf("plugin %s: apply changes to %s: %w", k, file.ID, err)
		}
		data = out.FileData
	}
	return data, nil
}
