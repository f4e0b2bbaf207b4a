// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

// Package diff computes minimal field-level patches between a campaign's
// locally desired state and its last-known remote state, and pushes them
// through the ad platform's partial-update endpoint. Unchanged fields never
// travel; immutable fields are excluded per lifecycle stage and reported
// rather than sent.
package diff

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/meridianhq/meridian/internal/models"
)

// FieldChange is one changed leaf in the state tree. Path uses dotted JSON
// names ("targeting.include.keywords"); Value is the desired value in its
// JSON-generic form.
type FieldChange struct {
	Path  string
	Value any
}

// lockedPaths maps a lifecycle stage to the field paths the remote rejects
// updates for at that stage. Terminal stages are handled separately: nothing
// is patchable there.
var lockedPaths = map[models.CampaignLifecycle][]string{
	models.CampaignActive: {"objective", "start_date"},
	models.CampaignPaused: {"objective", "start_date"},
}

// Changes returns the leaves where desired differs from remote, sorted by
// path for deterministic patches and logs.
func Changes(desired, remote models.CampaignState) ([]FieldChange, error) {
	dm, err := stateMap(desired)
	if err != nil {
		return nil, err
	}
	rm, err := stateMap(remote)
	if err != nil {
		return nil, err
	}

	var changes []FieldChange
	walk(dm, rm, "", &changes)
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, nil
}

// Mutable reports whether the path may be patched at the given lifecycle
// stage. A locked path locks its whole subtree.
func Mutable(lifecycle models.CampaignLifecycle, path string) bool {
	if lifecycle.Terminal() {
		return false
	}
	for _, locked := range lockedPaths[lifecycle] {
		if path == locked || strings.HasPrefix(path, locked+".") {
			return false
		}
	}
	return true
}

// Split partitions changes into those patchable at the lifecycle stage and
// those locked by it.
func Split(lifecycle models.CampaignLifecycle, changes []FieldChange) (mutable, immutable []FieldChange) {
	for _, c := range changes {
		if Mutable(lifecycle, c.Path) {
			mutable = append(mutable, c)
		} else {
			immutable = append(immutable, c)
		}
	}
	return mutable, immutable
}

// BuildPatch assembles the partial-update payload from changed leaves,
// re-nesting dotted paths into the remote's grouped shape.
func BuildPatch(changes []FieldChange) map[string]any {
	patch := make(map[string]any)
	for _, c := range changes {
		parts := strings.Split(c.Path, ".")
		node := patch
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = c.Value
	}
	return patch
}

// Paths extracts the dotted paths from a change set.
func Paths(changes []FieldChange) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.Path
	}
	return out
}

// stateMap flattens a state struct to its JSON-generic tree so the diff
// follows wire names and wire values, not Go field identities.
func stateMap(s models.CampaignState) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return m, nil
}

// walk recurses parallel trees, emitting a change per differing leaf. A key
// absent on one side counts as changed; nested maps recurse so the patch
// carries only the changed subtree leaves.
func walk(desired, remote map[string]any, prefix string, out *[]FieldChange) {
	keys := make(map[string]struct{}, len(desired)+len(remote))
	for k := range desired {
		keys[k] = struct{}{}
	}
	for k := range remote {
		keys[k] = struct{}{}
	}

	for k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		dv, dok := desired[k]
		rv, rok := remote[k]

		dm, dIsMap := dv.(map[string]any)
		rm, rIsMap := rv.(map[string]any)
		if dIsMap && rIsMap {
			walk(dm, rm, path, out)
			continue
		}
		if dok && rok && reflect.DeepEqual(dv, rv) {
			continue
		}
		if !dok {
			// Field dropped locally: explicit null clears it remotely.
			dv = nil
		}
		*out = append(*out, FieldChange{Path: path, Value: dv})
	}
}
