package utils

import (
	"maps"
	"slices"
)

// MergeEnv merges multiple environment maps with later maps having higher
// precedence and returns a sorted KEY=VALUE list suitable for exec.Cmd.Env.
func MergeEnv(pp ...map[string]string) []string {
	m := map[string]string{}
	for _, p := range pp {
		maps.Copy(m, p)
	}

	var results []string
	for _, k := range slices.Sorted(maps.Keys(m)) {
		results = append(results, k+"="+m[k])
	}

	return results
}
