// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package profile

import (
	"regexp"
	"sort"
)

// placeholderRe matches maximal {name} tokens. Anything outside
// [A-Za-z0-9_] ends the token, so "{a-b}" never matches.
var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Substitute replaces every {name} placeholder whose name is in params with
// its value. Unmatched placeholders are left verbatim.
func Substitute(template string, params map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		if value, ok := params[name]; ok {
			return value
		}
		return match
	})
}

// Parameters returns the distinct placeholder names referenced by a
// template, in no particular order.
func Parameters(template string) []string {
	seen := map[string]struct{}{}
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if _, ok := seen[m[1]]; !ok {
			seen[m[1]] = struct{}{}
			names = append(names, m[1])
		}
	}
	return names
}

// CommandParameters returns the sorted union of parameter names referenced
// by a command's template and each of its artifact templates.
func CommandParameters(cmd CommandDef) []string {
	seen := map[string]struct{}{}
	for _, name := range Parameters(cmd.Command) {
		seen[name] = struct{}{}
	}
	for _, artifact := range cmd.Artifacts {
		for _, name := range Parameters(artifact) {
			seen[name] = struct{}{}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
