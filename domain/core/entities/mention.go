package entities

import (
	"regexp"
	"sort"
)

// Mention is a directed edge recording that one node's content references
// another. Kept bidirectionally queryable for backlinks.
type Mention struct {
	NodeID         string `json:"node_id"`
	MentionsNodeID string `json:"mentions_node_id"`
}

// mentionPattern matches [[target-id]] references in node content.
var mentionPattern = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

// ExtractMentions returns the de-duplicated, sorted set of node ids referenced
// by the content. Sorting keeps mention sync deterministic.
func ExtractMentions(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := m[1]
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
