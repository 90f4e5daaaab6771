package services

import (
	"context"
	"strings"

	"nodebase/domain/core/entities"
	pkgerrors "nodebase/pkg/errors"
)

// taskStatusDone mirrors the builtin task schema's terminal status value.
const taskStatusDone = "DONE"

type mdLine struct {
	indent  int
	content string
	isTask  bool
	done    bool
}

// CreateNodesFromMarkdown bulk-imports an indented bullet list as a
// sibling-ordered subtree under parentID. Each bullet becomes a text node;
// "- [ ]" and "- [x]" bullets become task nodes with status OPEN or DONE.
// Indentation (tabs or leading spaces) nests bullets under the nearest
// shallower bullet. Nodes are created in document order, so each one appends
// to its parent's chain tail and the resulting chain order matches the
// document.
func (o *NodeOperations) CreateNodesFromMarkdown(ctx context.Context, parentID, markdown string) ([]*entities.Node, error) {
	if parentID == "" {
		return nil, pkgerrors.NewValidationError("parent_id is required for markdown import")
	}
	if _, err := o.store.Get(ctx, parentID); err != nil {
		return nil, err
	}

	lines := parseMarkdownLines(markdown)
	if len(lines) == 0 {
		return nil, pkgerrors.NewValidationError("markdown contains no bullet items")
	}

	type frame struct {
		indent int
		nodeID string
	}
	stack := make([]frame, 0, 8)
	created := make([]*entities.Node, 0, len(lines))

	for _, line := range lines {
		for len(stack) > 0 && stack[len(stack)-1].indent >= line.indent {
			stack = stack[:len(stack)-1]
		}
		parent := parentID
		if len(stack) > 0 {
			parent = stack[len(stack)-1].nodeID
		}

		input := CreateNodeInput{
			NodeType: string(entities.TypeText),
			Content:  line.content,
			ParentID: &parent,
		}
		if line.isTask {
			input.NodeType = string(entities.TypeTask)
			if line.done {
				input.Properties = map[string]interface{}{"status": taskStatusDone}
			}
		}

		node, err := o.CreateNode(ctx, input)
		if err != nil {
			return created, pkgerrors.Wrapf(err, "markdown item %d", len(created)+1)
		}
		created = append(created, node)
		stack = append(stack, frame{indent: line.indent, nodeID: node.ID})
	}
	return created, nil
}

// MarkdownFromNode renders a node's subtree as an indented bullet list,
// children in sibling-chain order. Container nodes render their children at
// the top level; any other node renders itself as the first bullet. Task
// nodes render as checkboxes, checked when their status is DONE.
func (o *NodeOperations) MarkdownFromNode(ctx context.Context, id string) (string, error) {
	root, err := o.store.Get(ctx, id)
	if err != nil {
		return "", err
	}

	type frame struct {
		node  *entities.Node
		depth int
	}

	var sb strings.Builder
	stack := make([]frame, 0, 16)

	push := func(parentID string, depth int) error {
		children, err := o.Children(ctx, parentID)
		if err != nil {
			return err
		}
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: children[i], depth: depth})
		}
		return nil
	}

	if root.IsContainer() {
		if err := push(root.ID, 0); err != nil {
			return "", err
		}
	} else {
		stack = append(stack, frame{node: root, depth: 0})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		sb.WriteString(strings.Repeat("  ", f.depth))
		sb.WriteString(bulletFor(f.node))
		sb.WriteString(f.node.Content)
		sb.WriteString("\n")

		if err := push(f.node.ID, f.depth+1); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

func bulletFor(node *entities.Node) string {
	if node.Type() != entities.TypeTask {
		return "- "
	}
	if status, _ := node.Properties["status"].(string); status == taskStatusDone {
		return "- [x] "
	}
	return "- [ ] "
}

// parseMarkdownLines extracts bullet items with their indentation depth.
// Tabs count as one indent unit, two spaces as one. Non-bullet lines are
// skipped.
func parseMarkdownLines(markdown string) []mdLine {
	var out []mdLine
	for _, raw := range strings.Split(markdown, "\n") {
		indent := 0
		i := 0
		for i < len(raw) {
			if raw[i] == '\t' {
				indent++
				i++
				continue
			}
			if strings.HasPrefix(raw[i:], "  ") {
				indent++
				i += 2
				continue
			}
			if raw[i] == ' ' {
				i++
				continue
			}
			break
		}

		rest := raw[i:]
		var body string
		switch {
		case strings.HasPrefix(rest, "- "):
			body = rest[2:]
		case strings.HasPrefix(rest, "* "):
			body = rest[2:]
		default:
			continue
		}

		line := mdLine{indent: indent}
		switch {
		case strings.HasPrefix(body, "[ ] "):
			line.isTask = true
			line.content = body[4:]
		case strings.HasPrefix(body, "[x] ") || strings.HasPrefix(body, "[X] "):
			line.isTask = true
			line.done = true
			line.content = body[4:]
		default:
			line.content = body
		}
		line.content = strings.TrimSpace(line.content)
		out = append(out, line)
	}
	return out
}
