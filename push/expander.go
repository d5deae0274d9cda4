package push

// HierarchyExpander expands entity class names over a declared parent to
// children hierarchy. Expansion is the transitive closure of the children
// relation, including the class itself unless it is marked abstract.
type HierarchyExpander struct {
	children map[string][]string
	abstract map[string]struct{}
}

// NewHierarchyExpander builds an expander from a parent -> direct children
// mapping. A class absent from the mapping expands to itself. Classes listed
// in abstract are walked for their children but never appear in a result set;
// flushes carry concrete instances only.
func NewHierarchyExpander(children map[string][]string, abstract []string) *HierarchyExpander {
	marked := make(map[string]struct{}, len(abstract))
	for _, name := range abstract {
		marked[name] = struct{}{}
	}
	return &HierarchyExpander{children: children, abstract: marked}
}

func (e *HierarchyExpander) ConcreteSubclasses(className string) ([]string, error) {
	seen := map[string]struct{}{className: {}}
	out := make([]string, 0, 1+len(e.children[className]))
	if _, isAbstract := e.abstract[className]; !isAbstract {
		out = append(out, className)
	}

	stack := append([]string(nil), e.children[className]...)
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		if _, isAbstract := e.abstract[next]; !isAbstract {
			out = append(out, next)
		}
		stack = append(stack, e.children[next]...)
	}
	return out, nil
}
