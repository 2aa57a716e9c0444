package graphqlexec

import (
	"github.com/graphql-go/graphql/language/ast"
)

// queryDepth returns the maximum selection depth of an operation
func queryDepth(op *ast.OperationDefinition) int {
	return selectionSetDepth(op.SelectionSet, 0)
}

func selectionSetDepth(selSet *ast.SelectionSet, currentDepth int) int {
	if selSet == nil || len(selSet.Selections) == 0 {
		return currentDepth
	}

	maxDepth := currentDepth + 1
	for _, sel := range selSet.Selections {
		var depth int
		switch s := sel.(type) {
		case *ast.Field:
			depth = selectionSetDepth(s.SelectionSet, currentDepth+1)
		case *ast.InlineFragment:
			depth = selectionSetDepth(s.SelectionSet, currentDepth+1)
		case *ast.FragmentSpread:
			// Resolving a spread needs the fragment definitions; count it as one level.
			depth = currentDepth + 1
		}
		if depth > maxDepth {
			maxDepth = depth
		}
	}
	return maxDepth
}

// queryComplexity scores an operation: one point per field, ten for list
// fields, and nested selections under a list are multiplied by ten.
func queryComplexity(op *ast.OperationDefinition) int {
	baseCost := 0
	if op.Operation == ast.OperationTypeMutation {
		baseCost = 10
	}
	return baseCost + selectionComplexity(op.SelectionSet, 1)
}

func selectionComplexity(selSet *ast.SelectionSet, multiplier int) int {
	if selSet == nil {
		return 0
	}

	var complexity int
	for _, sel := range selSet.Selections {
		switch s := sel.(type) {
		case *ast.Field:
			fieldCost := 1
			isList := isListField(s.Name.Value)
			if isList {
				fieldCost = 10
				for _, arg := range s.Arguments {
					switch arg.Name.Value {
					case "first", "last", "limit":
						if n, ok := arg.Value.GetValue().(int); ok && n > fieldCost {
							fieldCost = n
						}
					}
				}
			}
			complexity += fieldCost * multiplier

			if s.SelectionSet != nil {
				nested := multiplier
				if isList {
					nested *= 10
				}
				complexity += selectionComplexity(s.SelectionSet, nested)
			}

		case *ast.InlineFragment:
			complexity += selectionComplexity(s.SelectionSet, multiplier)
		}
	}
	return complexity
}

// isListField guesses list-ness from the field name. Heuristic only.
func isListField(name string) bool {
	return len(name) > 1 && name[len(name)-1] == 's' &&
		name != "status" && name != "address"
}

// selectsIntrospection reports whether the operation selects __schema or __type.
func selectsIntrospection(op *ast.OperationDefinition) bool {
	if op.SelectionSet == nil {
		return false
	}
	for _, sel := range op.SelectionSet.Selections {
		if f, ok := sel.(*ast.Field); ok {
			switch f.Name.Value {
			case "__schema", "__type":
				return true
			}
		}
	}
	return false
}
