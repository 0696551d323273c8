package taskmirror

// RelevantIDs computes the set of task identifiers in scope for a selection:
// the selected task plus its direct children. When the selected task is not
// yet locally known, or its children have not been fetched, the set degrades
// to the selection alone; sub-entity events for unknown children are dropped
// until the next reconciliation poll populates Children.
func RelevantIDs(tasks []Task, selectedID string) map[string]struct{} {
	if selectedID == "" {
		return nil
	}
	ids := map[string]struct{}{selectedID: {}}
	selected, ok := lookupTask(tasks, selectedID)
	if !ok {
		return ids
	}
	for _, child := range selected.Children {
		ids[child.ID] = struct{}{}
	}
	return ids
}

// lookupTask searches the root collection and one level of children.
func lookupTask(tasks []Task, id string) (Task, bool) {
	for _, task := range tasks {
		if task.ID == id {
			return task, true
		}
		for _, child := range task.Children {
			if child.ID == id {
				return child, true
			}
		}
	}
	return Task{}, false
}
