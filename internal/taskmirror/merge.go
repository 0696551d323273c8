package taskmirror

// Patch-merge semantics for partial updates and de-duplication for the
// append-only activity log. Every function here is pure: inputs are never
// mutated and a fresh slice is returned whenever the result differs.

// MergeTasks applies a partial/updated task list to an existing collection.
// Existing tasks matched by ID are shallow-merged (incoming fields win,
// absent incoming fields are preserved); incoming root tasks not yet present
// are inserted at the front so freshly surfaced roots are immediately
// visible. Non-root unknowns are dropped: they surface through their
// parent's Children on the next detail fetch.
func MergeTasks(existing, incoming []Task) []Task {
	if len(incoming) == 0 {
		return existing
	}
	byID := make(map[string]Task, len(incoming))
	for _, task := range incoming {
		byID[task.ID] = task
	}

	merged := make([]Task, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing))
	for _, current := range existing {
		seen[current.ID] = struct{}{}
		update, ok := byID[current.ID]
		if !ok {
			merged = append(merged, current)
			continue
		}
		merged = append(merged, mergeTask(current, update))
	}

	var fresh []Task
	for _, task := range incoming {
		if _, ok := seen[task.ID]; ok {
			continue
		}
		if _, dup := indexTask(fresh, task.ID); dup >= 0 {
			continue
		}
		if task.IsRoot() {
			fresh = append(fresh, task)
		}
	}
	if len(fresh) == 0 {
		return merged
	}
	return append(fresh, merged...)
}

// mergeTask overlays update onto base field by field. Zero-valued string and
// pointer fields are treated as absent and keep the base value; counters and
// flags come from the update, which carries them on every full record.
func mergeTask(base, update Task) Task {
	out := base
	if update.Title != "" {
		out.Title = update.Title
	}
	if update.Description != "" {
		out.Description = update.Description
	}
	if update.Status != "" {
		out.Status = update.Status
	}
	if update.ParentID != nil {
		out.ParentID = update.ParentID
	}
	if update.AssignedAgent != nil {
		out.AssignedAgent = update.AssignedAgent
	}
	if update.Phase != nil {
		out.Phase = update.Phase
	}
	if update.Result != nil {
		out.Result = update.Result
	}
	if update.Source != "" {
		out.Source = update.Source
	}
	if update.CreatedAt != "" {
		out.CreatedAt = update.CreatedAt
	}
	if update.UpdatedAt != "" {
		out.UpdatedAt = update.UpdatedAt
	}
	if update.Children != nil {
		out.Children = update.Children
	}
	out.PendingQuestions = update.PendingQuestions
	out.AutoAccept = update.AutoAccept
	return out
}

func indexTask(tasks []Task, id string) (Task, int) {
	for i, task := range tasks {
		if task.ID == id {
			return task, i
		}
	}
	return Task{}, -1
}

// MergeQuestions merges an incoming batch by identifier. Known questions are
// replaced in place (the answer may have been filled in); unseen ones are
// appended at the end, so ordering reflects arrival rather than recency.
func MergeQuestions(existing, incoming []Question) []Question {
	if len(incoming) == 0 {
		return existing
	}
	byID := make(map[string]Question, len(incoming))
	for _, q := range incoming {
		byID[q.ID] = q
	}

	merged := make([]Question, 0, len(existing)+len(incoming))
	seen := make(map[string]struct{}, len(existing))
	for _, current := range existing {
		seen[current.ID] = struct{}{}
		if update, ok := byID[current.ID]; ok {
			merged = append(merged, update)
			continue
		}
		merged = append(merged, current)
	}
	for _, q := range incoming {
		if _, ok := seen[q.ID]; ok {
			continue
		}
		seen[q.ID] = struct{}{}
		merged = append(merged, q)
	}
	return merged
}

// AppendActivity prepends the genuinely new entries of a batch to the log,
// newest first. Re-delivering the same batch is a no-op: entries whose IDs
// are already present are filtered out, and when nothing survives the filter
// the existing slice is returned unchanged.
func AppendActivity(existing, batch []Activity) []Activity {
	if len(batch) == 0 {
		return existing
	}
	present := make(map[int64]struct{}, len(existing)+len(batch))
	for _, entry := range existing {
		present[entry.ID] = struct{}{}
	}
	fresh := make([]Activity, 0, len(batch))
	for _, entry := range batch {
		if _, ok := present[entry.ID]; ok {
			continue
		}
		present[entry.ID] = struct{}{}
		fresh = append(fresh, entry)
	}
	if len(fresh) == 0 {
		return existing
	}
	return append(fresh, existing...)
}
