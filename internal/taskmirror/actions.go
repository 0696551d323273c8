package taskmirror

// The discrete, named actions the rest of the engine dispatches into the
// Store. Merge-style actions lean on the pure functions in merge.go and
// detect no-ops through the unchanged-slice results those functions return.
// Replace-style actions scoped to a selection carry the generation they were
// issued under and become no-ops once the selection has moved on.

// ReplaceAll seeds the store from an init snapshot or a full resync.
// Full-list replacement is also the only pruning path: tasks the authority
// no longer reports simply drop out of the mirrored collection.
type ReplaceAll struct {
	Tasks    []Task
	Stats    Stats
	Services []ServiceStatus
}

func (ReplaceAll) Name() string { return "replace_all" }

func (a ReplaceAll) apply(state State) (State, bool) {
	state.Tasks = a.Tasks
	state.Stats = a.Stats
	if a.Services != nil {
		state.Services = a.Services
	}
	return state, true
}

// MergeTaskList applies a partial/updated task list (push delta semantics).
type MergeTaskList struct {
	Tasks []Task
}

func (MergeTaskList) Name() string { return "merge_task_list" }

func (a MergeTaskList) apply(state State) (State, bool) {
	merged := MergeTasks(state.Tasks, a.Tasks)
	if sameTaskSlice(state.Tasks, merged) {
		return state, false
	}
	state.Tasks = merged
	return state, true
}

// ReplaceTaskList swaps the whole root collection (snapshot semantics).
type ReplaceTaskList struct {
	Tasks []Task
}

func (ReplaceTaskList) Name() string { return "replace_task_list" }

func (a ReplaceTaskList) apply(state State) (State, bool) {
	state.Tasks = a.Tasks
	return state, true
}

// MergeTaskDetail merges one fully fetched task (with children) into the
// collection. Detail fetches are issued per selection, so a completion from
// a superseded selection is dropped.
type MergeTaskDetail struct {
	Task       Task
	Generation uint64
}

func (MergeTaskDetail) Name() string { return "merge_task_detail" }

func (a MergeTaskDetail) apply(state State) (State, bool) {
	if a.Generation != state.Generation {
		return state, false
	}
	merged := MergeTasks(state.Tasks, []Task{a.Task})
	if sameTaskSlice(state.Tasks, merged) {
		return state, false
	}
	state.Tasks = merged
	return state, true
}

// ReplaceStats swaps the aggregate record whole.
type ReplaceStats struct {
	Stats Stats
}

func (ReplaceStats) Name() string { return "replace_stats" }

func (a ReplaceStats) apply(state State) (State, bool) {
	if state.Stats == a.Stats {
		return state, false
	}
	state.Stats = a.Stats
	return state, true
}

// AppendActivityBatch dedup-prepends a push-delivered activity batch to the
// selection-scoped log. Callers gate the batch by relevance first.
type AppendActivityBatch struct {
	Entries []Activity
}

func (AppendActivityBatch) Name() string { return "append_activity" }

func (a AppendActivityBatch) apply(state State) (State, bool) {
	appended := AppendActivity(state.Activity, a.Entries)
	if sameActivitySlice(state.Activity, appended) {
		return state, false
	}
	state.Activity = appended
	return state, true
}

// ReplaceActivityLog swaps the selection-scoped log with an authoritative
// poll result for that scope.
type ReplaceActivityLog struct {
	Entries    []Activity
	Generation uint64
}

func (ReplaceActivityLog) Name() string { return "replace_activity" }

func (a ReplaceActivityLog) apply(state State) (State, bool) {
	if a.Generation != state.Generation {
		return state, false
	}
	state.Activity = a.Entries
	return state, true
}

// MergeQuestionBatch merges push-delivered questions by identifier.
type MergeQuestionBatch struct {
	Questions []Question
}

func (MergeQuestionBatch) Name() string { return "merge_questions" }

func (a MergeQuestionBatch) apply(state State) (State, bool) {
	merged := MergeQuestions(state.Questions, a.Questions)
	if sameQuestionSlice(state.Questions, merged) {
		return state, false
	}
	state.Questions = merged
	return state, true
}

// ReplaceQuestionList swaps the selection-scoped question list (poll result).
type ReplaceQuestionList struct {
	Questions  []Question
	Generation uint64
}

func (ReplaceQuestionList) Name() string { return "replace_questions" }

func (a ReplaceQuestionList) apply(state State) (State, bool) {
	if a.Generation != state.Generation {
		return state, false
	}
	state.Questions = a.Questions
	return state, true
}

// ReplaceArtifactList swaps the selection-scoped artifacts (fetch-only).
type ReplaceArtifactList struct {
	Artifacts  []Artifact
	Generation uint64
}

func (ReplaceArtifactList) Name() string { return "replace_artifacts" }

func (a ReplaceArtifactList) apply(state State) (State, bool) {
	if a.Generation != state.Generation {
		return state, false
	}
	state.Artifacts = a.Artifacts
	return state, true
}

// ReplaceProcessMap swaps the side-channel process map whole.
type ReplaceProcessMap struct {
	Processes map[string]ProcessStatus
}

func (ReplaceProcessMap) Name() string { return "replace_processes" }

func (a ReplaceProcessMap) apply(state State) (State, bool) {
	state.Processes = a.Processes
	return state, true
}

// ReplaceServiceList swaps the side-channel service list whole.
type ReplaceServiceList struct {
	Services []ServiceStatus
}

func (ReplaceServiceList) Name() string { return "replace_services" }

func (a ReplaceServiceList) apply(state State) (State, bool) {
	state.Services = a.Services
	return state, true
}

// ReplaceAgentList swaps the agents listing.
type ReplaceAgentList struct {
	Agents []Agent
}

func (ReplaceAgentList) Name() string { return "replace_agents" }

func (a ReplaceAgentList) apply(state State) (State, bool) {
	state.Agents = a.Agents
	return state, true
}

// Select changes the selection. The previous selection's cached activity,
// questions and artifacts are cleared in the same transition, before any
// pending fetch can resolve, and the generation moves so stragglers from the
// old selection land as no-ops.
type Select struct {
	ID string
}

func (Select) Name() string { return "select" }

func (a Select) apply(state State) (State, bool) {
	state.SelectedID = a.ID
	state.Activity = nil
	state.Questions = nil
	state.Artifacts = nil
	state.Generation++
	return state, true
}

// SetConnected tracks the push channel's lifecycle. Disconnecting clears no
// mirrored data: the last known view stays visible until reconnection heals
// it.
type SetConnected struct {
	Connected bool
}

func (SetConnected) Name() string { return "set_connected" }

func (a SetConnected) apply(state State) (State, bool) {
	if state.Connected == a.Connected {
		return state, false
	}
	state.Connected = a.Connected
	return state, true
}

// Slice-identity checks: the merge functions return their input unchanged on
// a no-op, so pointer equality of the backing arrays is a reliable signal.

func sameTaskSlice(a, b []Task) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func sameActivitySlice(a, b []Activity) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func sameQuestionSlice(a, b []Question) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}
