package executor

// ActionKind distinguishes fresh agent invocations from follow-ups that
// resume a prior agent conversation.
type ActionKind string

const (
	ActionInitial  ActionKind = "initial"
	ActionFollowUp ActionKind = "followup"
)

// Action describes one agent invocation to start. A follow-up carries the
// agent session id of the conversation it resumes.
type Action struct {
	Kind            ActionKind
	Prompt          string
	ExecutorProfile string
	WorkingDir      string
	AgentSessionID  string
}

// NewInitialAction builds a fresh agent invocation.
func NewInitialAction(prompt, executorProfile, workingDir string) Action {
	return Action{
		Kind:            ActionInitial,
		Prompt:          prompt,
		ExecutorProfile: executorProfile,
		WorkingDir:      workingDir,
	}
}

// NewFollowUpAction builds an invocation that resumes agentSessionID.
func NewFollowUpAction(prompt, executorProfile, workingDir, agentSessionID string) Action {
	return Action{
		Kind:            ActionFollowUp,
		Prompt:          prompt,
		ExecutorProfile: executorProfile,
		WorkingDir:      workingDir,
		AgentSessionID:  agentSessionID,
	}
}
