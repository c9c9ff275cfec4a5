// Package invoke provides the uniform agent invocation layer: one call
// contract per role over pluggable language-model runtimes.
package invoke

// Role identifies an agent role. Each role has a fixed tool capability
// set; prompt text for a role is supplied by the caller.
type Role string

const (
	RoleProductManager    Role = "product_manager"
	RoleArchitect         Role = "architect"
	RoleTechLead          Role = "tech_lead"
	RoleSprintPlanner     Role = "sprint_planner"
	RoleIssueWriter       Role = "issue_writer"
	RoleCoder             Role = "coder"
	RoleQA                Role = "qa"
	RoleCodeReviewer      Role = "code_reviewer"
	RoleSynthesizer       Role = "synthesizer"
	RoleAdvisor           Role = "advisor"
	RoleReplanner         Role = "replanner"
	RoleMerger            Role = "merger"
	RoleIntegrationTester Role = "integration_tester"
	RoleVerifier          Role = "verifier"
	RoleFixGenerator      Role = "fix_generator"
)

// Valid returns true if the role is a known value.
func (r Role) Valid() bool {
	_, ok := roleTools[r]
	return ok
}

// Tool is a capability grantable to a role.
type Tool string

const (
	ToolRead     Tool = "Read"
	ToolWrite    Tool = "Write"
	ToolEdit     Tool = "Edit"
	ToolBash     Tool = "Bash"
	ToolBashRead Tool = "BashRead"
	ToolGlob     Tool = "Glob"
	ToolGrep     Tool = "Grep"
)

// readOnlyTools is the capability set for roles that inspect but never
// mutate a workspace. BashRead permits shell commands but the executor
// refuses writes through it.
var readOnlyTools = []Tool{ToolRead, ToolGlob, ToolGrep, ToolBashRead}

// writeTools extends the read-only set with file mutation and full
// shell access.
var writeTools = []Tool{ToolRead, ToolGlob, ToolGrep, ToolWrite, ToolEdit, ToolBash}

// roleTools bounds the blast radius of each role.
var roleTools = map[Role][]Tool{
	RoleProductManager:    readOnlyTools,
	RoleTechLead:          readOnlyTools,
	RoleSprintPlanner:     readOnlyTools,
	RoleCodeReviewer:      readOnlyTools,
	RoleSynthesizer:       readOnlyTools,
	RoleAdvisor:           readOnlyTools,
	RoleReplanner:         readOnlyTools,
	RoleVerifier:          readOnlyTools,
	RoleArchitect:         writeTools,
	RoleIssueWriter:       writeTools,
	RoleCoder:             writeTools,
	RoleQA:                writeTools,
	RoleFixGenerator:      writeTools,
	RoleMerger:            writeTools,
	RoleIntegrationTester: writeTools,
}

// ToolsForRole returns the capability set for a role. Unknown roles get
// the read-only set.
func ToolsForRole(r Role) []Tool {
	if tools, ok := roleTools[r]; ok {
		return tools
	}
	return readOnlyTools
}

// CanWrite reports whether the role's tool set includes file mutation.
func CanWrite(r Role) bool {
	for _, t := range ToolsForRole(r) {
		if t == ToolWrite {
			return true
		}
	}
	return false
}
