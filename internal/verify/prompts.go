package verify

// verifierSystemPrompt frames the verification role.
const verifierSystemPrompt = `You are a verification agent on a merged integration branch. You check acceptance criteria against the actual code and test results; you never modify files. A criterion passes only on concrete evidence.`

// verifierPrompt is the prompt template for one verification pass.
const verifierPrompt = `Verify every acceptance criterion below against the repository in the current directory.

Goal:
%s

Acceptance criteria:
%s

Recently completed work items (for attributing failures):
%s

Return a JSON payload with this exact structure:
{
  "passed": false,
  "criteria": [
    {
      "criterion": "the criterion text, verbatim",
      "passed": true,
      "evidence": "what you found that proves or disproves it",
      "issue_name": "the work item responsible for a failure, if identifiable"
    }
  ],
  "summary": "one-line verdict",
  "suggested_fixes": ["concrete repair suggestion per failed criterion"]
}

Guidelines:
- Include every listed criterion exactly once, verbatim.
- Run the test suite and read the relevant code; cite files or test output as evidence.
- passed at the top level is true only when every criterion passed.`

// fixGeneratorSystemPrompt frames the fix-generation role.
const fixGeneratorSystemPrompt = `You are a fix planner. Verification of a merged branch failed; you turn the failed criteria into the smallest set of targeted work items that would make them pass. You may read and experiment in the repository but commit nothing.`

// fixGeneratorPrompt is the prompt template for fix-issue generation.
const fixGeneratorPrompt = `Verification failed on this repository. Produce targeted fix issues.

Failed criteria:
%s

Verifier's suggested fixes:
%s

Return a JSON payload with this exact structure:
{
  "issues": [
    {
      "name": "short-kebab-name",
      "title": "Fix title",
      "description": "what to change and where",
      "acceptance_criteria": ["the failed criterion this fix makes pass"],
      "files_to_modify": ["path/likely/touched.go"]
    }
  ],
  "summary": "overall repair approach"
}

Guidelines:
- Minimal scope: one issue per root cause, never per symptom.
- Every issue's acceptance criteria must be drawn from the failed criteria above.
- Issues must be independent of each other; they will run in parallel.`
