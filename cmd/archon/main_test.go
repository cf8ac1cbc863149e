package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"archon"}, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestRun_NoArgsPrintsUsage(t *testing.T) {
	out, _, code := runCLI(t)
	require.Equal(t, 0, code)
	require.Contains(t, out, "archon — local coordination kernel")
}

func TestRun_UnknownCommand(t *testing.T) {
	_, errOut, code := runCLI(t, "frobnicate")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "Unknown command")
}

func TestRun_StatusWithoutProject(t *testing.T) {
	t.Setenv("ARCHON_HOME", t.TempDir())
	_, errOut, code := runCLI(t, "status")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "no active project")
}

func TestRun_ProjectLifecycleAndStatus(t *testing.T) {
	t.Setenv("ARCHON_HOME", t.TempDir())

	out, errOut, code := runCLI(t, "project", "create", "alpha")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "Created project alpha")

	out, _, code = runCLI(t, "project", "current")
	require.Equal(t, 0, code)
	require.Contains(t, out, "alpha")

	out, errOut, code = runCLI(t, "status")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "RS hash:")
	require.Contains(t, out, "Ack epoch: 0")
}

func TestRun_RulesAddListRemove(t *testing.T) {
	t.Setenv("ARCHON_HOME", t.TempDir())
	_, errOut, code := runCLI(t, "project", "create", "alpha")
	require.Equal(t, 0, code, errOut)

	out, errOut, code := runCLI(t, "rules", "add", "docs-only",
		`allow fs.read where capability.params.path matches "./docs/**"`)
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "Installed docs-only")

	out, _, code = runCLI(t, "rules", "list")
	require.Equal(t, 0, code)
	require.Contains(t, out, "docs-only")
	require.Contains(t, out, "allow fs.read")

	_, errOut, code = runCLI(t, "rules", "remove", "docs-only")
	require.Equal(t, 0, code, errOut)

	out, _, _ = runCLI(t, "rules", "list")
	require.False(t, strings.Contains(out, "docs-only"))
}

func TestRun_RulesAddRejectsBadDSL(t *testing.T) {
	t.Setenv("ARCHON_HOME", t.TempDir())
	_, _, code := runCLI(t, "project", "create", "alpha")
	require.Equal(t, 0, code)

	_, errOut, code := runCLI(t, "rules", "add", "bad", `permit fs.read where x matches "*"`)
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "Error:")
}

func TestRun_ProposalTypedAckFlow(t *testing.T) {
	t.Setenv("ARCHON_HOME", t.TempDir())
	_, _, code := runCLI(t, "project", "create", "alpha")
	require.Equal(t, 0, code)

	// fs.delete is T3: the proposal previews the required typed phrase.
	out, errOut, code := runCLI(t, "propose", "enable-capability", "filesystem", "delete", "fs.delete")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, `requires typed ack: "I ACCEPT T3 RISK (fs.delete)"`)

	id := proposalIDFrom(t, out)

	// Wrong phrase refuses and leaves the proposal pending.
	_, errOut, code = runCLI(t, "proposals", "approve", id, "--ack", "I ACCEPT")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "acknowledgment phrase")

	out, _, code = runCLI(t, "proposals", "show", id)
	require.Equal(t, 0, code)
	require.Contains(t, out, "status:  pending")
}

func proposalIDFrom(t *testing.T, out string) string {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Proposal ") {
			return strings.TrimPrefix(line, "Proposal ")
		}
	}
	t.Fatalf("no proposal id in output: %s", out)
	return ""
}

func TestRun_Demo(t *testing.T) {
	t.Setenv("ARCHON_HOME", t.TempDir())
	out, errOut, code := runCLI(t, "demo")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "deny by default")
	require.Contains(t, out, "permit, triggered=[docs-only]")
	require.Contains(t, out, "allowlist exhaustion")
}

func TestRun_SecretProposalFlow(t *testing.T) {
	t.Setenv("ARCHON_HOME", t.TempDir())
	_, _, code := runCLI(t, "project", "create", "alpha")
	require.Equal(t, 0, code)

	out, errOut, code := runCLI(t, "propose", "set-secret", "api-key", "sk-secret")
	require.Equal(t, 0, code, errOut)
	id := proposalIDFrom(t, out)

	// The persisted proposal carries no plaintext; approving without
	// re-supplying it fails the apply.
	_, errOut, code = runCLI(t, "proposals", "approve", id)
	require.Equal(t, 1, code)
	require.Contains(t, errOut, "re-supply")

	out, errOut, code = runCLI(t, "propose", "set-secret", "api-key", "sk-secret")
	require.Equal(t, 0, code, errOut)
	id = proposalIDFrom(t, out)
	out, errOut, code = runCLI(t, "proposals", "approve", id, "--secret-value", "sk-secret")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "status:  applied")

	out, errOut, code = runCLI(t, "propose", "set-secret-mode", "portable", "open sesame")
	require.Equal(t, 0, code, errOut)
	id = proposalIDFrom(t, out)

	// The persisted proposal carries no passphrase; re-supply at approval.
	out, errOut, code = runCLI(t, "proposals", "approve", id, "--passphrase", "open sesame")
	require.Equal(t, 0, code, errOut)
	require.Contains(t, out, "status:  applied")
}
