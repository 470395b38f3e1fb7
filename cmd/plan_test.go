package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/foreman/internal/planner"
	"github.com/zjrosen/foreman/internal/testutil"
)

func TestPlanMarkdownGroupsTasksByPhase(t *testing.T) {
	res := planner.ProjectResult{
		ProjectName:        "bookmarks",
		TasksCreated:       5,
		DependenciesMapped: 5,
		EstimatedDays:      4,
		RiskLevel:          "low",
		Confidence:         0.8,
		Source:             "template:web-app",
	}
	md := planMarkdown(res, testutil.ProjectTasks())

	require.Contains(t, md, "# bookmarks")
	setup := strings.Index(md, "## Setup")
	impl := strings.Index(md, "## Implementation")
	testPhase := strings.Index(md, "## Testing")
	deploy := strings.Index(md, "## Deployment")
	require.True(t, setup >= 0 && impl > setup && testPhase > impl && deploy > testPhase,
		"phases should render in execution order")
	require.Contains(t, md, "after task-001", "dependencies render on the dependent task")
	require.NotContains(t, md, "Possible gaps")
}

func TestPlanMarkdownListsGaps(t *testing.T) {
	res := planner.ProjectResult{
		ProjectName:  "bookmarks",
		MissingTasks: []string{"No testing phase planned"},
	}
	md := planMarkdown(res, nil)
	require.Contains(t, md, "## Possible gaps")
	require.Contains(t, md, "No testing phase planned")
}

func TestNameFromPath(t *testing.T) {
	require.Equal(t, "bookmark manager", nameFromPath("docs/bookmark-manager.md"))
	require.Equal(t, "team wiki", nameFromPath("team_wiki.txt"))
	require.Equal(t, "project", nameFromPath("-"))
}

func TestReadPRDFromStdin(t *testing.T) {
	got, err := readPRD("-", strings.NewReader("build a thing"))
	require.NoError(t, err)
	require.Equal(t, "build a thing", got)
}

func TestRenderMarkdownOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	out := renderMarkdown(&buf, "# Title\n\nSome body text.", 80)
	require.Contains(t, out, "Title")
	require.Contains(t, out, "Some body text")
}

func TestPlanPreviewLeavesNoState(t *testing.T) {
	resetConfigState(t)
	t.Chdir(t.TempDir())

	prd := "A REST API for bookmarks with tags and full text search."
	require.NoError(t, os.WriteFile("prd.md", []byte(prd), 0o600))

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs([]string{"plan", "prd.md", "--name", "bookmarks"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		planName = ""
	})

	require.NoError(t, rootCmd.Execute())
	out := buf.String()
	require.Contains(t, out, "bookmarks")
	require.Contains(t, out, "Preview only")
	_, err := os.Stat("board.db")
	require.True(t, os.IsNotExist(err), "previewing must not create a board")
}
