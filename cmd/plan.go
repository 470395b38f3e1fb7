package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/zjrosen/foreman/internal/ai"
	"github.com/zjrosen/foreman/internal/board"
	"github.com/zjrosen/foreman/internal/board/memory"
	"github.com/zjrosen/foreman/internal/config"
	"github.com/zjrosen/foreman/internal/domain"
	"github.com/zjrosen/foreman/internal/paths"
	"github.com/zjrosen/foreman/internal/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan <prd-file>",
	Short: "Synthesize a project plan from a PRD",
	Long: `Synthesize a project plan from a product requirements document.

The PRD is read from the given file, or from stdin when the file is "-".
Synthesis runs against a scratch board so the preview costs nothing;
--publish runs the same pipeline against the configured board and
creates the tasks for real. Publication refuses a non-empty board.

Example:
  foreman plan docs/bookmark-manager.md
  cat prd.md | foreman plan - --name "bookmark manager"
  foreman plan prd.md --tech-stack go,postgres --publish`,
	Args: cobra.ExactArgs(1),
	RunE: runPlan,
}

var (
	planName       string
	planPublish    bool
	planTeamSize   int
	planTechStack  []string
	planDeadline   string
	planComplexity string
	planWidth      int
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVar(&planName, "name", "",
		"project name (default: derived from the file name)")
	planCmd.Flags().BoolVar(&planPublish, "publish", false,
		"create the tasks on the configured board instead of previewing")
	planCmd.Flags().IntVar(&planTeamSize, "team-size", 0,
		"how many agents will work the plan")
	planCmd.Flags().StringSliceVar(&planTechStack, "tech-stack", nil,
		"technologies to bias skill labels toward")
	planCmd.Flags().StringVar(&planDeadline, "deadline", "",
		"target date, ISO-8601")
	planCmd.Flags().StringVar(&planComplexity, "complexity", "",
		"plan depth: mvp, standard, or enterprise")
	planCmd.Flags().IntVar(&planWidth, "width", 100,
		"render width in columns")
}

func runPlan(cmd *cobra.Command, args []string) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}

	prd, err := readPRD(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}
	name := planName
	if name == "" {
		name = nameFromPath(args[0])
	}

	aiClient := ai.Disabled()
	if cfg.AI.Enabled {
		aiClient, err = ai.New(ai.Provider(cfg.AI.Provider), ai.Options{
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.AI.Model,
			Timeout: cfg.AI.Timeout,
		})
		if err != nil {
			return fmt.Errorf("creating AI client: %w", err)
		}
	}

	var target board.Client = memory.New()
	if planPublish {
		boardPath := cfg.Board.Path
		if boardPath == "" {
			dataDir, err := resolveDataDir("")
			if err != nil {
				return err
			}
			boardPath = paths.BoardPath(dataDir)
		}
		target, err = board.New(board.Provider(cfg.Board.Provider), board.Options{
			Path:      boardPath,
			ProjectID: cfg.Board.ProjectID,
			BoardID:   cfg.Board.BoardID,
		})
		if err != nil {
			return fmt.Errorf("connecting board provider: %w", err)
		}
		target = board.WithRetry(target, cfg.Board.Timeout)
	}

	pl, err := planner.New(target, aiClient)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	res, err := pl.CreateProject(ctx, name, prd, ai.PRDOptions{
		TeamSize:   planTeamSize,
		TechStack:  planTechStack,
		Deadline:   planDeadline,
		Complexity: planComplexity,
	})
	if err != nil {
		return err
	}
	tasks, err := target.ListTasks(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprint(out, renderMarkdown(out, planMarkdown(res, tasks), planWidth))
	if planPublish {
		fmt.Fprintf(out, "\nPublished %d tasks to the %s board.\n",
			res.TasksCreated, cfg.Board.Provider)
	} else {
		fmt.Fprintln(out, "\nPreview only. Re-run with --publish to create these tasks.")
	}
	return nil
}

// readPRD loads the requirements text from a file, or from stdin when
// path is "-".
func readPRD(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading PRD from stdin: %w", err)
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading PRD: %w", err)
	}
	return string(b), nil
}

// nameFromPath derives a project name from the PRD file name, so
// "docs/bookmark-manager.md" plans a project called "bookmark manager".
func nameFromPath(path string) string {
	if path == "-" {
		return "project"
	}
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	if strings.TrimSpace(base) == "" {
		return "project"
	}
	return strings.TrimSpace(base)
}

// planMarkdown lays the synthesized plan out as markdown: a summary
// line, the tasks grouped by phase in execution order, and any gaps the
// synthesizer flagged.
func planMarkdown(res planner.ProjectResult, tasks []domain.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", res.ProjectName)
	fmt.Fprintf(&b, "%d tasks, %d dependencies, about %d working days. Risk %s, confidence %.2f, source %s.\n",
		res.TasksCreated, res.DependenciesMapped, res.EstimatedDays,
		res.RiskLevel, res.Confidence, res.Source)
	if res.Deadline != "" {
		fmt.Fprintf(&b, "\nDeadline: %s\n", res.Deadline)
	}

	byPhase := make(map[string][]domain.Task)
	for _, t := range tasks {
		phase := t.Phase
		if domain.PhaseRank(phase) < 0 {
			phase = "other"
		}
		byPhase[phase] = append(byPhase[phase], t)
	}
	for _, phase := range append(append([]string{}, domain.PhaseOrder...), "other") {
		group := byPhase[phase]
		if len(group) == 0 {
			continue
		}
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		fmt.Fprintf(&b, "\n## %s\n\n", strings.ToUpper(phase[:1])+phase[1:])
		for _, t := range group {
			fmt.Fprintf(&b, "- **%s** %s (%sh, %s)", t.ID, t.Title,
				strconv.FormatFloat(t.EstimatedHours, 'f', -1, 64), priorityOrDefault(t.Priority))
			if len(t.Dependencies) > 0 {
				fmt.Fprintf(&b, " after %s", strings.Join(t.Dependencies, ", "))
			}
			b.WriteString("\n")
		}
	}

	if len(res.MissingTasks) > 0 {
		b.WriteString("\n## Possible gaps\n\n")
		for _, m := range res.MissingTasks {
			fmt.Fprintf(&b, "- %s\n", m)
		}
	}
	return b.String()
}

func priorityOrDefault(p domain.Priority) domain.Priority {
	if p == "" {
		return domain.PriorityMedium
	}
	return p
}

// renderMarkdown styles md for the terminal. The style is pinned to
// "dark" rather than auto-detected because auto-detection queries the
// terminal and the response can leak into stdin; "notty" is used when
// the output is not a terminal. A failed renderer degrades to plain
// wrapped text rather than killing the preview.
func renderMarkdown(out io.Writer, md string, width int) string {
	style := "notty"
	if f, ok := out.(*os.File); ok {
		if termenv.NewOutput(f).ColorProfile() != termenv.Ascii {
			style = "dark"
		}
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return wordwrap.String(md, width)
	}
	rendered, err := r.Render(md)
	if err != nil {
		return wordwrap.String(md, width)
	}
	return rendered
}
