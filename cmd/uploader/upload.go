package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/google/subcommands"

	"model-uploader/internal/adapters/primary/http/dto"
	"model-uploader/internal/adapters/secondary/roboflow"
	"model-uploader/internal/bootstrap"
	"model-uploader/internal/core/domain"
	"model-uploader/internal/core/services"
)

type targetFlags struct {
	workspace string
	project   string
	notes     string
	quiet     bool
}

func (t *targetFlags) register(f *flag.FlagSet) {
	f.StringVar(&t.workspace, "workspace", "", "target workspace (required)")
	f.StringVar(&t.project, "project", "", "target project (required)")
	f.StringVar(&t.notes, "notes", "", "free text stored with the manifest")
	f.BoolVar(&t.quiet, "quiet", false, "do not draw upload progress")
}

func (t *targetFlags) check(f *flag.FlagSet) error {
	if t.workspace == "" || t.project == "" {
		return usageError("-workspace and -project are required")
	}
	if f.NArg() != 1 {
		return usageError("expected exactly one file argument")
	}
	return nil
}

func (t *targetFlags) options() []bootstrap.Option {
	if t.quiet {
		return nil
	}
	return []bootstrap.Option{bootstrap.WithClientOptions(roboflow.WithProgress(progressBar(os.Stderr)))}
}

func progressBar(w io.Writer) roboflow.ProgressFunc {
	return func(name string, body io.Reader, size int64) (io.Reader, func()) {
		bar := pb.New64(size)
		bar.Set(pb.Bytes, true)
		bar.Set("prefix", name+":")
		bar.SetWriter(w)
		bar.Start()
		return bar.NewProxyReader(body), func() { bar.Finish() }
	}
}

// ============================================================================
// deploy
// ============================================================================

type deployCmd struct {
	target   targetFlags
	strategy string
	yes      bool
	no       bool
	out      outputFlag
	stdin    io.Reader
}

func newDeployCmd(stdin io.Reader) *deployCmd {
	return &deployCmd{stdin: stdin}
}

func (*deployCmd) Name() string     { return "deploy" }
func (*deployCmd) Synopsis() string { return "upload trained weights to a project version" }
func (*deployCmd) Usage() string {
	return `deploy -workspace <ws> -project <project> [-strategy auto|manual:<version>] [-yes|-no] <artifact>

Plans the deployment first. When the artifact needs confirmation (architecture
not supported by the service, ambiguous detection, or a version that already
has a trained model) the plan is shown and the answer is read from stdin
unless -yes or -no is given.
`
}

func (c *deployCmd) SetFlags(f *flag.FlagSet) {
	c.target.register(f)
	f.StringVar(&c.strategy, "strategy", "auto", `version strategy: "auto" or "manual:<version_id>"`)
	f.BoolVar(&c.yes, "yes", false, "confirm without asking")
	f.BoolVar(&c.no, "no", false, "decline without asking")
	c.out.register(f)
}

func (c *deployCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if err := c.target.check(f); err != nil {
		return exitStatus(err)
	}
	if c.yes && c.no {
		return exitStatus(usageError("-yes and -no are mutually exclusive"))
	}
	strategy, err := domain.ParseStrategy(c.strategy)
	if err != nil {
		return exitStatus(usageError("%v", err))
	}
	p, err := c.out.printer()
	if err != nil {
		return exitStatus(err)
	}
	path, err := bootstrap.ExpandPath(f.Arg(0))
	if err != nil {
		return exitStatus(err)
	}

	var outcome *services.Outcome
	status := run(ctx, func(app *bootstrap.App) error {
		planned, err := app.Deploy.Plan(ctx, services.PlanRequest{
			Workspace:    c.target.workspace,
			Project:      c.target.project,
			ArtifactPath: path,
			Strategy:     strategy,
			Notes:        c.target.notes,
		})
		if err != nil {
			return err
		}
		if planned.Status.Terminal() {
			outcome = planned
			return nil
		}

		confirmed := true
		if planned.Status == domain.StatusPendingConfirmation {
			describePlan(os.Stderr, planned)
			confirmed = c.confirm(ctx)
		}
		outcome, err = app.Deploy.CommitByID(ctx, planned.OpID, confirmed)
		return err
	}, c.target.options()...)
	if status != subcommands.ExitSuccess {
		return status
	}

	if err := printOutcome(p, outcome); err != nil {
		return exitStatus(err)
	}
	return outcomeStatus(outcome)
}

// confirm asks on stdin unless -yes or -no decided already. A cancelled
// context counts as a refusal.
func (c *deployCmd) confirm(ctx context.Context) bool {
	switch {
	case c.yes:
		return true
	case c.no:
		return false
	}
	fmt.Fprint(os.Stderr, "Proceed anyway? [y/N] ")

	answers := make(chan string, 1)
	go func() {
		// EOF without an answer leaves line empty, which reads as no.
		line, _ := bufio.NewReader(c.stdin).ReadString('\n')
		answers <- line
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr)
		return false
	case line := <-answers:
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}

// ============================================================================
// dataset
// ============================================================================

type datasetCmd struct {
	target      targetFlags
	description string
	train       bool
	out         outputFlag
}

func (*datasetCmd) Name() string     { return "dataset" }
func (*datasetCmd) Synopsis() string { return "upload a zipped dataset as a new project version" }
func (*datasetCmd) Usage() string {
	return "dataset -workspace <ws> -project <project> [-description text] [-train] <archive.zip>\n"
}

func (c *datasetCmd) SetFlags(f *flag.FlagSet) {
	c.target.register(f)
	f.StringVar(&c.description, "description", "", "dataset description")
	f.BoolVar(&c.train, "train", false, "start training on the new version")
	c.out.register(f)
}

func (c *datasetCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if err := c.target.check(f); err != nil {
		return exitStatus(err)
	}
	p, err := c.out.printer()
	if err != nil {
		return exitStatus(err)
	}
	path, err := bootstrap.ExpandPath(f.Arg(0))
	if err != nil {
		return exitStatus(err)
	}

	var outcome *services.Outcome
	status := run(ctx, func(app *bootstrap.App) error {
		outcome, err = app.Deploy.UploadDataset(ctx, services.DatasetRequest{
			Workspace:       c.target.workspace,
			Project:         c.target.project,
			ArchivePath:     path,
			Description:     c.description,
			TriggerTraining: c.train,
			Notes:           c.target.notes,
		})
		return err
	}, c.target.options()...)
	if status != subcommands.ExitSuccess {
		return status
	}

	if err := printOutcome(p, outcome); err != nil {
		return exitStatus(err)
	}
	return outcomeStatus(outcome)
}

// ============================================================================
// Rendering
// ============================================================================

func describePlan(w io.Writer, out *services.Outcome) {
	plan := out.Plan
	fmt.Fprintf(w, "Plan %s needs confirmation\n", out.OpID)
	if plan != nil {
		if plan.Artifact != nil {
			fmt.Fprintf(w, "  artifact:  %s\n", plan.Artifact.Filename)
		}
		fmt.Fprintf(w, "  detected:  %s (%s, %s)\n", plan.Detection.Family, plan.Detection.Source, plan.Detection.Confidence)
		fmt.Fprintf(w, "  target:    %s\n", plan.Version.ID)
		for _, r := range plan.Reasons {
			fmt.Fprintf(w, "  - %s\n", r)
		}
	}
	if out.Guidance != "" {
		fmt.Fprintf(w, "  hint: %s\n", out.Guidance)
	}
}

func printOutcome(p printer, out *services.Outcome) error {
	if p.format != formatTable {
		return p.print(dto.ToOutcomeResponse(out), nil)
	}
	w := p.w
	fmt.Fprintf(w, "op_id:    %s\n", out.OpID)
	fmt.Fprintf(w, "status:   %s\n", out.Status)
	if out.Manifest != nil && out.Manifest.TargetVersion != "" {
		fmt.Fprintf(w, "version:  %s\n", out.Manifest.TargetVersion)
	}
	if out.ErrorKind != domain.KindNone {
		fmt.Fprintf(w, "kind:     %s\n", out.ErrorKind)
	}
	if out.Message != "" && out.Message != string(out.Status) {
		fmt.Fprintf(w, "message:  %s\n", out.Message)
	}
	if out.Guidance != "" {
		fmt.Fprintf(w, "guidance: %s\n", out.Guidance)
	}
	return nil
}

// outcomeStatus fails the process for attempts that did not reach the service.
func outcomeStatus(out *services.Outcome) subcommands.ExitStatus {
	switch out.Status {
	case domain.StatusSuccess, domain.StatusPartialSuccess:
		return subcommands.ExitSuccess
	default:
		return subcommands.ExitFailure
	}
}
