package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ensemble/maestro/pkg/bus"
	"github.com/ensemble/maestro/pkg/designer"
	"github.com/ensemble/maestro/pkg/models"
)

// DocumentLister is the slice of the document service the builder needs.
type DocumentLister interface {
	ListDocuments(ctx context.Context, pipelineID string) ([]models.CodeDocument, error)
}

// BuildRunner invokes the language's build tool in a staging directory and
// returns its combined output. A non-nil error with output still gets parsed;
// compilers exit non-zero on errors.
type BuildRunner interface {
	RunBuild(ctx context.Context, dir, language string) (string, error)
}

// BuildError is one structured diagnostic parsed from build-tool output.
type BuildError struct {
	File     string
	Line     int
	Column   int
	Code     string
	Severity int
	Message  string
}

// BuildReport summarizes one Building-stage run.
type BuildReport struct {
	StagingDir    string
	DocumentCount int
	FilesWritten  int
	Output        string
	Errors        []BuildError
	ErrorsEmitted int
}

// Builder implements the Building stage: aggregate the pipeline's generated
// documents into a staging tree, shell out to the language's build tool, and
// turn high-severity diagnostics into BuilderErrors on the bus.
type Builder struct {
	docs        DocumentLister
	bus         *bus.Coordinator
	stagingRoot string
	runner      BuildRunner
	log         *slog.Logger
}

// NewBuilder wires a Builder with the real shell runner.
func NewBuilder(docs DocumentLister, coordinator *bus.Coordinator, stagingRoot string) *Builder {
	return &Builder{
		docs:        docs,
		bus:         coordinator,
		stagingRoot: stagingRoot,
		runner:      shellRunner{},
		log:         slog.With("component", "builder"),
	}
}

// Run executes the builder contract for one pipeline. An unavailable build
// tool is tolerated: the stage records the staged files and no diagnostics.
func (b *Builder) Run(ctx context.Context, run *Run) (*BuildReport, error) {
	docs, err := b.docs.ListDocuments(ctx, run.Pipeline.ID)
	if err != nil {
		return nil, err
	}
	report := &BuildReport{DocumentCount: len(docs)}
	if len(docs) == 0 {
		b.log.Info("No generated documents to build", "pipeline_id", run.Pipeline.ID)
		return report, nil
	}

	report.StagingDir = filepath.Join(b.stagingRoot, run.Pipeline.ID)
	written, err := stageDocuments(report.StagingDir, docs, run.TargetLanguage)
	if err != nil {
		return report, fmt.Errorf("staging documents: %w", err)
	}
	report.FilesWritten = written

	output, buildErr := b.runner.RunBuild(ctx, report.StagingDir, run.TargetLanguage)
	report.Output = output
	report.Errors = ParseBuildOutput(run.TargetLanguage, output)
	if buildErr != nil && len(report.Errors) == 0 {
		// Tool missing or crashed without diagnostics; not a pipeline failure.
		b.log.Warn("Build tool did not produce diagnostics",
			"pipeline_id", run.Pipeline.ID, "language", run.TargetLanguage, "error", buildErr)
		return report, nil
	}

	for _, diag := range report.Errors {
		if diag.Severity < 8 {
			continue
		}
		if err := b.emitBuilderError(ctx, run, diag); err != nil {
			b.log.Error("Failed to publish build error", "file", diag.File, "error", err)
			continue
		}
		report.ErrorsEmitted++
	}

	b.log.Info("Build finished",
		"pipeline_id", run.Pipeline.ID,
		"files", report.FilesWritten,
		"diagnostics", len(report.Errors),
		"errors_emitted", report.ErrorsEmitted)
	return report, nil
}

func (b *Builder) emitBuilderError(ctx context.Context, run *Run, diag BuildError) error {
	unitName := strings.TrimSuffix(filepath.Base(diag.File), filepath.Ext(diag.File))
	fileName := diag.File
	line := diag.Line
	builderErr := &models.BuilderError{
		ErrorID:          uuid.New().String(),
		ProjectID:        run.Project.ID,
		PipelineID:       run.Pipeline.ID,
		CodeUnitName:     unitName,
		ErrorType:        "CompilationError",
		ErrorMessage:     diag.Message,
		FileName:         &fileName,
		Severity:         diag.Severity,
		RelatedFunctions: []string{},
	}
	if line > 0 {
		builderErr.LineNumber = &line
	}
	_, err := b.bus.SendPriority(ctx, bus.QueueBuilderErrors, builderErr, 8, assignmentTTL)
	return err
}

// stageDocuments writes one source file per code unit, concatenating the
// unit's generated function bodies.
func stageDocuments(dir string, docs []models.CodeDocument, language string) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	byUnit := make(map[string][]models.CodeDocument)
	var order []string
	for _, doc := range docs {
		if _, ok := byUnit[doc.CodeUnitName]; !ok {
			order = append(order, doc.CodeUnitName)
		}
		byUnit[doc.CodeUnitName] = append(byUnit[doc.CodeUnitName], doc)
	}

	ext := designer.ExtensionFor(language)
	written := 0
	for _, unit := range order {
		var content strings.Builder
		for _, doc := range byUnit[unit] {
			content.WriteString(doc.Content)
			content.WriteString("\n\n")
		}
		path := filepath.Join(dir, sanitizeFileName(unit)+ext)
		if err := os.WriteFile(path, []byte(content.String()), 0o644); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

// shellRunner invokes the per-language build tool through the shell.
type shellRunner struct{}

func (shellRunner) RunBuild(ctx context.Context, dir, language string) (string, error) {
	command, ok := buildCommands[designer.NormalizeLanguage(language)]
	if !ok {
		return "", fmt.Errorf("no build tool for language %q", language)
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

var buildCommands = map[string]string{
	"csharp":     "dotnet build",
	"typescript": "npm install && npx tsc",
	"python":     "python -m py_compile *.py",
	"java":       "javac *.java",
}

var (
	csharpDiagPattern = regexp.MustCompile(`(?m)^(.+?)\((\d+),(\d+)\):\s+(error|warning)\s+(CS\d+):\s+(.+)$`)
	tsDiagPattern     = regexp.MustCompile(`(?m)^(.+?)\((\d+),(\d+)\):\s+(error|warning)\s+(TS\d+):\s+(.+)$`)
	javaDiagPattern   = regexp.MustCompile(`(?m)^(.+?):(\d+):\s+(error|warning):\s+(.+)$`)
	pythonDiagPattern = regexp.MustCompile(`(?m)^.*\b(?:SyntaxError|IndentationError)\b.*$`)
)

// ParseBuildOutput extracts structured diagnostics from build-tool output
// using the language's diagnostic format. Errors map to severity 8, warnings
// to severity 4.
func ParseBuildOutput(language, output string) []BuildError {
	switch designer.NormalizeLanguage(language) {
	case "csharp":
		return parseColumnDiags(csharpDiagPattern, output)
	case "typescript":
		return parseColumnDiags(tsDiagPattern, output)
	case "java":
		return parseJavaDiags(output)
	case "python":
		return parsePythonDiags(output)
	default:
		return nil
	}
}

func parseColumnDiags(pattern *regexp.Regexp, output string) []BuildError {
	var diags []BuildError
	for _, m := range pattern.FindAllStringSubmatch(output, -1) {
		line, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		diags = append(diags, BuildError{
			File:     m[1],
			Line:     line,
			Column:   col,
			Code:     m[5],
			Severity: diagSeverity(m[4]),
			Message:  m[6],
		})
	}
	return diags
}

func parseJavaDiags(output string) []BuildError {
	var diags []BuildError
	for _, m := range javaDiagPattern.FindAllStringSubmatch(output, -1) {
		line, _ := strconv.Atoi(m[2])
		diags = append(diags, BuildError{
			File:     m[1],
			Line:     line,
			Severity: diagSeverity(m[3]),
			Message:  m[4],
		})
	}
	return diags
}

func parsePythonDiags(output string) []BuildError {
	var diags []BuildError
	for _, line := range pythonDiagPattern.FindAllString(output, -1) {
		diags = append(diags, BuildError{
			Severity: 8,
			Message:  strings.TrimSpace(line),
		})
	}
	return diags
}

func diagSeverity(kind string) int {
	if kind == "warning" {
		return 4
	}
	return 8
}
