// Command kanbuild runs the offline resource build graph against a project
// definition and prints a one-line summary, exiting with the status code
// the build produced.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alexflint/go-arg"

	"github.com/KonstantinTomashevich/Kan-sub009/resourcebuild"
	"github.com/KonstantinTomashevich/Kan-sub009/telemetry"
)

type cliArgs struct {
	Project string   `arg:"positional,required" help:"path to the project definition YAML"`
	Schema  string   `arg:"--schema,required" help:"path to the resource struct schema YAML"`
	Targets []string `arg:"--target,separate" help:"target to build (repeatable); empty builds every declared target"`
	Pack    bool     `arg:"--pack" help:"concatenate deploy outputs into a packed container"`
	Verbose int      `arg:"-v,--verbose" help:"log verbosity level"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var args cliArgs
	arg.MustParse(&args)

	logger := telemetry.NewDefaultLogger()

	project, err := loadProject(args.Project)
	if err != nil {
		logger.Error("kanbuild: loading project failed", "err", err)
		return 2
	}
	registry, err := loadRegistry(args.Schema)
	if err != nil {
		logger.Error("kanbuild: loading schema failed", "err", err)
		return 2
	}

	result := resourcebuild.Build(context.Background(), resourcebuild.Setup{
		Project:        project,
		Registry:       registry,
		TargetsToBuild: args.Targets,
		Pack:           args.Pack,
		LogVerbosity:   args.Verbose,
	})

	fmt.Printf("kanbuild: %s (built=%d skipped=%d failed=%d)\n",
		result.Status, result.BuiltUnits, result.SkippedUnits, len(result.FailedUnits))
	if result.Err != nil {
		logger.Error("kanbuild: build reported errors", "err", result.Err)
	}

	switch result.Status {
	case resourcebuild.Success:
		return 0
	case resourcebuild.PartialFailure:
		return 1
	default:
		return 2
	}
}
