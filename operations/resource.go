package operations

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/evergreen-ci/perfcheck/model"
	"github.com/evergreen-ci/perfcheck/resource"
	"github.com/evergreen-ci/perfcheck/util"
	"github.com/mongodb/grip"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

// Resource returns the perfcheck resource sub-command, which evaluates the
// resource sanity rules over a directory of FTDC diagnostic files.
func Resource() cli.Command {
	return cli.Command{
		Name:  "resource",
		Usage: "evaluate resource rules over diagnostic data files",
		Flags: addOutputFlag(projectFlags(
			cli.StringFlag{
				Name:  diagPathFlagName,
				Usage: "diagnostic data file or directory of diagnostic data files",
			},
			cli.IntFlag{
				Name:  maxThreadLevelFlag,
				Usage: "highest thread level the workload ran at, bounding the connection check",
			})...),
		Before: mergeBeforeFuncs(
			requireStringFlag(projectIDFlag),
			requireStringFlag(variantFlag),
		),
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			paths, err := collectDiagnosticFiles(c.String(diagPathFlagName))
			if err != nil {
				return errors.WithStack(err)
			}

			engine := resource.NewEngine(
				c.String(projectIDFlag),
				c.String(variantFlag),
				c.Int(maxThreadLevelFlag),
			)
			passed, log := engine.EvaluateAll(ctx, paths)

			status := model.StatusPass
			if !passed {
				status = model.StatusFail
			}
			result := model.TestResult{
				TestFile: c.String(taskNameFlag),
				Status:   status,
				LogRaw:   log,
			}
			report := &model.Report{Results: []model.TestResult{}}
			report.AddResult(result)

			if err := util.WriteJSON(c.String(outputFlagName), report); err != nil {
				return errors.Wrap(err, "problem writing report")
			}

			grip.Info(log)
			if !passed {
				return errors.New("resource checks failed")
			}

			return nil
		},
	}
}

// collectDiagnosticFiles expands a path into the list of diagnostic files
// to evaluate. A missing or empty path yields no files, which the engine
// treats as a pass.
func collectDiagnosticFiles(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		grip.Infof("diagnostic path %s does not exist", path)
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "problem inspecting %s", path)
	}

	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrapf(err, "problem listing %s", path)
	}

	paths := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(path, entry.Name()))
	}
	sort.Strings(paths)

	return paths, nil
}
