package operations

import (
	"strings"

	"github.com/urfave/cli"
)

////////////////////////////////////////////////////////////////////////
//
// Flag Name Constants

const (
	projectIDFlag    = "project_id"
	variantFlag      = "variant"
	taskNameFlag     = "task_name"
	revisionFlag     = "rev"
	historyFlagName  = "file"
	tagFileFlagName  = "tagFile"
	refTagFlag       = "refTag"
	overrideFileFlag = "overrideFile"
	thresholdsFlag   = "thresholds"
	ndaysFlag        = "ndays"
	outputFlagName   = "out"

	diagPathFlagName   = "path"
	maxThreadLevelFlag = "max-thread-level"
)

////////////////////////////////////////////////////////////////////////
//
// Utility Functions

func joinFlagNames(ids ...string) string { return strings.Join(ids, ", ") }

////////////////////////////////////////////////////////////////////////
//
// Flag Groups

func projectFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.StringFlag{
			Name:  projectIDFlag,
			Usage: "evergreen project the results belong to",
		},
		cli.StringFlag{
			Name:  variantFlag,
			Usage: "build variant the results were produced on",
		},
		cli.StringFlag{
			Name:  taskNameFlag,
			Usage: "name of the task that produced the results",
		})
}

func historyFlags(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		cli.StringFlag{
			Name:  joinFlagNames(historyFlagName, "f"),
			Usage: "path to the history JSON file",
		},
		cli.StringFlag{
			Name:  joinFlagNames(tagFileFlagName, "t"),
			Usage: "path to the tagged baseline history JSON file",
		},
		cli.StringFlag{
			Name:  revisionFlag,
			Usage: "revision under test",
		},
		cli.StringFlag{
			Name:  refTagFlag,
			Usage: "tag of the baseline build to compare against",
		},
		cli.StringFlag{
			Name:  overrideFileFlag,
			Usage: "path to the override JSON file",
		},
		cli.StringFlag{
			Name:  thresholdsFlag,
			Usage: "path to a YAML threshold configuration, replacing the built-in table",
		},
		cli.IntFlag{
			Name:  ndaysFlag,
			Usage: "age in days of the n-days-back reference point",
			Value: 7,
		})
}

func addOutputFlag(flags ...cli.Flag) []cli.Flag {
	return append(flags, cli.StringFlag{
		Name:  joinFlagNames(outputFlagName, "o"),
		Usage: "path for the JSON report",
		Value: "report.json",
	})
}
