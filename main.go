// Command splatclean removes floaters and noise from 3D Gaussian Splatting
// point clouds while keeping every surviving record bit-identical.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	flagDebug   = "debug"
	flagPresets = "presets"

	flagPreset      = "preset"
	flagSavePreset  = "save-preset"
	flagGSMode      = "gs-mode"
	flagRevertEmpty = "revert-empty"
	flagPreview     = "preview"
	flagIndex       = "index"
	flagWorkers     = "workers"

	flagDBSCAN    = "dbscan"
	flagEps       = "eps"
	flagMinPoints = "min-points"

	flagRadiusOutlier = "radius-outlier"
	flagRadiusNb      = "radius-nb"
	flagRadius        = "radius"

	flagStatOutlier = "stat-outlier"
	flagStatNb      = "stat-nb"
	flagStatStd     = "stat-std"

	flagCrop = "crop"
	flagMinX = "min-x"
	flagMinY = "min-y"
	flagMinZ = "min-z"
	flagMaxX = "max-x"
	flagMaxY = "max-y"
	flagMaxZ = "max-z"

	flagVoxel = "voxel"

	flagSampleSize = "sample-size"
	flagSeed       = "seed"
)

func newApp(stdin io.Reader, stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:            "splatclean",
		Usage:           "clean 3D Gaussian Splatting point clouds without touching the splat attributes",
		HideHelpCommand: true,
		Reader:          stdin,
		Writer:          stdout,
		ErrWriter:       stderr,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.PathFlag{
				Name:  flagPresets,
				Value: defaultPresetsPath(),
				Usage: "presets and profile `FILE`",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "clean",
				Usage:     "run the cleaning stages and write a GS-safe PLY",
				ArgsUsage: "<input.ply> <output.ply>",
				Flags:     cleanFlags(),
				Action:    cleanAction,
			},
			{
				Name:      "suggest",
				Usage:     "estimate stage parameters from nearest neighbor distances",
				ArgsUsage: "<input.ply>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagSampleSize,
						Value: 20000,
						Usage: "number of sampled points",
					},
					&cli.Int64Flag{
						Name:  flagSeed,
						Usage: "random seed of the sampler",
					},
				},
				Action: suggestAction,
			},
			{
				Name:      "info",
				Usage:     "print the layout and bounds of a PLY file",
				ArgsUsage: "<input.ply>",
				Action:    infoAction,
			},
			{
				Name:   "presets",
				Usage:  "list saved presets",
				Action: listPresetsAction,
				Subcommands: []*cli.Command{
					{
						Name:      "delete",
						Usage:     "delete a preset",
						ArgsUsage: "<name>",
						Action:    deletePresetAction,
					},
				},
			},
			{
				Name:      "console",
				Usage:     "clean interactively",
				ArgsUsage: "<input.ply>",
				Action:    consoleAction,
			},
		},
	}
}

func cleanFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: flagPreset, Usage: "load stages from a saved preset"},
		&cli.StringFlag{Name: flagSavePreset, Usage: "save the stages as a preset"},
		&cli.BoolFlag{Name: flagGSMode, Value: true, Usage: "refuse operations that break the record mapping"},
		&cli.BoolFlag{Name: flagRevertEmpty, Value: true, Usage: "skip stages that would remove every point"},
		&cli.PathFlag{Name: flagPreview, Usage: "also write a colored PCD preview to `FILE`"},
		&cli.StringFlag{Name: flagIndex, Value: "default", Usage: "spatial index: default, kdtree, pctree or bruteforce"},
		&cli.IntFlag{Name: flagWorkers, Usage: "parallel neighbor query workers (0: all CPUs)"},

		&cli.BoolFlag{Name: flagDBSCAN, Usage: "keep the largest DBSCAN cluster"},
		&cli.Float64Flag{Name: flagEps, Value: 1.5, Usage: "DBSCAN neighborhood radius"},
		&cli.IntFlag{Name: flagMinPoints, Value: 50, Usage: "DBSCAN core point threshold"},

		&cli.BoolFlag{Name: flagRadiusOutlier, Usage: "apply radius outlier removal"},
		&cli.IntFlag{Name: flagRadiusNb, Value: defaultRadiusNb, Usage: "radius outlier minimum neighbors"},
		&cli.Float64Flag{Name: flagRadius, Value: defaultRadius, Usage: "radius outlier radius"},

		&cli.BoolFlag{Name: flagStatOutlier, Usage: "apply statistical outlier removal"},
		&cli.IntFlag{Name: flagStatNb, Value: defaultStatK, Usage: "statistical outlier neighbors"},
		&cli.Float64Flag{Name: flagStatStd, Value: defaultStatStdRatio, Usage: "statistical outlier standard deviation ratio"},

		&cli.BoolFlag{Name: flagCrop, Usage: "apply axis aligned crop"},
		&cli.Float64Flag{Name: flagMinX, Usage: "crop min x"},
		&cli.Float64Flag{Name: flagMinY, Usage: "crop min y"},
		&cli.Float64Flag{Name: flagMinZ, Usage: "crop min z"},
		&cli.Float64Flag{Name: flagMaxX, Usage: "crop max x"},
		&cli.Float64Flag{Name: flagMaxY, Usage: "crop max y"},
		&cli.Float64Flag{Name: flagMaxZ, Usage: "crop max z"},

		&cli.Float64Flag{Name: flagVoxel, Usage: "voxel downsample leaf size, refused in GS mode (0: off)"},
	}
}

func main() {
	if err := newApp(os.Stdin, os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
