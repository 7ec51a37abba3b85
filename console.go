package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/seqsense/pcgol/mat"

	"github.com/seqsense/splatclean/cloud"
	"github.com/seqsense/splatclean/pipeline"
)

type console struct {
	cmd *commandContext
}

var (
	errArgumentNumber = errors.New("invalid number of arguments")
	errInvalidCommand = errors.New("invalid command")
	errNothingToUndo  = errors.New("nothing to undo")
)

type consoleFunc func(ctx context.Context, cmd *commandContext, args []float64) ([][]float64, error)

func stageResult(res *pipeline.StageResult) [][]float64 {
	return [][]float64{{float64(res.Report.Before), float64(res.Report.After)}}
}

var consoleCommands = map[string]consoleFunc{
	"points": func(_ context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		if len(args) != 0 {
			return nil, errArgumentNumber
		}
		return [][]float64{{float64(cmd.PointCloud().Len())}}, nil
	},
	"bounds": func(_ context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		if len(args) != 0 {
			return nil, errArgumentNumber
		}
		min, max, err := cmd.Bounds()
		if err != nil {
			return nil, err
		}
		return [][]float64{
			{float64(min[0]), float64(min[1]), float64(min[2])},
			{float64(max[0]), float64(max[1]), float64(max[2])},
		}, nil
	},
	"cluster_param": func(_ context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		switch len(args) {
		case 0:
		case 2:
			if err := cmd.SetClusterParam(float32(args[0]), int(args[1])); err != nil {
				return nil, err
			}
		default:
			return nil, errArgumentNumber
		}
		eps, minPoints := cmd.ClusterParam()
		return [][]float64{{float64(eps), float64(minPoints)}}, nil
	},
	"cluster": func(ctx context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		switch len(args) {
		case 0:
		case 2:
			if err := cmd.SetClusterParam(float32(args[0]), int(args[1])); err != nil {
				return nil, err
			}
		default:
			return nil, errArgumentNumber
		}
		res, err := cmd.Cluster(ctx)
		if err != nil {
			return nil, err
		}
		return stageResult(res), nil
	},
	"radius": func(ctx context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		switch len(args) {
		case 0:
			args = []float64{defaultRadius, defaultRadiusNb}
		case 2:
		default:
			return nil, errArgumentNumber
		}
		res, err := cmd.RadiusOutlier(ctx, float32(args[0]), int(args[1]))
		if err != nil {
			return nil, err
		}
		return stageResult(res), nil
	},
	"stat": func(ctx context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		switch len(args) {
		case 0:
			args = []float64{defaultStatK, defaultStatStdRatio}
		case 2:
		default:
			return nil, errArgumentNumber
		}
		res, err := cmd.StatisticalOutlier(ctx, int(args[0]), args[1])
		if err != nil {
			return nil, err
		}
		return stageResult(res), nil
	},
	"crop": func(ctx context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		if len(args) != 6 {
			return nil, errArgumentNumber
		}
		res, err := cmd.Crop(ctx,
			mat.Vec3{float32(args[0]), float32(args[1]), float32(args[2])},
			mat.Vec3{float32(args[3]), float32(args[4]), float32(args[5])},
		)
		if err != nil {
			return nil, err
		}
		return stageResult(res), nil
	},
	"voxel": func(ctx context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		if len(args) != 1 {
			return nil, errArgumentNumber
		}
		res, err := cmd.Voxel(ctx, float32(args[0]))
		if err != nil {
			return nil, err
		}
		return stageResult(res), nil
	},
	"undo": func(_ context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		if len(args) != 0 {
			return nil, errArgumentNumber
		}
		if !cmd.Undo() {
			return nil, errNothingToUndo
		}
		return [][]float64{{float64(cmd.PointCloud().Len())}}, nil
	},
	"reset": func(_ context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		if len(args) != 0 {
			return nil, errArgumentNumber
		}
		cmd.Reset()
		return [][]float64{{float64(cmd.PointCloud().Len())}}, nil
	},
	"gsmode": func(_ context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		switch len(args) {
		case 0:
		case 1:
			if err := cmd.SetGSMode(args[0] != 0); err != nil {
				return nil, err
			}
		default:
			return nil, errArgumentNumber
		}
		if cmd.GSMode() {
			return [][]float64{{1}}, nil
		}
		return [][]float64{{0}}, nil
	},
	"suggest": func(ctx context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		if len(args) != 0 {
			return nil, errArgumentNumber
		}
		s, err := cmd.Suggest(ctx)
		if err != nil {
			return nil, err
		}
		return [][]float64{{float64(s.Radius), float64(s.Eps), float64(s.MinPoints)}}, nil
	},
	"flip_x": func(_ context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		return orient(cmd, cloud.FlipX180, args)
	},
	"swap_yz": func(_ context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		return orient(cmd, cloud.SwapYZ, args)
	},
	"auto_orient": func(_ context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		switch len(args) {
		case 0:
		case 1:
			if err := cmd.SetAutoOrientation(args[0] != 0); err != nil {
				return nil, err
			}
		default:
			return nil, errArgumentNumber
		}
		if cmd.store.Profile.AutoOrientation {
			return [][]float64{{1}}, nil
		}
		return [][]float64{{0}}, nil
	},
	"save_profile": func(_ context.Context, cmd *commandContext, args []float64) ([][]float64, error) {
		var auto bool
		switch len(args) {
		case 0:
		case 1:
			auto = args[0] != 0
		default:
			return nil, errArgumentNumber
		}
		return nil, cmd.SaveProfile(auto)
	},
}

// orient applies o to CURRENT and returns the point count.
// A non-zero argument saves o as the default orientation.
func orient(cmd *commandContext, o cloud.Orientation, args []float64) ([][]float64, error) {
	var save bool
	switch len(args) {
	case 0:
	case 1:
		save = args[0] != 0
	default:
		return nil, errArgumentNumber
	}
	s, err := cmd.Orient(o, save)
	if err != nil {
		return nil, err
	}
	return [][]float64{{float64(s.Len())}}, nil
}

var fileCommands = map[string]func(cmd *commandContext, path string) error{
	"save":    (*commandContext).Save,
	"preview": (*commandContext).SavePreview,
}

func (c *console) Run(ctx context.Context, line string) (string, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return "", nil
	}
	if fn, ok := fileCommands[args[0]]; ok {
		if len(args) != 2 {
			return "", errArgumentNumber
		}
		return "", fn(c.cmd, args[1])
	}
	fn, ok := consoleCommands[args[0]]
	if !ok {
		return "", errInvalidCommand
	}
	var argsFloat []float64
	for i := 1; i < len(args); i++ {
		f, err := strconv.ParseFloat(args[i], 64)
		if err != nil {
			return "", err
		}
		argsFloat = append(argsFloat, f)
	}
	res, err := fn(ctx, c.cmd, argsFloat)
	if err != nil {
		return "", err
	}
	var resStr []string
	for _, vv := range res {
		var resLine []string
		for _, v := range vv {
			resLine = append(resLine, formatValue(v))
		}
		resStr = append(resStr, strings.Join(resLine, " "))
	}
	return strings.Join(resStr, "\n"), nil
}

func formatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 32)
}

// Serve reads commands line by line until EOF or "quit".
func (c *console) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	for {
		fmt.Fprint(w, "> ")
		if !sc.Scan() {
			fmt.Fprintln(w)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "quit" || line == "exit" {
			return nil
		}
		out, err := c.Run(ctx, line)
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			continue
		}
		if out != "" {
			fmt.Fprintln(w, out)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}
