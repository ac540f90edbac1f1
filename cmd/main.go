package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/velopt-ml/velopt"
	"github.com/velopt-ml/velopt/backends"
	"github.com/velopt-ml/velopt/benchmark"
	"github.com/velopt-ml/velopt/data"
	"github.com/velopt-ml/velopt/options"
	"github.com/velopt-ml/velopt/quantization"
	"github.com/velopt-ml/velopt/util"
)

var modelPath string
var onnxFilename string
var outputPath string
var sharedLibraryPath string
var modelsDir string
var ignoreAccelerators string
var quantizations string
var metricDropThreshold float64
var searchMode string
var batchSize int
var sampleCount int
var benchmarkRounds int
var warmupRounds int
var dataPath string
var useCuda bool
var useTensorRT bool
var useOpenVINO bool
var useCoreML bool
var directMLDevice int

func sharedFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Model name or path to the directory with the .onnx model",
			Aliases:     []string{"p"},
			Destination: &modelPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "onnxFilename",
			Usage:       "Name of the .onnx file, needed when the model directory holds several",
			Destination: &onnxFilename,
		},
		&cli.StringFlag{
			Name:        "onnxruntimeSharedLibrary",
			Usage:       "Path to onnxruntime.so",
			Aliases:     []string{"s"},
			Destination: &sharedLibraryPath,
		},
		&cli.StringFlag{
			Name:        "modelFolder",
			Usage:       "Folder where to store downloaded models. Falls back to $HOME/velopt/models if not specified",
			Aliases:     []string{"f"},
			Destination: &modelsDir,
		},
		&cli.IntFlag{
			Name:        "rounds",
			Usage:       "Number of timed inference runs per candidate",
			Destination: &benchmarkRounds,
			Value:       30,
		},
		&cli.IntFlag{
			Name:        "warmup",
			Usage:       "Number of untimed inference runs before measurement",
			Destination: &warmupRounds,
			Value:       5,
		},
		&cli.IntFlag{
			Name:        "batchSize",
			Usage:       "Batch size of the generated input samples",
			Aliases:     []string{"b"},
			Destination: &batchSize,
			Value:       1,
		},
		&cli.IntFlag{
			Name:        "samples",
			Usage:       "Number of generated input samples",
			Destination: &sampleCount,
			Value:       20,
		},
	}
}

var optimizeCommand = &cli.Command{
	Name:  "optimize",
	Usage: "Search for the fastest accelerated version of an onnx model",
	Description: `Optimize compiles the model for every available accelerator, measures the latency of each candidate
					and writes a report about the search. The fastest candidate that stays within the accepted output
					drift wins. Accelerators are enabled with the --cuda, --tensorrt and --openvino flags and excluded
					with --ignore.`,
	Flags: append(sharedFlags(),
		&cli.StringFlag{
			Name:        "output",
			Usage:       "Path to write the optimization report to. If omitted, the report is written to stdout",
			Aliases:     []string{"o"},
			Destination: &outputPath,
		},
		&cli.StringFlag{
			Name:        "ignore",
			Usage:       "Comma separated accelerator names to exclude from the search",
			Destination: &ignoreAccelerators,
		},
		&cli.StringFlag{
			Name:        "quantization",
			Usage:       "Comma separated precision variants to search (none, half, static_int8)",
			Aliases:     []string{"q"},
			Destination: &quantizations,
			Value:       "none",
		},
		&cli.Float64Flag{
			Name:        "metricDropThreshold",
			Usage:       "Maximum accepted output drift of reduced-precision candidates",
			Destination: &metricDropThreshold,
		},
		&cli.StringFlag{
			Name:        "mode",
			Usage:       "Search mode: constrained or unconstrained",
			Destination: &searchMode,
			Value:       string(options.ModeConstrained),
		},
		&cli.BoolFlag{
			Name:        "cuda",
			Usage:       "Include the CUDA accelerator in the search",
			Destination: &useCuda,
		},
		&cli.BoolFlag{
			Name:        "tensorrt",
			Usage:       "Include the TensorRT accelerator in the search",
			Destination: &useTensorRT,
		},
		&cli.BoolFlag{
			Name:        "openvino",
			Usage:       "Include the OpenVINO accelerator in the search",
			Destination: &useOpenVINO,
		},
		&cli.BoolFlag{
			Name:        "coreml",
			Usage:       "Include the CoreML accelerator in the search (darwin only)",
			Destination: &useCoreML,
		},
		&cli.IntFlag{
			Name:        "directml",
			Usage:       "Include the DirectML accelerator in the search on the given device ID (windows only)",
			Destination: &directMLDevice,
			Value:       -1,
		},
		&cli.StringFlag{
			Name:        "data",
			Usage:       "Path to a jsonl file of representative input samples, one sample per line. Random samples are generated when omitted",
			Aliases:     []string{"d"},
			Destination: &dataPath,
		},
	),
	Action: func(ctx *cli.Context) error {
		opts, err := sessionOptions()
		if err != nil {
			return err
		}

		session, err := velopt.NewORTSession(opts...)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, session.Destroy())
		}()

		resolvedPath, err := resolveModelPath(session)
		if err != nil {
			return err
		}

		optimized, err := session.Optimize(ctx.Context, velopt.OptimizeConfig{
			ModelPath:    resolvedPath,
			OnnxFilename: onnxFilename,
			DataPath:     dataPath,
			BatchSize:    batchSize,
			SampleCount:  sampleCount,
		})
		if err != nil {
			return err
		}
		return writeReport(optimized.Report)
	},
}

var benchmarkCommand = &cli.Command{
	Name:  "benchmark",
	Usage: "Measure the baseline latency of an onnx model",
	Flags: sharedFlags(),
	Action: func(ctx *cli.Context) error {
		opts := []options.WithOption{}
		if sharedLibraryPath != "" {
			opts = append(opts, options.WithOnnxLibraryPath(sharedLibraryPath))
		}
		session, err := velopt.NewORTSession(opts...)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, session.Destroy())
		}()

		resolvedPath, err := resolveModelPath(session)
		if err != nil {
			return err
		}
		model, err := backends.LoadModel(resolvedPath, onnxFilename)
		if err != nil {
			return err
		}
		if err := backends.LoadModelMeta(model, "ORT"); err != nil {
			return err
		}
		manager, err := data.Random(model.InputsMeta, batchSize, sampleCount, 0)
		if err != nil {
			return err
		}
		candidate, err := backends.NewORTCandidate(model, nil, "", nil)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, candidate.Destroy())
		}()

		result, err := benchmark.Measure(ctx.Context, candidate, manager.Get(manager.Len()), warmupRounds, benchmarkRounds)
		if err != nil {
			return err
		}
		fmt.Printf("rounds: %d\nmedian: %s\nmean:   %s\np95:    %s\nmin:    %s\nmax:    %s\n",
			result.Rounds, result.Median, result.Mean, result.P95, result.Min, result.Max)
		return err
	},
}

var downloadCommand = &cli.Command{
	Name:  "download",
	Usage: "Download an onnx model from the huggingface hub",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Model name to download",
			Aliases:     []string{"p"},
			Destination: &modelPath,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "modelFolder",
			Usage:       "Folder where to store downloaded models. Falls back to $HOME/velopt/models if not specified",
			Aliases:     []string{"f"},
			Destination: &modelsDir,
		},
	},
	Action: func(_ *cli.Context) error {
		session, err := velopt.NewGoSession()
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, session.Destroy())
		}()

		destination, err := modelsDirectory()
		if err != nil {
			return err
		}
		if err := util.CreateFile(destination, true); err != nil {
			return err
		}
		downloadOptions := velopt.NewDownloadOptions()
		downloadOptions.Verbose = true
		downloaded, err := session.DownloadModel(modelPath, destination, downloadOptions)
		if err != nil {
			return err
		}
		fmt.Printf("downloaded model to %s\n", downloaded)
		return err
	},
}

func main() {
	app := &cli.App{
		Name:     "velopt",
		Usage:    "Search for the fastest way to run your onnx model",
		Commands: []*cli.Command{optimizeCommand, benchmarkCommand, downloadCommand},
	}
	if err := app.Run(os.Args); err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

func sessionOptions() ([]options.WithOption, error) {
	var opts []options.WithOption
	if sharedLibraryPath != "" {
		opts = append(opts, options.WithOnnxLibraryPath(sharedLibraryPath))
	}
	if useCuda {
		opts = append(opts, options.WithCuda(nil))
	}
	if useTensorRT {
		opts = append(opts, options.WithTensorRT(nil))
	}
	if useOpenVINO {
		opts = append(opts, options.WithOpenVINO(nil))
	}
	if useCoreML {
		opts = append(opts, options.WithCoreML(nil))
	}
	if directMLDevice >= 0 {
		opts = append(opts, options.WithDirectML(directMLDevice))
	}
	if ignoreAccelerators != "" {
		opts = append(opts, options.WithIgnoredAccelerators(strings.Split(ignoreAccelerators, ",")...))
	}
	if metricDropThreshold > 0 {
		opts = append(opts, options.WithMetricDropThreshold(metricDropThreshold))
	}
	if quantizations != "" {
		var types []quantization.Type
		for _, raw := range strings.Split(quantizations, ",") {
			parsed, err := quantization.Parse(raw)
			if err != nil {
				return nil, err
			}
			types = append(types, parsed)
		}
		opts = append(opts, options.WithQuantizations(types...))
	}
	opts = append(opts,
		options.WithSearchMode(options.SearchMode(searchMode)),
		options.WithBenchmarkRounds(benchmarkRounds),
		options.WithWarmupRounds(warmupRounds),
	)
	return opts, nil
}

// resolveModelPath looks for models with this chain: first use the provided
// path. If the path does not exist, look for a previously downloaded model
// with this name in the model folder. Finally, try to download the model
// from the huggingface hub.
func resolveModelPath(session *velopt.Session) (string, error) {
	exists, err := util.FileExists(modelPath)
	if err != nil {
		return "", err
	}
	if exists {
		return modelPath, nil
	}

	destination, err := modelsDirectory()
	if err != nil {
		return "", err
	}
	downloadedModelName := strings.Replace(modelPath, "/", "_", -1)
	downloadedModelPath := util.PathJoinSafe(destination, downloadedModelName)
	exists, err = util.FileExists(downloadedModelPath)
	if err != nil {
		return "", err
	}
	if exists {
		return downloadedModelPath, nil
	}

	if strings.Contains(modelPath, ":") {
		return "", fmt.Errorf("filters with : are currently not supported")
	}
	if err := util.CreateFile(destination, true); err != nil {
		return "", err
	}
	return session.DownloadModel(modelPath, destination, velopt.NewDownloadOptions())
}

func modelsDirectory() (string, error) {
	if modelsDir != "" {
		return modelsDir, nil
	}
	userDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return util.PathJoinSafe(userDir, "velopt", "models"), nil
}

func writeReport(report *velopt.OptimizationReport) error {
	if outputPath != "" {
		payload, err := report.JSON(false)
		if err != nil {
			return err
		}
		writer, err := util.NewFileWriter(outputPath, "application/json")
		if err != nil {
			return err
		}
		_, err = writer.Write(append(payload, '\n'))
		return errors.Join(err, writer.Close())
	}

	// pretty-print on a terminal, compact when piped
	pretty := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	payload, err := report.JSON(pretty)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(payload, '\n'))
	return err
}
