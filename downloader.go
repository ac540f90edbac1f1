//go:build !NODOWNLOAD

package velopt

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	hfd "github.com/bodaay/HuggingFaceModelDownloader/hfdownloader"

	"github.com/velopt-ml/velopt/util"
)

// DownloadOptions is a struct of options that can be passed to DownloadModel.
type DownloadOptions struct {
	AuthToken             string
	Branch                string
	MaxRetries            int
	RetryInterval         int
	ConcurrentConnections int
	Verbose               bool
}

// NewDownloadOptions creates new DownloadOptions struct with default values.
// Override the values to specify different download options.
func NewDownloadOptions() DownloadOptions {
	d := DownloadOptions{}
	d.Branch = "main"
	d.MaxRetries = 5
	d.RetryInterval = 5
	d.ConcurrentConnections = 5
	return d
}

// DownloadModel downloads a model directly from the huggingface hub into
// destination and returns the local model path. The downloaded model must
// contain an .onnx file, the optimization search only works with onnx
// models.
func (s *Session) DownloadModel(modelName string, destination string, options DownloadOptions) (string, error) {
	// replicates the path logic of the hf downloader
	modelP := modelName
	if strings.Contains(modelP, ":") {
		modelP = strings.Split(modelName, ":")[0]
	}
	modelPath := path.Join(destination, strings.Replace(modelP, "/", "_", -1))

	var downloadErr error
	for i := 0; i < options.MaxRetries; i++ {
		downloadErr = hfd.DownloadModel(modelName, false, false, false, destination, options.Branch, options.ConcurrentConnections, options.AuthToken, !options.Verbose)
		if downloadErr != nil {
			if options.Verbose {
				fmt.Printf("Warning: attempt %d / %d failed, error: %s\n", i+1, options.MaxRetries, downloadErr)
			}
			time.Sleep(time.Duration(options.RetryInterval) * time.Second)
			continue
		}
		if err := validateDownloadedModel(modelPath); err != nil {
			return "", err
		}
		if options.Verbose {
			fmt.Printf("\nDownload of %s completed successfully\n", modelName)
		}
		return modelPath, nil
	}
	return "", fmt.Errorf("failed to download %s after %d attempts: %w", modelName, options.MaxRetries, downloadErr)
}

func validateDownloadedModel(modelPath string) error {
	hasOnnx := false
	walker := func(_ context.Context, _ string, _ string, info os.FileInfo, _ io.Reader) (toContinue bool, err error) {
		if strings.HasSuffix(info.Name(), ".onnx") {
			hasOnnx = true
			return false, nil
		}
		return true, nil
	}
	if err := util.WalkDir()(context.Background(), modelPath, walker); err != nil {
		return err
	}
	if !hasOnnx {
		return fmt.Errorf("model downloaded at %s does not contain an .onnx file, only onnx models can be optimized", modelPath)
	}
	return nil
}
