package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velopt-ml/velopt/options"
)

func resetFlags() {
	sharedLibraryPath = ""
	modelsDir = ""
	ignoreAccelerators = ""
	quantizations = "none"
	metricDropThreshold = 0
	searchMode = string(options.ModeConstrained)
	benchmarkRounds = 30
	warmupRounds = 5
	useCuda = false
	useTensorRT = false
	useOpenVINO = false
	useCoreML = false
	directMLDevice = -1
	dataPath = ""
}

func TestSessionOptions(t *testing.T) {
	resetFlags()
	useCuda = true
	ignoreAccelerators = "openvino,coreml"
	metricDropThreshold = 0.02
	quantizations = "none,half"

	opts, err := sessionOptions()
	require.NoError(t, err)

	o := options.Defaults()
	o.Backend = "ORT"
	for _, opt := range opts {
		require.NoError(t, opt(o))
	}
	assert.NotNil(t, o.ORTOptions.CudaOptions)
	assert.Nil(t, o.ORTOptions.TensorRTOptions)
	assert.Nil(t, o.ORTOptions.DirectMLOptions, "directml stays off unless a device is given")
	assert.Equal(t, []string{"openvino", "coreml"}, o.SearchOptions.IgnoredAccelerators)
	assert.Equal(t, 0.02, o.SearchOptions.MetricDropThreshold)
	assert.Len(t, o.SearchOptions.Quantizations, 2)
}

func TestSessionOptionsEnablesPlatformAccelerators(t *testing.T) {
	resetFlags()
	useCoreML = true
	directMLDevice = 1

	opts, err := sessionOptions()
	require.NoError(t, err)

	o := options.Defaults()
	o.Backend = "ORT"
	for _, opt := range opts {
		require.NoError(t, opt(o))
	}
	assert.NotNil(t, o.ORTOptions.CoreMLOptions)
	require.NotNil(t, o.ORTOptions.DirectMLOptions)
	assert.Equal(t, 1, *o.ORTOptions.DirectMLOptions)
}

func TestSessionOptionsRejectsUnknownQuantization(t *testing.T) {
	resetFlags()
	quantizations = "int4"
	_, err := sessionOptions()
	assert.Error(t, err)
}

func TestModelsDirectory(t *testing.T) {
	resetFlags()
	modelsDir = filepath.Join("some", "dir")
	dir, err := modelsDirectory()
	require.NoError(t, err)
	assert.Equal(t, modelsDir, dir)

	modelsDir = ""
	dir, err = modelsDirectory()
	require.NoError(t, err)
	assert.Contains(t, dir, filepath.Join("velopt", "models"))
}
