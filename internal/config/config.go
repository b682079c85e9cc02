package config

import (
	"fmt"
	"log"
	"os"
	"runtime"
	"strconv"

	"golang.org/x/sys/unix"
)

// Storage modes accepted in VFVS_JOB_STORAGE_MODE.
const (
	StorageS3       = "s3"
	StorageGCS      = "gcs"
	StorageSharedFS = "sharedfs"
	StorageMem      = "mem"
)

type Config struct {
	Worker  WorkerConfig
	Storage StorageConfig
	Perf    PerfConfig
	Log     LogConfig
}

// WorkerConfig identifies the unit of work assigned to this process.
type WorkerConfig struct {
	Workunit string
	Subjob   string

	// ManifestPath points at an extracted work unit manifest and skips the
	// work unit fetch. InputFilesDir then locates the scenario inputs.
	ManifestPath  string
	InputFilesDir string
}

type StorageConfig struct {
	Mode       string
	JobBucket  string
	JobObject  string
	JobTarball string
	Region     string
	Endpoint   string
}

type PerfConfig struct {
	VCPUs        int
	TmpPath      string
	ToolsPath    string
	MinFreeBytes uint64
}

type LogConfig struct {
	Level       string
	Format      string
	MetricsAddr string
}

// Load reads the worker configuration from the environment.
func Load() (Config, error) {
	vcpus, err := parseIntDefault("VFVS_VCPUS", runtime.NumCPU())
	if err != nil {
		return Config{}, err
	}
	minFree, err := parseUintDefault("VFVS_MIN_FREE_BYTES", 1<<30)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Worker: WorkerConfig{
			Workunit:      os.Getenv("VFVS_WORKUNIT"),
			Subjob:        os.Getenv("VFVS_WORKUNIT_SUBJOB"),
			ManifestPath:  os.Getenv("VFVS_MANIFEST"),
			InputFilesDir: os.Getenv("VFVS_INPUT_FILES"),
		},
		Storage: StorageConfig{
			Mode:       os.Getenv("VFVS_JOB_STORAGE_MODE"),
			JobBucket:  os.Getenv("VFVS_CONFIG_JOB_BUCKET"),
			JobObject:  os.Getenv("VFVS_CONFIG_JOB_OBJECT"),
			JobTarball: os.Getenv("VFVS_CONFIG_JOB_TGZ"),
			Region:     os.Getenv("VFVS_AWS_REGION"),
			Endpoint:   os.Getenv("VFVS_S3_ENDPOINT"),
		},
		Perf: PerfConfig{
			VCPUs:        vcpus,
			TmpPath:      getenvDefault("VFVS_TMP_PATH", os.TempDir()),
			ToolsPath:    getenvDefault("VFVS_TOOLS_PATH", "/opt/vf/tools/bin"),
			MinFreeBytes: minFree,
		},
		Log: LogConfig{
			Level:       getenvDefault("VFVS_LOGLEVEL", "info"),
			Format:      getenvDefault("VFVS_LOG_FORMAT", "text"),
			MetricsAddr: os.Getenv("VFVS_METRICS_ADDR"),
		},
	}

	return cfg, nil
}

// MustLoad loads the configuration and exits on error.
func MustLoad() Config {
	log.Println("[config] loading")

	cfg, err := Load()
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

// Validate checks the fields every run needs.
func (c Config) Validate() error {
	if c.Worker.Workunit == "" || c.Worker.Subjob == "" {
		return fmt.Errorf("VFVS_WORKUNIT and VFVS_WORKUNIT_SUBJOB are required")
	}
	if c.Perf.VCPUs < 1 {
		return fmt.Errorf("VFVS_VCPUS must be positive, got %d", c.Perf.VCPUs)
	}

	switch c.Storage.Mode {
	case StorageS3, StorageGCS, StorageMem:
		if c.Worker.ManifestPath == "" && (c.Storage.JobBucket == "" || c.Storage.JobObject == "") {
			return fmt.Errorf("VFVS_CONFIG_JOB_BUCKET and VFVS_CONFIG_JOB_OBJECT are required in %s mode", c.Storage.Mode)
		}
	case StorageSharedFS:
		if c.Worker.ManifestPath == "" && c.Storage.JobTarball == "" {
			return fmt.Errorf("VFVS_CONFIG_JOB_TGZ is required in sharedfs mode")
		}
	default:
		return fmt.Errorf("invalid VFVS_JOB_STORAGE_MODE %q: must be s3, gcs or sharedfs", c.Storage.Mode)
	}

	if c.Worker.ManifestPath != "" && c.Worker.InputFilesDir == "" {
		return fmt.Errorf("VFVS_INPUT_FILES is required with VFVS_MANIFEST")
	}
	return nil
}

// ObjectStore reports whether collections and results live in an object store.
func (c Config) ObjectStore() bool {
	return c.Storage.Mode != StorageSharedFS
}

// CheckFreeSpace returns the bytes available to unprivileged users at path
// and fails when fewer than min are free.
func CheckFreeSpace(path string, min uint64) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	free := uint64(st.Bavail) * uint64(st.Bsize)
	if free < min {
		return free, fmt.Errorf("only %d bytes free in %s, need at least %d", free, path, min)
	}
	return free, nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseIntDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	return parsed, nil
}

func parseUintDefault(key string, def uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	parsed, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	return parsed, nil
}
