package config

import (
	"testing"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("VFVS_WORKUNIT", "12")
	t.Setenv("VFVS_WORKUNIT_SUBJOB", "3")
	t.Setenv("VFVS_JOB_STORAGE_MODE", "s3")
	t.Setenv("VFVS_CONFIG_JOB_BUCKET", "jobs")
	t.Setenv("VFVS_CONFIG_JOB_OBJECT", "vs1/input/tasks/12.tar.gz")
	t.Setenv("VFVS_VCPUS", "16")
	t.Setenv("VFVS_TOOLS_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Perf.VCPUs != 16 {
		t.Errorf("VCPUs = %d", cfg.Perf.VCPUs)
	}
	if cfg.Perf.ToolsPath != "/opt/vf/tools/bin" {
		t.Errorf("ToolsPath default = %q", cfg.Perf.ToolsPath)
	}
	if cfg.Perf.MinFreeBytes != 1<<30 {
		t.Errorf("MinFreeBytes default = %d", cfg.Perf.MinFreeBytes)
	}
	if !cfg.ObjectStore() {
		t.Error("s3 mode should use the object store")
	}
}

func TestLoadRejectsBadNumber(t *testing.T) {
	t.Setenv("VFVS_VCPUS", "many")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric VFVS_VCPUS")
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Worker:  WorkerConfig{Workunit: "1", Subjob: "0"},
		Storage: StorageConfig{Mode: StorageSharedFS, JobTarball: "/shared/tasks/1.tar.gz"},
		Perf:    PerfConfig{VCPUs: 2},
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid sharedfs", func(c *Config) {}, false},
		{"missing subjob", func(c *Config) { c.Worker.Subjob = "" }, true},
		{"unknown mode", func(c *Config) { c.Storage.Mode = "ftp" }, true},
		{"sharedfs without tarball", func(c *Config) { c.Storage.JobTarball = "" }, true},
		{"s3 without object", func(c *Config) { c.Storage.Mode = StorageS3 }, true},
		{"manifest override", func(c *Config) {
			c.Storage.Mode = StorageS3
			c.Worker.ManifestPath = "/tmp/config.json"
			c.Worker.InputFilesDir = "/tmp/input-files"
		}, false},
		{"manifest without inputs", func(c *Config) { c.Worker.ManifestPath = "/tmp/config.json" }, true},
		{"zero vcpus", func(c *Config) { c.Perf.VCPUs = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	free, err := CheckFreeSpace(dir, 1)
	if err != nil {
		t.Fatalf("CheckFreeSpace: %v", err)
	}
	if free == 0 {
		t.Error("expected some free space")
	}
	if _, err := CheckFreeSpace(dir, ^uint64(0)); err == nil {
		t.Error("expected error when requirement exceeds free space")
	}
}
