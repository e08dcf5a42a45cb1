// Package cacheconfig loads the page cache's and worker's tunables from a
// YAML file, the way internal/testhelper loads tests/examples.yml via
// yaml.Unmarshal into a tagged struct.
package cacheconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gokernel/pagecache/pagecache"
	"github.com/gokernel/pagecache/worker"
)

// File is the on-disk shape of a cache config file. Every field is
// optional; a zero value falls back to the corresponding package's own
// default.
type File struct {
	Cache struct {
		FlushMaxKB          int64 `yaml:"flush_max_kb"`
		MaxCleanStreak      int   `yaml:"max_clean_streak"`
		BlockAllocExpansion int   `yaml:"block_alloc_expansion"`
	} `yaml:"cache"`

	Worker struct {
		CleanDelayMillis int64 `yaml:"clean_delay_millis"`
	} `yaml:"worker"`
}

// Load reads and parses the YAML file at path, returning cache and worker
// configs ready to pass to pagecache.New and worker.New. Fields left at
// zero in the file inherit the package defaults rather than being coerced
// to zero in the live config.
func Load(path string) (pagecache.Config, worker.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return pagecache.Config{}, worker.Config{}, fmt.Errorf("cacheconfig: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return pagecache.Config{}, worker.Config{}, fmt.Errorf("cacheconfig: parse %s: %w", path, err)
	}

	cacheCfg := pagecache.DefaultConfig()
	if f.Cache.FlushMaxKB != 0 {
		cacheCfg.FlushMax = f.Cache.FlushMaxKB << 10
	}
	if f.Cache.MaxCleanStreak != 0 {
		cacheCfg.MaxCleanStreak = f.Cache.MaxCleanStreak
	}
	if f.Cache.BlockAllocExpansion != 0 {
		cacheCfg.BlockAllocExpansion = f.Cache.BlockAllocExpansion
	}
	if f.Worker.CleanDelayMillis != 0 {
		cacheCfg.CleanDelayMillis = f.Worker.CleanDelayMillis
	}

	workerCfg := worker.DefaultConfig()
	if f.Worker.CleanDelayMillis != 0 {
		workerCfg.CleanDelay = time.Duration(f.Worker.CleanDelayMillis) * time.Millisecond
	}

	return cacheCfg, workerCfg, nil
}
