package signal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"canarydesk/internal/logger"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// WeightsProvider supplies strategyKey -> target weight.
type WeightsProvider interface {
	Weights() map[string]float64
}

type StaticWeights map[string]float64

func (s StaticWeights) Weights() map[string]float64 {
	out := make(map[string]float64, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

type weightsFile struct {
	Weights map[string]float64 `yaml:"weights"`
}

// FileWeights reads weights from a YAML file of the form
//
//	weights:
//	  ema_fast:BTC/USDT: 0.4
//
// and reloads it when the file changes.
type FileWeights struct {
	path string

	mu      sync.RWMutex
	weights map[string]float64
}

func NewFileWeights(path string) (*FileWeights, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw := &FileWeights{path: abs}
	if err := fw.reload(); err != nil {
		return nil, err
	}
	return fw, nil
}

func (f *FileWeights) reload() error {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read weights file: %w", err)
	}
	var doc weightsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse weights file: %w", err)
	}
	for k, v := range doc.Weights {
		if v < 0 {
			return fmt.Errorf("weight for %s must not be negative", k)
		}
	}
	f.mu.Lock()
	f.weights = doc.Weights
	f.mu.Unlock()
	return nil
}

func (f *FileWeights) Weights() map[string]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]float64, len(f.weights))
	for k, v := range f.weights {
		out[k] = v
	}
	return out
}

// Watch reloads the file on change until ctx is done. The directory is
// watched so editors that replace the file by rename are picked up.
func (f *FileWeights) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != f.path || evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := f.reload(); err != nil {
				logger.Warnf("Weights: reload failed path=%s err=%v", f.path, err)
				continue
			}
			logger.Infof("Weights: reloaded path=%s", f.path)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("Weights: watcher error path=%s err=%v", f.path, err)
		}
	}
}
