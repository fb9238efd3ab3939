// Package inbox ingests tasks dropped as YAML files into a watched directory.
// External collaborators create tasks by writing a file; the watcher parses it
// into the store and moves the file aside so it is processed exactly once.
package inbox

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/planion/planion/internal/store"
	"github.com/planion/planion/pkg/models"
)

const processedDirName = "processed"

// taskFile is the YAML document format accepted in the drop directory.
type taskFile struct {
	Title        string         `yaml:"title"`
	Description  string         `yaml:"description"`
	Priority     string         `yaml:"priority"`
	AssignedTo   string         `yaml:"assigned_to"`
	Dependencies []string       `yaml:"dependencies"`
	Context      map[string]any `yaml:"context"`
}

// Watcher monitors a drop directory and feeds task files into the store.
type Watcher struct {
	dir   string
	store *store.Store

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher creates a Watcher on the given directory, creating it (and its
// processed/ subdirectory) if needed. Files already present are ingested
// before the watch begins, so tasks dropped while the daemon was down are not
// lost.
func NewWatcher(dir string, s *store.Store) (*Watcher, error) {
	if err := os.MkdirAll(filepath.Join(dir, processedDirName), 0755); err != nil {
		return nil, fmt.Errorf("create inbox directory: %w", err)
	}

	w := &Watcher{
		dir:   dir,
		store: s,
		done:  make(chan struct{}),
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	w.watcher = fsw

	return w, nil
}

// Start ingests any backlog and begins watching for new files.
func (w *Watcher) Start() {
	w.Sweep()
	w.wg.Add(1)
	go w.watch()
}

// Sweep ingests every task file currently in the drop directory. Safe to call
// at any time; processed files are moved aside so a sweep never double-adds.
func (w *Watcher) Sweep() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		log.Printf("[inbox] read %s: %v", w.dir, err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isTaskFile(entry.Name()) {
			continue
		}
		w.ingest(filepath.Join(w.dir, entry.Name()))
	}
}

func (w *Watcher) watch() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isTaskFile(filepath.Base(event.Name)) {
				continue
			}
			w.ingest(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[inbox] watch error: %v", err)
		}
	}
}

// ingest parses one task file and adds it to the store. The file is moved to
// processed/ on success and renamed with a .rejected suffix on failure, so
// bad files do not wedge the inbox.
func (w *Watcher) ingest(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		// Create events can arrive before the writer finishes; the file
		// will be picked up again on the Write event or next sweep.
		return
	}

	var tf taskFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		log.Printf("[inbox] rejecting %s: %v", filepath.Base(path), err)
		w.reject(path)
		return
	}

	task, err := w.store.AddTask(store.AddTaskParams{
		Title:        tf.Title,
		Description:  tf.Description,
		Priority:     models.TaskPriority(tf.Priority),
		AssignedTo:   tf.AssignedTo,
		Dependencies: tf.Dependencies,
		Context:      tf.Context,
	}, "inbox")
	if err != nil {
		log.Printf("[inbox] rejecting %s: %v", filepath.Base(path), err)
		w.reject(path)
		return
	}

	log.Printf("[inbox] ingested %s as task %s", filepath.Base(path), task.ID)
	dest := filepath.Join(w.dir, processedDirName, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		log.Printf("[inbox] move %s: %v", filepath.Base(path), err)
	}
}

func (w *Watcher) reject(path string) {
	if err := os.Rename(path, path+".rejected"); err != nil {
		log.Printf("[inbox] mark rejected %s: %v", filepath.Base(path), err)
	}
}

// Close stops the watcher and waits for the watch goroutine to exit.
func (w *Watcher) Close() {
	close(w.done)
	w.watcher.Close()
	w.wg.Wait()
}

func isTaskFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}
