// Package file provides a file-based persistence implementation. Entities
// are stored one JSON document per file under the root directory. A single
// process-wide lock supplies the compare-and-set guarantees the interface
// requires, which makes this store suitable for development, tests, and
// single-instance deployments.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mstairs/flowline/pkg/persistence"
)

// Persistence implements persistence.Persistence on the local filesystem.
type Persistence struct {
	root string
	mu   sync.RWMutex

	workflows     *WorkflowRepository
	executions    *ExecutionRepository
	schedules     *ScheduleRepository
	webhooks      *WebhookRepository
	subscriptions *SubscriptionRepository
	variables     *VariableRepository
}

// NewPersistence creates a file persistence rooted at the given directory.
// Accepts either a bare path or a file:// URL.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.workflows = &WorkflowRepository{store: p}
	p.executions = &ExecutionRepository{store: p}
	p.schedules = &ScheduleRepository{store: p}
	p.webhooks = &WebhookRepository{store: p}
	p.subscriptions = &SubscriptionRepository{store: p}
	p.variables = &VariableRepository{store: p}

	return p
}

func (p *Persistence) Workflows() persistence.WorkflowRepository { return p.workflows }

func (p *Persistence) Executions() persistence.ExecutionRepository { return p.executions }

func (p *Persistence) Schedules() persistence.ScheduleRepository { return p.schedules }

func (p *Persistence) Webhooks() persistence.WebhookRepository { return p.webhooks }

func (p *Persistence) Subscriptions() persistence.SubscriptionRepository { return p.subscriptions }

func (p *Persistence) Variables() persistence.VariableRepository { return p.variables }

// HealthCheck verifies the root directory is usable.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return err
	}

	return nil
}

// Close is a no-op for file persistence.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// writeEntity marshals v into <root>/<kind>/<id>.json. Callers hold p.mu.
func (p *Persistence) writeEntity(kind, id string, v any) error {
	dir := filepath.Join(p.root, kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, sanitize(id)+".json"), raw, 0o644)
}

// readEntity unmarshals <root>/<kind>/<id>.json into v. Returns
// fs.ErrNotExist when the entity is absent.
func (p *Persistence) readEntity(kind, id string, v any) error {
	raw, err := os.ReadFile(filepath.Join(p.root, kind, sanitize(id)+".json"))
	if err != nil {
		return err
	}

	return json.Unmarshal(raw, v)
}

// deleteEntity removes the entity file, tolerating absence.
func (p *Persistence) deleteEntity(kind, id string) error {
	err := os.Remove(filepath.Join(p.root, kind, sanitize(id)+".json"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// listIDs returns the entity IDs present for a kind.
func (p *Persistence) listIDs(kind string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(p.root, kind))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}

	return ids, nil
}

// sanitize keeps IDs safe to use as file names. Variable scope keys contain
// slashes.
func sanitize(id string) string {
	return strings.ReplaceAll(id, "/", "__")
}

func notExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
