// Copyright 2024 The Tekagg Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tablerepo

import (
	"context"
	"net/url"
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/spirit-labs/tekagg/errors"
	log "github.com/spirit-labs/tekagg/logger"
	"github.com/spirit-labs/tekagg/tasks"
)

type TableInfo struct {
	Name          string
	ColumnNames   []string
	NumPartitions int
	Source        string
}

// SequentialScanNode asks for a full scan of a table. Partitions restricts the scan to the given partition
// indexes, nil means all of them.
type SequentialScanNode struct {
	TableName  string
	Partitions []int
}

func (s *SequentialScanNode) includes(partition int) bool {
	if s.Partitions == nil {
		return true
	}
	for _, p := range s.Partitions {
		if p == partition {
			return true
		}
	}
	return false
}

// TableProvider resolves table names. BuildSequentialScan returns one row source per partition.
type TableProvider interface {
	Describe(tableName string) (TableInfo, bool)
	ListTables(fn func(info TableInfo))
	BuildSequentialScan(ctx context.Context, node *SequentialScanNode) ([]tasks.RowSource, error)
}

// TableRef is a single table attached to the repository, usually by Import.
type TableRef interface {
	Info() TableInfo
	BuildSequentialScan(ctx context.Context, node *SequentialScanNode) ([]tasks.RowSource, error)
}

// Backend opens tables from a source URI. OpenTables returns false if the backend does not handle the URI.
type Backend interface {
	OpenTables(tables []string, uri *url.URL) ([]TableRef, bool, error)
}

// Repository resolves table names against its providers, in the order they were added, and then against
// attached table refs.
type Repository struct {
	lock      sync.RWMutex
	providers []TableProvider
	refs      *treemap.Map
}

func NewRepository() *Repository {
	return &Repository{refs: treemap.NewWithStringComparator()}
}

func (r *Repository) AddProvider(provider TableProvider) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.providers = append(r.providers, provider)
}

// AddTableRef attaches ref under tableName, replacing any existing ref with that name.
func (r *Repository) AddTableRef(tableName string, ref TableRef) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.refs.Put(tableName, ref)
}

// GetTableRef returns nil if no ref is attached under tableName.
func (r *Repository) GetTableRef(tableName string) TableRef {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.getTableRef(tableName)
}

func (r *Repository) getTableRef(tableName string) TableRef {
	v, ok := r.refs.Get(tableName)
	if !ok {
		return nil
	}
	return v.(TableRef) //nolint:forcetypeassert
}

// Import opens tables from sourceURI with the first backend that accepts it and attaches them.
func (r *Repository) Import(tables []string, sourceURI string, backends []Backend) error {
	uri, err := url.Parse(sourceURI)
	if err != nil {
		return errors.NewRuntimeErrorf("invalid source uri '%s': %v", sourceURI, err)
	}
	for _, backend := range backends {
		refs, ok, err := backend.OpenTables(tables, uri)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if len(refs) != len(tables) {
			return errors.NewRuntimeErrorf("openTables failed for '%s'", uri.String())
		}
		for i, table := range tables {
			r.AddTableRef(table, refs[i])
		}
		log.Debugf("imported %d tables from %s", len(tables), uri.String())
		return nil
	}
	return errors.NewRuntimeErrorf("no backend found for '%s'", uri.String())
}

func (r *Repository) Describe(tableName string) (TableInfo, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	for _, p := range r.providers {
		if info, ok := p.Describe(tableName); ok {
			return info, true
		}
	}
	if ref := r.getTableRef(tableName); ref != nil {
		return ref.Info(), true
	}
	return TableInfo{}, false
}

// ListTables visits the tables of every provider, then the attached refs in name order.
func (r *Repository) ListTables(fn func(info TableInfo)) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	for _, p := range r.providers {
		p.ListTables(fn)
	}
	r.refs.Each(func(_ interface{}, v interface{}) {
		fn(v.(TableRef).Info()) //nolint:forcetypeassert
	})
}

func (r *Repository) BuildSequentialScan(ctx context.Context, node *SequentialScanNode) ([]tasks.RowSource, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	for _, p := range r.providers {
		if _, ok := p.Describe(node.TableName); !ok {
			continue
		}
		return p.BuildSequentialScan(ctx, node)
	}
	if ref := r.getTableRef(node.TableName); ref != nil {
		return ref.BuildSequentialScan(ctx, node)
	}
	return nil, errors.NewNotFoundErrorf("table not found: '%s'", node.TableName)
}
