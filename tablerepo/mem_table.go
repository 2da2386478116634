package tablerepo

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/spirit-labs/tekagg/encoding"
	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/qcache"
	"github.com/spirit-labs/tekagg/tasks"
	"github.com/spirit-labs/tekagg/types"
)

// MemTable is an immutable partitioned table held in memory. Each partition is keyed by a hash of its content.
type MemTable struct {
	name        string
	columnNames []string
	partitions  [][]types.Row
	keys        []qcache.SHA1Hash
}

func NewMemTable(name string, columnNames []string, partitions [][]types.Row) (*MemTable, error) {
	keys := make([]qcache.SHA1Hash, len(partitions))
	var buff []byte
	for i, rows := range partitions {
		buff = append(buff[:0], name...)
		buff = encoding.AppendVarUint(buff, uint64(len(columnNames)))
		for _, col := range columnNames {
			buff = encoding.AppendLenencString(buff, col)
		}
		for _, row := range rows {
			if len(row) != len(columnNames) {
				return nil, errors.NewRuntimeErrorf("table '%s' partition %d has a row with %d columns, expected %d",
					name, i, len(row), len(columnNames))
			}
			for _, v := range row {
				buff = encoding.AppendValue(buff, v)
			}
		}
		keys[i] = qcache.ComputeSHA1(buff)
	}
	return &MemTable{name: name, columnNames: columnNames, partitions: partitions, keys: keys}, nil
}

func (m *MemTable) Info() TableInfo {
	return TableInfo{
		Name:          m.name,
		ColumnNames:   m.columnNames,
		NumPartitions: len(m.partitions),
		Source:        "mem",
	}
}

func (m *MemTable) BuildSequentialScan(_ context.Context, node *SequentialScanNode) ([]tasks.RowSource, error) {
	var sources []tasks.RowSource
	for i := range m.partitions {
		if !node.includes(i) {
			continue
		}
		sources = append(sources, &memPartition{table: m, index: i})
	}
	return sources, nil
}

type memPartition struct {
	table *MemTable
	index int
}

func (p *memPartition) ColumnNames() []string {
	return p.table.columnNames
}

func (p *memPartition) CacheKey() (qcache.SHA1Hash, bool) {
	return p.table.keys[p.index], true
}

func (p *memPartition) Scan(ctx context.Context, fn func(row types.Row) (bool, error)) error {
	for i, row := range p.table.partitions[p.index] {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return errors.WithStack(err)
			}
		}
		cont, err := fn(row)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (p *memPartition) String() string {
	return p.table.name + "/" + strconv.Itoa(p.index)
}

// MemProvider serves MemTables by name.
type MemProvider struct {
	lock   sync.RWMutex
	tables map[string]*MemTable
}

func NewMemProvider() *MemProvider {
	return &MemProvider{tables: map[string]*MemTable{}}
}

func (m *MemProvider) AddTable(table *MemTable) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.tables[table.name] = table
}

func (m *MemProvider) Describe(tableName string) (TableInfo, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	table, ok := m.tables[tableName]
	if !ok {
		return TableInfo{}, false
	}
	return table.Info(), true
}

func (m *MemProvider) ListTables(fn func(info TableInfo)) {
	m.lock.RLock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	m.lock.RUnlock()
	sort.Strings(names)
	for _, name := range names {
		if info, ok := m.Describe(name); ok {
			fn(info)
		}
	}
}

func (m *MemProvider) BuildSequentialScan(ctx context.Context, node *SequentialScanNode) ([]tasks.RowSource, error) {
	m.lock.RLock()
	table, ok := m.tables[node.TableName]
	m.lock.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundErrorf("table not found: '%s'", node.TableName)
	}
	return table.BuildSequentialScan(ctx, node)
}
