package tablerepo

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/qcache"
	"github.com/spirit-labs/tekagg/tasks"
	"github.com/spirit-labs/tekagg/types"
	"github.com/tidwall/gjson"
)

const (
	JSONLScheme     = "jsonl"
	jsonlExtension  = ".jsonl"
	maxJSONLineSize = 16 * 1024 * 1024
)

// JSONLBackend opens tables from a directory of JSON lines files, with URIs of the form
// jsonl:///path/to/dir?columns=a,b. Table t is either the file t.jsonl, or a directory t holding one
// .jsonl file per partition. Without a columns parameter the columns are the keys of the first object in
// the first partition. Column names are gjson paths, so nested fields can be addressed as a.b.
type JSONLBackend struct {
}

func (j *JSONLBackend) OpenTables(tables []string, uri *url.URL) ([]TableRef, bool, error) {
	if uri.Scheme != JSONLScheme {
		return nil, false, nil
	}
	dir := uri.Path
	var columns []string
	if cols := uri.Query().Get("columns"); cols != "" {
		for _, col := range strings.Split(cols, ",") {
			columns = append(columns, strings.TrimSpace(col))
		}
	}
	refs := make([]TableRef, 0, len(tables))
	for _, table := range tables {
		files, err := jsonlPartitionFiles(dir, table)
		if err != nil {
			return nil, true, err
		}
		if len(files) == 0 {
			// short result, reported as an openTables failure
			return refs, true, nil
		}
		tableColumns := columns
		if tableColumns == nil {
			tableColumns, err = inferColumns(files[0])
			if err != nil {
				return nil, true, err
			}
		}
		refs = append(refs, &JSONLTable{name: table, columnNames: tableColumns, files: files})
	}
	return refs, true, nil
}

func jsonlPartitionFiles(dir string, table string) ([]string, error) {
	single := filepath.Join(dir, table+jsonlExtension)
	if _, err := os.Stat(single); err == nil {
		return []string{single}, nil
	}
	files, err := filepath.Glob(filepath.Join(dir, table, "*"+jsonlExtension))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	sort.Strings(files)
	return files, nil
}

func inferColumns(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer f.Close()
	scanner := newLineScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			return nil, errors.NewRuntimeErrorf("invalid json in %s line 1", path)
		}
		var columns []string
		gjson.Parse(line).ForEach(func(key, _ gjson.Result) bool {
			columns = append(columns, key.String())
			return true
		})
		if len(columns) == 0 {
			return nil, errors.NewRuntimeErrorf("cannot infer columns from %s, first line is not an object", path)
		}
		return columns, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return nil, errors.NewRuntimeErrorf("cannot infer columns from empty file %s", path)
}

func newLineScanner(f *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLineSize)
	return scanner
}

type JSONLTable struct {
	name        string
	columnNames []string
	files       []string
}

func (j *JSONLTable) Info() TableInfo {
	return TableInfo{
		Name:          j.name,
		ColumnNames:   j.columnNames,
		NumPartitions: len(j.files),
		Source:        JSONLScheme,
	}
}

func (j *JSONLTable) BuildSequentialScan(_ context.Context, node *SequentialScanNode) ([]tasks.RowSource, error) {
	var sources []tasks.RowSource
	for i, file := range j.files {
		if !node.includes(i) {
			continue
		}
		sources = append(sources, &jsonlFile{path: file, columnNames: j.columnNames})
	}
	return sources, nil
}

type jsonlFile struct {
	path        string
	columnNames []string
}

func (j *jsonlFile) ColumnNames() []string {
	return j.columnNames
}

// CacheKey is derived from the path, size and modification time, so rewriting the file invalidates it.
func (j *jsonlFile) CacheKey() (qcache.SHA1Hash, bool) {
	info, err := os.Stat(j.path)
	if err != nil {
		return qcache.SHA1Hash{}, false
	}
	abs, err := filepath.Abs(j.path)
	if err != nil {
		abs = j.path
	}
	s := fmt.Sprintf("%s|%d|%d|%s", abs, info.Size(), info.ModTime().UnixNano(), strings.Join(j.columnNames, ","))
	return qcache.ComputeSHA1String(s), true
}

func (j *jsonlFile) Scan(ctx context.Context, fn func(row types.Row) (bool, error)) error {
	f, err := os.Open(j.path)
	if err != nil {
		return errors.WithStack(err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer f.Close()
	scanner := newLineScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if lineNum%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return errors.WithStack(err)
			}
		}
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			return errors.NewRuntimeErrorf("invalid json in %s line %d", j.path, lineNum)
		}
		row := make(types.Row, len(j.columnNames))
		for i, col := range j.columnNames {
			row[i] = jsonToValue(gjson.GetBytes(line, col))
		}
		cont, err := fn(row)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return errors.WithStack(scanner.Err())
}

func jsonToValue(res gjson.Result) types.Value {
	switch res.Type {
	case gjson.Null:
		return types.Null
	case gjson.False:
		return types.NewBool(false)
	case gjson.True:
		return types.NewBool(true)
	case gjson.String:
		return types.NewString(res.Str)
	case gjson.Number:
		if strings.ContainsAny(res.Raw, ".eE") {
			return types.NewFloat(res.Num)
		}
		return types.NewInt(res.Int())
	default:
		// nested objects and arrays are kept as their raw json
		return types.NewString(res.Raw)
	}
}
