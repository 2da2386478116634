package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spirit-labs/tekagg/conf"
	"github.com/spirit-labs/tekagg/errors"
	"github.com/spirit-labs/tekagg/execution"
	log "github.com/spirit-labs/tekagg/logger"
	"github.com/spirit-labs/tekagg/metrics"
	"github.com/spirit-labs/tekagg/objstore"
	"github.com/spirit-labs/tekagg/objstore/dev"
	"github.com/spirit-labs/tekagg/objstore/minio"
	"github.com/spirit-labs/tekagg/planner"
	"github.com/spirit-labs/tekagg/qcache"
	"github.com/spirit-labs/tekagg/remote"
	"github.com/spirit-labs/tekagg/tablerepo"
	"github.com/spirit-labs/tekagg/tasks"
	"github.com/spirit-labs/tekagg/types"
)

type runner struct {
	out     io.Writer
	mirror  objstore.Client
	cache   *qcache.Cache
	metrics *metrics.Server
	server  *remote.Server
	started func(addr string)
}

func (r *runner) run(args []string, done <-chan struct{}) error {
	cfg, kctx, err := parseArgs(args)
	if err != nil {
		return err
	}
	if err := r.start(&cfg.Engine); err != nil {
		return err
	}
	defer r.stop()
	switch kctx.Command() {
	case "query <table>":
		return r.query(&cfg.Engine, &cfg.Query)
	case "serve":
		return r.serve(&cfg.Engine, &cfg.Serve, done)
	case "tables":
		return r.tables(&cfg.Tables)
	default:
		return errors.Errorf("unexpected command %s", kctx.Command())
	}
}

func (r *runner) start(cfg *conf.Config) error {
	switch cfg.CacheMirrorType {
	case conf.DevCacheMirrorType:
		r.mirror = dev.NewInMemStore(0)
	case conf.MinioCacheMirrorType:
		r.mirror = minio.NewMinioClient(cfg)
	}
	if r.mirror != nil {
		if err := r.mirror.Start(); err != nil {
			return err
		}
	}
	cache, err := qcache.NewCache(cfg.CacheDir, int64(cfg.CacheMemMaxSizeBytes), r.mirror)
	if err != nil {
		return err
	}
	r.cache = cache
	if cfg.MetricsEnabled {
		r.metrics = metrics.NewServer(*cfg)
		if err := r.metrics.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) stop() {
	if r.server != nil {
		if err := r.server.Stop(); err != nil {
			log.Warnf("failed to stop remote executor: %v", err)
		}
	}
	if r.metrics != nil {
		if err := r.metrics.Stop(); err != nil {
			log.Warnf("failed to stop metrics server: %v", err)
		}
	}
	if r.cache != nil {
		r.cache.Close()
	}
	if r.mirror != nil {
		if err := r.mirror.Stop(); err != nil {
			log.Warnf("failed to stop cache mirror: %v", err)
		}
	}
}

var backends = []tablerepo.Backend{&tablerepo.JSONLBackend{}}

func buildRepository(imports []string) (*tablerepo.Repository, error) {
	repo := tablerepo.NewRepository()
	for _, imp := range imports {
		tables, uri, ok := strings.Cut(imp, "=")
		if !ok || tables == "" || uri == "" {
			return nil, errors.NewInvalidConfigurationError(fmt.Sprintf("invalid import '%s', expected <table>[,<table>...]=<uri>", imp))
		}
		if err := repo.Import(strings.Split(tables, ","), uri, backends); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

func (r *runner) query(cfg *conf.Config, cmd *queryCommand) error {
	repo, err := buildRepository(cmd.Import)
	if err != nil {
		return err
	}
	var remoteFn tasks.RemoteExecuteFn
	if len(cfg.RemoteAddresses) > 0 {
		client, err := remote.NewClient(cfg)
		if err != nil {
			return err
		}
		remoteFn = client.Execute
	}
	p := planner.NewPlanner(repo, remoteFn)
	execCtx, err := execution.NewContext(context.Background(), r.cache, cfg.MergeWorkerCount)
	if err != nil {
		return err
	}
	defer execCtx.Release()
	agg, plan, err := p.Build(execCtx.Ctx(), &planner.AggregateQuery{
		Table:           cmd.Table,
		SelectList:      cmd.Select,
		GroupList:       cmd.GroupBy,
		Partitions:      cmd.Partitions,
		RemoteAddresses: cfg.RemoteAddresses,
	}, execCtx)
	if err != nil {
		return err
	}
	var rows [][]string
	if err := tasks.Execute(agg, execCtx, func(row types.Row) bool {
		strs := make([]string, len(row))
		for i, v := range row {
			strs[i] = v.String()
		}
		rows = append(rows, strs)
		return true
	}); err != nil {
		return err
	}
	log.Debugf("query completed %d of %d subtasks", execCtx.NumSubtasksCompleted(), execCtx.NumSubtasksTotal())
	return render(r.out, cmd.Format, plan.ColumnNames, rows)
}

var tablesColumns = []string{"name", "columns", "partitions", "source"}

func (r *runner) tables(cmd *tablesCommand) error {
	repo, err := buildRepository(cmd.Import)
	if err != nil {
		return err
	}
	var rows [][]string
	repo.ListTables(func(info tablerepo.TableInfo) {
		rows = append(rows, []string{
			info.Name,
			strings.Join(info.ColumnNames, ","),
			strconv.Itoa(info.NumPartitions),
			info.Source,
		})
	})
	return render(r.out, cmd.Format, tablesColumns, rows)
}

var borderStyle = lipgloss.NewStyle().Faint(true)

func render(out io.Writer, format string, columnNames []string, rows [][]string) error {
	var s string
	switch format {
	case "tsv":
		sb := strings.Builder{}
		sb.WriteString(strings.Join(columnNames, "\t"))
		sb.WriteRune('\n')
		for _, row := range rows {
			sb.WriteString(strings.Join(row, "\t"))
			sb.WriteRune('\n')
		}
		s = sb.String()
	default:
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers(columnNames...).
			Rows(rows...).
			BorderStyle(borderStyle)
		s = fmt.Sprintf("%s\n%d row(s)\n", t.Render(), len(rows))
	}
	_, err := io.WriteString(out, s)
	return errors.WithStack(err)
}

func (r *runner) serve(cfg *conf.Config, cmd *serveCommand, done <-chan struct{}) error {
	repo, err := buildRepository(cmd.Import)
	if err != nil {
		return err
	}
	r.server = remote.NewServer(cfg, planner.NewPlanner(repo, nil), r.cache)
	if err := r.server.Start(); err != nil {
		return err
	}
	if r.started != nil {
		r.started(r.server.Addr())
	}
	<-done
	return nil
}
