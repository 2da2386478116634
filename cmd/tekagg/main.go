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

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	konghcl "github.com/alecthomas/kong-hcl/v2"
	"github.com/spirit-labs/tekagg/conf"
	"github.com/spirit-labs/tekagg/errors"
	log "github.com/spirit-labs/tekagg/logger"
)

type arguments struct {
	Config kong.ConfigFlag `help:"Path to config file" type:"existingfile"`
	Engine conf.Config     `help:"Engine configuration" embed:"" prefix:""`
	Log    log.Config      `help:"Configuration for the logger" embed:"" prefix:"log-"`

	Query  queryCommand  `cmd:"" help:"Run an aggregation over a table and print the result"`
	Serve  serveCommand  `cmd:"" help:"Run the remote executor"`
	Tables tablesCommand `cmd:"" help:"List the imported tables"`
}

type queryCommand struct {
	Table      string   `arg:"" help:"Table to aggregate"`
	Select     string   `help:"Select list, e.g. 'region, sum(amount) as total'" required:"" short:"s"`
	GroupBy    string   `help:"Group by list, e.g. 'region'" short:"g"`
	Partitions []int    `help:"Only scan these partitions of the table"`
	Import     []string `help:"Tables to import, as <table>[,<table>...]=<uri>, e.g. sales=jsonl:///data" sep:";"`
	Format     string   `help:"Output format" enum:"table,tsv" default:"table"`
}

type tablesCommand struct {
	Import []string `help:"Tables to import, as <table>[,<table>...]=<uri>, e.g. sales=jsonl:///data" sep:";"`
	Format string   `help:"Output format" enum:"table,tsv" default:"table"`
}

type serveCommand struct {
	Import []string `help:"Tables to import, as <table>[,<table>...]=<uri>, e.g. sales=jsonl:///data" sep:";"`
}

func main() {
	r := &runner{out: os.Stdout}
	if err := r.run(os.Args[1:], signalContext()); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func signalContext() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
		sig := <-signals
		log.Warnf("signal: %s received. tekagg will exit", sig.String())
		close(done)
	}()
	return done
}

func parseArgs(args []string) (*arguments, *kong.Context, error) {
	cfg := &arguments{}
	parser, err := kong.New(cfg, kong.Configuration(konghcl.Loader), kong.Name("tekagg"))
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if err := cfg.Log.Configure(); err != nil {
		return nil, nil, err
	}
	cfg.Engine.ApplyDefaults()
	if err := cfg.Engine.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, ctx, nil
}
