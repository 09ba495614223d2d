/*
	Command viewschedd wires up a scheduler process: configuration,
	logging, the reference SchemaService and ActionRunner drivers, the
	ViewManager, and the filesystem watch bridge, then materializes a
	small built-in demo view graph (see demoGraph) under the -warehouse
	root.

	This is deliberately not a CLI or REST front-end in the sense spec §1
	excludes -- there is no subcommand tree, no flag parsing library, no
	server loop accepting arbitrary view definitions. It is the thinnest
	possible process that exercises the wiring end to end, the same way
	repeatr's own main.go is a few lines deferring to cli.App while the
	interesting behavior lives in the library packages.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/inconshreveable/log15"

	"github.com/kaaas/schedoscope/actors/coordinator"
	"github.com/kaaas/schedoscope/actors/manager"
	"github.com/kaaas/schedoscope/config"
	"github.com/kaaas/schedoscope/def"
	"github.com/kaaas/schedoscope/executor/local"
	"github.com/kaaas/schedoscope/metrics"
	"github.com/kaaas/schedoscope/schema"
	"github.com/kaaas/schedoscope/schema/badger"
	"github.com/kaaas/schedoscope/schema/mem"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	warehouse := flag.String("warehouse", "", "root path under which demo views are materialized")
	schemaDir := flag.String("schema-dir", "", "badger directory for the schema service; empty uses an in-memory store")
	flag.Parse()

	log := log15.New()
	log.SetHandler(log15.StreamHandler(os.Stderr, log15.TerminalFormat()))

	if *warehouse == "" {
		dir, err := os.MkdirTemp("", "viewsched-demo")
		if err != nil {
			log.Crit("failed to create demo warehouse dir", "err", err)
			os.Exit(1)
		}
		warehouse = &dir
	}

	cfg := config.Load()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	svc, closeSvc, err := openSchemaService(*schemaDir, log)
	if err != nil {
		log.Crit("failed to open schema service", "err", err)
		os.Exit(1)
	}
	defer closeSvc()

	runner := local.New(log)
	mgr := manager.New(runner, runner, svc, cfg, nil, log)
	defer mgr.Close()

	root, err := demoGraph(*warehouse)
	if err != nil {
		log.Crit("demo view graph is malformed", "err", err)
		os.Exit(1)
	}
	for _, v := range flattenGraph(root) {
		if err := os.MkdirAll(v.FullPath, 0o755); err != nil {
			log.Crit("failed to create view directory", "view", v.ID, "err", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	// mgr.CoordinatorFor watches each view's directory the first time a
	// coordinator is created for it (spec §4.2); Run just drives the
	// fsnotify event loop those watches feed.
	go mgr.Run(ctx)

	reply := make(chan interface{}, 1)
	mgr.Materialize(root, replyFunc(func(msg interface{}) { reply <- msg }))

	select {
	case msg := <-reply:
		fmt.Printf("materialize result: %#v\n", msg)
	case <-ctx.Done():
		log.Crit("timed out waiting for materialization")
		os.Exit(1)
	}
}

func openSchemaService(dir string, log log15.Logger) (schema.Service, func(), error) {
	if dir == "" {
		log.Info("no schema-dir given, using in-memory schema service")
		return mem.New(), func() {}, nil
	}
	svc, err := badger.Open(dir)
	if err != nil {
		return nil, nil, err
	}
	return svc, func() { svc.Close() }, nil
}

type replyFunc func(msg interface{})

func (f replyFunc) Deliver(msg interface{}) { f(msg) }

// demoGraph builds a tiny three-view graph under root: a leaf filesystem
// view and a leaf compute view, both feeding a view that depends on both.
// Each view's ID is content-addressed via def.NewView rather than
// assigned by hand, the same way a real view DSL would hand descriptors
// to the scheduler.
func demoGraph(root string) (*def.View, error) {
	leafA, err := def.NewView(root+"/leaf_a", nil, def.FilesystemTransformation{}, def.FormatOpaque, nil)
	if err != nil {
		return nil, err
	}
	leafB, err := def.NewView(root+"/leaf_b", nil, def.ComputeTransformation{Driver: "demo", Command: "noop"}, def.FormatOpaque, nil)
	if err != nil {
		return nil, err
	}
	return def.NewView(root+"/joined", []*def.View{leafA, leafB}, def.ComputeTransformation{Driver: "demo", Command: "join"}, def.FormatOpaque, nil)
}

func flattenGraph(v *def.View) []*def.View {
	seen := map[def.ViewID]bool{}
	var out []*def.View
	var walk func(*def.View)
	walk = func(v *def.View) {
		if seen[v.ID] {
			return
		}
		seen[v.ID] = true
		out = append(out, v)
		for _, dep := range v.Dependencies {
			walk(dep)
		}
	}
	walk(v)
	return out
}

var _ coordinator.Outbox = replyFunc(nil)
