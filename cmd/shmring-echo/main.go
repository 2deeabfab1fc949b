/*
 * Copyright 2025 The shmring Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// shmring-echo demonstrates a full-duplex channel between two processes.
//
// The host creates the segment and periodically writes a timestamped line
// to its TX ring while draining echoes from RX through the linear-block
// path. The peer attaches to the segment, sleeps on the doorbell and echoes
// every received line back.
//
// Run in two terminals:
//
//	shmring-echo -mode host -segment demo
//	shmring-echo -mode peer -segment demo
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/pelletier/go-toml/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coreipc/shmring/metrics"
	"github.com/coreipc/shmring/ringbuf"
	"github.com/coreipc/shmring/shm"
)

type config struct {
	Segment    string `toml:"segment"`
	HostToPeer int    `toml:"host_to_peer"` // ring payload bytes, host->peer
	PeerToHost int    `toml:"peer_to_host"` // ring payload bytes, peer->host
}

var (
	mode        = flag.String("mode", "", "host or peer")
	segmentName = flag.String("segment", "echo", "segment name")
	configPath  = flag.String("config", "", "optional TOML config file")
	interval    = flag.Duration("interval", time.Second, "host send interval")
	metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	cfg := config{Segment: *segmentName}
	if *configPath != "" {
		b, err := os.ReadFile(*configPath)
		if err != nil {
			glog.Exitf("read config: %v", err)
		}
		if err := toml.Unmarshal(b, &cfg); err != nil {
			glog.Exitf("parse config: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch *mode {
	case "host":
		err = runHost(ctx, cfg)
	case "peer":
		err = runPeer(ctx, cfg)
	default:
		fmt.Fprintln(os.Stderr, "usage: shmring-echo -mode host|peer [-segment name]")
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		glog.Exitf("%s: %v", *mode, err)
	}
}

func runHost(ctx context.Context, cfg config) error {
	// A stale file from a crashed run would make the exclusive create fail.
	shm.Remove(cfg.Segment)

	seg, err := shm.Create(cfg.Segment, cfg.HostToPeer, cfg.PeerToHost)
	if err != nil {
		return err
	}
	defer func() {
		seg.Close()
		shm.Remove(cfg.Segment)
	}()
	glog.Infof("created segment %s", seg.Path())

	ch := seg.Host()
	ch.NotifyOnWrite()
	serveMetrics(ch)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	var seq int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-ticker.C:
			seq++
			line := fmt.Sprintf("tick %d at %s\n", seq, t.Format(time.RFC3339))
			if n := ch.TX().Write([]byte(line)); n < len(line) {
				glog.Warningf("tx backpressure: wrote %d of %d bytes", n, len(line))
			}
			drain(ch.RX())
		}
	}
}

func runPeer(ctx context.Context, cfg config) error {
	seg, err := shm.Open(cfg.Segment)
	if err != nil {
		return err
	}
	defer seg.Close()
	glog.Infof("attached to segment %s", seg.Path())

	ch := seg.Peer()
	ch.NotifyOnWrite()
	serveMetrics(ch)

	buf := make([]byte, 4096)
	for {
		if _, err := ch.WaitReadable(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Doorbells unavailable: fall back to polling.
			glog.V(1).Infof("doorbell wait: %v", err)
			time.Sleep(10 * time.Millisecond)
		}

		n := ch.RX().Read(buf)
		if n == 0 {
			continue
		}
		echo := append([]byte("[peer] "), buf[:n]...)
		writeAll(ctx, ch.TX(), echo)
	}
}

// drain consumes everything in rx through the zero-copy path: take the
// linear block, hand it on, then mark it read with Skip.
func drain(rx *ringbuf.Buf) {
	for {
		blk := rx.LinearReadData()
		if len(blk) == 0 {
			return
		}
		os.Stdout.Write(blk)
		rx.Skip(len(blk))
	}
}

// writeAll retries short writes until p is fully buffered or ctx is done.
func writeAll(ctx context.Context, tx *ringbuf.Buf, p []byte) {
	for len(p) > 0 && ctx.Err() == nil {
		n := tx.Write(p)
		p = p[n:]
		if n == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

func serveMetrics(ch *shm.Channel) {
	if *metricsAddr == "" {
		return
	}

	txObs := metrics.NewObserver("tx")
	rxObs := metrics.NewObserver("rx")
	// Reinstall the TX hook with the counter chained before the doorbell.
	ch.NotifyOnWrite(txObs.EventFunc())
	ch.RX().SetEventFunc(rxObs.EventFunc())

	reg := prometheus.NewRegistry()
	reg.MustRegister(txObs, rxObs)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			glog.Errorf("metrics server: %v", err)
		}
	}()
}
