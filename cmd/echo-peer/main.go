// Command echo-peer is a minimal demo application built on top of the
// reliablenet transport, replacing the teacher's SA-MP freeroam gamemode
// with a plain echo/chat service: every Data message received from a
// connected peer is sent back over the same delivery method, and every
// StatusChanged/UnconnectedData event is logged.
package main

import (
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brinewave/reliablenet/codec"
	"github.com/brinewave/reliablenet/config"
	"github.com/brinewave/reliablenet/internal/log"
	"github.com/brinewave/reliablenet/metrics"
	"github.com/brinewave/reliablenet/peer"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional, defaults used otherwise)")
	connectTo := flag.String("connect", "", "host:port of a remote echo-peer to connect to on startup")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatal("config: %v", err)
		}
		cfg = loaded
	}
	log.SetLevel(cfg.LogLevel)

	registry := prometheus.NewRegistry()
	collectors := metrics.NewCollectors(registry)

	p := peer.New(cfg)

	p.Notifier().On(codec.StatusChanged, func(in peer.Incoming) {
		log.Info("status: %s", in.Text)
	})
	p.Notifier().On(codec.UnconnectedData, func(in peer.Incoming) {
		log.Info("unconnected: %s", in.Text)
	})
	p.Notifier().On(codec.WarningMessage, func(in peer.Incoming) {
		log.Warn("%s", in.Text)
	})
	p.Notifier().On(codec.ErrorMessage, func(in peer.Incoming) {
		log.Error("%s", in.Text)
	})
	p.Notifier().On(codec.Data, func(in peer.Incoming) {
		if in.Msg == nil || in.Connection == nil {
			return
		}
		payload := append([]byte(nil), in.Msg.Data...)
		method, _ := codec.DecodeAppType(codec.MessageType(in.Msg.Type))
		if err := p.Send(in.Connection, payload, method, 0); err != nil {
			log.Warn("echo: %v", err)
		}
	})

	if err := p.Start(); err != nil {
		log.Fatal("start: %v", err)
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Warn("metrics server: %v", err)
			}
		}()
	}

	if *connectTo != "" {
		addr, err := net.ResolveUDPAddr("udp", *connectTo)
		if err != nil {
			log.Fatal("resolve %s: %v", *connectTo, err)
		}
		if _, err := p.Connect(addr); err != nil {
			log.Fatal("connect %s: %v", *connectTo, err)
		}
	}

	go mirrorStats(p, collectors)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	p.Shutdown("server-shutdown", 2*time.Second)
}

// mirrorStats periodically copies the Peer's plain Stats snapshot into the
// Prometheus collectors anyone is scraping, since the core transport never
// imports the metrics package directly (see DESIGN.md's C8 entry).
func mirrorStats(p *peer.Peer, c *metrics.Collectors) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var prev peer.Stats
	for range ticker.C {
		s := p.StatsSnapshot()
		c.PacketsSent.Add(float64(s.PacketsSent - prev.PacketsSent))
		c.PacketsReceived.Add(float64(s.PacketsReceived - prev.PacketsReceived))
		c.PacketsDropped.Add(float64(s.PacketsDropped - prev.PacketsDropped))
		c.BytesSent.Add(float64(s.BytesSent - prev.BytesSent))
		c.BytesReceived.Add(float64(s.BytesReceived - prev.BytesReceived))
		c.Retransmits.Add(float64(s.Retransmits - prev.Retransmits))
		c.AcksSent.Add(float64(s.AcksSent - prev.AcksSent))
		c.Connections.Set(float64(s.Connections))
		prev = s
	}
}
