// Package main provides the syncedmem CLI.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/born-ml/syncedmem/backend/sim"
	"github.com/born-ml/syncedmem/memory"
)

const version = "v0.1.0-dev"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "syncedmem:", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		usage(stdout)
		return nil
	}

	switch args[0] {
	case "version":
		fmt.Fprintf(stdout, "syncedmem %s\n", version)
		return nil
	case "demo":
		return demo(args[1:], stdout, stderr)
	default:
		usage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "syncedmem - lazily synchronized host/device buffers")
	fmt.Fprintf(w, "Version: %s\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  version    Show version")
	fmt.Fprintln(w, "  demo       Write a pattern on the host and read it back from the device")
}

// demo fills a buffer on the host, pulls it to a simulated device and verifies the device bytes.
func demo(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	size := fs.Int("size", 1024, "buffer size in bytes")
	pattern := fs.String("pattern", "0xAB", "fill byte")
	verbose := fs.Bool("v", false, "log every state transition")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fill, err := strconv.ParseUint(*pattern, 0, 8)
	if err != nil {
		return fmt.Errorf("invalid -pattern %q: %w", *pattern, err)
	}
	if *size < 0 {
		return fmt.Errorf("invalid -size %d", *size)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	rt, err := sim.New(sim.Config{Devices: 1, Logger: logger})
	if err != nil {
		return err
	}
	ctx := memory.GPUContext(rt, 0, memory.NewHostAllocator(memory.DefaultHostConfig()), logger)

	buf := memory.New(*size)
	defer buf.Release()

	host := buf.MutableHostView(ctx)
	for i := range host {
		host[i] = byte(fill)
	}
	ptr := buf.DeviceView(ctx)

	got, err := rt.Snapshot(ptr)
	if err != nil {
		return err
	}
	if !bytes.Equal(got[:*size], host) {
		return fmt.Errorf("device bytes differ from host pattern")
	}

	stats := rt.Stats()
	fmt.Fprintf(stdout, "buffer %s: %d bytes of 0x%02X on %s, head %s\n", buf.ID(), *size, fill, ctx, buf.Head())
	fmt.Fprintf(stdout, "transfers: host->device %d (%d bytes), device->host %d\n",
		stats.HostToDevice, stats.BytesHostToDevice, stats.DeviceToHost)
	return nil
}
