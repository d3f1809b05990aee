// Command kademliatransfer boots a single node: it resolves configuration,
// generates an identity, wires the routing table, content store, RPC
// client/codec, content engine, command queue, and reactor together, then
// either drives the bounded command queue from an interactive menu or runs
// headless under DISABLE_CLI — the Go analogue of
// original_source/src/main.c's instance-and-loop shape, following the
// bootstrapping idiom from examples/handshake_benchmark/main.go's
// StartInstance.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/razor7877/kademliatransfer/command"
	"github.com/razor7877/kademliatransfer/config"
	"github.com/razor7877/kademliatransfer/content"
	"github.com/razor7877/kademliatransfer/identity"
	"github.com/razor7877/kademliatransfer/kbucket"
	"github.com/razor7877/kademliatransfer/logging"
	"github.com/razor7877/kademliatransfer/nodeid"
	"github.com/razor7877/kademliatransfer/peer"
	"github.com/razor7877/kademliatransfer/reactor"
	"github.com/razor7877/kademliatransfer/rpcclient"
	"github.com/razor7877/kademliatransfer/rpcwire"
	"github.com/razor7877/kademliatransfer/store"
	"github.com/razor7877/kademliatransfer/transfer"
)

// dirStore is the filesystem-backed transfer.Store spec.md §6 treats as an
// external collaborator: plain os.Open/os.Create rooted under a single
// directory, with no sub-directory traversal.
type dirStore struct {
	root string
}

func newDirStore(root string) (*dirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory %q", root)
	}
	return &dirStore{root: root}, nil
}

func (d *dirStore) path(name string) (string, error) {
	clean := filepath.Clean("/" + name)
	if clean == "/" {
		return "", errors.New("dirStore: empty file name")
	}
	return filepath.Join(d.root, clean), nil
}

func (d *dirStore) Open(name string) (io.ReadCloser, int64, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (d *dirStore) Create(name string) (io.WriteCloser, error) {
	p, err := d.path(name)
	if err != nil {
		return nil, err
	}
	return os.Create(p)
}

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}

	logger := logging.Configure(os.Stderr, cfg.LogLevel, !cfg.LogFormatJSON)
	logger.Info().Str("config", cfg.String()).Msg("starting node")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("node exited with error")
	}
}

func run(cfg config.Config, logger zerolog.Logger) error {
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return errors.Wrap(err, "failed to bind listen address")
	}
	defer listener.Close()

	selfAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return errors.New("listener did not yield a TCP address")
	}

	keyPair, err := identity.Generate()
	if err != nil {
		return errors.Wrap(err, "failed to generate node identity")
	}
	self := peer.New(keyPair.NodeID(), selfAddr, keyPair.PublicKeyArray())
	logger.Info().Str("node_id", self.ID.String()).Str("addr", selfAddr.String()).Msg("identity established")

	table := kbucket.New(self, kbucket.WithBucketSize(cfg.BucketSize))
	contentStore := store.New(cfg.BucketSize)
	codec := rpcwire.NewCodec(cfg.BucketSize)

	upload, err := newDirStore(cfg.UploadDir)
	if err != nil {
		return err
	}
	download, err := newDirStore(cfg.DownloadDir)
	if err != nil {
		return err
	}

	client := rpcclient.New(self, rpcclient.NetDialer{}, codec)
	engine := content.NewEngine(self, table, contentStore, client, transfer.NetDialer{}, upload, download, cfg.BucketSize)
	queue := command.NewQueue(command.MaxPending)

	// Assigned only on success: a failed *UDPBroadcaster boxed into the
	// Broadcaster interface would be a non-nil interface wrapping a nil
	// pointer, which the reactor's nil checks would not catch.
	var broadcaster reactor.Broadcaster
	if b, err := newBroadcaster(cfg, logger); err != nil {
		logger.Warn().Err(err).Msg("discovery broadcast disabled")
	} else {
		broadcaster = b
	}

	r := reactor.New(reactor.Config{
		MaxSockets:        cfg.MaxSockets,
		BroadcastInterval: cfg.BroadcastInterval,
		IOTimeout:         cfg.IOTimeout,
		K:                 cfg.BucketSize,
	}, self, table, contentStore, codec, engine, queue, upload, listener, broadcaster, logging.Component(logger, "reactor"))

	r.Start()
	defer r.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info().Msg("shutdown requested")
		cancel()
	}()

	if cfg.DisableCLI {
		<-ctx.Done()
		return nil
	}

	return runMenu(ctx, queue, cfg.UploadDir)
}

func newBroadcaster(cfg config.Config, logger zerolog.Logger) (*reactor.UDPBroadcaster, error) {
	listenAddr, err := net.ResolveUDPAddr("udp4", cfg.DiscoveryAddr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid discovery address")
	}
	broadcastAddr, err := net.ResolveUDPAddr("udp4", cfg.BroadcastAddr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid broadcast address")
	}
	return reactor.NewUDPBroadcaster(listenAddr, broadcastAddr)
}

// runMenu drives the bounded command queue from stdin, the Go analogue of
// original_source/src/main.c's cli_upload_file/cli_download_file prompts.
// The menu itself, like the magnet-URI codec it would otherwise depend on,
// is out of scope for this module (spec.md §1's Non-goals); this loop
// exercises the command queue with raw file names and hashes instead of
// parsed magnet links.
func runMenu(ctx context.Context, queue *command.Queue, uploadDir string) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("kademliatransfer ready. Commands: status | upload <file> | download <file> <hash-hex> | quit")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)

		var cmd *command.Command
		switch fields[0] {
		case "quit", "exit":
			return nil
		case "status":
			cmd = command.New(command.ShowStatus, "", nil)
		case "upload":
			if len(fields) != 2 {
				fmt.Println("usage: upload <file>")
				continue
			}
			contents, err := os.ReadFile(filepath.Join(uploadDir, fields[1]))
			if err != nil {
				fmt.Println("cannot read file:", err)
				continue
			}
			cmd = command.New(command.Upload, fields[1], nodeid.FromFile(contents))
		case "download":
			if len(fields) != 3 {
				fmt.Println("usage: download <file> <hash-hex>")
				continue
			}
			hash, err := nodeid.FromHex(fields[2])
			if err != nil {
				fmt.Println("invalid hash:", err)
				continue
			}
			cmd = command.New(command.Download, fields[1], hash)
		default:
			fmt.Println("unknown command:", fields[0])
			continue
		}

		if err := queue.Push(cmd); err != nil {
			fmt.Println("command rejected:", err)
			continue
		}

		result, err := cmd.Await(ctx)
		if err != nil {
			fmt.Println("command cancelled:", err)
			continue
		}
		printResult(result)
	}
}

func printResult(result command.Result) {
	switch result.Code {
	case command.OK:
		fmt.Println("ok")
	case command.NotFound:
		fmt.Println("not found")
	case command.QueueFull:
		fmt.Println("queue full")
	case command.Cancelled:
		fmt.Println("cancelled")
	default:
		fmt.Println("failed:", result.Err)
	}
}
