package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fullstorydev/grpcurl"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joshp123/gohome-spotify/internal/config"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	httpAddr, grpcAddr := resolveAddrs()
	cmd, args := os.Args[1], os.Args[2:]

	if cmd == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runAPICommand(ctx, newAPIClient(httpAddr), cmd, args, os.Stdout); err != nil {
			fatal(cmd, err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	switch cmd {
	case "plugins", "accessories", "fades", "power", "volume", "reconcile":
		api := newAPIClient(httpAddr)
		if err := runAPICommand(ctx, api, cmd, args, os.Stdout); err != nil {
			fatal(cmd, err)
		}
		return
	case "health", "services", "methods", "call":
	default:
		usage()
		os.Exit(2)
	}

	conn, err := grpcurl.BlockingDial(ctx, "tcp", grpcAddr, insecure.NewCredentials())
	if err != nil {
		fatal("dial", err)
	}
	defer conn.Close()

	if err := runGRPCCommand(ctx, conn, cmd, args, requestBody(), os.Stdout); err != nil {
		fatal(cmd, err)
	}
}

// resolveAddrs picks the daemon addresses: env, then config file, then defaults.
func resolveAddrs() (httpAddr, grpcAddr string) {
	httpAddr, grpcAddr = config.DefaultHTTPAddr, config.DefaultGRPCAddr
	if cfg, err := config.Load(config.ResolvePath("")); err == nil {
		httpAddr, grpcAddr = cfg.Core.HTTPAddr, cfg.Core.GRPCAddr
	}
	if value := os.Getenv("GOHOME_SPOTIFY_HTTP_ADDR"); value != "" {
		httpAddr = value
	}
	if value := os.Getenv("GOHOME_SPOTIFY_GRPC_ADDR"); value != "" {
		grpcAddr = value
	}
	return httpAddr, grpcAddr
}

func usage() {
	fmt.Println("gohome-spotify-cli <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  plugins [--json]")
	fmt.Println("  accessories [--json]")
	fmt.Println("  fades [--json]")
	fmt.Println("  power <device> on|off [--json]")
	fmt.Println("  volume <device> <0-100> [--json]")
	fmt.Println("  reconcile [--json]")
	fmt.Println("  watch [device] [--json]")
	fmt.Println("  health [service] [--json]")
	fmt.Println("  services")
	fmt.Println("  methods <service>")
	fmt.Println("  call <service/method> --data '{}' (or pipe JSON via stdin)")
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}
