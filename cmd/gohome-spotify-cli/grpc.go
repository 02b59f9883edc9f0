package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
)

// runGRPCCommand runs one of the reflection-backed commands. stdin supplies
// the request body for call when --data is not given; nil means "{}".
func runGRPCCommand(ctx context.Context, conn *grpc.ClientConn, cmd string, args []string, stdin io.Reader, w io.Writer) error {
	flags := flag.NewFlagSet(cmd, flag.ContinueOnError)
	jsonOutput := flags.Bool("json", false, "Output JSON")
	data := flags.String("data", "", "JSON request body")
	rest, err := parseInterspersed(flags, args)
	if err != nil {
		return err
	}

	switch cmd {
	case "health":
		var service string
		if len(rest) > 0 {
			service = rest[0]
		}
		resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return err
		}
		if !*jsonOutput {
			fmt.Fprintln(w, resp.GetStatus().String())
			return nil
		}
		out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(resp)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(out))
	case "services":
		services, err := grpcurl.ListServices(reflectionSource(ctx, conn))
		if err != nil {
			return fmt.Errorf("list services: %w", err)
		}
		fmt.Fprintln(w, strings.Join(services, "\n"))
	case "methods":
		if len(rest) == 0 {
			return errors.New("usage: gohome-spotify-cli methods <service>")
		}
		methods, err := grpcurl.ListMethods(reflectionSource(ctx, conn), rest[0])
		if err != nil {
			return fmt.Errorf("list methods: %w", err)
		}
		fmt.Fprintln(w, strings.Join(methods, "\n"))
	case "call":
		if len(rest) == 0 {
			return errors.New("usage: gohome-spotify-cli call <service/method> [--data '{}']")
		}
		body := stdin
		switch {
		case *data != "":
			body = strings.NewReader(*data)
		case body == nil:
			body = strings.NewReader("{}")
		}
		return invoke(ctx, conn, rest[0], body, w)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, body io.Reader, w io.Writer) error {
	source := reflectionSource(ctx, conn)
	parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, source, body, grpcurl.FormatOptions{})
	if err != nil {
		return fmt.Errorf("parse request: %w", err)
	}
	handler := &grpcurl.DefaultEventHandler{Out: w, Formatter: formatter}
	if err := grpcurl.InvokeRPC(ctx, source, conn, method, nil, handler, parser.Next); err != nil {
		return fmt.Errorf("invoke %s: %w", method, err)
	}
	if handler.Status != nil && handler.Status.Err() != nil {
		return handler.Status.Err()
	}
	return nil
}

// parseInterspersed allows flags with values after positional arguments.
func parseInterspersed(flags *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := flags.Parse(args); err != nil {
			return nil, err
		}
		if flags.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, flags.Arg(0))
		args = flags.Args()[1:]
	}
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	return grpcurl.DescriptorSourceFromServer(ctx, grpcreflect.NewClientAuto(ctx, conn))
}

// requestBody returns stdin when it is piped, otherwise nil.
func requestBody() io.Reader {
	info, err := os.Stdin.Stat()
	if err != nil || info.Mode()&os.ModeCharDevice != 0 {
		return nil
	}
	return os.Stdin
}
